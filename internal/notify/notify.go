// Package notify es el canal de notificaciones visibles para el usuario
// (equivalente a un toast). Es fire-and-forget: Notify nunca falla ni bloquea
// al caller, y el default es Nop.
package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/dropDatabas3/sokoni/internal/observability/logger"
)

// Level de una notificación.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelInfo    Level = "info"
)

// Kind distingue notificaciones con tratamiento especial (ej: mail de bienvenida).
type Kind string

const (
	KindGeneric Kind = "generic"
	KindWelcome Kind = "welcome"
)

// Notice es una notificación para el usuario.
type Notice struct {
	Level     Level  `json:"level"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Kind      Kind   `json:"kind,omitempty"`
	Recipient string `json:"-"` // email, solo para sinks que lo necesitan
	Name      string `json:"-"`
}

// Sink recibe notificaciones.
type Sink interface {
	Notify(ctx context.Context, n Notice)
}

// Nop descarta todo.
type Nop struct{}

func (Nop) Notify(context.Context, Notice) {}

// LogSink registra la notificación en el log.
type LogSink struct{}

func (LogSink) Notify(ctx context.Context, n Notice) {
	logger.From(ctx).Info("notice",
		zap.String("level", string(n.Level)),
		zap.String("title", n.Title),
		zap.String("message", n.Message),
	)
}

// Buffer acumula notificaciones hasta que alguien las drena (HTTP, CLI).
type Buffer struct {
	mu    sync.Mutex
	items []Notice
	max   int
}

// NewBuffer crea un Buffer que conserva las últimas max notificaciones (0 = 100).
func NewBuffer(max int) *Buffer {
	if max <= 0 {
		max = 100
	}
	return &Buffer{max: max}
}

func (b *Buffer) Notify(_ context.Context, n Notice) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, n)
	if len(b.items) > b.max {
		b.items = b.items[len(b.items)-b.max:]
	}
}

// Drain retorna y vacía las notificaciones acumuladas.
func (b *Buffer) Drain() []Notice {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.items
	b.items = nil
	return out
}

// fanout reenvía a todos los sinks.
type fanout []Sink

// Fanout combina sinks; los nil se ignoran.
func Fanout(sinks ...Sink) Sink {
	out := make(fanout, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (f fanout) Notify(ctx context.Context, n Notice) {
	for _, s := range f {
		Safe(s).Notify(ctx, n)
	}
}

// safe absorbe panics del sink.
type safe struct{ inner Sink }

// Safe protege al caller de un sink que paniquea. nil se trata como Nop.
func Safe(s Sink) Sink {
	if s == nil {
		return Nop{}
	}
	if _, ok := s.(safe); ok {
		return s
	}
	return safe{inner: s}
}

func (s safe) Notify(ctx context.Context, n Notice) {
	defer func() {
		if r := recover(); r != nil {
			logger.From(ctx).Error("notify sink panic", zap.Any("panic", r))
		}
	}()
	s.inner.Notify(ctx, n)
}
