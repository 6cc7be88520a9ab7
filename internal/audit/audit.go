// Package audit registra eventos de auditoría de las acciones de auth.
//
// Un evento nunca lleva el password ni el email en claro: el actor se
// identifica con ActorRef, un hash corto con clave que no se puede revertir.
package audit

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/dropDatabas3/sokoni/internal/domain/repository"
	"github.com/dropDatabas3/sokoni/internal/domain/types"
	"github.com/dropDatabas3/sokoni/internal/observability/logger"
)

// Outcome de una acción auditada.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Event es un registro de auditoría.
type Event struct {
	Action   string    `json:"action"`
	Outcome  string    `json:"outcome"`
	ActorRef string    `json:"actor_ref,omitempty"`
	UserType string    `json:"user_type,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}

// Sink recibe eventos de auditoría.
type Sink interface {
	Emit(ctx context.Context, ev Event) error
}

// Hasher calcula referencias de actor con una clave fija.
type Hasher struct {
	key []byte
}

// NewHasher crea un Hasher. La clave se trunca a 64 bytes (máximo de BLAKE2b).
func NewHasher(key string) Hasher {
	k := []byte(key)
	if len(k) > blake2b.Size {
		k = k[:blake2b.Size]
	}
	return Hasher{key: k}
}

// ActorRef retorna los primeros 12 hex de BLAKE2b-256(email normalizado).
// Vacío si el email es vacío.
func (h Hasher) ActorRef(email string) string {
	e := strings.ToLower(strings.TrimSpace(email))
	if e == "" {
		return ""
	}
	d, err := blake2b.New256(h.key)
	if err != nil {
		return ""
	}
	d.Write([]byte(e))
	return hex.EncodeToString(d.Sum(nil))[:12]
}

// ─── Sinks ───

// Nop descarta todo.
type Nop struct{}

func (Nop) Emit(context.Context, Event) error { return nil }

// LogSink escribe el evento como línea estructurada de zap.
type LogSink struct {
	L *zap.Logger
}

func (s LogSink) Emit(ctx context.Context, ev Event) error {
	l := s.L
	if l == nil {
		l = logger.From(ctx)
	}
	l.Info("audit",
		logger.Event(ev.Action),
		zap.String("outcome", ev.Outcome),
		logger.ActorRef(ev.ActorRef),
		logger.UserType(ev.UserType),
		zap.String("reason", ev.Reason),
		zap.Time("at", ev.At),
	)
	return nil
}

// TableSink inserta el evento en una tabla del store remoto.
type TableSink struct {
	Tables repository.TableRepository
	Table  string
}

func (s TableSink) Emit(ctx context.Context, ev Event) error {
	table := s.Table
	if table == "" {
		table = "audit_events"
	}
	_, err := s.Tables.Insert(ctx, table, types.Row{
		"action":    ev.Action,
		"outcome":   ev.Outcome,
		"actor_ref": ev.ActorRef,
		"user_type": ev.UserType,
		"reason":    ev.Reason,
		"at":        ev.At.UTC().Format(time.RFC3339Nano),
	})
	return err
}

// Execer es el subconjunto de pgxpool.Pool que usa PGSink.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGSink inserta directo en audit_events vía pgx.
type PGSink struct {
	DB Execer
}

func (s PGSink) Emit(ctx context.Context, ev Event) error {
	const q = `INSERT INTO audit_events (action, outcome, actor_ref, user_type, reason, at) VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := s.DB.Exec(ctx, q, ev.Action, ev.Outcome, nullIfEmpty(ev.ActorRef), nullIfEmpty(ev.UserType), nullIfEmpty(ev.Reason), ev.At)
	return err
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Multi emite a todos los sinks y retorna el primer error.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, ev Event) error {
	var first error
	for _, s := range m {
		if err := s.Emit(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ─── Safe ───

// safeSink absorbe errores y panics del sink subyacente.
type safeSink struct {
	inner   Sink
	timeout time.Duration
}

// Safe envuelve un sink para que nunca falle ni bloquee más de timeout.
// Un sink nil se trata como Nop.
func Safe(s Sink, timeout time.Duration) Sink {
	if s == nil {
		s = Nop{}
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &safeSink{inner: s, timeout: timeout}
}

func (s *safeSink) Emit(ctx context.Context, ev Event) (err error) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	defer func() {
		if r := recover(); r != nil {
			logger.From(ctx).Error("audit sink panic", logger.Event(ev.Action), zap.Any("panic", r))
		}
		err = nil
	}()

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	if e := s.inner.Emit(cctx, ev); e != nil {
		logger.From(ctx).Warn("audit emit failed", logger.Event(ev.Action), logger.Err(fmt.Errorf("audit: %w", e)))
	}
	return nil
}
