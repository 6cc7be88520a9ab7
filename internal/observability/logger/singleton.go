package logger

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu       sync.RWMutex
	instance *zap.Logger
)

// Init inicializa el logger global. Solo la primera llamada tiene efecto;
// Replace existe para tests y para el CLI cuando cambia el nivel por flag.
func Init(cfg Config) {
	mu.Lock()
	defer mu.Unlock()
	if instance == nil {
		instance = build(cfg)
	}
}

// Replace reemplaza el logger global.
func Replace(l *zap.Logger) {
	if l == nil {
		return
	}
	mu.Lock()
	instance = l
	mu.Unlock()
}

// L retorna el logger global. Si Init() no fue llamado usa dev/info.
func L() *zap.Logger {
	mu.RLock()
	l := instance
	mu.RUnlock()
	if l != nil {
		return l
	}
	Init(Config{Env: "dev", Level: "info"})
	return L()
}

// Named retorna un logger con nombre de componente.
func Named(name string) *zap.Logger { return L().Named(name) }

// With retorna un logger con campos adicionales.
func With(fields ...zap.Field) *zap.Logger { return L().With(fields...) }

// S retorna el SugaredLogger global (printf-style, usado por el CLI).
func S() *zap.SugaredLogger { return L().Sugar() }

// Sync flushea buffers pendientes. Llamar con defer en main.
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	if instance != nil {
		return instance.Sync()
	}
	return nil
}
