// Package store provee el registry de adapters del servicio remoto.
//
// Cada adapter se registra en init() y expone, por conexión, las dos
// capacidades que consume el core: Auth (sesiones) y Tables (perfiles).
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dropDatabas3/sokoni/internal/cache"
	"github.com/dropDatabas3/sokoni/internal/domain/repository"
)

// Adapter representa un backend capaz de abrir conexiones.
type Adapter interface {
	// Name retorna el nombre del adapter (ej: "rest", "postgres", "memory").
	Name() string

	// Connect establece conexión con el backend.
	Connect(ctx context.Context, cfg AdapterConfig) (AdapterConnection, error)
}

// AdapterConnection representa una conexión activa.
// Una capacidad no soportada retorna nil.
type AdapterConnection interface {
	Name() string
	Ping(ctx context.Context) error
	Close() error

	Auth() repository.AuthRepository
	Tables() repository.TableRepository
}

// MigratableConnection interfaz opcional para conexiones con acceso directo a la DB.
type MigratableConnection interface {
	// GetMigrationExecutor retorna el ejecutor para migraciones.
	GetMigrationExecutor() PgxPoolExecutor
}

// PgxPoolExecutor es el subconjunto de pgxpool.Pool que usa el Migrator.
type PgxPoolExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (interface{ RowsAffected() int64 }, error)
	QueryRow(ctx context.Context, sql string, args ...any) interface{ Scan(dest ...any) error }
}

// AdapterConfig configuración para conectar a un backend.
type AdapterConfig struct {
	// Name del adapter: "rest", "postgres", "memory"
	Name string

	// URL base del servicio remoto (rest) y su API key pública.
	URL      string
	AnonKey  string
	DemoPath string
	Timeout  time.Duration

	// DSN connection string (postgres)
	DSN          string
	MaxOpenConns int
	MaxIdleConns int

	// SessionCache persiste la sesión del actor (rest, memory). nil = sin persistencia.
	SessionCache cache.Client

	// JWTSecret firma los tokens locales (memory).
	JWTSecret string
}

// ─── Registry Global ───

var (
	registryMu sync.RWMutex
	adapters   = make(map[string]Adapter)
)

// RegisterAdapter registra un adapter en el registry global.
// Llamar en init() de cada adapter.
func RegisterAdapter(a Adapter) {
	registryMu.Lock()
	defer registryMu.Unlock()

	name := a.Name()
	if _, exists := adapters[name]; exists {
		panic(fmt.Sprintf("adapter: %q already registered", name))
	}
	adapters[name] = a
}

// GetAdapter obtiene un adapter por nombre.
func GetAdapter(name string) (Adapter, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	a, ok := adapters[name]
	return a, ok
}

// ListAdapters retorna los nombres de todos los adapters registrados, ordenados.
func ListAdapters() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(adapters))
	for name := range adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OpenAdapter abre una conexión usando el adapter especificado en la config.
func OpenAdapter(ctx context.Context, cfg AdapterConfig) (AdapterConnection, error) {
	a, ok := GetAdapter(cfg.Name)
	if !ok {
		return nil, fmt.Errorf("adapter: %q not registered", cfg.Name)
	}
	return a.Connect(ctx, cfg)
}
