package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dropDatabas3/sokoni/internal/domain/repository"
)

// Stores agrupa las capacidades resueltas del backend remoto.
// Auth y Tables pueden venir de conexiones distintas (rest + postgres).
type Stores struct {
	Auth   repository.AuthRepository
	Tables repository.TableRepository

	// AuthConn es la conexión que provee Auth (para auto-refresh, ping).
	AuthConn AdapterConnection
	// TablesConn es la conexión que provee Tables (para migraciones, audit).
	TablesConn AdapterConnection

	conns []AdapterConnection
}

// OpenStores abre la conexión de auth y, si tables no es nil, una segunda
// conexión dedicada a tablas. Sin tables, las tablas salen de la conexión de auth.
func OpenStores(ctx context.Context, auth AdapterConfig, tables *AdapterConfig) (*Stores, error) {
	ac, err := OpenAdapter(ctx, auth)
	if err != nil {
		return nil, err
	}
	s := &Stores{AuthConn: ac, TablesConn: ac, conns: []AdapterConnection{ac}}

	if tables != nil && tables.Name != "" && tables.Name != auth.Name {
		tc, err := OpenAdapter(ctx, *tables)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("open tables adapter %q: %w", tables.Name, err)
		}
		s.TablesConn = tc
		s.conns = append(s.conns, tc)
	}

	s.Auth = s.AuthConn.Auth()
	s.Tables = s.TablesConn.Tables()
	if s.Auth == nil {
		_ = s.Close()
		return nil, fmt.Errorf("adapter %q does not provide auth", s.AuthConn.Name())
	}
	if s.Tables == nil {
		_ = s.Close()
		return nil, fmt.Errorf("adapter %q does not provide tables", s.TablesConn.Name())
	}
	return s, nil
}

// Ping verifica todas las conexiones abiertas.
func (s *Stores) Ping(ctx context.Context) error {
	var errs []error
	for _, c := range s.conns {
		if err := c.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close cierra todas las conexiones abiertas.
func (s *Stores) Close() error {
	var errs []error
	for _, c := range s.conns {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StoresFrom envuelve una conexión ya abierta (ej: el fallback noop).
func StoresFrom(conn AdapterConnection) *Stores {
	return &Stores{
		Auth:       conn.Auth(),
		Tables:     conn.Tables(),
		AuthConn:   conn,
		TablesConn: conn,
		conns:      []AdapterConnection{conn},
	}
}
