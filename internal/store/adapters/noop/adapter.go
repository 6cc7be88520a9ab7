// Package noop implementa el adapter sin backend.
//
// Todas las operaciones fallan con ErrUnavailable; el core sigue funcionando en
// modo deslogueado (bootstrap fail-open, perfiles sintéticos).
package noop

import (
	"context"

	"github.com/dropDatabas3/sokoni/internal/domain/repository"
	"github.com/dropDatabas3/sokoni/internal/domain/types"
	store "github.com/dropDatabas3/sokoni/internal/store"
)

// El adapter noop NO se auto-registra porque es un fallback especial.
// Se usa explícitamente cuando no hay backend configurado o no responde.

type noopAdapter struct{}

// New retorna el adapter noop.
func New() store.Adapter {
	return &noopAdapter{}
}

func (a *noopAdapter) Name() string { return "noop" }

func (a *noopAdapter) Connect(ctx context.Context, cfg store.AdapterConfig) (store.AdapterConnection, error) {
	return &noopConnection{}, nil
}

type noopConnection struct{}

func (c *noopConnection) Name() string                       { return "noop" }
func (c *noopConnection) Ping(ctx context.Context) error     { return repository.ErrUnavailable }
func (c *noopConnection) Close() error                       { return nil }
func (c *noopConnection) Auth() repository.AuthRepository    { return noopAuth{} }
func (c *noopConnection) Tables() repository.TableRepository { return noopTables{} }

// ─── Repos que retornan ErrUnavailable ───

type noopAuth struct{}

func (noopAuth) CurrentSession(ctx context.Context) (*types.Session, error) {
	return nil, repository.ErrUnavailable
}
func (noopAuth) Subscribe(fn repository.SessionListener) func() { return func() {} }
func (noopAuth) SignInWithPassword(ctx context.Context, email, password string) (*types.Session, error) {
	return nil, repository.ErrUnavailable
}
func (noopAuth) SignUp(ctx context.Context, fields types.SignUpFields) (*repository.SignUpResult, error) {
	return nil, repository.ErrUnavailable
}
func (noopAuth) SignOut(ctx context.Context) error { return repository.ErrUnavailable }
func (noopAuth) IssueDemo(ctx context.Context, kind types.UserType) (*repository.DemoResult, error) {
	return nil, repository.ErrUnavailable
}

type noopTables struct{}

func unavailable(table string) error {
	return &repository.StoreError{Kind: repository.KindUnavailable, Table: table, Err: repository.ErrUnavailable}
}

func (noopTables) Select(ctx context.Context, q repository.Query) ([]types.Row, error) {
	return nil, unavailable(q.Table)
}
func (noopTables) Insert(ctx context.Context, table string, rows ...types.Row) ([]types.Row, error) {
	return nil, unavailable(table)
}
func (noopTables) Delete(ctx context.Context, table string, filter repository.Filter) error {
	return unavailable(table)
}
