// Package rest implementa el adapter para backends compatibles GoTrue + PostgREST.
//
// Provee ambas capacidades: Auth (token, signup, logout, demo-login) y Tables
// (/rest/v1/<tabla>). La sesión vigente se persiste en un cache.Client.
package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/sokoni/internal/domain/repository"
	"github.com/dropDatabas3/sokoni/internal/observability/logger"
	store "github.com/dropDatabas3/sokoni/internal/store"
)

func init() {
	store.RegisterAdapter(&restAdapter{})
}

type restAdapter struct{}

func (a *restAdapter) Name() string { return "rest" }

func (a *restAdapter) Connect(ctx context.Context, cfg store.AdapterConfig) (store.AdapterConnection, error) {
	c, err := NewClient(cfg.URL, cfg.AnonKey, cfg.DemoPath, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	return NewConnection(c, cfg), nil
}

// Connection es la conexión del adapter rest.
type Connection struct {
	c      *Client
	auth   *authRepo
	tables *tableRepo
}

// NewConnection arma la conexión sobre un Client existente.
func NewConnection(c *Client, cfg store.AdapterConfig) *Connection {
	auth := newAuthRepo(c, cfg.SessionCache)
	conn := &Connection{c: c, auth: auth}
	conn.tables = &tableRepo{c: c, token: conn.accessToken}
	return conn
}

func (c *Connection) accessToken() string {
	c.auth.mu.Lock()
	defer c.auth.mu.Unlock()
	if c.auth.current == nil {
		return ""
	}
	return c.auth.current.AccessToken
}

func (c *Connection) Name() string { return "rest" }

// Ping consulta el health del servicio de auth.
func (c *Connection) Ping(ctx context.Context) error {
	resp, err := c.c.do(ctx, request{method: http.MethodGet, path: "/auth/v1/health"})
	if err != nil {
		return err
	}
	if resp.status >= 300 {
		return fmt.Errorf("%w: health %d", repository.ErrUnavailable, resp.status)
	}
	return nil
}

func (c *Connection) Close() error { return nil }

func (c *Connection) Auth() repository.AuthRepository    { return c.auth }
func (c *Connection) Tables() repository.TableRepository { return c.tables }

// StartAutoRefresh renueva la sesión vigente antes de que venza, hasta que ctx termine.
func (c *Connection) StartAutoRefresh(ctx context.Context, every, margin time.Duration) {
	if every <= 0 {
		every = 30 * time.Second
	}
	log := logger.From(ctx).With(logger.Component("rest.autorefresh"))
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			ok, err := c.auth.RefreshIfNeeded(ctx, margin)
			if err != nil {
				log.Warn("session refresh failed", logger.Err(err))
				continue
			}
			if ok {
				log.Debug("session refreshed", zap.Duration("margin", margin))
			}
		}
	}
}
