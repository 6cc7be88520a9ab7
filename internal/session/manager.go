package session

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/sokoni/internal/domain/repository"
	"github.com/dropDatabas3/sokoni/internal/domain/types"
	"github.com/dropDatabas3/sokoni/internal/observability/logger"
)

// ProfileResolver obtiene (o crea) el perfil de un actor. Nunca falla:
// en el peor caso retorna un perfil sintético.
type ProfileResolver interface {
	Resolve(ctx context.Context, actor types.Actor) types.Profile
}

// Manager conecta el servicio remoto de auth con el Store: carga la sesión al
// arrancar, escucha los cambios y dispara la resolución de perfil en background.
type Manager struct {
	auth     repository.AuthRepository
	store    *Store
	resolver ProfileResolver

	mu          sync.Mutex
	initialized bool
	tornDown    bool
	sawEvent    bool
	unsubscribe func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	sf     singleflight.Group
}

// NewManager crea un Manager. auth puede ser nil (servicio no configurado):
// Initialize deja el estado en ready sin sesión.
func NewManager(auth repository.AuthRepository, store *Store, resolver ProfileResolver) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		auth:     auth,
		store:    store,
		resolver: resolver,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Store expone el contenedor de estado.
func (m *Manager) Store() *Store { return m.store }

// Initialize se suscribe a los cambios de sesión y carga la sesión vigente.
// Nunca falla: si el servicio no responde el estado queda ready sin sesión.
// Llamadas posteriores no tienen efecto.
func (m *Manager) Initialize(ctx context.Context) {
	m.mu.Lock()
	if m.initialized || m.tornDown {
		m.mu.Unlock()
		return
	}
	m.initialized = true
	m.mu.Unlock()

	log := logger.From(ctx).With(logger.Component("session"))
	if m.auth == nil {
		log.Warn("auth service not configured; starting signed out")
		m.store.MarkReady()
		return
	}

	unsub := m.auth.Subscribe(func(c repository.SessionChange) {
		m.mu.Lock()
		m.sawEvent = true
		m.mu.Unlock()
		m.OnSessionChanged(ctx, c.Session)
	})
	m.mu.Lock()
	m.unsubscribe = unsub
	m.mu.Unlock()

	sess, err := m.currentSession(ctx)
	if err != nil {
		log.Warn("session bootstrap failed; starting signed out", logger.Err(err))
	}

	m.mu.Lock()
	superseded := m.sawEvent
	m.mu.Unlock()
	// un evento push que llegó durante el fetch es más nuevo que este resultado
	if err == nil && !superseded {
		m.OnSessionChanged(ctx, sess)
	}
	if m.store.MarkReady() {
		log.Info("session ready", logger.Bool("signed_in", m.store.Snapshot().Session != nil))
	}
}

func (m *Manager) currentSession(ctx context.Context) (sess *types.Session, err error) {
	defer func() {
		if r := recover(); r != nil {
			sess, err = nil, fmt.Errorf("%w: panic: %v", repository.ErrUnavailable, r)
		}
	}()
	return m.auth.CurrentSession(ctx)
}

// OnSessionChanged publica la sesión y, si hace falta, resuelve el perfil en
// background. Repetir la misma sesión no cambia el estado.
func (m *Manager) OnSessionChanged(ctx context.Context, sess *types.Session) {
	m.store.SetSession(sess)
	if sess == nil || sess.Demo || !m.needsProfile(sess) {
		return
	}
	m.resolveAsync(ctx, sess.User)
}

func (m *Manager) needsProfile(sess *types.Session) bool {
	st := m.store.Snapshot()
	return st.Profile == nil || st.Profile.ID != sess.ActorID()
}

// Establish publica la sesión y espera la resolución de su perfil.
// Lo usa el gateway tras un sign-in para responder con el perfil ya cargado.
func (m *Manager) Establish(ctx context.Context, sess *types.Session) types.Profile {
	m.store.SetSession(sess)
	if st := m.store.Snapshot(); st.Profile != nil && st.Profile.ID == sess.ActorID() {
		return *st.Profile
	}
	m.wg.Add(1)
	defer m.wg.Done()
	p := m.resolve(ctx, sess.User)
	m.apply(ctx, sess.ActorID(), p)
	return p
}

// SetDemo publica una sesión demo con su perfil, sin pasar por el resolver.
func (m *Manager) SetDemo(sess *types.Session, p types.Profile) {
	m.store.SetSession(sess)
	m.store.SetProfile(sess.ActorID(), p)
}

// Clear borra sesión y perfil locales.
func (m *Manager) Clear() { m.store.Clear() }

func (m *Manager) resolveAsync(ctx context.Context, actor types.Actor) {
	m.mu.Lock()
	if m.tornDown {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()

	// la resolución sobrevive al request que la disparó, no al Manager
	rctx := logger.ToContext(m.ctx, logger.From(ctx))
	go func() {
		defer m.wg.Done()
		p := m.resolve(rctx, actor)
		m.apply(rctx, actor.ID, p)
	}()
}

// resolve deduplica resoluciones concurrentes del mismo actor.
func (m *Manager) resolve(ctx context.Context, actor types.Actor) types.Profile {
	if m.resolver == nil {
		return types.Profile{ID: actor.ID, Email: actor.Email}
	}
	v, _, _ := m.sf.Do(actor.ID, func() (out any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.From(ctx).Error("profile resolver panic", logger.ActorID(actor.ID), zap.Any("panic", r))
				out = types.Profile{ID: actor.ID, Email: actor.Email}
			}
		}()
		return m.resolver.Resolve(ctx, actor), nil
	})
	return v.(types.Profile)
}

func (m *Manager) apply(ctx context.Context, actorID string, p types.Profile) {
	if !m.store.SetProfile(actorID, p) {
		logger.From(ctx).Debug("stale profile discarded", logger.ActorID(actorID))
	}
}

// Teardown se desuscribe y espera las resoluciones en curso. Es seguro llamarlo
// sin Initialize y más de una vez.
func (m *Manager) Teardown() {
	m.mu.Lock()
	if m.tornDown {
		m.mu.Unlock()
		return
	}
	m.tornDown = true
	unsub := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	m.cancel()
	m.wg.Wait()
}

// Wait espera las resoluciones de perfil en curso.
func (m *Manager) Wait() { m.wg.Wait() }
