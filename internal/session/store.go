// Package session mantiene el estado de "quién está logueado y con qué perfil"
// y lo sincroniza con las notificaciones del servicio remoto de auth.
package session

import (
	"sync"

	"github.com/dropDatabas3/sokoni/internal/domain/types"
)

// State es una foto inmutable del estado publicado.
type State struct {
	Session       *types.Session
	Profile       *types.Profile
	Loading       bool
	LastAuthError error
	Version       uint64
}

// Store es el único escritor del estado. Todas las mutaciones pasan por acá
// y cada cambio se publica a los watchers.
type Store struct {
	mu       sync.Mutex
	st       State
	watchers map[int]chan State
	nextID   int
}

// NewStore arranca en loading.
func NewStore() *Store {
	return &Store{
		st:       State{Loading: true},
		watchers: make(map[int]chan State),
	}
}

// Snapshot retorna una copia del estado actual.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() State {
	out := s.st
	out.Session = s.st.Session.Clone()
	if s.st.Profile != nil {
		p := *s.st.Profile
		out.Profile = &p
	}
	return out
}

// MarkReady pasa de loading a ready. Solo la primera llamada tiene efecto.
func (s *Store) MarkReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.st.Loading {
		return false
	}
	s.st.Loading = false
	s.publishLocked()
	return true
}

// SetSession publica una sesión (nil = sin sesión). Una sesión igual a la vigente
// no produce cambio. Si cambia el actor, el perfil anterior se descarta.
func (s *Store) SetSession(sess *types.Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.Session.Equal(sess) {
		return false
	}
	if s.st.Session.ActorID() != sess.ActorID() {
		s.st.Profile = nil
	}
	s.st.Session = sess.Clone()
	s.publishLocked()
	return true
}

// SetProfile aplica el perfil resuelto para actorID. Si la sesión vigente ya
// es de otro actor (o no hay sesión) el resultado está viejo y se descarta.
func (s *Store) SetProfile(actorID string, p types.Profile) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if actorID == "" || s.st.Session.ActorID() != actorID || p.ID != actorID {
		return false
	}
	s.st.Profile = &p
	s.publishLocked()
	return true
}

// SetError registra el último error de una acción de auth (nil lo limpia).
func (s *Store) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.LastAuthError == nil && err == nil {
		return
	}
	s.st.LastAuthError = err
	s.publishLocked()
}

// Clear borra sesión y perfil.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.Session == nil && s.st.Profile == nil {
		return
	}
	s.st.Session = nil
	s.st.Profile = nil
	s.publishLocked()
}

// Watch entrega cada nuevo estado. Un watcher lento solo ve el último valor.
// cancel cierra el canal.
func (s *Store) Watch() (<-chan State, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	ch := make(chan State, 1)
	s.watchers[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.watchers, id)
			close(ch)
		})
	}
	return ch, cancel
}

func (s *Store) publishLocked() {
	s.st.Version++
	snap := s.snapshotLocked()
	for _, ch := range s.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}
