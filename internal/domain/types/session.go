package types

import "time"

// Actor es la identidad autenticada tal como la conoce el servicio remoto de auth.
type Actor struct {
	ID        string         `json:"id"`
	Email     string         `json:"email,omitempty"`
	Phone     string         `json:"phone,omitempty"`
	Metadata  map[string]any `json:"user_metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at,omitempty"`
}

// MetaString lee un string de la metadata del actor ("" si no existe).
func (a Actor) MetaString(key string) string {
	if a.Metadata == nil {
		return ""
	}
	if s, ok := a.Metadata[key].(string); ok {
		return s
	}
	return ""
}

// Session es el vínculo vivo entre un actor y esta instancia de la aplicación.
// Los tokens son opacos para el core; solo el adapter remoto los interpreta.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	User         Actor     `json:"user"`
	// Demo: sesión emitida por el flujo demo, nunca persistida en el store remoto.
	Demo bool `json:"demo,omitempty"`
}

// ActorID retorna el id del actor o "" si la sesión es nil.
func (s *Session) ActorID() string {
	if s == nil {
		return ""
	}
	return s.User.ID
}

// Expired indica si la sesión vence antes de now+margin.
// Una sesión sin ExpiresAt nunca expira desde el punto de vista del cliente.
func (s *Session) Expired(now time.Time, margin time.Duration) bool {
	if s == nil {
		return true
	}
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(margin).Before(s.ExpiresAt)
}

// Equal compara dos sesiones por actor, access token y flag demo.
// Es la clave de idempotencia de los eventos de cambio de sesión.
func (s *Session) Equal(o *Session) bool {
	if s == nil || o == nil {
		return s == nil && o == nil
	}
	return s.User.ID == o.User.ID &&
		s.AccessToken == o.AccessToken &&
		s.Demo == o.Demo
}

// Clone retorna una copia superficial (la metadata se comparte).
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
