package repository

import (
	"context"
	"fmt"

	"github.com/dropDatabas3/sokoni/internal/domain/types"
)

// SessionEvent es el tipo de cambio de sesión notificado por el servicio de auth.
type SessionEvent string

const (
	EventInitial        SessionEvent = "initial"
	EventSignedIn       SessionEvent = "signed_in"
	EventSignedOut      SessionEvent = "signed_out"
	EventTokenRefreshed SessionEvent = "token_refreshed"
)

// SessionChange es la notificación push de un cambio de sesión. Session es nil en sign-out.
type SessionChange struct {
	Event   SessionEvent
	Session *types.Session
}

// SessionListener recibe cambios de sesión. Debe retornar rápido.
type SessionListener func(SessionChange)

// SignUpResult es la respuesta del registro remoto.
// Session es nil cuando el servicio exige confirmación de email.
type SignUpResult struct {
	Actor   types.Actor
	Session *types.Session
}

// DemoResult es la respuesta del emisor de sesiones demo.
// User se devuelve tal cual lo entrega el servicio; Session es opcional.
type DemoResult struct {
	Success bool
	Message string
	User    types.Row
	Session *types.Session
}

// AuthError es un rechazo explícito del servicio de auth (credenciales, email tomado, etc.).
type AuthError struct {
	Status  int
	Code    string
	Message string
}

func (e *AuthError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("auth: %s (%d %s)", e.Message, e.Status, e.Code)
	}
	return fmt.Sprintf("auth: %s (%d)", e.Message, e.Status)
}

// AuthRepository es la capacidad de autenticación del servicio remoto.
type AuthRepository interface {
	// CurrentSession retorna la sesión vigente (restaurada del storage), o nil.
	CurrentSession(ctx context.Context) (*types.Session, error)

	// Subscribe registra un listener de cambios de sesión. El retorno lo desregistra
	// y es seguro llamarlo más de una vez.
	Subscribe(fn SessionListener) (unsubscribe func())

	// SignInWithPassword autentica con email + password.
	// Retorna *AuthError si el servicio rechaza las credenciales.
	SignInWithPassword(ctx context.Context, email, password string) (*types.Session, error)

	// SignUp registra un actor nuevo con su metadata.
	SignUp(ctx context.Context, fields types.SignUpFields) (*SignUpResult, error)

	// SignOut cierra la sesión remota.
	SignOut(ctx context.Context) error

	// IssueDemo emite un actor demo para el rol dado (flujo distinto a credenciales).
	IssueDemo(ctx context.Context, kind types.UserType) (*DemoResult, error)
}

// SessionForgetter es opcional: descarta la copia local de la sesión (memoria y
// storage persistido) sin llamar al servicio remoto.
type SessionForgetter interface {
	ForgetSession(ctx context.Context)
}
