package auth

import (
	"errors"
	"fmt"
)

// Kind es el conjunto cerrado de errores que el gateway expone a sus callers.
type Kind int

const (
	// KindValidation: input mal formado, detectado antes de cualquier llamada remota.
	KindValidation Kind = iota + 1
	// KindCredentials: el servicio remoto rechazó el sign-in.
	KindCredentials
	// KindAccountCreation: el servicio remoto rechazó el registro.
	KindAccountCreation
	// KindServiceUnavailable: el servicio remoto no está configurado o falló de forma inesperada.
	KindServiceUnavailable
	// KindDemoUnavailable: el flujo demo falló.
	KindDemoUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindCredentials:
		return "credentials_error"
	case KindAccountCreation:
		return "account_creation_error"
	case KindServiceUnavailable:
		return "service_unavailable"
	case KindDemoUnavailable:
		return "demo_unavailable"
	default:
		return "unknown"
	}
}

// Error es el error tipado del gateway. Message es apto para mostrar al usuario.
type Error struct {
	Kind    Kind
	Field   string // solo validación
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is permite errors.Is(err, ErrValidation) y demás sentinels por Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

var (
	ErrValidation         = &Error{Kind: KindValidation}
	ErrCredentials        = &Error{Kind: KindCredentials}
	ErrAccountCreation    = &Error{Kind: KindAccountCreation}
	ErrServiceUnavailable = &Error{Kind: KindServiceUnavailable}
	ErrDemoUnavailable    = &Error{Kind: KindDemoUnavailable}
)

// KindOf retorna el Kind de err, o 0 si no es un *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func invalid(field, msg string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: msg}
}

func unavailable(err error) *Error {
	return &Error{Kind: KindServiceUnavailable, Message: "The service is temporarily unavailable. Please try again.", Err: err}
}
