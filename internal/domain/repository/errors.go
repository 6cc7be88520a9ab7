package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// StoreErrorKind es el conjunto cerrado de fallas que puede devolver una operación de tabla.
type StoreErrorKind int

const (
	// KindOther cubre cualquier falla no clasificada.
	KindOther StoreErrorKind = iota
	// KindNoRows: una consulta Single no encontró filas.
	KindNoRows
	// KindDuplicate: violación de unique/primary key.
	KindDuplicate
	// KindUnknownColumn: el shape enviado no coincide con las columnas remotas.
	KindUnknownColumn
	// KindAccessDenied: la política de acceso (RLS, grants) rechazó la operación.
	KindAccessDenied
	// KindTableMissing: la tabla o recurso no existe.
	KindTableMissing
	// KindTimeout: la operación excedió su deadline.
	KindTimeout
	// KindUnavailable: el store no respondió (red, DNS, 5xx).
	KindUnavailable
)

func (k StoreErrorKind) String() string {
	switch k {
	case KindNoRows:
		return "no_rows"
	case KindDuplicate:
		return "duplicate"
	case KindUnknownColumn:
		return "unknown_column"
	case KindAccessDenied:
		return "access_denied"
	case KindTableMissing:
		return "table_missing"
	case KindTimeout:
		return "timeout"
	case KindUnavailable:
		return "unavailable"
	default:
		return "other"
	}
}

// StoreError es el error tipado que devuelven los TableRepository.
type StoreError struct {
	Kind    StoreErrorKind
	Code    string // código nativo (SQLSTATE, PGRST...), opcional
	Table   string
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	var b strings.Builder
	b.WriteString("store: ")
	b.WriteString(e.Kind.String())
	if e.Table != "" {
		b.WriteString(" on ")
		b.WriteString(e.Table)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " [%s]", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is permite errors.Is(err, ErrDuplicate) comparando solo el Kind.
func (e *StoreError) Is(target error) bool {
	t, ok := target.(*StoreError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Code == "" && t.Table == "" && t.Message == "" && t.Err == nil
}

// Sentinels por Kind, para errors.Is.
var (
	ErrNoRows        = &StoreError{Kind: KindNoRows}
	ErrDuplicate     = &StoreError{Kind: KindDuplicate}
	ErrUnknownColumn = &StoreError{Kind: KindUnknownColumn}
	ErrAccessDenied  = &StoreError{Kind: KindAccessDenied}
	ErrTableMissing  = &StoreError{Kind: KindTableMissing}
	ErrStoreTimeout  = &StoreError{Kind: KindTimeout}
)

var (
	// ErrUnavailable indica que el servicio remoto no está inicializado o no responde.
	ErrUnavailable = errors.New("remote service unavailable")

	// ErrNotImplemented indica que el adapter no provee esa capacidad.
	ErrNotImplemented = errors.New("not implemented")
)

// KindOf clasifica cualquier error en un StoreErrorKind.
// Los deadlines de context se clasifican como timeout aunque no vengan envueltos.
func KindOf(err error) StoreErrorKind {
	if err == nil {
		return KindOther
	}
	var se *StoreError
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, ErrUnavailable) {
		return KindUnavailable
	}
	return KindOther
}

// KindForCode mapea códigos nativos (SQLSTATE de Postgres y códigos PostgREST)
// al Kind cerrado. Compartido por los adapters rest y pg.
func KindForCode(code string) StoreErrorKind {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "PGRST116":
		return KindNoRows
	case "23505":
		return KindDuplicate
	case "42703", "PGRST204":
		return KindUnknownColumn
	case "42501":
		return KindAccessDenied
	case "42P01", "PGRST205", "PGRST106":
		return KindTableMissing
	case "57014":
		return KindTimeout
	default:
		return KindOther
	}
}

// NewStoreError construye un StoreError clasificando el código.
func NewStoreError(table, code, message string, cause error) *StoreError {
	return &StoreError{Kind: KindForCode(code), Code: code, Table: table, Message: message, Err: cause}
}
