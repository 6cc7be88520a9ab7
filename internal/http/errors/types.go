package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/dropDatabas3/sokoni/internal/auth"
	"github.com/dropDatabas3/sokoni/internal/payment"
)

// AppError es la forma estándar de los errores de la API.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	HTTPStatus int    `json:"-"` // No se serializa, usado para el header
	Err        error  `json:"-"` // causa original, solo para logs
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New crea un nuevo AppError
func New(status int, code, message string) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status}
}

// WithDetail devuelve una COPIA con detalle (no muta las variables base).
func (e *AppError) WithDetail(detail string) *AppError {
	newErr := *e
	newErr.Detail = detail
	return &newErr
}

// WithCause devuelve una COPIA con la causa original.
func (e *AppError) WithCause(err error) *AppError {
	newErr := *e
	newErr.Err = err
	return &newErr
}

// FromError convierte errores de otras capas en AppError.
// Los errores del gateway de auth y de pagos tienen mapeo propio; el resto es 500.
func FromError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}

	var ae *auth.Error
	if stderrors.As(err, &ae) {
		out := &AppError{Code: ae.Kind.String(), Message: ae.Message, Detail: ae.Field, Err: err}
		switch ae.Kind {
		case auth.KindValidation:
			out.HTTPStatus = http.StatusBadRequest
		case auth.KindCredentials:
			out.HTTPStatus = http.StatusUnauthorized
		case auth.KindAccountCreation:
			out.HTTPStatus = http.StatusUnprocessableEntity
		case auth.KindServiceUnavailable, auth.KindDemoUnavailable:
			out.HTTPStatus = http.StatusServiceUnavailable
		default:
			out.HTTPStatus = http.StatusInternalServerError
		}
		return out
	}

	switch {
	case stderrors.Is(err, payment.ErrInvalidRequest):
		return ErrInvalidPayment.WithDetail(err.Error()).WithCause(err)
	case stderrors.Is(err, payment.ErrUnknownProvider):
		return ErrUnknownProvider.WithCause(err)
	case stderrors.Is(err, payment.ErrProvider):
		return ErrPaymentProvider.WithCause(err)
	}
	return ErrInternalServerError.WithCause(err)
}

var (
	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "The request is malformed or missing parameters.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrInvalidJSON = &AppError{
		Code:       "INVALID_JSON",
		Message:    "The request body is not valid JSON.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrBodyTooLarge = &AppError{
		Code:       "BODY_TOO_LARGE",
		Message:    "The request body exceeds the maximum allowed size.",
		HTTPStatus: http.StatusRequestEntityTooLarge,
	}

	ErrUnauthorized = &AppError{
		Code:       "UNAUTHORIZED",
		Message:    "Sign in to continue.",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "The requested resource was not found.",
		HTTPStatus: http.StatusNotFound,
	}

	ErrMethodNotAllowed = &AppError{
		Code:       "METHOD_NOT_ALLOWED",
		Message:    "The HTTP method is not allowed for this resource.",
		HTTPStatus: http.StatusMethodNotAllowed,
	}

	ErrRateLimitExceeded = &AppError{
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "Too many attempts. Please wait and try again.",
		HTTPStatus: http.StatusTooManyRequests,
	}

	ErrInvalidPayment = &AppError{
		Code:       "INVALID_PAYMENT",
		Message:    "The payment request is invalid.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrUnknownProvider = &AppError{
		Code:       "UNKNOWN_PROVIDER",
		Message:    "The selected payment provider is not available.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrPaymentProvider = &AppError{
		Code:       "PAYMENT_PROVIDER_ERROR",
		Message:    "The payment provider could not process the request.",
		HTTPStatus: http.StatusBadGateway,
	}

	ErrInternalServerError = &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    "An unexpected error occurred.",
		HTTPStatus: http.StatusInternalServerError,
	}
)
