package logger

import (
	"time"

	"go.uber.org/zap"
)

// =================================================================================
// CAMPOS ESTÁNDAR - HTTP
// =================================================================================

// RequestID crea un campo para el ID del request.
func RequestID(v string) zap.Field {
	return zap.String("request_id", v)
}

// Method crea un campo para el método HTTP.
func Method(v string) zap.Field {
	return zap.String("method", v)
}

// Path crea un campo para el path del request.
func Path(v string) zap.Field {
	return zap.String("path", v)
}

// Status crea un campo para el status code HTTP.
func Status(v int) zap.Field {
	return zap.Int("status", v)
}

// Duration crea un campo para la duración de una operación.
func Duration(v time.Duration) zap.Field {
	return zap.Duration("duration", v)
}

// ClientIP crea un campo para la IP del cliente.
func ClientIP(v string) zap.Field {
	return zap.String("client_ip", v)
}

// =================================================================================
// CAMPOS ESTÁNDAR - IDENTIDAD
// =================================================================================

// ActorID es el id opaco del actor. En eventos de auth preferir ActorRef.
func ActorID(v string) zap.Field {
	return zap.String("actor_id", v)
}

// ActorRef es la referencia no reversible del actor (ver audit.ActorRef).
func ActorRef(v string) zap.Field {
	return zap.String("actor_ref", v)
}

// UserType crea un campo para el rol del actor (retailer, supplier, logistics).
func UserType(v string) zap.Field {
	return zap.String("user_type", v)
}

// Demo marca si la sesión es demo.
func Demo(v bool) zap.Field {
	return zap.Bool("demo", v)
}

// Event crea un campo para el tipo de evento de sesión.
func Event(v string) zap.Field {
	return zap.String("event", v)
}

// =================================================================================
// CAMPOS ESTÁNDAR - PERFIL / STORE
// =================================================================================

// Rung identifica el escalón del ladder de creación de perfil.
func Rung(v string) zap.Field {
	return zap.String("rung", v)
}

// StoreKind crea un campo para el tipo de error del store.
func StoreKind(v string) zap.Field {
	return zap.String("store_kind", v)
}

// Table crea un campo para el nombre de tabla remota.
func Table(v string) zap.Field {
	return zap.String("table", v)
}

// Adapter crea un campo para el nombre del adapter de store.
func Adapter(v string) zap.Field {
	return zap.String("adapter", v)
}

// =================================================================================
// CAMPOS ESTÁNDAR - PAGOS
// =================================================================================

// Provider crea un campo para el proveedor de pago.
func Provider(v string) zap.Field {
	return zap.String("provider", v)
}

// OrderID crea un campo para el id de la orden.
func OrderID(v string) zap.Field {
	return zap.String("order_id", v)
}

// =================================================================================
// CAMPOS ESTÁNDAR - SISTEMA
// =================================================================================

// Component crea un campo para el componente/módulo.
func Component(v string) zap.Field {
	return zap.String("component", v)
}

// Op crea un campo para la operación actual.
func Op(v string) zap.Field {
	return zap.String("op", v)
}

// Layer crea un campo para la capa (handler, service, adapter).
func Layer(v string) zap.Field {
	return zap.String("layer", v)
}

// Err crea un campo para un error.
func Err(err error) zap.Field {
	return zap.Error(err)
}

// Any crea un campo genérico para cualquier tipo.
func Any(key string, v any) zap.Field {
	return zap.Any(key, v)
}

// String crea un campo string genérico.
func String(key, v string) zap.Field {
	return zap.String(key, v)
}

// Int crea un campo int genérico.
func Int(key string, v int) zap.Field {
	return zap.Int(key, v)
}

// Bool crea un campo bool genérico.
func Bool(key string, v bool) zap.Field {
	return zap.Bool(key, v)
}
