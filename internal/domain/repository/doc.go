// Package repository define las capacidades que el core requiere del servicio remoto
// (backend-as-a-service o servidor de auth propio).
//
// Estas interfaces son contratos de negocio, independientes del transporte
// (HTTP estilo GoTrue/PostgREST, PostgreSQL directo, memoria).
//
// Las implementaciones concretas viven en internal/store/adapters/.
//
//	┌─────────────────────────────────────────────────────┐
//	│     auth.Gateway / session.Manager / profile        │
//	└─────────────────────────────────────────────────────┘
//	                        │
//	                        ▼
//	┌─────────────────────────────────────────────────────┐
//	│   domain/repository (AuthRepository, TableRepository)│
//	└─────────────────────────────────────────────────────┘
//	                        │
//	         ┌──────────────┼──────────────┐
//	         ▼              ▼              ▼
//	┌─────────────┐  ┌─────────────┐  ┌─────────────┐
//	│  adapters/  │  │  adapters/  │  │  adapters/  │
//	│    rest     │  │     pg      │  │   memory    │
//	└─────────────┘  └─────────────┘  └─────────────┘
//
// Convenciones:
//   - Context siempre es el primer parámetro.
//   - Los errores de tablas son *StoreError con un Kind cerrado (errors.go).
//   - Los rechazos del servicio de auth son *AuthError; la falta de servicio es ErrUnavailable.
package repository
