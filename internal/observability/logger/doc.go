// Package logger expone un logger Zap singleton con scoping por contexto.
//
// # Decisiones
//
//   - Singleton: una sola instancia global inicializada con Init().
//   - Context scoping: cada request o acción del gateway puede llevar su propio logger
//     con campos (request_id, actor_ref, op) sin crear un core nuevo.
//   - Entornos: "dev" usa consola con colores, "prod" usa JSON.
//   - Nunca se loguean passwords; para identificar al actor se usa ActorRef
//     (hash truncado, ver internal/audit).
//
// # Uso
//
//	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level})
//	defer logger.Sync()
//
//	log := logger.From(ctx).With(logger.Component("profile.resolver"))
//	log.Info("profile created", logger.Rung("minimal"))
package logger
