package apiapp

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mythcraft/api/internal/app/stack"
	"github.com/mythcraft/api/internal/config"
	"github.com/mythcraft/api/internal/infra/metrics"
	authsvc "github.com/mythcraft/api/internal/services/auth"
	"github.com/mythcraft/api/internal/transport/http/handlers"
)

type Dependencies struct {
	Stack      *stack.Stack
	JWTManager *authsvc.JWTManager
	Logger     *zap.Logger
	Config     config.Config
}

func RegisterRoutes(r chi.Router, deps Dependencies) {
	st := deps.Stack

	checks := map[string]handlers.Pinger{"postgres": nil, "redis": nil, "nats": nil}
	if st.Postgres != nil {
		checks["postgres"] = st.Postgres
	}
	if st.Redis != nil {
		checks["redis"] = stack.RedisPinger{Client: st.Redis}
	}
	if st.NATS != nil {
		checks["nats"] = st.NATS
	}
	healthHandler := handlers.NewHealthHandler(checks)

	moderationHandler := handlers.NewModerationHandler(st.Moderation, handlers.ModerationHandlerConfig{
		RequireIdentity: deps.JWTManager != nil,
		TrustedRoles:    deps.Config.Auth.TrustedRoles,
	}, deps.Logger)
	if st.NATS != nil {
		moderationHandler.AttachQueue(st.NATS)
	}
	if st.Evidence != nil {
		moderationHandler.AttachEvidence(st.Evidence)
	}

	r.Get("/healthz", healthHandler.Get)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		if deps.JWTManager != nil {
			r.Use(AuthMiddleware(deps.JWTManager, deps.Logger))
		}
		r.Post("/moderate", moderationHandler.Moderate)
		r.Post("/moderate/batch", moderationHandler.Batch)
		r.Post("/moderate/async", moderationHandler.Enqueue)
		r.Get("/moderation/flags", moderationHandler.Flags)
	})
}
