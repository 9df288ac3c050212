package handler

import (
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/formpilot/backend/internal/config"
	"github.com/zhouzirui/formpilot/backend/internal/handler/auth"
	"github.com/zhouzirui/formpilot/backend/internal/handler/onboarding"
	"github.com/zhouzirui/formpilot/backend/internal/handler/ws"
	middlewarePkg "github.com/zhouzirui/formpilot/backend/internal/middleware"
	onboardingService "github.com/zhouzirui/formpilot/backend/internal/service/onboarding"
	"github.com/zhouzirui/formpilot/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(cfg *config.Config, svc *onboardingService.Service) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger())
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(cfg.Server.AllowedOrigins))

	authHandler := auth.New(svc)
	onboardingHandler := onboarding.New(svc)
	wsHandler := ws.New(svc.Credentials(), svc.Sessions(), cfg.WS)

	r.Route("/api", func(api chi.Router) {
		authHandler.RegisterRoutes(api)

		api.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]any{
				"status":   "ok",
				"sessions": svc.Sessions().Len(),
				"tokens":   svc.Credentials().Count(),
			})
		})

		api.Group(func(protected chi.Router) {
			protected.Use(middlewarePkg.RequireToken(svc.Credentials()))
			onboardingHandler.RegisterRoutes(protected)
		})
	})

	wsHandler.RegisterRoutes(r)

	if dir := cfg.Server.StaticDir; dir != "" {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			log.Warn().Str("component", "http").Str("dir", dir).Msg("static dir not found, UI bundle not served")
		} else {
			r.Handle("/*", http.FileServer(http.Dir(dir)))
		}
	}

	return r
}
