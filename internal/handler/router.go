package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/timetravel/backend/internal/handler/chat"
	"github.com/zhouzirui/timetravel/backend/internal/handler/persona"
	middlewarePkg "github.com/zhouzirui/timetravel/backend/internal/middleware"
	personaModel "github.com/zhouzirui/timetravel/backend/internal/model/persona"
	"github.com/zhouzirui/timetravel/backend/pkg/utils"
)

// HealthText is the body of the liveness probe.
const HealthText = "Bot is running"

// NewRouter wires HTTP routes to the session engine.
func NewRouter(personas personaModel.Store, eng chat.Engine, botToken string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondText(w, http.StatusOK, HealthText)
	})

	personaHandler := persona.New(personas)
	chatHandler := chat.New(eng)
	wsHandler := chat.NewWebSocketHandler(eng)

	r.Route("/api", func(api chi.Router) {
		api.Use(middlewarePkg.BotToken(botToken))

		personaHandler.RegisterRoutes(api)
		chatHandler.RegisterRoutes(api)
		wsHandler.RegisterWebSocketRoutes(api)
	})

	return r
}
