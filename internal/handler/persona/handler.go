package persona

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/timetravel/backend/internal/model/persona"
	"github.com/zhouzirui/timetravel/backend/pkg/utils"
)

// Handler serves the persona catalog.
type Handler struct {
	personas persona.Store
}

// New creates a catalog handler.
func New(personas persona.Store) *Handler {
	return &Handler{
		personas: personas,
	}
}

// RegisterRoutes mounts the catalog routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/personas", h.handleListPersonas)
}

// personaView hides the system prompt from clients.
type personaView struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	Greeting            string `json:"greeting,omitempty"`
	UnlockAfterMessages *int   `json:"unlockAfterMessages,omitempty"`
	Default             bool   `json:"default,omitempty"`
}

func (h *Handler) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	items := h.personas.List()
	views := make([]personaView, 0, len(items))
	for _, p := range items {
		views = append(views, personaView{
			ID:                  p.ID,
			Name:                p.Name,
			Greeting:            p.Greeting,
			UnlockAfterMessages: p.UnlockAfterMessages,
			Default:             p.ID == h.personas.DefaultID(),
		})
	}
	utils.RespondJSON(w, http.StatusOK, views)
}
