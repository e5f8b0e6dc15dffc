package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/timetravel/backend/internal/model/chat"
	"github.com/zhouzirui/timetravel/backend/internal/service/engine"
	"github.com/zhouzirui/timetravel/backend/pkg/utils"
)

// Engine is the part of the session engine the transport needs.
type Engine interface {
	Handle(ctx context.Context, ev engine.Event) engine.Response
	Session(ctx context.Context, userID int64) (chat.Session, error)
}

// Handler maps HTTP requests to engine events.
type Handler struct {
	engine Engine
}

// New creates a chat handler.
func New(eng Engine) *Handler {
	return &Handler{
		engine: eng,
	}
}

// RegisterRoutes mounts the per-user routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/users/{userID}", func(u chi.Router) {
		u.Post("/start", h.handleStart)
		u.Post("/persona", h.handleSelectPersona)
		u.Post("/messages", h.handleMessage)
		u.Post("/followups/{optionID}", h.handleFollowUp)
		u.Post("/callback", h.handleCallback)
		u.Get("/session", h.handleSession)
	})
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	h.dispatch(w, r, engine.Event{Kind: engine.EventStart, UserID: userID})
}

func (h *Handler) handleSelectPersona(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	var payload struct {
		PersonaID string `json:"personaId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.PersonaID == "" {
		utils.RespondError(w, http.StatusBadRequest, "personaId is required")
		return
	}

	h.dispatch(w, r, engine.Event{Kind: engine.EventSelect, UserID: userID, PersonaID: payload.PersonaID})
}

func (h *Handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	var payload struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(payload.Text) == "" {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}

	h.dispatch(w, r, engine.Event{Kind: engine.EventTurn, UserID: userID, Text: payload.Text})
}

func (h *Handler) handleFollowUp(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	optionID := chi.URLParam(r, "optionID")
	h.dispatch(w, r, engine.Event{Kind: engine.EventFollowUp, UserID: userID, Data: optionID})
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	var payload struct {
		Data string `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Data == "" {
		utils.RespondError(w, http.StatusBadRequest, "data is required")
		return
	}

	h.dispatch(w, r, engine.Event{Kind: engine.EventCallback, UserID: userID, Data: payload.Data})
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	s, err := h.engine.Session(r.Context(), userID)
	if err != nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "session unavailable")
		return
	}
	utils.RespondJSON(w, http.StatusOK, s)
}

// dispatch runs the event; domain errors are part of the response body.
func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, ev engine.Event) {
	utils.RespondJSON(w, http.StatusOK, h.engine.Handle(r.Context(), ev))
}

func userIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, err := parseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid user id")
		return 0, false
	}
	return userID, true
}

func parseUserID(raw string) (int64, error) {
	return strconv.ParseInt(raw, 10, 64)
}
