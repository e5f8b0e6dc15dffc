package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/timetravel/backend/internal/analysis/reactive"
)

// EventKind names an inbound event.
type EventKind string

const (
	EventStart    EventKind = "start"
	EventSelect   EventKind = "select"
	EventTurn     EventKind = "turn"
	EventFollowUp EventKind = "followup"
	// EventCallback carries raw quick-reply data: a follow-up option id or a persona id.
	EventCallback EventKind = "callback"
)

// ErrUnknownEvent is returned for event kinds the engine does not handle.
var ErrUnknownEvent = errors.New("unknown event")

// User-facing texts.
const (
	MenuText            = "*Добро пожаловать в TimeTravel Chat!*\nВыбери собеседника из прошлого:"
	NotFoundText        = "Ошибка"
	LockedText          = "Этот персонаж еще не разблокирован!"
	NoActivePersonaText = "Сначала выбери персонажа через /start"
	ApologyText         = "Упс, что-то пошло не так. Попробуй задать вопрос еще раз."

	selectedNotice = "Выбран: %s"
	selectedText   = "Ты общаешься с *%s*\n\n%s"
	unlockedNotice = "Поздравляю! Ты разблокировал нового персонажа: *%s*!"
	unlockedLabel  = "✅ "
	lockedLabel    = "🔒 "
)

// Error codes carried in Response.Error.
const (
	CodeNotFound        = "not_found"
	CodeLocked          = "locked"
	CodeNoActivePersona = "no_active_persona"
	CodeUnknownOption   = "unknown_option"
	CodeUnknownEvent    = "unknown_event"
	CodeInternal        = "internal"
)

// Event is one inbound interaction.
type Event struct {
	Kind      EventKind `json:"type"`
	UserID    int64     `json:"-"`
	PersonaID string    `json:"personaId,omitempty"`
	Text      string    `json:"text,omitempty"`
	Data      string    `json:"data,omitempty"`
}

// Button is a quick reply offered to the user.
type Button struct {
	Text string `json:"text"`
	Data string `json:"data"`
}

// PersonaView is a catalog entry as the user sees it.
type PersonaView struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Unlocked bool   `json:"unlocked"`
}

// Response is what the transport renders for one event.
type Response struct {
	EventID  string        `json:"eventId"`
	Text     string        `json:"text,omitempty"`
	Notice   string        `json:"notice,omitempty"`
	Unlocked string        `json:"unlocked,omitempty"`
	Keyboard [][]Button    `json:"keyboard,omitempty"`
	Personas []PersonaView `json:"personas,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Handle processes one event end to end. Every failure, including a panic,
// becomes a user-facing response; nothing propagates to the next event.
func (e *Engine) Handle(ctx context.Context, ev Event) (resp Response) {
	eventID := uuid.NewString()
	logger := log.With().Str("component", "engine").Str("event_id", eventID).
		Str("event", string(ev.Kind)).Int64("user_id", ev.UserID).Logger()
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("event handler panicked")
			resp = Response{EventID: eventID, Text: ApologyText, Error: CodeInternal}
		}
	}()

	resp, err := e.dispatch(ctx, ev)
	if err != nil {
		resp = errorResponse(err)
		if resp.Error == CodeInternal {
			logger.Error().Err(err).Msg("event failed")
		} else {
			logger.Debug().Err(err).Msg("event rejected")
		}
	}
	resp.EventID = eventID

	logger.Debug().Dur("took", time.Since(start)).Msg("event handled")
	return resp
}

func (e *Engine) dispatch(ctx context.Context, ev Event) (Response, error) {
	switch ev.Kind {
	case EventStart:
		statuses, err := e.Start(ctx, ev.UserID)
		if err != nil {
			return Response{}, err
		}
		return menuResponse(statuses), nil
	case EventSelect:
		return e.handleSelect(ctx, ev.UserID, ev.PersonaID)
	case EventTurn:
		return e.handleTurn(ctx, ev.UserID, ev.Text)
	case EventFollowUp:
		return e.handleFollowUp(ctx, ev.UserID, ev.Data)
	case EventCallback:
		if reactive.IsOption(ev.Data) {
			return e.handleFollowUp(ctx, ev.UserID, ev.Data)
		}
		return e.handleSelect(ctx, ev.UserID, ev.Data)
	default:
		return Response{}, errors.Wrapf(ErrUnknownEvent, "kind %q", ev.Kind)
	}
}

func (e *Engine) handleSelect(ctx context.Context, userID int64, personaID string) (Response, error) {
	sel, err := e.SelectPersona(ctx, userID, personaID)
	if err != nil {
		return Response{}, err
	}
	return Response{
		Notice: fmt.Sprintf(selectedNotice, sel.Persona.Name),
		Text:   fmt.Sprintf(selectedText, sel.Persona.Name, sel.Greeting),
	}, nil
}

func (e *Engine) handleTurn(ctx context.Context, userID int64, text string) (Response, error) {
	reply, err := e.Turn(ctx, userID, text)
	if err != nil {
		return Response{}, err
	}
	return replyResponse(reply), nil
}

func (e *Engine) handleFollowUp(ctx context.Context, userID int64, optionID string) (Response, error) {
	reply, err := e.FollowUp(ctx, userID, optionID)
	if err != nil {
		return Response{}, err
	}
	return replyResponse(reply), nil
}

func menuResponse(statuses []PersonaStatus) Response {
	resp := Response{
		Text:     MenuText,
		Keyboard: make([][]Button, 0, len(statuses)),
		Personas: make([]PersonaView, 0, len(statuses)),
	}
	for _, st := range statuses {
		label := lockedLabel
		if st.Unlocked {
			label = unlockedLabel
		}
		resp.Keyboard = append(resp.Keyboard, []Button{{Text: label + st.Persona.Name, Data: st.Persona.ID}})
		resp.Personas = append(resp.Personas, PersonaView{
			ID:       st.Persona.ID,
			Name:     st.Persona.Name,
			Unlocked: st.Unlocked,
		})
	}
	return resp
}

func replyResponse(reply Reply) Response {
	resp := Response{Text: reply.Text}
	if reply.NewlyUnlocked != nil {
		resp.Unlocked = reply.NewlyUnlocked.Name
		resp.Notice = fmt.Sprintf(unlockedNotice, reply.NewlyUnlocked.Name)
	}
	for _, row := range reply.FollowUps {
		buttons := make([]Button, 0, len(row))
		for _, opt := range row {
			buttons = append(buttons, Button{Text: opt.Label, Data: opt.ID})
		}
		resp.Keyboard = append(resp.Keyboard, buttons)
	}
	return resp
}

func errorResponse(err error) Response {
	switch {
	case errors.Is(err, ErrPersonaNotFound):
		return Response{Notice: NotFoundText, Error: CodeNotFound}
	case errors.Is(err, ErrPersonaLocked):
		return Response{Notice: LockedText, Error: CodeLocked}
	case errors.Is(err, ErrNoActivePersona):
		return Response{Text: NoActivePersonaText, Error: CodeNoActivePersona}
	case errors.Is(err, ErrUnknownOption):
		return Response{Notice: NotFoundText, Error: CodeUnknownOption}
	case errors.Is(err, ErrUnknownEvent):
		return Response{Notice: NotFoundText, Error: CodeUnknownEvent}
	default:
		return Response{Text: ApologyText, Error: CodeInternal}
	}
}
