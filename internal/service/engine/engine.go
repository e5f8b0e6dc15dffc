// Package engine implements the session progression rules: persona
// selection against the unlock set, bounded conversation history, unlock
// thresholds and the reactive content attached to replies.
package engine

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/timetravel/backend/internal/analysis/reactive"
	"github.com/zhouzirui/timetravel/backend/internal/model/chat"
	"github.com/zhouzirui/timetravel/backend/internal/model/persona"
	"github.com/zhouzirui/timetravel/backend/internal/model/source"
)

var (
	ErrPersonaNotFound = errors.New("persona not found")
	ErrPersonaLocked   = errors.New("persona is locked")
	ErrNoActivePersona = errors.New("no active persona")
	ErrUnknownOption   = errors.New("unknown follow-up option")
)

// GreetingFallback is shown when a persona has no greeting of its own.
const GreetingFallback = "Пиши что угодно!"

// Completer produces a reply for a history under a persona prompt. It never
// fails; degraded replies are ordinary text.
type Completer interface {
	Complete(ctx context.Context, history []chat.Turn, systemPrompt string) string
}

// SessionStore loads and persists sessions.
type SessionStore interface {
	GetOrCreate(ctx context.Context, userID int64) (chat.Session, error)
	Save(ctx context.Context, s chat.Session) error
}

// Engine applies inbound events to user sessions. State transitions run
// detached from the caller's cancellation: once accepted, a transition
// completes and is persisted even if the client has gone away.
type Engine struct {
	catalog   persona.Store
	sources   *source.Catalog
	sessions  SessionStore
	completer Completer
	locks     *userLocks
}

// New wires the engine to its collaborators. sources may be nil.
func New(catalog persona.Store, sources *source.Catalog, sessions SessionStore, completer Completer) *Engine {
	return &Engine{
		catalog:   catalog,
		sources:   sources,
		sessions:  sessions,
		completer: completer,
		locks:     newUserLocks(),
	}
}

// PersonaStatus is a catalog entry annotated for one user.
type PersonaStatus struct {
	Persona  persona.Persona
	Unlocked bool
}

// Selection is the result of choosing a persona.
type Selection struct {
	Persona  persona.Persona
	Greeting string
}

// Reply is the result of a counted turn or a follow-up.
type Reply struct {
	Text string
	// NewlyUnlocked is set when this turn unlocked a persona; only the last
	// unlock in catalog order is reported.
	NewlyUnlocked *persona.Persona
	Cited         bool
	FollowUps     [][]reactive.FollowUpOption
}

// Start returns the catalog with the user's lock state, creating the session
// on first contact.
func (e *Engine) Start(ctx context.Context, userID int64) ([]PersonaStatus, error) {
	ctx = context.WithoutCancel(ctx)
	unlock := e.locks.lock(userID)
	defer unlock()

	s, err := e.sessions.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	items := e.catalog.List()
	out := make([]PersonaStatus, 0, len(items))
	for _, p := range items {
		out = append(out, PersonaStatus{Persona: p, Unlocked: available(s, p)})
	}
	return out, nil
}

// SelectPersona activates an unlocked persona and clears the conversation.
// The session is unchanged on error.
func (e *Engine) SelectPersona(ctx context.Context, userID int64, personaID string) (Selection, error) {
	p, ok := e.catalog.FindByID(personaID)
	if !ok {
		return Selection{}, errors.Wrapf(ErrPersonaNotFound, "select %q", personaID)
	}

	ctx = context.WithoutCancel(ctx)
	unlock := e.locks.lock(userID)
	defer unlock()

	s, err := e.sessions.GetOrCreate(ctx, userID)
	if err != nil {
		return Selection{}, err
	}
	if !available(s, p) {
		return Selection{}, errors.Wrapf(ErrPersonaLocked, "select %q", personaID)
	}

	s.Unlock(p.ID)
	s.Activate(p.ID)
	e.save(ctx, s)

	greeting := p.Greeting
	if greeting == "" {
		greeting = GreetingFallback
	}
	return Selection{Persona: p, Greeting: greeting}, nil
}

// Turn runs a counted exchange with the active persona.
func (e *Engine) Turn(ctx context.Context, userID int64, text string) (Reply, error) {
	ctx = context.WithoutCancel(ctx)
	unlock := e.locks.lock(userID)
	defer unlock()

	s, err := e.sessions.GetOrCreate(ctx, userID)
	if err != nil {
		return Reply{}, err
	}
	p, err := e.activePersona(s)
	if err != nil {
		return Reply{}, err
	}

	raw := e.exchange(ctx, &s, p, text)
	s.MessageCount++

	result := Reply{Text: raw}
	if newest, ok := e.evaluateUnlocks(&s); ok {
		result.NewlyUnlocked = &newest
	}
	if p.ID == e.catalog.DefaultID() {
		text, offered := reactive.ExtractFollowUp(raw)
		if offered {
			result.FollowUps = reactive.FollowUpRows()
		}
		result.Text, result.Cited = reactive.InjectCitation(text, e.sources)
	}

	e.save(ctx, s)
	return result, nil
}

// FollowUp replays a quick reply's canonical prompt. It is not counted,
// does not evaluate unlocks and derives no reactive content.
func (e *Engine) FollowUp(ctx context.Context, userID int64, optionID string) (Reply, error) {
	opt, ok := reactive.FindOption(optionID)
	if !ok {
		return Reply{}, errors.Wrapf(ErrUnknownOption, "follow-up %q", optionID)
	}

	ctx = context.WithoutCancel(ctx)
	unlock := e.locks.lock(userID)
	defer unlock()

	s, err := e.sessions.GetOrCreate(ctx, userID)
	if err != nil {
		return Reply{}, err
	}
	p, err := e.activePersona(s)
	if err != nil {
		return Reply{}, err
	}

	raw := e.exchange(ctx, &s, p, opt.Prompt)
	e.save(ctx, s)
	return Reply{Text: raw}, nil
}

// Session returns the user's current state.
func (e *Engine) Session(ctx context.Context, userID int64) (chat.Session, error) {
	unlock := e.locks.lock(userID)
	defer unlock()
	return e.sessions.GetOrCreate(ctx, userID)
}

// Catalog exposes the persona catalog the engine was built with.
func (e *Engine) Catalog() persona.Store {
	return e.catalog
}

// exchange sends the history plus the new user turn to the completer and
// records both turns.
func (e *Engine) exchange(ctx context.Context, s *chat.Session, p persona.Persona, text string) string {
	userTurn := chat.UserTurn(text)
	history := make([]chat.Turn, 0, len(s.History)+1)
	history = append(history, s.History...)
	history = append(history, userTurn)

	reply := e.completer.Complete(ctx, history, p.SystemPrompt)
	s.Record(userTurn, chat.AssistantTurn(reply))
	return reply
}

func (e *Engine) activePersona(s chat.Session) (persona.Persona, error) {
	if !s.HasActivePersona() {
		return persona.Persona{}, ErrNoActivePersona
	}
	p, ok := e.catalog.FindByID(s.ActivePersonaID)
	if !ok {
		return persona.Persona{}, errors.Wrapf(ErrNoActivePersona, "persona %q left the catalog", s.ActivePersonaID)
	}
	return p, nil
}

// evaluateUnlocks adds every persona whose threshold the session has reached
// and returns the last one found in catalog order.
func (e *Engine) evaluateUnlocks(s *chat.Session) (persona.Persona, bool) {
	var (
		newest persona.Persona
		found  bool
	)
	for _, p := range e.catalog.List() {
		if s.IsUnlocked(p.ID) || !p.UnlocksAt(s.MessageCount) {
			continue
		}
		s.Unlock(p.ID)
		newest, found = p, true
		log.Info().Str("component", "engine").Int64("user_id", s.UserID).Str("persona", p.ID).
			Int("messages", s.MessageCount).Msg("persona unlocked")
	}
	return newest, found
}

func (e *Engine) save(ctx context.Context, s chat.Session) {
	if err := e.sessions.Save(ctx, s); err != nil {
		log.Warn().Err(err).Str("component", "engine").Int64("user_id", s.UserID).Msg("session not persisted")
	}
}

// available reports whether the user may select p. Personas without a
// threshold are open to everyone.
func available(s chat.Session, p persona.Persona) bool {
	return s.IsUnlocked(p.ID) || p.UnlockedByDefault()
}
