package chat

import "slices"

// Session is the durable per-user progression record.
type Session struct {
	UserID       int64    `json:"userId"`
	MessageCount int      `json:"messageCount"`
	Unlocked     []string `json:"unlocked"`
	// ActivePersonaID is empty until the user selects a persona.
	ActivePersonaID string `json:"activePersonaId,omitempty"`
	History         []Turn `json:"history"`
}

// NewSession returns the state of a user seen for the first time.
func NewSession(userID int64, defaultPersonaID string) Session {
	return Session{
		UserID:   userID,
		Unlocked: []string{defaultPersonaID},
		History:  []Turn{},
	}
}

// HasActivePersona reports whether a persona has been selected.
func (s Session) HasActivePersona() bool {
	return s.ActivePersonaID != ""
}

// IsUnlocked reports whether the persona may be selected.
func (s Session) IsUnlocked(personaID string) bool {
	return slices.Contains(s.Unlocked, personaID)
}

// Unlock adds personaID to the unlock set and reports whether it was new.
func (s *Session) Unlock(personaID string) bool {
	if s.IsUnlocked(personaID) {
		return false
	}
	s.Unlocked = append(s.Unlocked, personaID)
	return true
}

// Activate switches the active persona and starts an empty conversation.
func (s *Session) Activate(personaID string) {
	s.ActivePersonaID = personaID
	s.History = []Turn{}
}

// Record appends turns and applies the sliding history window.
func (s *Session) Record(turns ...Turn) {
	s.History = Window(append(s.History, turns...), HistoryLimit)
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (s Session) Clone() Session {
	out := s
	out.Unlocked = append([]string(nil), s.Unlocked...)
	out.History = append([]Turn{}, s.History...)
	return out
}

// Normalize repairs decoded state so the default persona is always unlocked,
// the active persona is one the user may use, and history respects the window.
func (s *Session) Normalize(defaultPersonaID string) {
	if s.Unlocked == nil {
		s.Unlocked = []string{}
	}
	if !s.IsUnlocked(defaultPersonaID) {
		s.Unlocked = append([]string{defaultPersonaID}, s.Unlocked...)
	}
	if s.ActivePersonaID != "" && !s.IsUnlocked(s.ActivePersonaID) {
		s.ActivePersonaID = ""
		s.History = []Turn{}
	}
	if s.History == nil {
		s.History = []Turn{}
	}
	s.History = Window(s.History, HistoryLimit)
}
