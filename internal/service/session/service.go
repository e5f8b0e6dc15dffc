package session

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/timetravel/backend/internal/model/chat"
	"github.com/zhouzirui/timetravel/backend/internal/storage/sessionstore"
)

// StorageError reports a failed read or write against the session backend.
type StorageError struct {
	Op     string
	UserID int64
	Err    error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("session %s for user %d: %v", e.Op, e.UserID, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Service implements get-or-create and full-replace saves on top of a backend.
type Service struct {
	store            sessionstore.Store
	defaultPersonaID string
}

// NewService binds a backend to the catalog's default persona.
func NewService(store sessionstore.Store, defaultPersonaID string) *Service {
	return &Service{store: store, defaultPersonaID: defaultPersonaID}
}

// DefaultPersonaID returns the persona new sessions start with.
func (s *Service) DefaultPersonaID() string {
	return s.defaultPersonaID
}

// GetOrCreate returns the user's session, creating a default one on first contact.
// Read failures are logged and yield an unsaved default session so the
// conversation can continue. A read that failed because ctx is done is
// returned as *StorageError instead, so no default replaces stored state.
func (s *Service) GetOrCreate(ctx context.Context, userID int64) (chat.Session, error) {
	logger := log.With().Str("component", "session").Int64("user_id", userID).Logger()

	stored, found, err := s.store.Load(ctx, userID)
	if err != nil {
		loadErr := &StorageError{Op: "load", UserID: userID, Err: err}
		if ctx.Err() != nil {
			return chat.Session{}, loadErr
		}
		logger.Error().Err(loadErr).Msg("session read failed, continuing with a default session")
		return chat.NewSession(userID, s.defaultPersonaID), nil
	}

	if found {
		stored.UserID = userID
		stored.Normalize(s.defaultPersonaID)
		return stored, nil
	}

	created := chat.NewSession(userID, s.defaultPersonaID)
	if err := s.store.Create(ctx, created); err != nil {
		logger.Error().Err(&StorageError{Op: "create", UserID: userID, Err: err}).
			Msg("failed to persist new session")
	} else {
		logger.Debug().Msg("created session")
	}
	return created, nil
}

// Save writes the full session. Failures are returned as *StorageError.
func (s *Service) Save(ctx context.Context, session chat.Session) error {
	if err := s.store.Save(ctx, session); err != nil {
		return &StorageError{Op: "save", UserID: session.UserID, Err: err}
	}
	return nil
}
