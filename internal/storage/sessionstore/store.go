// Package sessionstore persists per-user sessions in SQLite, Redis or memory.
//
// All backends share the column layout of the users table: an integer
// message counter, a comma-delimited unlock list, a nullable active persona
// and the conversation history as a JSON array.
package sessionstore

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/zhouzirui/timetravel/backend/internal/model/chat"
)

// Store is a durable session backend. Load reports found=false for unknown users.
type Store interface {
	Load(ctx context.Context, userID int64) (chat.Session, bool, error)
	// Create inserts s unless a record for the user already exists.
	Create(ctx context.Context, s chat.Session) error
	// Save replaces the full record for s.UserID, inserting it if needed.
	Save(ctx context.Context, s chat.Session) error
	Close() error
}

// record is the column-level representation shared by the backends.
type record struct {
	UserID   int64
	Messages int
	Unlocked string
	// CurrentChar is empty when the column is NULL.
	CurrentChar string
	History     string
}

func encode(s chat.Session) (record, error) {
	history := s.History
	if history == nil {
		history = []chat.Turn{}
	}
	data, err := json.Marshal(history)
	if err != nil {
		return record{}, errors.Wrap(err, "encode history")
	}
	return record{
		UserID:      s.UserID,
		Messages:    s.MessageCount,
		Unlocked:    strings.Join(s.Unlocked, ","),
		CurrentChar: s.ActivePersonaID,
		History:     string(data),
	}, nil
}

// decode tolerates empty unlock lists and empty or malformed history; the
// caller normalizes the result against the default persona.
func decode(r record) (chat.Session, error) {
	s := chat.Session{
		UserID:          r.UserID,
		MessageCount:    r.Messages,
		ActivePersonaID: strings.TrimSpace(r.CurrentChar),
		Unlocked:        splitUnlocked(r.Unlocked),
		History:         []chat.Turn{},
	}

	raw := strings.TrimSpace(r.History)
	if raw == "" || raw == "null" {
		return s, nil
	}
	var history []chat.Turn
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		return s, errors.Wrap(err, "decode history")
	}
	if history != nil {
		s.History = history
	}
	return s, nil
}

func splitUnlocked(raw string) []string {
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
