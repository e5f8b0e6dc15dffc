package sessionstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/timetravel/backend/internal/model/chat"
)

// SQLiteStore keeps one row per user in the users table.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = &SQLiteStore{}

// NewSQLiteStore opens dsn and creates the users table if needed.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite session store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite session store: open")
	}
	// One shared connection: SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// SQLiteDSNForFile builds a DSN for a database file.
func SQLiteDSNForFile(path string) (string, error) {
	if path == "" {
		return "", errors.New("sqlite session store: empty path")
	}
	// busy_timeout avoids transient SQLITE_BUSY while another process holds the file.
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path), nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
		  user_id INTEGER PRIMARY KEY,
		  messages INTEGER DEFAULT 0,
		  unlocked TEXT DEFAULT '',
		  current_char TEXT DEFAULT NULL,
		  history TEXT DEFAULT '[]'
		);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite session store: migrate")
		}
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load reads the row for userID. NULL unlocked/history columns decode as empty.
func (s *SQLiteStore) Load(ctx context.Context, userID int64) (chat.Session, bool, error) {
	if s == nil || s.db == nil {
		return chat.Session{}, false, errors.New("sqlite session store: db is nil")
	}

	var (
		messages    sql.NullInt64
		unlocked    sql.NullString
		currentChar sql.NullString
		history     sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT messages, unlocked, current_char, history
		FROM users
		WHERE user_id = ?
	`, userID).Scan(&messages, &unlocked, &currentChar, &history)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Session{}, false, nil
	}
	if err != nil {
		return chat.Session{}, false, errors.Wrap(err, "sqlite session store: load")
	}

	session, err := decode(record{
		UserID:      userID,
		Messages:    int(messages.Int64),
		Unlocked:    unlocked.String,
		CurrentChar: currentChar.String,
		History:     history.String,
	})
	if err != nil {
		log.Warn().Err(err).Str("component", "sessionstore").Int64("user_id", userID).
			Msg("stored history is malformed, starting with an empty history")
	}
	return session, true, nil
}

// Create inserts a row unless one already exists for the user.
func (s *SQLiteStore) Create(ctx context.Context, session chat.Session) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite session store: db is nil")
	}
	r, err := encode(session)
	if err != nil {
		return errors.Wrap(err, "sqlite session store: create")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (user_id, messages, unlocked, current_char, history)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO NOTHING
	`, r.UserID, r.Messages, r.Unlocked, nullable(r.CurrentChar), r.History)
	if err != nil {
		return errors.Wrap(err, "sqlite session store: create")
	}
	return nil
}

// Save upserts the full row.
func (s *SQLiteStore) Save(ctx context.Context, session chat.Session) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite session store: db is nil")
	}
	r, err := encode(session)
	if err != nil {
		return errors.Wrap(err, "sqlite session store: save")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (user_id, messages, unlocked, current_char, history)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			messages = excluded.messages,
			unlocked = excluded.unlocked,
			current_char = excluded.current_char,
			history = excluded.history
	`, r.UserID, r.Messages, r.Unlocked, nullable(r.CurrentChar), r.History)
	if err != nil {
		return errors.Wrap(err, "sqlite session store: save")
	}
	return nil
}

func nullable(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
