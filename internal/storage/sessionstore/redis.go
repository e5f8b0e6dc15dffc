package sessionstore

import (
	"context"
	"strconv"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/timetravel/backend/internal/model/chat"
)

const redisKeyPrefix = "timetravel:user:"

// RedisStore keeps one hash per user with the users-table field names.
type RedisStore struct {
	client *redis.Client
}

var _ Store = &RedisStore{}

// NewRedisStore connects to addr and verifies the connection.
func NewRedisStore(ctx context.Context, addr string, db int) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("redis session store: empty addr")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "redis session store: ping %s", addr)
	}
	return &RedisStore{client: client}, nil
}

func redisKey(userID int64) string {
	return redisKeyPrefix + strconv.FormatInt(userID, 10)
}

// Close closes the client.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Load reads the hash for userID.
func (s *RedisStore) Load(ctx context.Context, userID int64) (chat.Session, bool, error) {
	fields, err := s.client.HGetAll(ctx, redisKey(userID)).Result()
	if err != nil {
		return chat.Session{}, false, errors.Wrap(err, "redis session store: load")
	}
	if len(fields) == 0 {
		return chat.Session{}, false, nil
	}

	messages := 0
	if raw := fields["messages"]; raw != "" {
		if messages, err = strconv.Atoi(raw); err != nil {
			return chat.Session{}, false, errors.Wrap(err, "redis session store: decode messages")
		}
	}

	session, err := decode(record{
		UserID:      userID,
		Messages:    messages,
		Unlocked:    fields["unlocked"],
		CurrentChar: fields["current_char"],
		History:     fields["history"],
	})
	if err != nil {
		log.Warn().Err(err).Str("component", "sessionstore").Int64("user_id", userID).
			Msg("stored history is malformed, starting with an empty history")
	}
	return session, true, nil
}

// Create writes the hash only when the user has no record yet.
func (s *RedisStore) Create(ctx context.Context, session chat.Session) error {
	r, err := encode(session)
	if err != nil {
		return errors.Wrap(err, "redis session store: create")
	}
	key := redisKey(r.UserID)

	created, err := s.client.HSetNX(ctx, key, "messages", r.Messages).Result()
	if err != nil {
		return errors.Wrap(err, "redis session store: create")
	}
	if !created {
		return nil
	}
	if err := s.client.HSet(ctx, key, fieldValues(r)...).Err(); err != nil {
		return errors.Wrap(err, "redis session store: create")
	}
	return nil
}

// Save overwrites every field of the hash.
func (s *RedisStore) Save(ctx context.Context, session chat.Session) error {
	r, err := encode(session)
	if err != nil {
		return errors.Wrap(err, "redis session store: save")
	}
	if err := s.client.HSet(ctx, redisKey(r.UserID), fieldValues(r)...).Err(); err != nil {
		return errors.Wrap(err, "redis session store: save")
	}
	return nil
}

func fieldValues(r record) []any {
	return []any{
		"messages", r.Messages,
		"unlocked", r.Unlocked,
		"current_char", r.CurrentChar,
		"history", r.History,
	}
}
