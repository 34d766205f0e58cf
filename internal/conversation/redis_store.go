package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	sessionTTL         = 24 * time.Hour
	sessionActivityKey = "sessions:activity"
)

// RedisSessionStore keeps each session as JSON under session:<id> and tracks last
// activity in a sorted set for the reaper.
type RedisSessionStore struct {
	redis  *redis.Client
	tracer trace.Tracer
	ttl    time.Duration
}

func NewRedisSessionStore(client *redis.Client) *RedisSessionStore {
	if client == nil {
		panic("conversation: redis client cannot be nil")
	}
	return &RedisSessionStore{
		redis:  client,
		tracer: otel.Tracer("clinic.internal.conversation.sessions"),
		ttl:    sessionTTL,
	}
}

// WithTTL bounds how long an untouched session key survives in Redis.
func (s *RedisSessionStore) WithTTL(ttl time.Duration) *RedisSessionStore {
	if ttl > 0 {
		s.ttl = ttl
	}
	return s
}

func (s *RedisSessionStore) Get(ctx context.Context, id string) (Session, error) {
	ctx, span := s.tracer.Start(ctx, "conversation.load_session")
	defer span.End()

	data, err := s.redis.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Session{}, ErrSessionNotFound
		}
		span.RecordError(err)
		return Session{}, fmt.Errorf("conversation: failed to load session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		span.RecordError(err)
		return Session{}, fmt.Errorf("conversation: failed to decode session: %w", err)
	}
	return sess, nil
}

func (s *RedisSessionStore) Save(ctx context.Context, sess Session) error {
	ctx, span := s.tracer.Start(ctx, "conversation.save_session")
	defer span.End()

	data, err := json.Marshal(sess)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: failed to marshal session: %w", err)
	}
	key := sessionKey(sess.ID)
	// WATCH makes the version check and the write atomic across instances.
	err = s.redis.Watch(ctx, func(tx *redis.Tx) error {
		stored, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var cur struct {
				Version int `json:"version"`
			}
			if err := json.Unmarshal(stored, &cur); err != nil {
				return fmt.Errorf("decode stored version: %w", err)
			}
			if cur.Version != sess.Version-1 {
				return ErrSessionConflict
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			pipe.ZAdd(ctx, sessionActivityKey, redis.Z{Score: float64(sess.UpdatedAt.Unix()), Member: sess.ID})
			return nil
		})
		return err
	}, key)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrSessionConflict), errors.Is(err, redis.TxFailedErr):
		return ErrSessionConflict
	default:
		span.RecordError(err)
		return fmt.Errorf("conversation: failed to persist session: %w", err)
	}
}

func (s *RedisSessionStore) Delete(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "conversation.delete_session")
	defer span.End()

	pipe := s.redis.TxPipeline()
	pipe.Del(ctx, sessionKey(id))
	pipe.ZRem(ctx, sessionActivityKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: failed to delete session: %w", err)
	}
	return nil
}

// Idle reads the activity index. Ids whose key already expired are dropped from the
// index and skipped.
func (s *RedisSessionStore) Idle(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	ctx, span := s.tracer.Start(ctx, "conversation.idle_sessions")
	defer span.End()

	ids, err := s.redis.ZRangeByScore(ctx, sessionActivityKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "(" + strconv.FormatInt(cutoff.Unix(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: failed to list idle sessions: %w", err)
	}
	out := ids[:0]
	for _, id := range ids {
		exists, err := s.redis.Exists(ctx, sessionKey(id)).Result()
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("conversation: failed to check session: %w", err)
		}
		if exists == 0 {
			if err := s.redis.ZRem(ctx, sessionActivityKey, id).Err(); err != nil {
				span.RecordError(err)
				return nil, fmt.Errorf("conversation: failed to prune session index: %w", err)
			}
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

func sessionKey(id string) string {
	return fmt.Sprintf("session:%s", id)
}
