package store

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/Tyrowin/cipherchat/internal/chat"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "cipherchat"

// RedisStore persists state in Redis.
//
// Keys, relative to the configured prefix:
//
//	<p>:cred:<identity>      credential record as JSON (SETNX)
//	<p>:room:<room>:seq      per-room sequence counter (INCR)
//	<p>:room:<room>:messages sorted set of message JSON scored by sequence id
//	<p>:lastseen             hash of identity -> unix nanoseconds
type RedisStore struct {
	client       redis.UniversalClient
	prefix       string
	historyLimit int64
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisPrefix namespaces every key under prefix.
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithRedisHistoryLimit trims each room to its newest n messages. Zero keeps everything.
func WithRedisHistoryLimit(n int) RedisOption {
	return func(s *RedisStore) {
		if n > 0 {
			s.historyLimit = int64(n)
		}
	}
}

// NewRedisStore wraps an existing client. Close closes the client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, prefix: defaultRedisPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Backend = (*RedisStore)(nil)

func (s *RedisStore) credentialKey(identity string) string {
	return s.prefix + ":cred:" + identity
}

func (s *RedisStore) seqKey(room string) string {
	return s.prefix + ":room:" + room + ":seq"
}

func (s *RedisStore) messagesKey(room string) string {
	return s.prefix + ":room:" + room + ":messages"
}

func (s *RedisStore) lastSeenKey() string {
	return s.prefix + ":lastseen"
}

func (s *RedisStore) CreateCredential(ctx context.Context, rec CredentialRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "marshal credential failed")
	}
	created, err := s.client.SetNX(ctx, s.credentialKey(rec.Identity), data, 0).Result()
	if err != nil {
		return persistenceError(err, "create credential")
	}
	if !created {
		return ErrDuplicateIdentity
	}
	return nil
}

func (s *RedisStore) GetCredential(ctx context.Context, identity string) (CredentialRecord, error) {
	data, err := s.client.Get(ctx, s.credentialKey(identity)).Bytes()
	if errors.Is(err, redis.Nil) {
		return CredentialRecord{}, ErrNotFound
	}
	if err != nil {
		return CredentialRecord{}, persistenceError(err, "get credential")
	}
	var rec CredentialRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return CredentialRecord{}, persistenceError(err, "decode credential")
	}
	return rec, nil
}

func (s *RedisStore) Append(ctx context.Context, msg chat.Message) (int64, error) {
	room := chat.NormalizeRoom(msg.Room)
	seq, err := s.client.Incr(ctx, s.seqKey(room)).Result()
	if err != nil {
		return 0, persistenceError(err, "next sequence")
	}
	msg.ID = seq
	msg.Room = room
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, errors.Wrap(err, "marshal message failed")
	}

	key := s.messagesKey(room)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(seq), Member: data})
		if s.historyLimit > 0 {
			pipe.ZRemRangeByRank(ctx, key, 0, -s.historyLimit-1)
		}
		return nil
	})
	if err != nil {
		return 0, persistenceError(err, "append message")
	}
	return seq, nil
}

func (s *RedisStore) Recent(ctx context.Context, room string, limit int) ([]chat.Message, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	raw, err := s.client.ZRevRange(ctx, s.messagesKey(chat.NormalizeRoom(room)), 0, stop).Result()
	if err != nil {
		return nil, persistenceError(err, "recent messages")
	}
	out := make([]chat.Message, 0, len(raw))
	for _, item := range raw {
		var msg chat.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, persistenceError(err, "decode message")
		}
		out = append(out, msg)
	}
	return out, nil
}

func (s *RedisStore) TouchLastSeen(ctx context.Context, identity string, at time.Time) error {
	if err := s.client.HSet(ctx, s.lastSeenKey(), identity, at.UnixNano()).Err(); err != nil {
		return persistenceError(err, "touch last seen")
	}
	return nil
}

func (s *RedisStore) LastSeen(ctx context.Context, identity string) (time.Time, bool, error) {
	raw, err := s.client.HGet(ctx, s.lastSeenKey(), identity).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, persistenceError(err, "last seen")
	}
	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, persistenceError(err, "decode last seen")
	}
	return time.Unix(0, nanos).UTC(), true, nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
