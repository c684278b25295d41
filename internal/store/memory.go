package store

import (
	"context"
	"sync"
	"time"

	"github.com/Tyrowin/cipherchat/internal/chat"
)

// MemoryStore keeps all state in process memory. It is safe for concurrent use.
type MemoryStore struct {
	mu           sync.RWMutex
	credentials  map[string]CredentialRecord
	rooms        map[string][]chat.Message
	seq          map[string]int64
	lastSeen     map[string]time.Time
	historyLimit int
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryHistoryLimit caps the number of messages retained per room.
// Zero keeps everything.
func WithMemoryHistoryLimit(n int) MemoryOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		credentials: make(map[string]CredentialRecord),
		rooms:       make(map[string][]chat.Message),
		seq:         make(map[string]int64),
		lastSeen:    make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Backend = (*MemoryStore)(nil)

func (s *MemoryStore) CreateCredential(_ context.Context, rec CredentialRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.credentials[rec.Identity]; ok {
		return ErrDuplicateIdentity
	}
	s.credentials[rec.Identity] = cloneRecord(rec)
	return nil
}

func (s *MemoryStore) GetCredential(_ context.Context, identity string) (CredentialRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.credentials[identity]
	if !ok {
		return CredentialRecord{}, ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (s *MemoryStore) Append(_ context.Context, msg chat.Message) (int64, error) {
	room := chat.NormalizeRoom(msg.Room)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq[room]++
	msg.ID = s.seq[room]
	msg.Room = room
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	msgs := append(s.rooms[room], msg)
	if s.historyLimit > 0 && len(msgs) > s.historyLimit {
		msgs = append([]chat.Message(nil), msgs[len(msgs)-s.historyLimit:]...)
	}
	s.rooms[room] = msgs
	return msg.ID, nil
}

func (s *MemoryStore) Recent(_ context.Context, room string, limit int) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.rooms[chat.NormalizeRoom(room)]
	if limit <= 0 || limit > len(msgs) {
		limit = len(msgs)
	}
	out := make([]chat.Message, 0, limit)
	for i := len(msgs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, msgs[i])
	}
	return out, nil
}

func (s *MemoryStore) TouchLastSeen(_ context.Context, identity string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen[identity] = at.UTC()
	return nil
}

func (s *MemoryStore) LastSeen(_ context.Context, identity string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at, ok := s.lastSeen[identity]
	return at, ok, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

func cloneRecord(rec CredentialRecord) CredentialRecord {
	rec.Salt = append([]byte(nil), rec.Salt...)
	rec.Hash = append([]byte(nil), rec.Hash...)
	return rec
}
