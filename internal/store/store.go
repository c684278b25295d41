package store

import (
	"context"
	"time"

	"github.com/Tyrowin/cipherchat/internal/chat"
	"github.com/pkg/errors"
)

var (
	// ErrDuplicateIdentity is returned when a credential already exists for an identity.
	ErrDuplicateIdentity = errors.New("identity already registered")
	// ErrNotFound is returned when no record exists for the requested key.
	ErrNotFound = errors.New("record not found")
	// ErrPersistence marks failures of the underlying datastore.
	ErrPersistence = errors.New("persistence failure")
)

// CredentialRecord is the stored verifier for one identity. It is written
// once at registration and never mutated.
type CredentialRecord struct {
	Identity   string    `json:"identity"`
	Salt       []byte    `json:"salt"`
	Hash       []byte    `json:"hash"`
	Iterations int       `json:"iterations"`
	CreatedAt  time.Time `json:"created_at"`
}

// CredentialBackend persists credential records.
type CredentialBackend interface {
	// CreateCredential stores rec, failing with ErrDuplicateIdentity if the
	// identity is already present.
	CreateCredential(ctx context.Context, rec CredentialRecord) error
	// GetCredential returns the record for identity or ErrNotFound.
	GetCredential(ctx context.Context, identity string) (CredentialRecord, error)
}

// HistoryStore persists chat messages per room.
type HistoryStore interface {
	// Append stores msg and returns its sequence id, which increases
	// monotonically within msg.Room.
	Append(ctx context.Context, msg chat.Message) (int64, error)
	// Recent returns at most limit messages of room, newest first.
	Recent(ctx context.Context, room string, limit int) ([]chat.Message, error)
}

// PresenceStore records when identities were last seen.
type PresenceStore interface {
	TouchLastSeen(ctx context.Context, identity string, at time.Time) error
	// LastSeen reports the recorded time and whether one exists.
	LastSeen(ctx context.Context, identity string) (time.Time, bool, error)
}

// Backend is a complete datastore.
type Backend interface {
	CredentialBackend
	HistoryStore
	PresenceStore
	Close() error
}

// opError carries the failed operation and datastore cause. It matches both
// ErrPersistence and the cause under errors.Is.
type opError struct {
	op  string
	err error
}

func (e *opError) Error() string {
	return e.op + ": " + ErrPersistence.Error() + ": " + e.err.Error()
}

func (e *opError) Unwrap() []error {
	return []error{ErrPersistence, e.err}
}

func persistenceError(err error, op string) error {
	return &opError{op: op, err: err}
}
