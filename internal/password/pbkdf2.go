package password

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// MinIterations is the lowest iteration count accepted for new hashes.
	MinIterations = 100_000
	// DefaultSaltLength matches the 32 random bytes used for every record.
	DefaultSaltLength = 32
	// KeyLength is the derived hash length in bytes.
	KeyLength = 32
)

// ErrWeakConfig is returned by New for parameters below the accepted minimums.
var ErrWeakConfig = errors.New("password hashing parameters too weak")

// Config tunes the hasher.
type Config struct {
	Iterations int
	SaltLength int
}

// DefaultConfig returns the parameters used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Iterations: MinIterations,
		SaltLength: DefaultSaltLength,
	}
}

// Hash is the stored form of a password.
type Hash struct {
	Salt       []byte
	Key        []byte
	Iterations int
}

// PBKDF2 hashes and verifies passwords. It holds no mutable state and is
// safe for concurrent use.
type PBKDF2 struct {
	cfg Config
}

// New validates cfg and returns a hasher.
func New(cfg Config) (*PBKDF2, error) {
	if cfg.Iterations < MinIterations {
		return nil, errors.Wrapf(ErrWeakConfig, "iterations %d < %d", cfg.Iterations, MinIterations)
	}
	if cfg.SaltLength < 16 {
		return nil, errors.Wrapf(ErrWeakConfig, "salt length %d < 16", cfg.SaltLength)
	}
	return &PBKDF2{cfg: cfg}, nil
}

// Hash derives a new hash for password under a fresh random salt.
func (p *PBKDF2) Hash(password string) (Hash, error) {
	salt := make([]byte, p.cfg.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return Hash{}, errors.Wrap(err, "read salt failed")
	}
	return Hash{
		Salt:       salt,
		Key:        derive(password, salt, p.cfg.Iterations),
		Iterations: p.cfg.Iterations,
	}, nil
}

// Verify reports whether password matches h. The comparison runs in
// constant time with respect to the stored key.
func (p *PBKDF2) Verify(password string, h Hash) bool {
	iterations := h.Iterations
	if iterations <= 0 {
		iterations = p.cfg.Iterations
	}
	computed := derive(password, h.Salt, iterations)
	return subtle.ConstantTimeCompare(computed, h.Key) == 1
}

// Iterations returns the count applied to new hashes.
func (p *PBKDF2) Iterations() int {
	return p.cfg.Iterations
}

func derive(password string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(password), salt, iterations, KeyLength, sha256.New)
}
