// Package auth verifies chat credentials on top of a credential backend.
package auth

import (
	"context"
	"strings"
	"time"

	"github.com/Tyrowin/cipherchat/internal/password"
	"github.com/Tyrowin/cipherchat/internal/store"
	"github.com/pkg/errors"
)

// Separator splits identity from password in the handshake payload, so
// neither may contain it.
const Separator = ":"

// ErrInvalidIdentity is returned for identities that cannot be used on the wire.
var ErrInvalidIdentity = errors.New("invalid identity")

// Service registers and authenticates identities.
type Service struct {
	backend store.CredentialBackend
	hasher  *password.PBKDF2
	decoy   password.Hash
	now     func() time.Time
}

// NewService builds a Service over backend using hasher for new records.
func NewService(backend store.CredentialBackend, hasher *password.PBKDF2) (*Service, error) {
	// Unknown identities are checked against a decoy so they cost the same
	// as a wrong password.
	decoy, err := hasher.Hash("decoy-password")
	if err != nil {
		return nil, errors.Wrap(err, "create decoy hash failed")
	}
	return &Service{
		backend: backend,
		hasher:  hasher,
		decoy:   decoy,
		now:     time.Now,
	}, nil
}

// ValidateIdentity reports whether identity can be registered.
func ValidateIdentity(identity string) error {
	if identity == "" {
		return errors.Wrap(ErrInvalidIdentity, "identity is empty")
	}
	if strings.Contains(identity, Separator) {
		return errors.Wrapf(ErrInvalidIdentity, "identity must not contain %q", Separator)
	}
	return nil
}

// Register stores a new credential. It returns false, without error, when
// the identity is already registered, whatever the password.
func (s *Service) Register(ctx context.Context, identity, pw string) (bool, error) {
	if err := ValidateIdentity(identity); err != nil {
		return false, err
	}
	switch _, err := s.backend.GetCredential(ctx, identity); {
	case err == nil:
		return false, nil
	case !errors.Is(err, store.ErrNotFound):
		return false, errors.Wrap(err, "get credential failed")
	}
	if strings.Contains(pw, Separator) {
		return false, errors.Errorf("password must not contain %q", Separator)
	}
	h, err := s.hasher.Hash(pw)
	if err != nil {
		return false, err
	}
	err = s.backend.CreateCredential(ctx, store.CredentialRecord{
		Identity:   identity,
		Salt:       h.Salt,
		Hash:       h.Key,
		Iterations: h.Iterations,
		CreatedAt:  s.now().UTC(),
	})
	if errors.Is(err, store.ErrDuplicateIdentity) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "create credential failed")
	}
	return true, nil
}

// Authenticate reports whether pw matches the stored credential of identity.
// Unknown identities return false exactly like a wrong password. An error
// is returned only when the backend itself fails.
func (s *Service) Authenticate(ctx context.Context, identity, pw string) (bool, error) {
	rec, err := s.backend.GetCredential(ctx, identity)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.hasher.Verify(pw, s.decoy)
		return false, nil
	case err != nil:
		return false, errors.Wrap(err, "get credential failed")
	}
	return s.hasher.Verify(pw, password.Hash{
		Salt:       rec.Salt,
		Key:        rec.Hash,
		Iterations: rec.Iterations,
	}), nil
}
