package commands

import (
	"context"

	"github.com/Tyrowin/cipherchat/internal/auth"
	"github.com/Tyrowin/cipherchat/internal/password"
	"github.com/Tyrowin/cipherchat/internal/secure"
	"github.com/Tyrowin/cipherchat/internal/store"
)

func openStore(ctx context.Context) (store.Backend, error) {
	return store.Open(ctx, cfg.DatabaseURL, store.Options{})
}

func newAuthService(backend store.CredentialBackend) (*auth.Service, error) {
	hasher, err := password.New(password.DefaultConfig())
	if err != nil {
		return nil, err
	}
	return auth.NewService(backend, hasher)
}

// newCipher derives the frame cipher from the configured secret. When no
// secret is configured it generates one and reports it so clients can be
// given the same value.
func newCipher() (c *secure.Cipher, generated string, err error) {
	key := cfg.Key
	if key.Secret == "" {
		if key.Secret, err = secure.GenerateSecret(); err != nil {
			return nil, "", err
		}
		generated = key.Secret
	}
	c, err = secure.NewCipherFromConfig(key)
	return c, generated, err
}
