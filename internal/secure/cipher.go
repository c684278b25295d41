package secure

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the length in bytes of a frame key.
	KeySize = chacha20poly1305.KeySize
	// DefaultIterations is the PBKDF2 iteration count used when none is configured.
	DefaultIterations = 100_000
	// DefaultSalt is used when no salt is configured. Deployments should
	// always set their own.
	DefaultSalt = "cipherchat-default-salt"

	tokenVersion byte = 1
	nonceSize         = chacha20poly1305.NonceSizeX
	headerSize        = 1 + nonceSize
	secretSize        = 32
)

var frameKeyInfo = []byte("cipherchat frame key v1")

var (
	// ErrIntegrity is returned when a token cannot be authenticated: it was
	// truncated, altered, or sealed under another key.
	ErrIntegrity = errors.New("ciphertext integrity check failed")
	// ErrEmptySecret is returned when key derivation is attempted without a secret.
	ErrEmptySecret = errors.New("empty secret")
)

// KeyConfig holds the inputs of frame key derivation.
type KeyConfig struct {
	Secret     string
	Salt       string
	Iterations int
}

func (c KeyConfig) withDefaults() KeyConfig {
	if c.Salt == "" {
		c.Salt = DefaultSalt
	}
	if c.Iterations <= 0 {
		c.Iterations = DefaultIterations
	}
	return c
}

// DeriveKey stretches the configured secret into a frame key. Equal
// configurations always produce equal keys.
func DeriveKey(cfg KeyConfig) ([]byte, error) {
	if cfg.Secret == "" {
		return nil, ErrEmptySecret
	}
	cfg = cfg.withDefaults()

	master := pbkdf2.Key([]byte(cfg.Secret), []byte(cfg.Salt), cfg.Iterations, KeySize, sha256.New)
	defer wipe(master)

	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, master, frameKeyInfo), key); err != nil {
		return nil, errors.Wrap(err, "expand frame key failed")
	}
	return key, nil
}

// GenerateSecret returns fresh random secret material encoded for use as
// KeyConfig.Secret.
func GenerateSecret() (string, error) {
	raw := make([]byte, secretSize)
	if _, err := rand.Read(raw); err != nil {
		return "", errors.Wrap(err, "read random secret failed")
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Cipher seals and opens chat frames under a single key held for its
// lifetime. It is safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher creates a Cipher from a raw KeySize key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, errors.Errorf("frame key must be %d bytes, got %d", KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, errors.Wrap(err, "init aead failed")
	}
	return &Cipher{aead: aead}, nil
}

// NewCipherFromConfig derives a key from cfg and creates a Cipher with it.
func NewCipherFromConfig(cfg KeyConfig) (*Cipher, error) {
	key, err := DeriveKey(cfg)
	if err != nil {
		return nil, err
	}
	defer wipe(key)
	return NewCipher(key)
}

// Encrypt seals plaintext into a self-contained token.
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	token := make([]byte, headerSize, headerSize+len(plaintext)+c.aead.Overhead())
	token[0] = tokenVersion
	if _, err := rand.Read(token[1:headerSize]); err != nil {
		return nil, errors.Wrap(err, "read nonce failed")
	}
	return c.aead.Seal(token, token[1:headerSize], plaintext, token[:1]), nil
}

// SealedSize returns the token length Encrypt produces for n bytes of
// plaintext.
func (c *Cipher) SealedSize(n int) int {
	return headerSize + n + c.aead.Overhead()
}

// Decrypt opens a token produced by Encrypt under the same key.
func (c *Cipher) Decrypt(token []byte) ([]byte, error) {
	if len(token) < headerSize+c.aead.Overhead() {
		return nil, errors.Wrap(ErrIntegrity, "token too short")
	}
	if token[0] != tokenVersion {
		return nil, errors.Wrapf(ErrIntegrity, "unknown token version %d", token[0])
	}
	plaintext, err := c.aead.Open(nil, token[1:headerSize], token[headerSize:], token[:1])
	if err != nil {
		return nil, ErrIntegrity
	}
	return plaintext, nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
