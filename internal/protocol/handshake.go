package protocol

import (
	"strings"

	"github.com/pkg/errors"
)

// Handshake markers.
const (
	AuthRequest = "AUTH_REQUEST"
	AuthSuccess = "AUTH_SUCCESS"
	AuthFailed  = "AUTH_FAILED"

	credentialSeparator = ":"
)

// ErrMalformedCredentials is returned for credential payloads that are not a
// single identity:password pair.
var ErrMalformedCredentials = errors.New("malformed credentials")

// Credentials is a decoded handshake payload.
type Credentials struct {
	Identity string
	Password string
}

// ParseCredentials decodes "<identity>:<password>". Exactly one separator
// is required and the identity must not be empty.
func ParseCredentials(payload []byte) (Credentials, error) {
	s := string(payload)
	if strings.Count(s, credentialSeparator) != 1 {
		return Credentials{}, ErrMalformedCredentials
	}
	identity, pw, _ := strings.Cut(s, credentialSeparator)
	if identity == "" {
		return Credentials{}, errors.Wrap(ErrMalformedCredentials, "empty identity")
	}
	return Credentials{Identity: identity, Password: pw}, nil
}

// Encode returns the handshake payload for c.
func (c Credentials) Encode() ([]byte, error) {
	if c.Identity == "" {
		return nil, errors.Wrap(ErrMalformedCredentials, "empty identity")
	}
	if strings.Contains(c.Identity, credentialSeparator) || strings.Contains(c.Password, credentialSeparator) {
		return nil, errors.Wrapf(ErrMalformedCredentials, "identity and password must not contain %q", credentialSeparator)
	}
	return []byte(c.Identity + credentialSeparator + c.Password), nil
}
