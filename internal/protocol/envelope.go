package protocol

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// ErrMalformedEnvelope is returned for decrypted payloads that are not a
// valid envelope.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// Envelope is the JSON document sealed inside every post-handshake frame.
// Clients name themselves in Username; the server names the author in
// Sender.
type Envelope struct {
	Username  string     `json:"username,omitempty"`
	Sender    string     `json:"sender,omitempty"`
	Message   string     `json:"message"`
	Room      string     `json:"room,omitempty"`
	ID        int64      `json:"id,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// Author returns whichever of Sender or Username is set.
func (e Envelope) Author() string {
	if e.Sender != "" {
		return e.Sender
	}
	return e.Username
}

// DecodeEnvelope parses a decrypted frame. The message field is required.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var raw struct {
		Envelope
		Message *string `json:"message"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Envelope{}, errors.Wrap(ErrMalformedEnvelope, err.Error())
	}
	if raw.Message == nil {
		return Envelope{}, errors.Wrap(ErrMalformedEnvelope, "missing message field")
	}
	env := raw.Envelope
	env.Message = *raw.Message
	return env, nil
}

// Encode marshals e to JSON. HTML characters are written as-is so the
// relayed envelope does not outgrow the one the client sent.
func (e Envelope) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(e); err != nil {
		return nil, errors.Wrap(err, "marshal envelope failed")
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}
