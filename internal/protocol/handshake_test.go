package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCredentials(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Credentials
		wantErr bool
	}{
		{name: "valid", payload: "alice:password123", want: Credentials{Identity: "alice", Password: "password123"}},
		{name: "empty password", payload: "alice:", want: Credentials{Identity: "alice"}},
		{name: "no separator", payload: "alicepassword", wantErr: true},
		{name: "two separators", payload: "alice:pass:word", wantErr: true},
		{name: "empty identity", payload: ":password", wantErr: true},
		{name: "empty", payload: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCredentials([]byte(tt.payload))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedCredentials)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCredentialsEncode(t *testing.T) {
	data, err := Credentials{Identity: "bob", Password: "secret"}.Encode()
	require.NoError(t, err)
	assert.Equal(t, "bob:secret", string(data))

	_, err = Credentials{Identity: "bob", Password: "se:cret"}.Encode()
	assert.ErrorIs(t, err, ErrMalformedCredentials)

	_, err = Credentials{Password: "secret"}.Encode()
	assert.ErrorIs(t, err, ErrMalformedCredentials)
}

func TestDecodeEnvelope(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"username":"alice","message":"Hello, Bob!"}`))
	require.NoError(t, err)
	assert.Equal(t, "alice", env.Author())
	assert.Equal(t, "Hello, Bob!", env.Message)

	env, err = DecodeEnvelope([]byte(`{"sender":"bob","message":""}`))
	require.NoError(t, err)
	assert.Equal(t, "bob", env.Author())
	assert.Empty(t, env.Message)

	_, err = DecodeEnvelope([]byte(`{"username":"alice"}`))
	assert.ErrorIs(t, err, ErrMalformedEnvelope)

	_, err = DecodeEnvelope([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformedEnvelope)
}

func TestEnvelopeEncodeOmitsEmptyFields(t *testing.T) {
	data, err := Envelope{Sender: "alice", Message: "hi"}.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"sender":"alice","message":"hi"}`, string(data))
}

func TestEnvelopeEncodeKeepsHTMLCharacters(t *testing.T) {
	data, err := Envelope{Sender: "alice", Message: "<b>fish & chips</b>"}.Encode()
	require.NoError(t, err)
	assert.Equal(t, `{"sender":"alice","message":"<b>fish & chips</b>"}`, string(data))

	env, err := DecodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, "<b>fish & chips</b>", env.Message)
}
