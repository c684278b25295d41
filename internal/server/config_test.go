package server

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Tyrowin/cipherchat/internal/protocol"
	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "127.0.0.1:5000", cfg.Addr())
	assert.Equal(t, 100, cfg.MaxConnections)
	assert.Equal(t, uint32(protocol.DefaultMaxFrameSize), cfg.MaxFrameSize)
	assert.Equal(t, DuplicateEvict, cfg.DuplicateLogin)
	assert.Equal(t, 10*time.Second, cfg.HandshakeTimeout)
	assert.Zero(t, cfg.IdleTimeout)
	assert.Zero(t, cfg.HistoryReplay)
}

func TestSanitize(t *testing.T) {
	cfg := Config{
		Port:           70000,
		MaxConnections: -1,
		RateLimit:      RateLimitConfig{Burst: 0, RefillInterval: -time.Second},
		DuplicateLogin: "REJECT",
		IdleTimeout:    -time.Second,
		HistoryReplay:  -3,
	}.Sanitize()

	def := DefaultConfig()
	assert.Equal(t, def.Port, cfg.Port)
	assert.Equal(t, def.MaxConnections, cfg.MaxConnections)
	assert.Equal(t, def.MaxFrameSize, cfg.MaxFrameSize)
	assert.Equal(t, def.RateLimit, cfg.RateLimit)
	assert.Equal(t, DuplicateReject, cfg.DuplicateLogin)
	assert.Equal(t, def.HandshakeTimeout, cfg.HandshakeTimeout)
	assert.Equal(t, def.SendQueueSize, cfg.SendQueueSize)
	assert.Zero(t, cfg.IdleTimeout)
	assert.Zero(t, cfg.HistoryReplay)
}

func TestParseDuplicatePolicy(t *testing.T) {
	p, ok := ParseDuplicatePolicy(" Evict ")
	assert.True(t, ok)
	assert.Equal(t, DuplicateEvict, p)

	p, ok = ParseDuplicatePolicy("reject")
	assert.True(t, ok)
	assert.Equal(t, DuplicateReject, p)

	p, ok = ParseDuplicatePolicy("kick")
	assert.False(t, ok)
	assert.Equal(t, DuplicateEvict, p)
}

func TestRateLimiterRefills(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	rl := newRateLimiterWithClock(RateLimitConfig{Burst: 2, RefillInterval: time.Second}, clock)

	assert.True(t, rl.allow())
	assert.True(t, rl.allow())
	assert.False(t, rl.allow(), "burst exhausted")

	now = now.Add(500 * time.Millisecond)
	assert.True(t, rl.allow(), "half an interval refills one token")
	assert.False(t, rl.allow())

	now = now.Add(time.Hour)
	assert.True(t, rl.allow())
	assert.True(t, rl.allow())
	assert.False(t, rl.allow(), "refill is capped at burst")
}

func TestOriginPolicy(t *testing.T) {
	p := newOriginPolicy([]string{"http://localhost:8080", " HTTPS://Chat.Example.com ", "not a url", ""}, nullLogger())

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:8080", true},
		{"https://chat.example.com", true},
		{"http://evil.example.com", false},
		{"garbage", false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, p.check(r))
		})
	}

	all := newOriginPolicy([]string{"*"}, nullLogger())
	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Origin", "http://anything.example")
	assert.True(t, all.check(r))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "awaiting_credentials", StateAwaitingCredentials.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "state(42)", State(42).String())
}
