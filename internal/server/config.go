// Package server provides the listener configuration: runtime defaults,
// sanitizing, duplicate-login policy and rate-limit parameters.
package server

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/Tyrowin/cipherchat/internal/protocol"
)

// DuplicatePolicy decides what happens when an identity that already has a
// live session authenticates again.
type DuplicatePolicy string

const (
	// DuplicateEvict closes the existing session and admits the new one.
	DuplicateEvict DuplicatePolicy = "evict"
	// DuplicateReject refuses the new login with AUTH_FAILED.
	DuplicateReject DuplicatePolicy = "reject"
)

// ParseDuplicatePolicy accepts "evict" or "reject", case-insensitively.
// Anything else maps to DuplicateEvict and ok=false.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, bool) {
	switch DuplicatePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case DuplicateEvict:
		return DuplicateEvict, true
	case DuplicateReject:
		return DuplicateReject, true
	default:
		return DuplicateEvict, false
	}
}

// RateLimitConfig defines the parameters for per-session message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Host           string
	Port           int
	HTTPAddr       string
	MaxConnections int
	MaxFrameSize   uint32
	AllowedOrigins []string
	RateLimit      RateLimitConfig
	DuplicateLogin DuplicatePolicy

	HandshakeTimeout time.Duration
	// IdleTimeout closes active sessions that send nothing for this long.
	// Zero disables it.
	IdleTimeout  time.Duration
	WriteTimeout time.Duration
	PingInterval time.Duration

	SendQueueSize int
	// HistoryReplay is how many recent global messages a session receives
	// right after AUTH_SUCCESS. Zero disables replay.
	HistoryReplay int
}

// DefaultConfig returns a Config populated with default values for all settings.
func DefaultConfig() Config {
	return Config{
		Host:           "127.0.0.1",
		Port:           5000,
		HTTPAddr:       "127.0.0.1:8080",
		MaxConnections: 100,
		MaxFrameSize:   protocol.DefaultMaxFrameSize,
		AllowedOrigins: []string{"http://localhost:8080"},
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		DuplicateLogin:   DuplicateEvict,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     54 * time.Second,
		SendQueueSize:    256,
	}
}

// Sanitize replaces out-of-range values with their defaults.
func (c Config) Sanitize() Config {
	def := DefaultConfig()

	if c.Port < 0 || c.Port > 65535 {
		c.Port = def.Port
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = def.MaxConnections
	}
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = def.MaxFrameSize
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = def.RateLimit.Burst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	c.DuplicateLogin, _ = ParseDuplicatePolicy(string(c.DuplicateLogin))
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.IdleTimeout < 0 {
		c.IdleTimeout = 0
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.PingInterval < 0 {
		c.PingInterval = 0
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = def.SendQueueSize
	}
	if c.HistoryReplay < 0 {
		c.HistoryReplay = 0
	}
	c.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)
	return c
}

// Addr returns the host:port the chat listener binds to.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
