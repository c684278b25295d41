// Package config loads process configuration from defaults, an optional
// config file, environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/Tyrowin/cipherchat/internal/logging"
	"github.com/Tyrowin/cipherchat/internal/secure"
	"github.com/Tyrowin/cipherchat/internal/server"
	"github.com/Tyrowin/cipherchat/internal/store"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Keys understood in config files and by BindFlags.
const (
	KeyHost             = "host"
	KeyPort             = "port"
	KeyHTTPAddr         = "http_addr"
	KeyMaxConnections   = "max_connections"
	KeyMode             = "mode"
	KeyDebug            = "debug"
	KeyDatabaseURL      = "database_url"
	KeySecret           = "secret_key"
	KeySalt             = "encryption_salt"
	KeyIterations       = "kdf_iterations"
	KeyTLSEnabled       = "tls.enabled"
	KeyTLSCert          = "tls.cert"
	KeyTLSKey           = "tls.key"
	KeyLogLevel         = "log.level"
	KeyLogFile          = "log.file"
	KeyAllowedOrigins   = "allowed_origins"
	KeyMaxMessageSize   = "max_message_size"
	KeyRateBurst        = "rate_limit.burst"
	KeyRateRefill       = "rate_limit.refill_interval"
	KeyDuplicateLogin   = "duplicate_login"
	KeyHistoryReplay    = "history_replay"
	KeyHandshakeTimeout = "handshake_timeout"
	KeyIdleTimeout      = "idle_timeout"
)

var envNames = map[string]string{
	KeyHost:           "SERVER_HOST",
	KeyPort:           "SERVER_PORT",
	KeyHTTPAddr:       "HTTP_ADDR",
	KeyMaxConnections: "MAX_CONNECTIONS",
	KeyDebug:          "DEBUG_MODE",
	KeyDatabaseURL:    "DATABASE_URL",
	KeySecret:         "SECRET_KEY",
	KeySalt:           "ENCRYPTION_SALT",
	KeyIterations:     "KDF_ITERATIONS",
	KeyTLSEnabled:     "TLS_ENABLED",
	KeyTLSCert:        "SSL_CERT_PATH",
	KeyTLSKey:         "SSL_KEY_PATH",
	KeyLogLevel:       "LOG_LEVEL",
	KeyLogFile:        "LOG_FILE_PATH",
	KeyAllowedOrigins: "ALLOWED_ORIGINS",
	KeyMaxMessageSize: "MAX_MESSAGE_SIZE",
	KeyRateBurst:      "RATE_LIMIT_BURST",
	KeyRateRefill:     "RATE_LIMIT_REFILL_INTERVAL",
	KeyDuplicateLogin: "DUPLICATE_LOGIN",
	KeyHistoryReplay:  "HISTORY_REPLAY",
}

// TLS locates the listener certificate.
type TLS struct {
	Enabled  bool
	CertPath string
	KeyPath  string
}

// Config is the fully resolved process configuration.
type Config struct {
	Server      server.Config
	DatabaseURL string
	Key         secure.KeyConfig
	TLS         TLS
	Log         logging.Options
}

// New returns a viper instance with defaults and environment bindings.
func New() *viper.Viper {
	v := viper.New()
	def := server.DefaultConfig()

	v.SetDefault(KeyHost, def.Host)
	v.SetDefault(KeyPort, def.Port)
	v.SetDefault(KeyHTTPAddr, def.HTTPAddr)
	v.SetDefault(KeyMaxConnections, def.MaxConnections)
	v.SetDefault(KeyMode, "production")
	v.SetDefault(KeyDebug, false)
	v.SetDefault(KeyDatabaseURL, store.DefaultLocation)
	v.SetDefault(KeySalt, secure.DefaultSalt)
	v.SetDefault(KeyIterations, secure.DefaultIterations)
	v.SetDefault(KeyTLSEnabled, false)
	v.SetDefault(KeyTLSCert, "ssl_certs/server.crt")
	v.SetDefault(KeyTLSKey, "ssl_certs/server.key")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyAllowedOrigins, strings.Join(def.AllowedOrigins, ","))
	v.SetDefault(KeyMaxMessageSize, def.MaxFrameSize)
	v.SetDefault(KeyRateBurst, def.RateLimit.Burst)
	v.SetDefault(KeyRateRefill, def.RateLimit.RefillInterval.String())
	v.SetDefault(KeyDuplicateLogin, string(def.DuplicateLogin))
	v.SetDefault(KeyHistoryReplay, def.HistoryReplay)
	v.SetDefault(KeyHandshakeTimeout, def.HandshakeTimeout.String())
	v.SetDefault(KeyIdleTimeout, "0s")

	for key, env := range envNames {
		_ = v.BindEnv(key, env)
	}
	return v
}

var flagKeys = map[string]string{
	"host":            KeyHost,
	"port":            KeyPort,
	"http-addr":       KeyHTTPAddr,
	"max-connections": KeyMaxConnections,
	"mode":            KeyMode,
	"database-url":    KeyDatabaseURL,
	"tls":             KeyTLSEnabled,
	"cert":            KeyTLSCert,
	"key":             KeyTLSKey,
	"log-level":       KeyLogLevel,
	"log-file":        KeyLogFile,
	"duplicate-login": KeyDuplicateLogin,
	"history-replay":  KeyHistoryReplay,
	"idle-timeout":    KeyIdleTimeout,
}

// BindFlags binds every flag in fs that names a configuration key. Flags
// only override the other sources when set explicitly.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || err != nil {
			return
		}
		if bindErr := v.BindPFlag(key, f); bindErr != nil {
			err = errors.Wrapf(bindErr, "bind flag %s failed", f.Name)
		}
	})
	return err
}

// ReadFile reads path, or searches for cipherchat.{yaml,toml,json} in the
// working directory when path is empty. A missing default file is not an
// error.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("cipherchat")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return nil
		}
		return errors.Wrap(err, "read config file failed")
	}
	return nil
}

// Load resolves v into a Config.
func Load(v *viper.Viper) (Config, error) {
	refill, err := seconds(v.GetString(KeyRateRefill))
	if err != nil {
		return Config{}, errors.Wrap(err, KeyRateRefill)
	}
	handshake, err := seconds(v.GetString(KeyHandshakeTimeout))
	if err != nil {
		return Config{}, errors.Wrap(err, KeyHandshakeTimeout)
	}
	idle, err := seconds(v.GetString(KeyIdleTimeout))
	if err != nil {
		return Config{}, errors.Wrap(err, KeyIdleTimeout)
	}
	policy, ok := server.ParseDuplicatePolicy(v.GetString(KeyDuplicateLogin))
	if !ok {
		return Config{}, errors.Errorf("%s: unknown policy %q", KeyDuplicateLogin, v.GetString(KeyDuplicateLogin))
	}

	mode := strings.ToLower(v.GetString(KeyMode))
	if mode != "debug" && mode != "production" {
		return Config{}, errors.Errorf("%s: want debug or production, got %q", KeyMode, mode)
	}
	debug := v.GetBool(KeyDebug) || mode == "debug"

	srv := server.DefaultConfig()
	srv.Host = v.GetString(KeyHost)
	srv.Port = v.GetInt(KeyPort)
	srv.HTTPAddr = v.GetString(KeyHTTPAddr)
	srv.MaxConnections = v.GetInt(KeyMaxConnections)
	srv.MaxFrameSize = v.GetUint32(KeyMaxMessageSize)
	srv.AllowedOrigins = splitList(v.Get(KeyAllowedOrigins))
	srv.RateLimit = server.RateLimitConfig{Burst: v.GetInt(KeyRateBurst), RefillInterval: refill}
	srv.DuplicateLogin = policy
	srv.HistoryReplay = v.GetInt(KeyHistoryReplay)
	srv.HandshakeTimeout = handshake
	srv.IdleTimeout = idle

	return Config{
		Server:      srv.Sanitize(),
		DatabaseURL: v.GetString(KeyDatabaseURL),
		Key: secure.KeyConfig{
			Secret:     v.GetString(KeySecret),
			Salt:       v.GetString(KeySalt),
			Iterations: v.GetInt(KeyIterations),
		},
		TLS: TLS{
			Enabled:  v.GetBool(KeyTLSEnabled),
			CertPath: v.GetString(KeyTLSCert),
			KeyPath:  v.GetString(KeyTLSKey),
		},
		Log: logging.Options{
			Level:    v.GetString(KeyLogLevel),
			FilePath: v.GetString(KeyLogFile),
			Debug:    debug,
		},
	}, nil
}

// seconds parses a Go duration, treating a bare integer as seconds.
func seconds(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid duration %q", s)
	}
	return d, nil
}

// splitList accepts a comma-separated string or a list from a config file.
func splitList(raw any) []string {
	var parts []string
	switch val := raw.(type) {
	case string:
		parts = strings.Split(val, ",")
	case []string:
		parts = val
	case []any:
		for _, p := range val {
			if s, ok := p.(string); ok {
				parts = append(parts, s)
			}
		}
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
