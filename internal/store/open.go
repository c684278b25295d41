package store

import (
	"context"
	"net/url"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// DefaultLocation is the datastore used when none is configured.
const DefaultLocation = "memory://"

// Options tunes the backend chosen by Open.
type Options struct {
	// HistoryLimit caps messages retained per room. Zero keeps everything.
	HistoryLimit int
	// Prefix namespaces Redis keys.
	Prefix string
}

// Open returns the backend addressed by location:
//
//	memory://                   process-local MemoryStore
//	redis://[:pw@]host:port/db  RedisStore (rediss:// for TLS)
func Open(ctx context.Context, location string, opts Options) (Backend, error) {
	if location == "" {
		location = DefaultLocation
	}
	u, err := url.Parse(location)
	if err != nil {
		return nil, errors.Wrapf(err, "parse datastore location %q failed", location)
	}

	switch u.Scheme {
	case "memory":
		return NewMemoryStore(WithMemoryHistoryLimit(opts.HistoryLimit)), nil
	case "redis", "rediss":
		redisOpts, err := redis.ParseURL(location)
		if err != nil {
			return nil, errors.Wrap(err, "parse redis url failed")
		}
		client := redis.NewClient(redisOpts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, persistenceError(err, "ping redis")
		}
		return NewRedisStore(client,
			WithRedisPrefix(opts.Prefix),
			WithRedisHistoryLimit(opts.HistoryLimit),
		), nil
	default:
		return nil, errors.Errorf("unsupported datastore scheme %q", u.Scheme)
	}
}
