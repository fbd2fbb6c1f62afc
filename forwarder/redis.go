package forwarder

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jd3nn1s/meterbridge"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const redisTimeout = 2 * time.Second

type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	// Key is the hash holding one entry per teleinfo label.
	Key string `toml:"key"`
}

type redisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Close() error
}

// to allow testing
var newRedisClient = func(opts *redis.Options) redisClient {
	return redis.NewClient(opts)
}

// RedisForwarder keeps the latest value of every field in a redis hash.
type RedisForwarder struct {
	Config *RedisConfig

	db      redisClient
	pending *pendingFields
}

func NewRedisForwarder(config *RedisConfig) *RedisForwarder {
	if config.Key == "" {
		config.Key = "teleinfo"
	}
	return &RedisForwarder{
		Config: config,
		db: newRedisClient(&redis.Options{
			Addr:     config.Addr,
			Password: config.Password,
			DB:       config.DB,
		}),
		pending: newPendingFields(),
	}
}

func (r *RedisForwarder) Close() error {
	return r.db.Close()
}

func (r *RedisForwarder) Forward(newTelemetry *meterbridge.Telemetry, prevTelemetry *meterbridge.Telemetry) error {
	r.pending.add(changedFields(newTelemetry, prevTelemetry))
	return nil
}

// Start writes forwarded fields until ctx is done. Fields that could not be
// written are retried with the next change.
func (r *RedisForwarder) Start(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, redisTimeout)
	err := r.db.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		return errors.Wrapf(err, "unable to reach redis at %s", r.Config.Addr)
	}

	for {
		select {
		case <-r.pending.ready:
		case <-ctx.Done():
			return ctx.Err()
		}
		fields := r.pending.take()
		if len(fields) == 0 {
			continue
		}
		values := make([]interface{}, 0, 2*len(fields))
		for label, v := range fields {
			values = append(values, label, v.String())
		}
		writeCtx, cancel := context.WithTimeout(ctx, redisTimeout)
		err := r.db.HSet(writeCtx, r.Config.Key, values...).Err()
		cancel()
		if err != nil {
			log.WithField("key", r.Config.Key).
				WithField("err", err).
				Error("unable to store telemetry in redis")
			r.pending.requeue(fields)
		}
	}
}
