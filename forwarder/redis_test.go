package forwarder

import (
	"context"
	"sync"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/jd3nn1s/meterbridge"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type redisStub struct {
	opts    *redis.Options
	pingErr error
	hsetErr error
	closed  bool

	mu      sync.Mutex
	hashes  map[string]map[string]interface{}
	setChan chan struct{}
}

func (r *redisStub) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", r.pingErr)
}

func (r *redisStub) HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	defer func() {
		if r.setChan != nil {
			r.setChan <- struct{}{}
		}
	}()
	if r.hsetErr != nil {
		return redis.NewIntResult(0, r.hsetErr)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.hashes[key]
	if h == nil {
		h = map[string]interface{}{}
		r.hashes[key] = h
	}
	for i := 0; i+1 < len(values); i += 2 {
		h[values[i].(string)] = values[i+1]
	}
	return redis.NewIntResult(int64(len(values)/2), nil)
}

func (r *redisStub) Close() error {
	r.closed = true
	return nil
}

func withRedisStub(stub *redisStub) func() {
	orig := newRedisClient
	newRedisClient = func(opts *redis.Options) redisClient {
		stub.opts = opts
		return stub
	}
	return func() {
		newRedisClient = orig
	}
}

func TestRedisForwarder(t *testing.T) {
	stub := &redisStub{
		hashes:  map[string]map[string]interface{}{},
		setChan: make(chan struct{}, 4),
	}
	defer withRedisStub(stub)()

	r := NewRedisForwarder(&RedisConfig{Addr: "localhost:6379", DB: 2})
	assert.Equal(t, "teleinfo", r.Config.Key)
	assert.Equal(t, "localhost:6379", stub.opts.Addr)
	assert.Equal(t, 2, stub.opts.DB)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- r.Start(ctx)
	}()

	assert.NoError(t, r.Forward(&meterbridge.Telemetry{HubAddr: "031621234567", InstCurrent: 3}, nil))
	<-stub.setChan

	cancel()
	assert.Equal(t, context.Canceled, <-done)
	assert.NoError(t, r.Close())
	assert.True(t, stub.closed)

	stub.mu.Lock()
	defer stub.mu.Unlock()
	h := stub.hashes["teleinfo"]
	require.NotNil(t, h)
	assert.Equal(t, "031621234567", h["ADCO"])
	assert.Equal(t, "3", h["IINST"])
	assert.Len(t, h, 16)
}

func TestRedisForwarderRequeue(t *testing.T) {
	stub := &redisStub{
		hsetErr: errors.New("READONLY"),
		setChan: make(chan struct{}, 4),
	}
	defer withRedisStub(stub)()

	r := NewRedisForwarder(&RedisConfig{Addr: "localhost:6379", Key: "meter"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- r.Start(ctx)
	}()

	prev := meterbridge.Telemetry{}
	next := meterbridge.Telemetry{ApparentPower: 90}
	assert.NoError(t, r.Forward(&next, &prev))
	<-stub.setChan
	cancel()
	<-done

	// the failed field is sent again with the next change
	assert.Contains(t, r.pending.take(), "PAPP")
}

func TestRedisForwarderUnreachable(t *testing.T) {
	stub := &redisStub{pingErr: errors.New("connection refused")}
	defer withRedisStub(stub)()

	r := NewRedisForwarder(&RedisConfig{Addr: "localhost:6379"})
	assert.Error(t, r.Start(context.Background()))
}
