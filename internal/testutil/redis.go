package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// BaseTime is the server time a fresh Redis starts at. It sits on a minute
// boundary so fixed-window tests can reason about window edges.
var BaseTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// Redis is an in-process Redis whose server clock only moves when told to.
type Redis struct {
	Server *miniredis.Miniredis
	Client *redis.Client

	mu  sync.Mutex
	now time.Time
}

// NewRedis starts a Redis at BaseTime and stops it when the test ends.
func NewRedis(t testing.TB) *Redis {
	t.Helper()

	srv := miniredis.RunT(t)
	srv.SetTime(BaseTime)

	client := redis.NewClient(&redis.Options{
		Addr:       srv.Addr(),
		MaxRetries: -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	return &Redis{Server: srv, Client: client, now: BaseTime}
}

// Now returns the server time.
func (r *Redis) Now() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.now
}

// Advance moves the server clock forward by d and expires keys whose TTL
// ran out.
func (r *Redis) Advance(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = r.now.Add(d)
	r.Server.SetTime(r.now)
	r.Server.FastForward(d)
}

// Set moves the server clock to at, which must not be earlier than Now.
func (r *Redis) Set(at time.Time) {
	r.Advance(at.Sub(r.Now()))
}

// Elapsed returns how far the clock moved since BaseTime.
func (r *Redis) Elapsed() time.Duration {
	return r.Now().Sub(BaseTime)
}
