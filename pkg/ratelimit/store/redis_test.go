package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	gqerrors "github.com/vnykmshr/goquota/pkg/common/errors"
	"github.com/vnykmshr/goquota/internal/testutil"
	"github.com/vnykmshr/goquota/pkg/ratelimit/store"
)

var (
	echo = store.Procedure{
		Name:     "echo.v1",
		Source:   "return {tonumber(ARGV[1]), tonumber(ARGV[2]), redis.call('INCR', KEYS[1])}",
		ReplyLen: 3,
	}
	short = store.Procedure{
		Name:     "short.v1",
		Source:   "return {1}",
		ReplyLen: 3,
	}
	text = store.Procedure{
		Name:     "text.v1",
		Source:   "return {1, 'two', 3}",
		ReplyLen: 3,
	}
	failing = store.Procedure{
		Name:     "failing.v1",
		Source:   "return redis.error_reply('ERR bad argument')",
		ReplyLen: 1,
	}
)

func newStore(t *testing.T) (*testutil.Redis, *store.Redis) {
	t.Helper()
	r := testutil.NewRedis(t)
	return r, store.NewRedis(r.Client, store.Options{}, echo, short, text, failing)
}

func TestExecute(t *testing.T) {
	_, s := newStore(t)
	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	reply, err := s.Execute(ctx, echo.Name, []string{"counter"}, 7, -3)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(reply), 3)
	testutil.AssertEqual(t, reply[0], int64(7))
	testutil.AssertEqual(t, reply[1], int64(-3))
	testutil.AssertEqual(t, reply[2], int64(1))

	reply, err = s.Execute(ctx, echo.Name, []string{"counter"}, 0, 0)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, reply[2], int64(2))
}

func TestExecuteErrors(t *testing.T) {
	_, s := newStore(t)
	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	tests := []struct {
		name string
		proc string
		want error
	}{
		{"unknown procedure", "missing.v1", gqerrors.ErrUnknownProcedure},
		{"short reply", short.Name, gqerrors.ErrProcedureFailed},
		{"non-integer reply", text.Name, gqerrors.ErrProcedureFailed},
		{"script error", failing.Name, gqerrors.ErrProcedureFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Execute(ctx, tt.proc, []string{"k"})
			testutil.AssertErrorIs(t, err, tt.want)
			if gqerrors.IsStoreUnavailable(err) {
				t.Errorf("%v must not be classified as store unavailable", err)
			}
		})
	}
}

func TestExecuteStoreDown(t *testing.T) {
	r, s := newStore(t)
	r.Server.Close()

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	_, err := s.Execute(ctx, echo.Name, []string{"k"}, 1, 1)
	testutil.AssertErrorIs(t, err, gqerrors.ErrStoreUnavailable)
	if gqerrors.IsProcedureError(err) {
		t.Errorf("connection failure classified as procedure error: %v", err)
	}
}

func TestExecuteClosedClient(t *testing.T) {
	r := testutil.NewRedis(t)
	client := redis.NewClient(&redis.Options{Addr: r.Server.Addr()})
	s := store.NewRedis(client, store.Options{}, echo)
	testutil.AssertNoError(t, client.Close())

	_, err := s.Execute(context.Background(), echo.Name, []string{"k"}, 1, 1)
	testutil.AssertErrorIs(t, err, gqerrors.ErrStoreUnavailable)
	testutil.AssertErrorIs(t, err, redis.ErrClosed)
}

func TestExecuteCanceled(t *testing.T) {
	_, s := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Execute(ctx, echo.Name, []string{"k"}, 1, 1)
	testutil.AssertErrorIs(t, err, gqerrors.ErrStoreUnavailable)
	testutil.AssertErrorIs(t, err, context.Canceled)
}

func TestProcedureLifecycle(t *testing.T) {
	_, s := newStore(t)
	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	hash, ok := s.Hash(echo.Name)
	if !ok {
		t.Fatal("echo should be registered")
	}

	exists, err := s.Exists(ctx, hash)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, exists, false)

	loaded, err := s.Preload(ctx)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, loaded, 4)

	exists, err = s.Exists(ctx, hash)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, exists, true)

	loaded, err = s.Preload(ctx)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, loaded, 0)

	id, err := s.Load(ctx, echo.Source)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, id, hash)

	testutil.AssertNoError(t, s.FlushAll(ctx))
	exists, err = s.Exists(ctx, hash)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, exists, false)

	// EVALSHA misses after a flush and falls back to EVAL.
	_, err = s.Execute(ctx, echo.Name, []string{"k"}, 1, 2)
	testutil.AssertNoError(t, err)
}

func TestProcedures(t *testing.T) {
	_, s := newStore(t)
	names := s.Procedures()
	want := []string{"echo.v1", "failing.v1", "short.v1", "text.v1"}
	if len(names) != len(want) {
		t.Fatalf("Procedures() = %v", names)
	}
	for i := range want {
		testutil.AssertEqual(t, names[i], want[i])
	}
}

func TestScanInspectDelete(t *testing.T) {
	r, s := newStore(t)
	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	r.Server.HSet("q:token_bucket:{k}", "tokens", "4.5", "ts", "1000")
	r.Server.SetTTL("q:token_bucket:{k}", 10*time.Second)
	_, _ = r.Server.ZAdd("q:sliding_window:{k}", 1, "1")
	_, _ = r.Server.ZAdd("q:sliding_window:{k}", 2, "2")
	testutil.AssertNoError(t, r.Server.Set("q:sliding_window:{k}:seq", "2"))
	testutil.AssertNoError(t, r.Server.Set("q:sliding_window:{k2}", "other key"))
	testutil.AssertNoError(t, r.Server.Set("q:stats:{a*b}", "escaped"))
	testutil.AssertNoError(t, r.Server.Set("q:stats:{aXb}", "not matched"))

	found, err := s.Scan(ctx, []string{"q:token_bucket:{k}*", "q:sliding_window:{k}*"})
	testutil.AssertNoError(t, err)
	want := []string{"q:sliding_window:{k}", "q:sliding_window:{k}:seq", "q:token_bucket:{k}"}
	if len(found) != len(want) {
		t.Fatalf("Scan() = %v, want %v", found, want)
	}
	for i := range want {
		testutil.AssertEqual(t, found[i], want[i])
	}

	escaped, err := s.Scan(ctx, []string{`q:stats:{a\*b}*`})
	testutil.AssertNoError(t, err)
	if len(escaped) != 1 || escaped[0] != "q:stats:{a*b}" {
		t.Errorf("escaped scan = %v", escaped)
	}

	records, err := s.Inspect(ctx, append(found, "q:missing"))
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(records), 3)

	byKey := make(map[string]store.Record)
	for _, rec := range records {
		byKey[rec.Key] = rec
	}
	tb := byKey["q:token_bucket:{k}"]
	testutil.AssertEqual(t, tb.Type, "hash")
	testutil.AssertEqual(t, tb.TTL, 10*time.Second)
	testutil.AssertEqual(t, tb.Fields["tokens"], any("4.5"))
	testutil.AssertEqual(t, byKey["q:sliding_window:{k}"].Fields["entries"], any(int64(2)))
	testutil.AssertEqual(t, byKey["q:sliding_window:{k}:seq"].Fields["value"], any("2"))

	deleted, err := s.Delete(ctx, found)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, deleted, int64(3))

	deleted, err = s.Delete(ctx, found)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, deleted, int64(0))

	if !r.Server.Exists("q:sliding_window:{k2}") {
		t.Error("unrelated key was deleted")
	}
}

func TestReadHashAndPing(t *testing.T) {
	r, s := newStore(t)
	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	testutil.AssertNoError(t, s.Ping(ctx))

	fields, err := s.ReadHash(ctx, "q:stats:{k}")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(fields), 0)

	r.Server.HSet("q:stats:{k}", "total_requests", "3")
	fields, err = s.ReadHash(ctx, "q:stats:{k}")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, fields["total_requests"], "3")

	r.Server.Close()
	err = s.Ping(ctx)
	if !errors.Is(err, gqerrors.ErrStoreUnavailable) {
		t.Errorf("Ping() on a stopped server = %v", err)
	}
}
