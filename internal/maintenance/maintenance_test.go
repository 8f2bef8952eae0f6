package maintenance

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vnykmshr/goquota/internal/testutil"
	"github.com/vnykmshr/goquota/pkg/metrics"
	"github.com/vnykmshr/goquota/pkg/ratelimit/limiter"
	"github.com/vnykmshr/goquota/pkg/ratelimit/model"
)

// fakeTarget counts calls and fails when err is set.
type fakeTarget struct {
	preloads   atomic.Int64
	resets     atomic.Int64
	ruleResets atomic.Int64
	err        error
}

func (f *fakeTarget) PreloadProcedures(context.Context) (int, error) {
	f.preloads.Add(1)
	return 1, f.err
}

func (f *fakeTarget) ResetLimit(context.Context, string) (int64, error) {
	f.resets.Add(1)
	return 2, f.err
}

func (f *fakeTarget) ResetRuleLimits(context.Context, string, []model.Rule) (int64, error) {
	f.ruleResets.Add(1)
	return 3, f.err
}

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"@every 1m", false},
		{"@daily", false},
		{"0 0 * * *", false},
		{"30 0 0 * * *", false},
		{"", true},
		{"every minute", true},
		{"61 * * * *", true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			_, err := ParseSchedule(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseSchedule(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
			}
		})
	}
}

func TestNewRegistersJobs(t *testing.T) {
	s, err := New(&fakeTarget{}, Config{
		PreloadSchedule: DefaultPreloadSchedule,
		Resets: []Reset{
			{Key: "tenant:b", Schedule: "0 0 * * *"},
			{Key: "tenant:a", Schedule: "@hourly"},
		},
	})
	testutil.AssertNoError(t, err)

	entries := s.Entries()
	testutil.AssertEqual(t, len(entries), 3)
	testutil.AssertEqual(t, entries[0].Name, "preload")
	testutil.AssertEqual(t, entries[1].Name, "reset:tenant:a")
	testutil.AssertEqual(t, entries[2].Name, "reset:tenant:b")

	_, err = New(&fakeTarget{}, Config{Resets: []Reset{{Key: "k", Schedule: "nope"}}})
	testutil.AssertError(t, err)

	_, err = New(nil, Config{})
	testutil.AssertError(t, err)
}

func TestRunJobs(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewRegistry(reg)
	target := &fakeTarget{}

	s, err := New(target, Config{Metrics: m})
	testutil.AssertNoError(t, err)
	ctx := context.Background()

	testutil.AssertNoError(t, s.RunPreload(ctx))
	deleted, err := s.RunReset(ctx, Reset{Key: "k"})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, deleted, int64(2))

	deleted, err = s.RunReset(ctx, Reset{Key: "k", Rules: []model.Rule{
		model.NewRule("a", 1, model.SlidingWindowParams(time.Minute, 1)),
	}})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, deleted, int64(3))

	target.err = errors.New("store down")
	testutil.AssertError(t, s.RunPreload(ctx))

	testutil.AssertEqual(t, promtest.ToFloat64(m.MaintenanceRuns.WithLabelValues(JobPreload, "ok")), 1.0)
	testutil.AssertEqual(t, promtest.ToFloat64(m.MaintenanceRuns.WithLabelValues(JobPreload, "error")), 1.0)
	testutil.AssertEqual(t, promtest.ToFloat64(m.MaintenanceRuns.WithLabelValues(JobReset, "ok")), 2.0)
}

func TestScheduledRuns(t *testing.T) {
	target := &fakeTarget{}
	s, err := New(target, Config{
		PreloadSchedule: "@every 1s",
		Resets:          []Reset{{Key: "k", Schedule: "@every 1s"}},
	})
	testutil.AssertNoError(t, err)

	s.Start()
	testutil.Eventually(t, func() bool {
		return target.preloads.Load() > 0 && target.resets.Load() > 0
	}, 5*time.Second, 50*time.Millisecond)

	for _, e := range s.Entries() {
		if e.Next.IsZero() {
			t.Errorf("%s has no next run", e.Name)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	testutil.AssertNoError(t, s.Stop(ctx))
}

func TestResetAgainstLimiter(t *testing.T) {
	r := testutil.NewRedis(t)
	l, err := limiter.NewWithRedis(r.Client)
	testutil.AssertNoError(t, err)
	ctx := context.Background()

	_, err = l.FixedWindowLimit(ctx, "tenant:trial", time.Hour, 10, 1)
	testutil.AssertNoError(t, err)

	s, err := New(l, Config{})
	testutil.AssertNoError(t, err)

	deleted, err := s.RunReset(ctx, Reset{Key: "tenant:trial"})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, deleted, int64(2))

	testutil.AssertNoError(t, s.RunPreload(ctx))
}
