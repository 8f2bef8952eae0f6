// Package maintenance runs scheduled administrative jobs against a limiter:
// keeping the store's procedure cache warm and clearing keys on a calendar.
package maintenance

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vnykmshr/goquota/pkg/metrics"
	"github.com/vnykmshr/goquota/pkg/ratelimit/model"
)

// DefaultPreloadSchedule reloads procedures every minute, so a store that
// restarted or flushed its script cache is repaired quickly.
const DefaultPreloadSchedule = "@every 1m"

// Job names reported in metrics and logs.
const (
	JobPreload = "preload"
	JobReset   = "reset"
)

// Standard five-field cron expressions, an optional leading seconds field,
// and descriptors such as "@daily" or "@every 1m".
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule validates a cron expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	if expr == "" {
		return nil, fmt.Errorf("empty schedule")
	}
	s, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return s, nil
}

// Target is the limiter surface the jobs use.
type Target interface {
	PreloadProcedures(ctx context.Context) (int, error)
	ResetLimit(ctx context.Context, key string) (int64, error)
	ResetRuleLimits(ctx context.Context, key string, rules []model.Rule) (int64, error)
}

// Reset clears Key on Schedule. With Rules set, the per-rule keys are
// cleared instead of Key itself.
type Reset struct {
	Key      string
	Schedule string
	Rules    []model.Rule
}

// Config holds configuration for a Scheduler.
type Config struct {
	// PreloadSchedule runs PreloadProcedures. Empty disables the job.
	PreloadSchedule string

	// Resets are the scheduled key resets.
	Resets []Reset

	// JobTimeout bounds one job run (defaults to 30s).
	JobTimeout time.Duration

	// Location evaluates schedules (defaults to UTC).
	Location *time.Location

	Metrics *metrics.Registry
	Logger  *slog.Logger
}

// Entry describes a scheduled job.
type Entry struct {
	Name     string
	Schedule string
	Next     time.Time
}

// Scheduler runs maintenance jobs on cron schedules.
type Scheduler struct {
	cron    *cron.Cron
	target  Target
	config  Config
	log     *slog.Logger
	mu      sync.Mutex
	entries map[cron.EntryID]Entry
}

// New registers every configured job. Nothing runs until Start.
func New(target Target, config Config) (*Scheduler, error) {
	if target == nil {
		return nil, fmt.Errorf("maintenance target is required")
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = 30 * time.Second
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	logger := cronLogger{config.Logger}
	s := &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(config.Location),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		target:  target,
		config:  config,
		log:     config.Logger,
		entries: make(map[cron.EntryID]Entry),
	}

	if config.PreloadSchedule != "" {
		if err := s.add(JobPreload, config.PreloadSchedule, func() {
			_ = s.RunPreload(context.Background())
		}); err != nil {
			return nil, err
		}
	}
	for _, r := range config.Resets {
		if err := s.add(JobReset+":"+r.Key, r.Schedule, func() {
			_, _ = s.RunReset(context.Background(), r)
		}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Scheduler) add(name, schedule string, job func()) error {
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	id := s.cron.Schedule(sched, cron.FuncJob(job))

	s.mu.Lock()
	s.entries[id] = Entry{Name: name, Schedule: schedule}
	s.mu.Unlock()
	return nil
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling and waits for running jobs to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Entries lists the scheduled jobs sorted by name, with their next run time
// once the scheduler has started.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.entries))
	for id, e := range s.entries {
		e.Next = s.cron.Entry(id).Next
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RunPreload loads missing procedures into the store.
func (s *Scheduler) RunPreload(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	defer cancel()

	loaded, err := s.target.PreloadProcedures(ctx)
	s.config.Metrics.ObserveMaintenance(JobPreload, err)
	if err != nil {
		s.log.Warn("preload job failed", slog.Any("err", err))
		return err
	}
	if loaded > 0 {
		s.log.Info("preload job reloaded procedures", slog.Int("loaded", loaded))
	}
	return nil
}

// RunReset performs one scheduled reset and returns the deleted count.
func (s *Scheduler) RunReset(ctx context.Context, r Reset) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	defer cancel()

	var (
		deleted int64
		err     error
	)
	if len(r.Rules) > 0 {
		deleted, err = s.target.ResetRuleLimits(ctx, r.Key, r.Rules)
	} else {
		deleted, err = s.target.ResetLimit(ctx, r.Key)
	}
	s.config.Metrics.ObserveMaintenance(JobReset, err)
	if err != nil {
		s.log.Warn("reset job failed", slog.String("key", r.Key), slog.Any("err", err))
		return 0, err
	}
	s.log.Info("reset job done", slog.String("key", r.Key), slog.Int64("deleted", deleted))
	return deleted, nil
}

// cronLogger routes cron's own logging to slog.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(keysAndValues, "err", err)...)
}
