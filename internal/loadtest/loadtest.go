// Package loadtest drives concurrent checks against a limiter from a fixed
// pool of workers and summarizes the decisions.
//
// It is used by the bench command to measure how a shared store behaves
// under contention: how many checks it admits, how long each round trip
// takes, and how evenly the quota is spread across keys.
package loadtest

import (
	"context"
	"fmt"
	"math"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	gqerrors "github.com/vnykmshr/goquota/pkg/common/errors"
	"github.com/vnykmshr/goquota/pkg/common/validation"
	"github.com/vnykmshr/goquota/pkg/ratelimit/model"
)

// Checker evaluates one limit. *limiter.Limiter satisfies it.
type Checker interface {
	Evaluate(ctx context.Context, key string, p model.Params, n int64) (model.Result, error)
}

// Config holds configuration for a run.
type Config struct {
	// Workers is the number of concurrent workers (defaults to 8).
	Workers int

	// Requests is the total number of checks to issue.
	Requests int

	// Keys are used round-robin (defaults to a single "bench" key).
	Keys []string

	// Params are evaluated for every check.
	Params model.Params

	// Count is the number of units each check consumes (defaults to 1).
	Count int64

	// TaskTimeout bounds one check. Zero means the caller's context only.
	TaskTimeout time.Duration

	// QueueSize bounds pending checks (defaults to twice Workers).
	QueueSize int
}

// KeySummary aggregates decisions for one key.
type KeySummary struct {
	Total   int `json:"total"`
	Allowed int `json:"allowed"`
	Denied  int `json:"denied"`
	Errors  int `json:"errors"`
}

// Report summarizes a run.
type Report struct {
	Requests   int                   `json:"requests"`
	Allowed    int                   `json:"allowed"`
	Denied     int                   `json:"denied"`
	Degraded   int                   `json:"degraded"`
	Errors     int                   `json:"errors"`
	Elapsed    time.Duration         `json:"elapsed"`
	Throughput float64               `json:"throughput"`
	P50        time.Duration         `json:"p50"`
	P95        time.Duration         `json:"p95"`
	P99        time.Duration         `json:"p99"`
	Max        time.Duration         `json:"max"`
	Keys       map[string]KeySummary `json:"keys"`

	// FirstError is the first error seen, for display.
	FirstError string `json:"first_error,omitempty"`
}

// outcome is the result of one check.
type outcome struct {
	key      string
	result   model.Result
	err      error
	duration time.Duration
	workerID int
}

type task struct {
	key string
}

func applyDefaults(config Config) Config {
	if config.Workers == 0 {
		config.Workers = 8
	}
	if len(config.Keys) == 0 {
		config.Keys = []string{"bench"}
	}
	if config.Count == 0 {
		config.Count = 1
	}
	if config.QueueSize == 0 {
		config.QueueSize = config.Workers * 2
	}
	return config
}

func validate(config Config) error {
	if err := validation.ValidatePositive("loadtest", "workers", int64(config.Workers)); err != nil {
		return err
	}
	if err := validation.ValidatePositive("loadtest", "requests", int64(config.Requests)); err != nil {
		return err
	}
	if err := validation.ValidatePositive("loadtest", "count", config.Count); err != nil {
		return err
	}
	if config.QueueSize < 0 {
		return gqerrors.NewValidationError("loadtest", "queueSize", config.QueueSize, "must not be negative")
	}
	return config.Params.Validate()
}

// Run issues config.Requests checks against c and returns the summary. When
// ctx ends early the partial report is returned with ctx's error.
func Run(ctx context.Context, c Checker, config Config) (Report, error) {
	if c == nil {
		return Report{}, fmt.Errorf("checker cannot be nil")
	}
	config = applyDefaults(config)
	if err := validate(config); err != nil {
		return Report{}, err
	}

	p := &pool{
		checker: c,
		config:  config,
		tasks:   make(chan task, config.QueueSize),
		results: make(chan outcome, config.Workers),
	}

	start := time.Now()
	p.start(ctx)

	go func() {
		defer close(p.tasks)
		for i := 0; i < config.Requests; i++ {
			t := task{key: config.Keys[i%len(config.Keys)]}
			select {
			case p.tasks <- t:
			case <-ctx.Done():
				return
			}
		}
	}()

	report := newReport()
	durations := make([]time.Duration, 0, config.Requests)
	for o := range p.results {
		report.add(o)
		durations = append(durations, o.duration)
	}
	report.finish(time.Since(start), durations)

	return report, ctx.Err()
}

// pool is a fixed set of workers draining a bounded task queue. The results
// channel is closed once every worker has stopped.
type pool struct {
	checker Checker
	config  Config
	tasks   chan task
	results chan outcome
	wg      sync.WaitGroup
}

func (p *pool) start(ctx context.Context) {
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
	go func() {
		p.wg.Wait()
		close(p.results)
	}()
}

func (p *pool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	for t := range p.tasks {
		if ctx.Err() != nil {
			// Drain without evaluating so the producer can finish.
			continue
		}
		p.results <- p.execute(ctx, id, t)
	}
}

// execute runs one check, turning a panic into an error.
func (p *pool) execute(ctx context.Context, id int, t task) (o outcome) {
	start := time.Now()
	o = outcome{key: t.key, workerID: id}

	defer func() {
		if r := recover(); r != nil {
			o.err = fmt.Errorf("check panicked: %v\nStack trace:\n%s", r, debug.Stack())
		}
		o.duration = time.Since(start)
	}()

	if p.config.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.TaskTimeout)
		defer cancel()
	}

	o.result, o.err = p.checker.Evaluate(ctx, t.key, p.config.Params, p.config.Count)
	return o
}

func newReport() Report {
	return Report{Keys: make(map[string]KeySummary)}
}

func (r *Report) add(o outcome) {
	r.Requests++
	ks := r.Keys[o.key]
	ks.Total++

	switch {
	case o.err != nil:
		r.Errors++
		ks.Errors++
		if r.FirstError == "" {
			r.FirstError = o.err.Error()
		}
	case o.result.Allowed:
		r.Allowed++
		ks.Allowed++
		if o.result.IsDegraded() {
			r.Degraded++
		}
	default:
		r.Denied++
		ks.Denied++
	}
	r.Keys[o.key] = ks
}

func (r *Report) finish(elapsed time.Duration, durations []time.Duration) {
	r.Elapsed = elapsed
	if elapsed > 0 {
		r.Throughput = float64(r.Requests) / elapsed.Seconds()
	}
	if len(durations) == 0 {
		return
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
	r.P50 = percentile(durations, 0.50)
	r.P95 = percentile(durations, 0.95)
	r.P99 = percentile(durations, 0.99)
	r.Max = durations[len(durations)-1]
}

// percentile uses the nearest-rank method on sorted durations.
func percentile(sorted []time.Duration, q float64) time.Duration {
	rank := int(math.Ceil(q*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	return sorted[rank]
}
