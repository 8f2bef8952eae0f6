package limiter

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vnykmshr/goquota/pkg/common/clock"
	gqcontext "github.com/vnykmshr/goquota/pkg/common/context"
	gqerrors "github.com/vnykmshr/goquota/pkg/common/errors"
	"github.com/vnykmshr/goquota/pkg/metrics"
	"github.com/vnykmshr/goquota/pkg/ratelimit/algorithm"
	"github.com/vnykmshr/goquota/pkg/ratelimit/composite"
	"github.com/vnykmshr/goquota/pkg/ratelimit/keys"
	"github.com/vnykmshr/goquota/pkg/ratelimit/model"
	"github.com/vnykmshr/goquota/pkg/ratelimit/rules"
	"github.com/vnykmshr/goquota/pkg/ratelimit/store"
	"github.com/vnykmshr/goquota/pkg/ratelimit/warmup"
)

// Operation labels used for metrics.
const (
	opEvaluate    = "evaluate"
	opSliding     = "sliding_window"
	opToken       = "token_bucket"
	opFixed       = "fixed_window"
	opLeaky       = "leaky_bucket"
	opDistributed = "distributed"
	opRule        = "rule"
	opWarmUp      = "warm_up"
)

// Limiter is the rate limiting facade. It holds no counters and no locks:
// every decision is one atomic procedure run by the shared store, so a
// Limiter is safe for concurrent use and any number of processes may share
// the same keys.
type Limiter struct {
	config     Config
	store      store.Store
	algorithms *algorithm.Set
	keys       keys.Builder
	warmup     *warmup.Calculator
	metrics    *metrics.Registry
	log        *slog.Logger
}

// New creates a Limiter from config.
func New(config Config) (*Limiter, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	config = applyConfigDefaults(config)

	st := config.Store
	if st == nil {
		st = store.NewRedis(config.Redis, store.Options{
			Timeout:      config.Timeout,
			AdminTimeout: config.AdminTimeout,
		}, algorithm.Procedures()...)
	}

	kb := keys.New(config.KeyPrefix)
	l := &Limiter{
		config: config,
		store:  st,
		algorithms: algorithm.NewSet(st, algorithm.Config{
			Keys:          kb,
			InstanceID:    config.InstanceID,
			InstanceCount: config.InstanceCount,
			StatsTTL:      config.StatsTTL,
			Clock:         config.Clock,
		}),
		keys:    kb,
		warmup:  warmup.NewCalculator(config.State.StartTime, config.Clock),
		metrics: metrics.New(config.Metrics),
		log:     config.Logger.With(slog.String("instance", config.InstanceID)),
	}
	return l, nil
}

// NewWithRedis is a shorthand for New with only a client set.
func NewWithRedis(client redis.UniversalClient) (*Limiter, error) {
	config := DefaultConfig()
	config.Redis = client
	return New(config)
}

// InstanceID returns the id this limiter uses in distributed mode.
func (l *Limiter) InstanceID() string {
	return l.config.InstanceID
}

// State returns the process-scoped engine state.
func (l *Limiter) State() EngineState {
	return *l.config.State
}

// Metrics returns the registry in use, or nil when metrics are disabled.
func (l *Limiter) Metrics() *metrics.Registry {
	return l.metrics
}

// Keys returns the key builder in use.
func (l *Limiter) Keys() keys.Builder {
	return l.keys
}

// Store returns the shared store.
func (l *Limiter) Store() store.Store {
	return l.store
}

// Evaluate runs the algorithm described by p for n units of key.
func (l *Limiter) Evaluate(ctx context.Context, key string, p model.Params, n int64) (model.Result, error) {
	return l.evaluate(ctx, opEvaluate, key, p, n)
}

// SlidingWindowLimit admits n units when at most maxRequests units were
// admitted for key within the trailing window.
func (l *Limiter) SlidingWindowLimit(ctx context.Context, key string, window time.Duration, maxRequests, n int64) (model.Result, error) {
	return l.evaluate(ctx, opSliding, key, model.SlidingWindowParams(window, maxRequests), n)
}

// TokenBucketLimit takes n tokens from a bucket of capacity refilled at
// refillRate tokens per second.
func (l *Limiter) TokenBucketLimit(ctx context.Context, key string, capacity int64, refillRate float64, n int64) (model.Result, error) {
	return l.evaluate(ctx, opToken, key, model.TokenBucketParams(capacity, refillRate), n)
}

// FixedWindowLimit counts n units against the calendar window containing
// the store's current time.
func (l *Limiter) FixedWindowLimit(ctx context.Context, key string, window time.Duration, maxRequests, n int64) (model.Result, error) {
	return l.evaluate(ctx, opFixed, key, model.FixedWindowParams(window, maxRequests), n)
}

// LeakyBucketLimit adds n units to a bucket of capacity draining at
// leakRate units per second. Requests that do not fit are shed.
func (l *Limiter) LeakyBucketLimit(ctx context.Context, key string, capacity int64, leakRate float64, n int64) (model.Result, error) {
	return l.evaluate(ctx, opLeaky, key, model.LeakyBucketParams(capacity, leakRate), n)
}

// DistributedSlidingWindowLimit bounds key by a global sliding window shared
// by every instance and by a per-instance share of it. An empty instanceID
// uses the limiter's own.
func (l *Limiter) DistributedSlidingWindowLimit(ctx context.Context, key string, window time.Duration, maxRequests, n int64, instanceID string) (model.Result, error) {
	p := model.DistributedParams(window, maxRequests, 0, 0)
	p.InstanceID = instanceID
	return l.evaluate(ctx, opDistributed, key, p, n)
}

// RuleBasedLimit evaluates the enabled rules in priority order under
// per-rule keys and returns the first rejection, or the unlimited sentinel.
func (l *Limiter) RuleBasedLimit(ctx context.Context, key string, ruleList []model.Rule, n int64) (model.Result, error) {
	res, err := rules.New(ruleEvaluator{l}).Evaluate(ctx, key, ruleList, n)
	if err != nil {
		if gqerrors.IsValidationError(err) {
			l.log.Debug("rejected rule list", slog.String("key", key), slog.Any("err", err))
		}
		return model.Result{}, err
	}
	if !res.Allowed {
		rule, _ := res.Metadata[model.MetaRule].(string)
		l.metrics.ObserveRuleViolation(rule)
		l.log.Debug("rule violated", slog.String("key", key), slog.String("rule", rule))
	}
	return res, nil
}

// CompositeLimit combines results that were already computed. It performs
// no I/O.
func (l *Limiter) CompositeLimit(key string, results ...model.Result) model.Result {
	return composite.Combine(key, results...)
}

// WarmUpThreshold returns the ramped cap for nominal at this point of the
// warm-up period, measured from the engine start time.
func (l *Limiter) WarmUpThreshold(warmupDuration time.Duration, nominal int64, coldFactor float64) (int64, error) {
	return l.warmup.Limit(warmupDuration, nominal, coldFactor)
}

// WarmUpParams returns p with its cap replaced by the current warm-up
// threshold.
func (l *Limiter) WarmUpParams(p model.Params, warmupDuration time.Duration, coldFactor float64) (model.Params, error) {
	if err := p.Validate(); err != nil {
		return model.Params{}, err
	}
	limit, err := l.WarmUpThreshold(warmupDuration, p.Limit(), coldFactor)
	if err != nil {
		return model.Params{}, err
	}
	return p.WithLimit(limit), nil
}

// WarmUpLimit evaluates key under p with its cap ramped up over
// warmupDuration.
func (l *Limiter) WarmUpLimit(ctx context.Context, key string, p model.Params, warmupDuration time.Duration, coldFactor float64, n int64) (model.Result, error) {
	ramped, err := l.WarmUpParams(p, warmupDuration, coldFactor)
	if err != nil {
		return model.Result{}, err
	}
	return l.evaluate(ctx, opWarmUp, key, ramped, n)
}

func (l *Limiter) evaluate(ctx context.Context, op, key string, p model.Params, n int64) (model.Result, error) {
	start := l.config.Clock.Now()

	evalCtx, cancel := gqcontext.WithOperationTimeout(ctx, l.config.Timeout)
	res, err := l.algorithms.Evaluate(evalCtx, key, p, n)
	cancel()
	if err != nil {
		return l.failure(ctx, op, key, p, n, start, err)
	}

	l.metrics.ObserveDecision(string(p.Algorithm), op, res.Allowed, res.ProcessingTime)
	return res, nil
}

// failure applies the failure policy. Only store outages may be failed
// open: invalid input, procedure errors and the caller's own cancellation
// always reach the caller.
func (l *Limiter) failure(ctx context.Context, op, key string, p model.Params, n int64, start time.Time, err error) (model.Result, error) {
	attrs := []any{
		slog.String("key", key),
		slog.String("algorithm", string(p.Algorithm)),
		slog.Any("err", err),
	}

	switch {
	case gqerrors.IsValidationError(err):
		return model.Result{}, err

	case gqerrors.IsProcedureError(err):
		l.metrics.ObserveStoreError(algorithm.ProcedureName(p.Algorithm), "procedure")
		l.log.Error("procedure failed", attrs...)
		return model.Result{}, err

	case gqerrors.IsStoreUnavailable(err):
		l.metrics.ObserveStoreError(algorithm.ProcedureName(p.Algorithm), "store_unavailable")
		if gqcontext.IsCallerCanceled(ctx, err) {
			return model.Result{}, err
		}
		if l.config.FailurePolicy == FailOpen {
			l.metrics.ObserveFailOpen(string(p.Algorithm))
			l.log.Warn("store unavailable, admitting request", attrs...)
			res := model.Degraded(key, p.Algorithm, n, err)
			res.Limit = p.Limit()
			res.ProcessingTime = clock.Since(l.config.Clock, start)
			l.metrics.ObserveDecision(string(p.Algorithm), op, true, res.ProcessingTime)
			return res, nil
		}
		l.log.Warn("store unavailable", attrs...)
		return model.Result{}, err
	}

	l.log.Error("evaluation failed", attrs...)
	return model.Result{}, err
}

// ruleEvaluator evaluates single rules through the limiter so the failure
// policy and instrumentation apply to each rule.
type ruleEvaluator struct {
	l *Limiter
}

func (e ruleEvaluator) Evaluate(ctx context.Context, key string, p model.Params, n int64) (model.Result, error) {
	return e.l.evaluate(ctx, opRule, key, p, n)
}
