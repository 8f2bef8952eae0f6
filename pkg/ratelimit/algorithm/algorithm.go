// Package algorithm implements the rate-limiting policies as atomic store
// procedures.
//
// Each policy is a Lua procedure that reads the store clock, updates its
// state and the per-key stats hash, and replies with the fixed tuple
//
//	[admitted, remaining, resetAtMillis, nowMillis, used]
//
// The distributed sliding window appends [globalRemaining, instanceRemaining].
// Every evaluation is exactly one Execute call, so two concurrent callers for
// the same key are serialized by the store and can never both admit on the
// same stale state.
package algorithm

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/vnykmshr/goquota/pkg/common/clock"
	gqerrors "github.com/vnykmshr/goquota/pkg/common/errors"
	"github.com/vnykmshr/goquota/pkg/common/validation"
	"github.com/vnykmshr/goquota/pkg/ratelimit/keys"
	"github.com/vnykmshr/goquota/pkg/ratelimit/model"
	"github.com/vnykmshr/goquota/pkg/ratelimit/store"
)

// Reply positions shared by every procedure.
const (
	replyAdmitted = iota
	replyRemaining
	replyResetAt
	replyNow
	replyUsed
	baseReplyLen
)

// Extra reply positions of the distributed sliding window.
const (
	replyGlobalRemaining = baseReplyLen + iota
	replyInstanceRemaining
	distributedReplyLen
)

// Bounds on the lifetime given to bucket state. Params.Validate keeps
// capacity/rate within model.MaxBucketSpan, so state never expires before
// the bucket could have refilled or drained.
const (
	minBucketTTL = time.Second
	maxBucketTTL = model.MaxBucketSpan
)

// ProcedureName returns the versioned procedure name of alg.
func ProcedureName(alg model.Algorithm) string {
	return string(alg) + ".v1"
}

// Procedures returns every procedure the algorithms need. Register them with
// the store before evaluating.
func Procedures() []store.Procedure {
	return []store.Procedure{
		{Name: ProcedureName(model.SlidingWindow), Source: prelude + slidingWindowScript, ReplyLen: baseReplyLen},
		{Name: ProcedureName(model.TokenBucket), Source: prelude + tokenBucketScript, ReplyLen: baseReplyLen},
		{Name: ProcedureName(model.FixedWindow), Source: prelude + fixedWindowScript, ReplyLen: baseReplyLen},
		{Name: ProcedureName(model.LeakyBucket), Source: prelude + leakyBucketScript, ReplyLen: baseReplyLen},
		{Name: ProcedureName(model.DistributedSlidingWindow), Source: prelude + distributedScript, ReplyLen: distributedReplyLen},
	}
}

// Config configures a Set.
type Config struct {
	// Keys derives storage keys.
	Keys keys.Builder

	// InstanceID identifies this process in the distributed sliding window.
	InstanceID string

	// InstanceCount is the default number of instances sharing a global cap.
	InstanceCount int

	// StatsTTL is the lifetime of the per-key stats hash.
	StatsTTL time.Duration

	// Clock measures processing time.
	Clock clock.Clock
}

// Set evaluates every algorithm against one executor. It holds no mutable
// state and is safe for concurrent use.
type Set struct {
	exec store.Executor
	cfg  Config
}

// NewSet returns a Set running procedures on exec.
func NewSet(exec store.Executor, cfg Config) *Set {
	if cfg.Keys.Prefix() == "" {
		cfg.Keys = keys.New("")
	}
	if cfg.InstanceCount <= 0 {
		cfg.InstanceCount = 1
	}
	if cfg.StatsTTL <= 0 {
		cfg.StatsTTL = 24 * time.Hour
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	return &Set{exec: exec, cfg: cfg}
}

// Keys returns the key builder in use.
func (s *Set) Keys() keys.Builder {
	return s.cfg.Keys
}

// ValidateRequest checks everything Evaluate checks before touching the store.
func ValidateRequest(key string, p model.Params, n int64) error {
	if err := keys.ValidateKey(key); err != nil {
		return err
	}
	if err := validation.ValidatePositive("algorithm", "requestCount", n); err != nil {
		return err
	}
	return p.Validate()
}

// Evaluate runs the algorithm selected by p for n units against key.
// Invalid input is rejected before any store call.
func (s *Set) Evaluate(ctx context.Context, key string, p model.Params, n int64) (model.Result, error) {
	if err := ValidateRequest(key, p, n); err != nil {
		return model.Result{}, err
	}

	start := s.cfg.Clock.Now()
	var (
		res model.Result
		err error
	)
	switch p.Algorithm {
	case model.SlidingWindow:
		res, err = s.slidingWindow(ctx, key, p, n)
	case model.TokenBucket:
		res, err = s.tokenBucket(ctx, key, p, n)
	case model.FixedWindow:
		res, err = s.fixedWindow(ctx, key, p, n)
	case model.LeakyBucket:
		res, err = s.leakyBucket(ctx, key, p, n)
	case model.DistributedSlidingWindow:
		res, err = s.distributed(ctx, key, p, n)
	default:
		// Validate already rejected unknown algorithms.
		return model.Result{}, gqerrors.NewValidationError("algorithm", "algorithm", p.Algorithm, "unknown algorithm")
	}
	if err != nil {
		return model.Result{}, err
	}
	res.ProcessingTime = clock.Since(s.cfg.Clock, start)
	return res, nil
}

func (s *Set) run(ctx context.Context, alg model.Algorithm, storageKeys []string, args ...any) (store.Reply, error) {
	return s.exec.Execute(ctx, ProcedureName(alg), storageKeys, args...)
}

// decode turns a reply into a Result and checks the invariants every
// procedure must hold.
func decode(key string, alg model.Algorithm, n, limit int64, reply store.Reply) (model.Result, error) {
	want := baseReplyLen
	if alg == model.DistributedSlidingWindow {
		want = distributedReplyLen
	}
	if len(reply) < want {
		return model.Result{}, gqerrors.NewProcedureError(ProcedureName(alg), fmt.Errorf("reply has %d values, want %d", len(reply), want))
	}

	admitted := reply[replyAdmitted]
	if admitted != 0 && admitted != 1 {
		return model.Result{}, gqerrors.NewProcedureError(ProcedureName(alg), fmt.Errorf("admitted flag %d", admitted))
	}
	remaining := reply[replyRemaining]
	if remaining < 0 {
		return model.Result{}, gqerrors.NewProcedureError(ProcedureName(alg), fmt.Errorf("negative remaining quota %d", remaining))
	}

	now := time.UnixMilli(reply[replyNow])
	reset := time.UnixMilli(reply[replyResetAt])
	if reset.Before(now) {
		reset = now
	}

	res := model.Result{
		Allowed:        admitted == 1,
		Key:            key,
		Algorithm:      alg,
		RequestCount:   n,
		RemainingQuota: remaining,
		Limit:          limit,
		ResetTime:      reset,
		Metadata:       map[string]any{model.MetaUsed: reply[replyUsed]},
	}
	if res.Allowed {
		res.Reason = model.ReasonAllowed
	} else {
		res.RetryAfter = reset.Sub(now)
		res.Reason = fmt.Sprintf("%s limit of %d exceeded (requested %d, remaining %d)", alg, limit, n, remaining)
	}
	return res, nil
}

func millis(d time.Duration) int64 {
	return d.Milliseconds()
}

// bucketTTL keeps bucket state for twice the time it takes to go from empty
// to full (or full to empty).
func bucketTTL(capacity int64, rate float64) int64 {
	secs := 2 * float64(capacity) / rate
	switch {
	case secs >= maxBucketTTL.Seconds():
		return millis(maxBucketTTL)
	case secs <= minBucketTTL.Seconds():
		return millis(minBucketTTL)
	}
	return millis(time.Duration(math.Ceil(secs * float64(time.Second))))
}
