package limiter

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	gqerrors "github.com/vnykmshr/goquota/pkg/common/errors"
	"github.com/vnykmshr/goquota/pkg/ratelimit/algorithm"
	"github.com/vnykmshr/goquota/pkg/ratelimit/keys"
	"github.com/vnykmshr/goquota/pkg/ratelimit/model"
	"github.com/vnykmshr/goquota/pkg/ratelimit/rules"
	"github.com/vnykmshr/goquota/pkg/ratelimit/store"
)

// Stats hash fields written by every procedure.
const (
	statTotal       = "total_requests"
	statAllowed     = "allowed_requests"
	statDenied      = "denied_requests"
	statLastRequest = "last_request_ms"
)

// GetLimitStatus returns every record stored for key across all algorithm
// namespaces. It has no admission side effects.
func (l *Limiter) GetLimitStatus(ctx context.Context, key string) (model.Status, error) {
	if err := keys.ValidateKey(key); err != nil {
		return model.Status{}, err
	}

	found, err := l.store.Scan(ctx, l.keys.Patterns(key))
	if err != nil {
		l.metrics.ObserveStoreError("status", "store_unavailable")
		return model.Status{}, err
	}
	records, err := l.store.Inspect(ctx, found)
	if err != nil {
		l.metrics.ObserveStoreError("status", "store_unavailable")
		return model.Status{}, err
	}

	status := model.Status{Key: key, Entries: make([]model.StateEntry, 0, len(records))}
	for _, rec := range records {
		status.Entries = append(status.Entries, model.StateEntry{
			StorageKey: rec.Key,
			Namespace:  l.keys.Namespace(rec.Key),
			Type:       rec.Type,
			TTL:        rec.TTL,
			Fields:     rec.Fields,
		})
	}
	status.Exists = len(status.Entries) > 0
	return status, nil
}

// GetLimitMetrics returns the counters every evaluation of key maintains.
// An unknown key yields zero counters.
func (l *Limiter) GetLimitMetrics(ctx context.Context, key string) (model.LimitMetrics, error) {
	if err := keys.ValidateKey(key); err != nil {
		return model.LimitMetrics{}, err
	}

	fields, err := l.store.ReadHash(ctx, l.keys.Stats(key))
	if err != nil {
		l.metrics.ObserveStoreError("metrics", "store_unavailable")
		return model.LimitMetrics{}, err
	}

	m := model.LimitMetrics{
		Key:             key,
		TotalRequests:   parseCounter(fields[statTotal]),
		AllowedRequests: parseCounter(fields[statAllowed]),
		DeniedRequests:  parseCounter(fields[statDenied]),
	}
	if ms := parseCounter(fields[statLastRequest]); ms > 0 {
		m.LastRequest = time.UnixMilli(ms).UTC()
	}
	return m, nil
}

// ResetLimit deletes everything stored for key in every namespace and
// returns how many records were removed. A second call returns 0.
//
// Reset is not atomic with respect to evaluations running at the same time:
// an evaluation racing with it may recreate part of the state.
func (l *Limiter) ResetLimit(ctx context.Context, key string) (int64, error) {
	if err := keys.ValidateKey(key); err != nil {
		return 0, err
	}
	return l.reset(ctx, []string{key})
}

// ResetRuleLimits deletes the state of every rule-derived key of key.
func (l *Limiter) ResetRuleLimits(ctx context.Context, key string, ruleList []model.Rule) (int64, error) {
	if err := rules.Validate(key, ruleList, 1); err != nil {
		return 0, err
	}
	derived := make([]string, 0, len(ruleList))
	for _, r := range ruleList {
		derived = append(derived, keys.RuleKey(key, r.Name))
	}
	return l.reset(ctx, derived)
}

func (l *Limiter) reset(ctx context.Context, logical []string) (int64, error) {
	var patterns []string
	for _, k := range logical {
		patterns = append(patterns, l.keys.Patterns(k)...)
	}

	found, err := l.store.Scan(ctx, patterns)
	if err != nil {
		l.metrics.ObserveStoreError("reset", "store_unavailable")
		return 0, err
	}
	deleted, err := l.store.Delete(ctx, found)
	if err != nil {
		l.metrics.ObserveStoreError("reset", "store_unavailable")
		return 0, err
	}

	l.metrics.ObserveReset(deleted)
	l.log.Info("reset limit", slog.Any("key", logical), slog.Int64("deleted", deleted))
	return deleted, nil
}

// Preloader is implemented by stores that can cache procedures themselves.
type Preloader interface {
	Preload(ctx context.Context) (int, error)
}

// PreloadProcedures caches every algorithm procedure in the store so the
// first evaluation does not pay for sending the script body. It returns the
// number of procedures that had to be loaded.
func (l *Limiter) PreloadProcedures(ctx context.Context) (int, error) {
	var (
		loaded int
		err    error
	)
	if p, ok := l.store.(Preloader); ok {
		loaded, err = p.Preload(ctx)
	} else {
		loaded, err = l.loadAll(ctx)
	}
	l.metrics.ObserveProceduresLoaded(loaded)
	if err != nil {
		l.metrics.ObserveStoreError("preload", errorKind(err))
		l.log.Warn("procedure preload failed", slog.Int("loaded", loaded), slog.Any("err", err))
		return loaded, err
	}
	l.log.Debug("procedures preloaded", slog.Int("loaded", loaded))
	return loaded, nil
}

func (l *Limiter) loadAll(ctx context.Context) (int, error) {
	loaded := 0
	for _, p := range algorithm.Procedures() {
		if _, err := l.store.Load(ctx, p.Source); err != nil {
			return loaded, err
		}
		loaded++
	}
	return loaded, nil
}

// ProcedureLoaded reports whether the store caches the procedure with id.
func (l *Limiter) ProcedureLoaded(ctx context.Context, id string) (bool, error) {
	return l.store.Exists(ctx, id)
}

// FlushProcedures drops every cached procedure from the store. Later
// evaluations reload them transparently.
func (l *Limiter) FlushProcedures(ctx context.Context) error {
	if err := l.store.FlushAll(ctx); err != nil {
		l.metrics.ObserveStoreError("flush", errorKind(err))
		return err
	}
	l.log.Info("procedures flushed")
	return nil
}

// Ping checks that the store is reachable.
func (l *Limiter) Ping(ctx context.Context) error {
	return l.store.Ping(ctx)
}

// Procedures lists the procedures the limiter runs.
func Procedures() []store.Procedure {
	return algorithm.Procedures()
}

func errorKind(err error) string {
	if gqerrors.IsProcedureError(err) {
		return "procedure"
	}
	return "store_unavailable"
}

func parseCounter(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		// Lua may hand back floats for large values.
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return 0
		}
		return int64(f)
	}
	return n
}
