package limiter

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vnykmshr/goquota/pkg/common/clock"
	gqerrors "github.com/vnykmshr/goquota/pkg/common/errors"
	"github.com/vnykmshr/goquota/pkg/common/validation"
	"github.com/vnykmshr/goquota/pkg/metrics"
	"github.com/vnykmshr/goquota/pkg/ratelimit/keys"
	"github.com/vnykmshr/goquota/pkg/ratelimit/store"
)

// FailurePolicy decides what an evaluation returns when the store is down.
type FailurePolicy int

const (
	// FailClosed surfaces store outages to the caller as errors.
	FailClosed FailurePolicy = iota

	// FailOpen admits the request with reason "store-unavailable".
	FailOpen
)

func (p FailurePolicy) String() string {
	switch p {
	case FailClosed:
		return "fail-closed"
	case FailOpen:
		return "fail-open"
	default:
		return fmt.Sprintf("FailurePolicy(%d)", int(p))
	}
}

// ParseFailurePolicy accepts "fail-closed" or "fail-open".
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch s {
	case "fail-closed", "closed", "":
		return FailClosed, nil
	case "fail-open", "open":
		return FailOpen, nil
	}
	return FailClosed, gqerrors.NewValidationError("limiter", "failurePolicy", s, "unknown failure policy").
		WithHint("use fail-closed or fail-open")
}

// Config holds configuration for a Limiter.
type Config struct {
	// Redis is the shared store client. Ignored when Store is set.
	Redis redis.UniversalClient

	// Store overrides the Redis-backed store. It must know every procedure
	// returned by algorithm.Procedures.
	Store store.Store

	// KeyPrefix namespaces every stored key (defaults to "goquota").
	KeyPrefix string

	// InstanceID identifies this process for the distributed sliding window.
	// Defaults to the id generated by NewEngineState.
	InstanceID string

	// InstanceCount is the number of instances sharing a distributed cap
	// when the parameters do not say (defaults to 1).
	InstanceCount int

	// Timeout bounds each evaluation round trip (defaults to 500ms).
	Timeout time.Duration

	// AdminTimeout bounds status, reset and procedure management calls
	// (defaults to 5s).
	AdminTimeout time.Duration

	// FailurePolicy selects behavior on store outages (defaults to FailClosed).
	FailurePolicy FailurePolicy

	// StatsTTL is the lifetime of the per-key counters (defaults to 24h).
	StatsTTL time.Duration

	// Clock drives warm-up and processing time. Admission decisions always
	// use the store's clock.
	Clock clock.Clock

	// State carries the process-scoped instance id and start time. When nil
	// a new one is built from Clock.
	State *EngineState

	// Metrics configures Prometheus instrumentation.
	Metrics metrics.Config

	// Logger receives structured events. Defaults to a discarding logger.
	Logger *slog.Logger
}

// DefaultConfig returns a default limiter configuration. The caller still
// has to provide Redis or Store.
func DefaultConfig() Config {
	return Config{
		KeyPrefix:     keys.DefaultPrefix,
		InstanceCount: 1,
		Timeout:       500 * time.Millisecond,
		AdminTimeout:  5 * time.Second,
		FailurePolicy: FailClosed,
		StatsTTL:      24 * time.Hour,
		Clock:         clock.System{},
	}
}

// validateConfig validates the limiter configuration.
func validateConfig(config Config) error {
	if config.Redis == nil && config.Store == nil {
		return gqerrors.NewValidationError("limiter", "Redis", nil, "a redis client or a store is required")
	}
	if config.InstanceCount < 0 {
		return gqerrors.NewValidationError("limiter", "InstanceCount", config.InstanceCount, "must not be negative")
	}
	if config.Timeout < 0 {
		return gqerrors.NewValidationError("limiter", "Timeout", config.Timeout, "must not be negative")
	}
	if config.StatsTTL != 0 {
		if err := validation.ValidatePositiveDuration("limiter", "StatsTTL", config.StatsTTL); err != nil {
			return err
		}
	}
	if config.FailurePolicy != FailClosed && config.FailurePolicy != FailOpen {
		return gqerrors.NewValidationError("limiter", "FailurePolicy", int(config.FailurePolicy), "unknown failure policy")
	}
	if config.KeyPrefix != "" {
		if err := keys.ValidateKey(config.KeyPrefix); err != nil {
			return gqerrors.NewValidationError("limiter", "KeyPrefix", config.KeyPrefix, "must not contain '{' or '}'")
		}
	}
	return nil
}

// applyConfigDefaults sets default values for unspecified config fields.
func applyConfigDefaults(config Config) Config {
	def := DefaultConfig()
	if config.KeyPrefix == "" {
		config.KeyPrefix = def.KeyPrefix
	}
	if config.InstanceCount == 0 {
		config.InstanceCount = def.InstanceCount
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.AdminTimeout <= 0 {
		config.AdminTimeout = def.AdminTimeout
	}
	if config.StatsTTL == 0 {
		config.StatsTTL = def.StatsTTL
	}
	if config.Clock == nil {
		config.Clock = def.Clock
	}
	if config.State == nil {
		config.State = NewEngineState(config.Clock)
	}
	if config.InstanceID == "" {
		config.InstanceID = config.State.InstanceID
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return config
}
