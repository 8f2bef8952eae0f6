package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/vnykmshr/goquota/internal/config"
	"github.com/vnykmshr/goquota/pkg/metrics"
	"github.com/vnykmshr/goquota/pkg/ratelimit/limiter"
)

// env is what a command needs to talk to the shared store.
type env struct {
	cfg     config.Config
	client  redis.UniversalClient
	limiter *limiter.Limiter
	log     *slog.Logger
}

// openEnv loads the configuration and connects a limiter. Metrics are only
// collected for long-running commands.
func openEnv(cmd *cobra.Command, opts *rootOptions, withMetrics bool) (*env, error) {
	log, err := newLogger(cmd.ErrOrStderr(), opts.logLevel)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	client := cfg.RedisClient()
	lc := cfg.LimiterConfig(client)
	lc.Logger = log
	if withMetrics {
		lc.Metrics = metrics.DefaultConfig()
	}

	l, err := limiter.New(lc)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return &env{cfg: cfg, client: client, limiter: l, log: log}, nil
}

func (e *env) Close() error {
	return e.client.Close()
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
