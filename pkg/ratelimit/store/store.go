// Package store executes atomic rate-limit procedures against the shared
// store and exposes the read and delete operations used for status and reset.
//
// Procedures are Lua scripts registered by name. Execute runs a procedure as
// a single EVALSHA, falling back to EVAL when the server has not cached the
// script yet, so every evaluation costs exactly one round trip.
package store

import (
	"context"
	"time"
)

// Procedure is an atomic server-side operation registered under Name.
// ReplyLen is the minimum number of integers its reply must contain.
type Procedure struct {
	Name     string
	Source   string
	ReplyLen int
}

// Reply is the decoded integer tuple returned by a procedure.
type Reply []int64

// Executor runs registered atomic procedures. Implementations must be safe
// for concurrent use.
type Executor interface {
	// Execute runs the named procedure with keys and args and returns its reply.
	Execute(ctx context.Context, name string, keys []string, args ...any) (Reply, error)

	// Exists reports whether the store has cached the procedure with id.
	Exists(ctx context.Context, id string) (bool, error)

	// Load caches source on the store and returns its id.
	Load(ctx context.Context, source string) (string, error)

	// FlushAll drops every cached procedure.
	FlushAll(ctx context.Context) error
}

// Record is one stored key as seen by Inspect.
type Record struct {
	Key    string
	Type   string
	TTL    time.Duration
	Fields map[string]any
}

// Inspector reads and deletes stored rate-limit records.
type Inspector interface {
	// Scan returns the distinct keys matching any of the glob patterns.
	Scan(ctx context.Context, patterns []string) ([]string, error)

	// Inspect describes keys. Keys that no longer exist are omitted.
	Inspect(ctx context.Context, keys []string) ([]Record, error)

	// ReadHash returns every field of a hash, or an empty map when it is missing.
	ReadHash(ctx context.Context, key string) (map[string]string, error)

	// Delete removes keys and returns how many existed.
	Delete(ctx context.Context, keys []string) (int64, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error
}

// Store is the full contract the limiter needs from the shared store.
type Store interface {
	Executor
	Inspector
}
