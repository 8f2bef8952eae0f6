package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	gqcontext "github.com/vnykmshr/goquota/pkg/common/context"
	gqerrors "github.com/vnykmshr/goquota/pkg/common/errors"
)

// Options tunes a Redis store.
type Options struct {
	// Timeout bounds a single procedure execution (default 500ms).
	Timeout time.Duration

	// AdminTimeout bounds scans, inspection, deletes and script management
	// (default 5s).
	AdminTimeout time.Duration

	// ScanCount is the COUNT hint passed to SCAN (default 256).
	ScanCount int64
}

// DefaultOptions returns the default store options.
func DefaultOptions() Options {
	return Options{
		Timeout:      500 * time.Millisecond,
		AdminTimeout: 5 * time.Second,
		ScanCount:    256,
	}
}

func applyOptionDefaults(opts Options) Options {
	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.AdminTimeout <= 0 {
		opts.AdminTimeout = def.AdminTimeout
	}
	if opts.ScanCount <= 0 {
		opts.ScanCount = def.ScanCount
	}
	return opts
}

type registered struct {
	Procedure
	script *redis.Script
}

// Redis is a Store backed by a go-redis client. Both single-node and
// cluster clients are supported.
type Redis struct {
	client redis.UniversalClient
	opts   Options
	procs  map[string]registered
}

var _ Store = (*Redis)(nil)

// NewRedis returns a store that runs procs on client.
func NewRedis(client redis.UniversalClient, opts Options, procs ...Procedure) *Redis {
	r := &Redis{
		client: client,
		opts:   applyOptionDefaults(opts),
		procs:  make(map[string]registered, len(procs)),
	}
	for _, p := range procs {
		r.procs[p.Name] = registered{Procedure: p, script: redis.NewScript(p.Source)}
	}
	return r
}

// Client returns the underlying client.
func (r *Redis) Client() redis.UniversalClient {
	return r.client
}

// Procedures returns the registered procedure names in sorted order.
func (r *Redis) Procedures() []string {
	names := make([]string, 0, len(r.procs))
	for name := range r.procs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Hash returns the id under which the store caches the named procedure.
func (r *Redis) Hash(name string) (string, bool) {
	p, ok := r.procs[name]
	if !ok {
		return "", false
	}
	return p.script.Hash(), true
}

// Execute runs the named procedure in one round trip.
func (r *Redis) Execute(ctx context.Context, name string, keys []string, args ...any) (Reply, error) {
	p, ok := r.procs[name]
	if !ok {
		return nil, gqerrors.NewProcedureError(name, gqerrors.ErrUnknownProcedure)
	}

	ctx, cancel := gqcontext.WithOperationTimeout(ctx, r.opts.Timeout)
	defer cancel()

	raw, err := p.script.Run(ctx, r.client, keys, args...).Result()
	if err != nil {
		return nil, classify(name, err)
	}
	return decodeReply(name, raw, p.ReplyLen)
}

// Exists implements Executor.
func (r *Redis) Exists(ctx context.Context, id string) (bool, error) {
	ctx, cancel := gqcontext.WithOperationTimeout(ctx, r.opts.AdminTimeout)
	defer cancel()

	found, err := r.client.ScriptExists(ctx, id).Result()
	if err != nil {
		return false, classify("script exists", err)
	}
	return len(found) == 1 && found[0], nil
}

// Load implements Executor.
func (r *Redis) Load(ctx context.Context, source string) (string, error) {
	ctx, cancel := gqcontext.WithOperationTimeout(ctx, r.opts.AdminTimeout)
	defer cancel()

	id, err := r.client.ScriptLoad(ctx, source).Result()
	if err != nil {
		return "", classify("script load", err)
	}
	return id, nil
}

// FlushAll implements Executor.
func (r *Redis) FlushAll(ctx context.Context) error {
	ctx, cancel := gqcontext.WithOperationTimeout(ctx, r.opts.AdminTimeout)
	defer cancel()

	if err := r.client.ScriptFlush(ctx).Err(); err != nil {
		return classify("script flush", err)
	}
	return nil
}

// Preload caches every registered procedure that the store does not already
// hold and returns how many were loaded.
func (r *Redis) Preload(ctx context.Context) (int, error) {
	loaded := 0
	for _, name := range r.Procedures() {
		p := r.procs[name]
		ok, err := r.Exists(ctx, p.script.Hash())
		if err != nil {
			return loaded, err
		}
		if ok {
			continue
		}
		id, err := r.Load(ctx, p.Source)
		if err != nil {
			return loaded, err
		}
		if id != p.script.Hash() {
			return loaded, gqerrors.NewProcedureError(name, fmt.Errorf("store returned id %s, want %s", id, p.script.Hash()))
		}
		loaded++
	}
	return loaded, nil
}

// Scan implements Inspector. Cluster clients are scanned on every master.
func (r *Redis) Scan(ctx context.Context, patterns []string) ([]string, error) {
	ctx, cancel := gqcontext.WithOperationTimeout(ctx, r.opts.AdminTimeout)
	defer cancel()

	var (
		mu   sync.Mutex
		seen = make(map[string]struct{})
	)
	add := func(k string) {
		mu.Lock()
		seen[k] = struct{}{}
		mu.Unlock()
	}

	var err error
	if cluster, ok := r.client.(*redis.ClusterClient); ok {
		err = cluster.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			return r.scanNode(ctx, node, patterns, add)
		})
	} else {
		err = r.scanNode(ctx, r.client, patterns, add)
	}
	if err != nil {
		return nil, classify("scan", err)
	}

	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (r *Redis) scanNode(ctx context.Context, c redis.Cmdable, patterns []string, add func(string)) error {
	for _, pattern := range patterns {
		iter := c.Scan(ctx, 0, pattern, r.opts.ScanCount).Iterator()
		for iter.Next(ctx) {
			add(iter.Val())
		}
		if err := iter.Err(); err != nil {
			return err
		}
	}
	return nil
}

// Inspect implements Inspector with two pipelined round trips: one for types
// and TTLs, one for the contents.
func (r *Redis) Inspect(ctx context.Context, keys []string) ([]Record, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	ctx, cancel := gqcontext.WithOperationTimeout(ctx, r.opts.AdminTimeout)
	defer cancel()

	types := make([]*redis.StatusCmd, len(keys))
	ttls := make([]*redis.DurationCmd, len(keys))
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, k := range keys {
			types[i] = pipe.Type(ctx, k)
			ttls[i] = pipe.PTTL(ctx, k)
		}
		return nil
	})
	if err != nil {
		return nil, classify("inspect", err)
	}

	records := make([]Record, 0, len(keys))
	reads := make([]redis.Cmder, 0, len(keys))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, k := range keys {
			typ := types[i].Val()
			var cmd redis.Cmder
			switch typ {
			case "hash":
				cmd = pipe.HGetAll(ctx, k)
			case "zset":
				cmd = pipe.ZCard(ctx, k)
			case "string":
				cmd = pipe.Get(ctx, k)
			case "none":
				continue
			}
			ttl := ttls[i].Val()
			if ttl < 0 {
				ttl = 0
			}
			records = append(records, Record{Key: k, Type: typ, TTL: ttl})
			reads = append(reads, cmd)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, classify("inspect", err)
	}

	for i, cmd := range reads {
		switch c := cmd.(type) {
		case *redis.MapStringStringCmd:
			fields := make(map[string]any, len(c.Val()))
			for f, v := range c.Val() {
				fields[f] = v
			}
			records[i].Fields = fields
		case *redis.IntCmd:
			records[i].Fields = map[string]any{"entries": c.Val()}
		case *redis.StringCmd:
			records[i].Fields = map[string]any{"value": c.Val()}
		}
	}
	return records, nil
}

// ReadHash implements Inspector.
func (r *Redis) ReadHash(ctx context.Context, key string) (map[string]string, error) {
	ctx, cancel := gqcontext.WithOperationTimeout(ctx, r.opts.AdminTimeout)
	defer cancel()

	fields, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, classify("read hash", err)
	}
	return fields, nil
}

// Delete implements Inspector. Keys are unlinked one per command so a cluster
// client can route each to its slot.
func (r *Redis) Delete(ctx context.Context, keys []string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	ctx, cancel := gqcontext.WithOperationTimeout(ctx, r.opts.AdminTimeout)
	defer cancel()

	cmds := make([]*redis.IntCmd, len(keys))
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = pipe.Unlink(ctx, k)
		}
		return nil
	})
	if err != nil {
		return 0, classify("delete", err)
	}

	var deleted int64
	for _, c := range cmds {
		deleted += c.Val()
	}
	return deleted, nil
}

// Ping implements Inspector.
func (r *Redis) Ping(ctx context.Context) error {
	ctx, cancel := gqcontext.WithOperationTimeout(ctx, r.opts.Timeout)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return classify("ping", err)
	}
	return nil
}

// Reply prefixes that signal an unavailable or reconfiguring server rather
// than a failure inside the procedure.
var unavailablePrefixes = []string{"LOADING", "READONLY", "MASTERDOWN", "CLUSTERDOWN", "TRYAGAIN", "BUSY "}

// classify maps a client error to StoreError or ProcedureError.
func classify(op string, err error) error {
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, redis.ErrClosed):
		return gqerrors.NewStoreError(op, err)
	}

	var replyErr redis.Error
	if errors.As(err, &replyErr) {
		msg := replyErr.Error()
		for _, prefix := range unavailablePrefixes {
			if strings.HasPrefix(msg, prefix) {
				return gqerrors.NewStoreError(op, err)
			}
		}
		return gqerrors.NewProcedureError(op, err)
	}

	// Network failures, pool timeouts and anything else the client raises
	// before a reply arrives.
	return gqerrors.NewStoreError(op, err)
}

func decodeReply(name string, raw any, minLen int) (Reply, error) {
	items, ok := raw.([]any)
	if !ok {
		return nil, gqerrors.NewProcedureError(name, fmt.Errorf("malformed reply of type %T", raw))
	}
	if len(items) < minLen {
		return nil, gqerrors.NewProcedureError(name, fmt.Errorf("malformed reply: got %d values, want %d", len(items), minLen))
	}

	reply := make(Reply, len(items))
	for i, item := range items {
		v, ok := item.(int64)
		if !ok {
			return nil, gqerrors.NewProcedureError(name, fmt.Errorf("malformed reply: value %d is %T", i, item))
		}
		reply[i] = v
	}
	return reply, nil
}
