// Package keys derives namespaced storage keys for rate-limit state.
//
// Every stored key has the layout
//
//	<prefix>:<namespace>:{<logical key>}[:<suffix>]
//
// The braces form a Redis Cluster hash tag, so all records of one logical key
// (algorithm state, distributed instance logs, stats) land in one slot and a
// single procedure may touch them together.
package keys

import (
	"strings"

	gqerrors "github.com/vnykmshr/goquota/pkg/common/errors"
	"github.com/vnykmshr/goquota/pkg/ratelimit/model"
)

// DefaultPrefix is used when a Builder is created with an empty prefix.
const DefaultPrefix = "goquota"

// StatsNamespace holds the per-key evaluation counters.
const StatsNamespace = "stats"

// Suffixes appended after the hash tag. SeqSuffix names the hash holding a
// sliding log's admission sequence and unit totals; the other two are used by
// the distributed sliding window.
const (
	GlobalSuffix   = "global"
	InstanceSuffix = "instance"
	SeqSuffix      = "seq"
)

// Builder derives storage keys. The zero value is not usable; use New.
type Builder struct {
	prefix string
}

// New returns a Builder for prefix.
func New(prefix string) Builder {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Builder{prefix: prefix}
}

// Prefix returns the configured prefix.
func (b Builder) Prefix() string {
	return b.prefix
}

// ValidateKey rejects logical keys that cannot be embedded in a hash tag.
func ValidateKey(key string) error {
	if key == "" {
		return gqerrors.NewValidationError("keys", "key", key, "cannot be empty").
			WithHint("provide a non-empty logical key such as sender:alice@example.com")
	}
	if strings.ContainsAny(key, "{}") {
		return gqerrors.NewValidationError("keys", "key", key, "contains a brace").
			WithHint("'{' and '}' are reserved for the cluster hash tag")
	}
	return nil
}

// State returns the key holding the state of alg for key. Optional suffixes
// are appended after the hash tag.
func (b Builder) State(alg model.Algorithm, key string, suffix ...string) string {
	return b.build(string(alg), key, suffix...)
}

// Instance returns the per-instance log of the distributed sliding window.
func (b Builder) Instance(key, instanceID string) string {
	return b.build(string(model.DistributedSlidingWindow), key, InstanceSuffix, instanceID)
}

// Stats returns the key of the per-key counters hash.
func (b Builder) Stats(key string) string {
	return b.build(StatsNamespace, key)
}

// Namespaces lists every namespace a logical key may occupy.
func Namespaces() []string {
	algs := model.Algorithms()
	out := make([]string, 0, len(algs)+1)
	for _, a := range algs {
		out = append(out, string(a))
	}
	return append(out, StatsNamespace)
}

// Patterns returns SCAN MATCH patterns covering every record of key in the
// given namespaces, or in all namespaces when none are given. Glob
// metacharacters inside the key are escaped.
func (b Builder) Patterns(key string, namespaces ...string) []string {
	if len(namespaces) == 0 {
		namespaces = Namespaces()
	}
	tagged := "{" + escapeGlob(key) + "}"
	out := make([]string, 0, len(namespaces))
	for _, ns := range namespaces {
		out = append(out, escapeGlob(b.prefix)+":"+escapeGlob(ns)+":"+tagged+"*")
	}
	return out
}

// Namespace extracts the namespace from a storage key built by b. It returns
// "" for keys outside the prefix.
func (b Builder) Namespace(storageKey string) string {
	rest, ok := strings.CutPrefix(storageKey, b.prefix+":")
	if !ok {
		return ""
	}
	ns, _, ok := strings.Cut(rest, ":")
	if !ok {
		return ""
	}
	return ns
}

// RuleKey derives the logical key a rule is evaluated under.
func RuleKey(key, rule string) string {
	return key + ":" + rule
}

func (b Builder) build(namespace, key string, suffix ...string) string {
	var sb strings.Builder
	sb.Grow(len(b.prefix) + len(namespace) + len(key) + 8)
	sb.WriteString(b.prefix)
	sb.WriteByte(':')
	sb.WriteString(namespace)
	sb.WriteString(":{")
	sb.WriteString(key)
	sb.WriteByte('}')
	for _, s := range suffix {
		sb.WriteByte(':')
		sb.WriteString(s)
	}
	return sb.String()
}

func escapeGlob(s string) string {
	if !strings.ContainsAny(s, `*?[]\`) {
		return s
	}
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
