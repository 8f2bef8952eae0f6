package model

import "time"

// StateEntry describes one stored record belonging to a logical key.
type StateEntry struct {
	StorageKey string         `json:"storage_key"`
	Namespace  string         `json:"namespace"`
	Type       string         `json:"type"`
	TTL        time.Duration  `json:"ttl"`
	Fields     map[string]any `json:"fields,omitempty"`
}

// Status is a read-only snapshot of everything stored for a key.
type Status struct {
	Key     string       `json:"key"`
	Exists  bool         `json:"exists"`
	Entries []StateEntry `json:"entries"`
}

// Namespaces returns the distinct namespaces present in s, in entry order.
func (s Status) Namespaces() []string {
	var out []string
	seen := make(map[string]bool)
	for _, e := range s.Entries {
		if !seen[e.Namespace] {
			seen[e.Namespace] = true
			out = append(out, e.Namespace)
		}
	}
	return out
}

// LimitMetrics are the per-key counters maintained by every procedure.
type LimitMetrics struct {
	Key             string    `json:"key"`
	TotalRequests   int64     `json:"total_requests"`
	AllowedRequests int64     `json:"allowed_requests"`
	DeniedRequests  int64     `json:"denied_requests"`
	LastRequest     time.Time `json:"last_request,omitempty"`
}

// DenialRate returns the fraction of denied evaluations, or 0 when none ran.
func (m LimitMetrics) DenialRate() float64 {
	if m.TotalRequests == 0 {
		return 0
	}
	return float64(m.DeniedRequests) / float64(m.TotalRequests)
}
