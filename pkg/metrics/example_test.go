package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// Example_basicUsage demonstrates recording decisions on an isolated registry.
func Example_basicUsage() {
	// Create a separate registry for this example
	testRegistry := prometheus.NewRegistry()
	registry := NewRegistry(testRegistry)

	registry.ObserveDecision("token_bucket", "evaluate", true, time.Millisecond)
	registry.ObserveDecision("token_bucket", "evaluate", true, time.Millisecond)
	registry.ObserveDecision("token_bucket", "evaluate", false, time.Millisecond)

	fmt.Println("allowed:", testutil.ToFloat64(registry.Allowed.WithLabelValues("token_bucket", "evaluate")))
	fmt.Println("denied:", testutil.ToFloat64(registry.Denied.WithLabelValues("token_bucket", "evaluate")))

	// Output:
	// allowed: 2
	// denied: 1
}

// Example_customRegistry demonstrates a custom namespace and constant labels.
func Example_customRegistry() {
	customRegistry := prometheus.NewRegistry()

	config := Config{
		Enabled:   true,
		Registry:  customRegistry,
		Namespace: "mailer",
		Labels:    prometheus.Labels{"region": "eu-west-1"},
	}

	registry := New(config)
	registry.ObserveReset(3)

	families, _ := customRegistry.Gather()
	for _, f := range families {
		fmt.Println(f.GetName())
	}

	// Output:
	// mailer_admin_reset_keys_deleted_total
	// mailer_admin_resets_total
	// mailer_store_procedures_loaded_total
}
