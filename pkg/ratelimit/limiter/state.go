package limiter

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/vnykmshr/goquota/pkg/common/clock"
)

// EngineState is the process-scoped identity of a limiter: built once at
// startup and passed in, never read from package globals.
type EngineState struct {
	InstanceID string
	StartTime  time.Time
}

// NewEngineState returns state for this process started now on c.
func NewEngineState(c clock.Clock) *EngineState {
	if c == nil {
		c = clock.System{}
	}
	return &EngineState{
		InstanceID: generateInstanceID(),
		StartTime:  c.Now(),
	}
}

// generateInstanceID creates a unique identifier for this application instance.
func generateInstanceID() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s-%d-%s", hostname, os.Getpid(), uuid.NewString()[:8])
}
