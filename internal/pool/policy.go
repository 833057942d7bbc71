package pool

import (
	"fmt"
	"strings"

	"github.com/masahif/docharvest/internal/config"
)

// Policy decides what happens to a task submitted to a saturated pool
type Policy int

const (
	// Abort rejects the task with ErrRejected
	Abort Policy = iota
	// CallerRuns runs the task on the submitting goroutine
	CallerRuns
	// Discard drops the task silently
	Discard
	// DiscardOldest drops the oldest queued task and queues the new one
	DiscardOldest
)

// ParsePolicy maps a configuration value to a Policy
func ParsePolicy(name string) (Policy, error) {
	switch strings.ToLower(name) {
	case config.PolicyAbort:
		return Abort, nil
	case config.PolicyCallerRuns:
		return CallerRuns, nil
	case config.PolicyDiscard:
		return Discard, nil
	case config.PolicyDiscardOldest:
		return DiscardOldest, nil
	default:
		return Abort, fmt.Errorf("%w: %q", config.ErrInvalidRejectionPolicy, name)
	}
}

func (p Policy) String() string {
	switch p {
	case Abort:
		return config.PolicyAbort
	case CallerRuns:
		return config.PolicyCallerRuns
	case Discard:
		return config.PolicyDiscard
	case DiscardOldest:
		return config.PolicyDiscardOldest
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}
