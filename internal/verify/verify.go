package verify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/stagehand-sh/stagehand/internal/logging"
	"github.com/stagehand-sh/stagehand/internal/runtime"
)

// ReadinessTimeout means not every unit became healthy before the
// deadline. It names the units that were still unhealthy, because that
// is what the operator needs first.
type ReadinessTimeout struct {
	Deadline  time.Duration
	Unhealthy []string
}

func (e *ReadinessTimeout) Error() string {
	return fmt.Sprintf("units not healthy after %s: %s", e.Deadline, strings.Join(e.Unhealthy, ", "))
}

// Verifier polls unit liveness on a fixed cadence until every unit is
// healthy or the deadline passes. There is no partial success.
type Verifier struct {
	rt       runtime.Runtime
	interval time.Duration
	timeout  time.Duration
}

func New(rt runtime.Runtime, interval, timeout time.Duration) *Verifier {
	return &Verifier{rt: rt, interval: interval, timeout: timeout}
}

// WaitHealthy blocks until all units report healthy, the deadline
// expires, or the context is canceled. Cancellation and deadline share
// one failure path: both surface as ReadinessTimeout so the caller's
// rollback handling stays uniform.
func (v *Verifier) WaitHealthy(ctx context.Context, units []string) error {
	logger := logging.Ctx(ctx)
	deadline := time.Now().Add(v.timeout)

	for {
		unhealthy := v.pollOnce(ctx, units)
		if len(unhealthy) == 0 {
			logger.Info().Int("units", len(units)).Msg("All units healthy")
			return nil
		}
		if time.Now().After(deadline) {
			sort.Strings(unhealthy)
			return &ReadinessTimeout{Deadline: v.timeout, Unhealthy: unhealthy}
		}

		logger.Debug().Strs("unhealthy", unhealthy).Msg("Waiting for units to become healthy")
		select {
		case <-ctx.Done():
			sort.Strings(unhealthy)
			return &ReadinessTimeout{Deadline: v.timeout, Unhealthy: unhealthy}
		case <-time.After(v.interval):
		}
	}
}

// pollOnce returns the units that are not currently healthy. Inspection
// errors count the unit as unhealthy for this poll.
func (v *Verifier) pollOnce(ctx context.Context, units []string) []string {
	var unhealthy []string
	for _, unit := range units {
		health, err := v.rt.InspectHealth(ctx, unit)
		if err != nil || health != runtime.Healthy {
			unhealthy = append(unhealthy, unit)
		}
	}
	return unhealthy
}
