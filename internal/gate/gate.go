package gate

import (
	"context"
	"time"

	"github.com/stagehand-sh/stagehand/internal/logging"
	"golang.org/x/sync/errgroup"
)

// Status is one unit's analysis verdict.
type Status string

const (
	StatusPassed  Status = "PASSED"
	StatusFailed  Status = "FAILED"
	StatusNoData  Status = "NO_DATA"
	StatusPending Status = "PENDING"
)

// Decision is the aggregate pass/fail verdict gating a deployment.
type Decision string

const (
	DecisionPass Decision = "PASS"
	DecisionFail Decision = "FAIL"
)

// Result is the verdict observed for one unit at fetch time.
type Result struct {
	UnitName  string    `json:"unit_name"`
	Status    Status    `json:"status"`
	FetchedAt time.Time `json:"fetched_at"`
}

// FetchFunc queries the analysis service for one unit's verdict.
type FetchFunc func(ctx context.Context, unitName string) (Result, error)

// Aggregator turns per-unit verdicts into one gate decision. A unit is
// acceptable unless its verdict is FAILED; NO_DATA and PENDING mean the
// first analysis has not landed and are not blockers. The gate passes
// when at most one unit is FAILED, tolerating a single flaky analysis
// without letting a systemic regression through.
//
// Fetch errors downgrade the affected unit to FAILED rather than
// aborting aggregation, and the Aggregator never retries: it reports
// what it observed at call time.
type Aggregator struct {
	fetch       FetchFunc
	concurrency int
	timeout     time.Duration
}

func NewAggregator(fetch FetchFunc, concurrency int, timeout time.Duration) *Aggregator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Aggregator{fetch: fetch, concurrency: concurrency, timeout: timeout}
}

// Decide fetches verdicts for all units concurrently (bounded by the
// worker pool) and applies the threshold policy. The whole aggregation
// runs under its own timeout; a stuck fetch counts as FAILED for its
// unit, not as an indefinite hang.
func (a *Aggregator) Decide(ctx context.Context, units []string) (Decision, []Result) {
	logger := logging.Ctx(ctx)
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	results := make([]Result, len(units))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, unit := range units {
		g.Go(func() error {
			result, err := a.fetch(gctx, unit)
			if err != nil {
				logger.Warn().Str("unit", unit).Err(err).Msg("Verdict fetch failed, counting unit as FAILED")
				result = Result{UnitName: unit, Status: StatusFailed, FetchedAt: time.Now()}
			}
			results[i] = result
			return nil
		})
	}
	// Workers never return errors; Wait just joins them.
	g.Wait()

	failed := 0
	for _, r := range results {
		if r.Status == StatusFailed {
			failed++
		}
	}

	decision := DecisionPass
	if failed > 1 {
		decision = DecisionFail
	}
	logger.Info().
		Int("units", len(units)).
		Int("failed", failed).
		Str("decision", string(decision)).
		Msg("Quality gate decided")
	return decision, results
}
