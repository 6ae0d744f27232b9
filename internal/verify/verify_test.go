package verify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagehand-sh/stagehand/internal/runtime"
)

// fakeRuntime serves a scripted health sequence per unit, repeating the
// last entry once the script runs out.
type fakeRuntime struct {
	runtime.Runtime

	mu     sync.Mutex
	script map[string][]runtime.Health
	errs   map[string]error
}

func (f *fakeRuntime) InspectHealth(ctx context.Context, unit string) (runtime.Health, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[unit]; err != nil {
		return runtime.Unknown, err
	}
	seq := f.script[unit]
	if len(seq) == 0 {
		return runtime.Unknown, nil
	}
	health := seq[0]
	if len(seq) > 1 {
		f.script[unit] = seq[1:]
	}
	return health, nil
}

func TestWaitHealthyAllHealthy(t *testing.T) {
	rt := &fakeRuntime{script: map[string][]runtime.Health{
		"products": {runtime.Healthy},
		"users":    {runtime.Healthy},
	}}
	v := New(rt, time.Millisecond, 100*time.Millisecond)

	require.NoError(t, v.WaitHealthy(context.Background(), []string{"products", "users"}))
}

func TestWaitHealthyConvergesAfterWarmup(t *testing.T) {
	rt := &fakeRuntime{script: map[string][]runtime.Health{
		"products": {runtime.Unhealthy, runtime.Unhealthy, runtime.Healthy},
		"users":    {runtime.Healthy},
	}}
	v := New(rt, time.Millisecond, time.Second)

	require.NoError(t, v.WaitHealthy(context.Background(), []string{"products", "users"}))
}

func TestWaitHealthyTimeoutNamesUnhealthyUnits(t *testing.T) {
	rt := &fakeRuntime{script: map[string][]runtime.Health{
		"products": {runtime.Healthy},
		"media":    {runtime.Unhealthy},
		"users":    {runtime.Unhealthy},
	}}
	v := New(rt, time.Millisecond, 20*time.Millisecond)

	err := v.WaitHealthy(context.Background(), []string{"products", "users", "media"})

	var timeoutErr *ReadinessTimeout
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, []string{"media", "users"}, timeoutErr.Unhealthy, "sorted, healthy units excluded")
	assert.Equal(t, 20*time.Millisecond, timeoutErr.Deadline)
}

func TestWaitHealthyInspectErrorCountsAsUnhealthy(t *testing.T) {
	rt := &fakeRuntime{
		script: map[string][]runtime.Health{"products": {runtime.Healthy}},
		errs:   map[string]error{"users": errors.New("no such container")},
	}
	v := New(rt, time.Millisecond, 20*time.Millisecond)

	err := v.WaitHealthy(context.Background(), []string{"products", "users"})

	var timeoutErr *ReadinessTimeout
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, []string{"users"}, timeoutErr.Unhealthy)
}

func TestWaitHealthyCancellationSharesTimeoutPath(t *testing.T) {
	rt := &fakeRuntime{script: map[string][]runtime.Health{
		"products": {runtime.Unhealthy},
	}}
	v := New(rt, time.Hour, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := v.WaitHealthy(ctx, []string{"products"})

	var timeoutErr *ReadinessTimeout
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, []string{"products"}, timeoutErr.Unhealthy)
}
