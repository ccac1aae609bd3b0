package admission

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/patchd/internal/faults"
)

func testController(global, perClient int, timeout time.Duration) *Controller {
	return NewController(Config{
		GlobalLimit:    global,
		PerClientLimit: perClient,
		SlotTimeout:    timeout,
	}, nil, nil)
}

func TestTryAdmit_WithinBudget(t *testing.T) {
	c := testController(5, 3, time.Minute)

	slot, err := c.TryAdmit(context.Background(), "client-a", "acme/repo", "sess-1")
	require.NoError(t, err)
	assert.NotEmpty(t, slot.ID)
	assert.Equal(t, 1, c.InFlight())
}

func TestTryAdmit_GlobalLimit(t *testing.T) {
	c := testController(5, 5, time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := c.TryAdmit(ctx, "client-a", "acme/repo", "s")
		require.NoError(t, err)
	}

	_, err := c.TryAdmit(ctx, "client-b", "acme/repo", "s")
	require.Error(t, err)

	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, GlobalLimitExceeded, rej.Reason)
	assert.Equal(t, 5, rej.CurrentCount)
	assert.Equal(t, 5, rej.Limit)
	assert.Equal(t, faults.CodeAdmissionRejected, faults.CodeOf(err))
}

func TestTryAdmit_PerClientLimit(t *testing.T) {
	c := testController(10, 2, time.Minute)
	ctx := context.Background()

	_, err := c.TryAdmit(ctx, "client-a", "acme/repo", "s1")
	require.NoError(t, err)
	_, err = c.TryAdmit(ctx, "client-a", "acme/repo", "s2")
	require.NoError(t, err)

	_, err = c.TryAdmit(ctx, "client-a", "acme/repo", "s3")
	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, PerClientLimitExceeded, rej.Reason)

	// Another client is unaffected.
	_, err = c.TryAdmit(ctx, "client-b", "acme/repo", "s4")
	assert.NoError(t, err)
}

func TestRelease_Idempotent(t *testing.T) {
	c := testController(2, 2, time.Minute)
	ctx := context.Background()

	slot, err := c.TryAdmit(ctx, "client-a", "acme/repo", "s1")
	require.NoError(t, err)

	c.Release(ctx, slot.ID)
	assert.Equal(t, 0, c.InFlight())

	// Double release and unknown ids are no-ops.
	c.Release(ctx, slot.ID)
	c.Release(ctx, "no-such-slot")
	assert.Equal(t, 0, c.InFlight())

	// Capacity was freed exactly once: both slots fit again.
	_, err = c.TryAdmit(ctx, "client-a", "acme/repo", "s2")
	require.NoError(t, err)
	_, err = c.TryAdmit(ctx, "client-a", "acme/repo", "s3")
	require.NoError(t, err)
}

func TestReclaimExpired(t *testing.T) {
	c := testController(2, 2, 50*time.Millisecond)
	ctx := context.Background()

	_, err := c.TryAdmit(ctx, "client-a", "acme/repo", "s1")
	require.NoError(t, err)
	_, err = c.TryAdmit(ctx, "client-a", "acme/repo", "s2")
	require.NoError(t, err)

	t.Run("fresh slots are kept", func(t *testing.T) {
		assert.Equal(t, 0, c.ReclaimExpired(ctx, time.Now()))
	})

	t.Run("stale slots reclaimed on next admission", func(t *testing.T) {
		// No explicit release: simulate crashed sessions.
		time.Sleep(60 * time.Millisecond)
		_, err := c.TryAdmit(ctx, "client-a", "acme/repo", "s3")
		require.NoError(t, err, "expired slots must be reclaimed before the decision")
		assert.Equal(t, 1, c.InFlight())
	})
}

func TestTryAdmit_ConcurrentNeverExceedsLimits(t *testing.T) {
	const global = 5
	c := testController(global, global, time.Minute)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	rejections := 0

	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.TryAdmit(ctx, "client-a", "acme/repo", "s")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				var rej *Rejection
				if errors.As(err, &rej) && rej.Reason == GlobalLimitExceeded {
					rejections++
				}
			} else {
				admitted++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, global, admitted, "exactly the budget admitted")
	assert.Equal(t, 1, rejections, "exactly one global-limit rejection")
	assert.LessOrEqual(t, c.InFlight(), global)
}

func TestMetricsRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	c := NewController(Config{GlobalLimit: 1, PerClientLimit: 1, SlotTimeout: time.Minute}, nil, m)
	ctx := context.Background()

	slot, err := c.TryAdmit(ctx, "client-a", "acme/repo", "s1")
	require.NoError(t, err)
	_, err = c.TryAdmit(ctx, "client-b", "acme/repo", "s2")
	require.Error(t, err)
	c.Release(ctx, slot.ID)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["patchd_admission_inflight_slots"])
	assert.True(t, names["patchd_admission_rejected_total"])
}

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()
	assert.Equal(t, 10, cfg.GlobalLimit)
	assert.Equal(t, 3, cfg.PerClientLimit)
	assert.Equal(t, 10*time.Minute, cfg.SlotTimeout)
}
