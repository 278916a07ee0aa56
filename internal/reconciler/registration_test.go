package reconciler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altuslabsxyz/txflow/internal/store"
	"github.com/altuslabsxyz/txflow/pkg/gateway"
)

type mockRegistrar struct {
	mu    sync.Mutex
	calls []gateway.RegisterRequest
	fails int
	err   error
	res   gateway.RegisterResponse
}

func (m *mockRegistrar) RegisterTx(ctx context.Context, req gateway.RegisterRequest) (*gateway.RegisterResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	if m.fails != 0 {
		if m.fails > 0 {
			m.fails--
		}
		return nil, m.err
	}
	res := m.res
	return &res, nil
}

func (m *mockRegistrar) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type recordingTracker struct {
	mu      sync.Mutex
	tracked []gateway.TxStatus
}

func (r *recordingTracker) Track(s gateway.TxStatus) {
	r.mu.Lock()
	r.tracked = append(r.tracked, s)
	r.mu.Unlock()
}

func seed(t *testing.T, st store.Store, hash string, phase store.Phase, attempts int) {
	t.Helper()
	require.NoError(t, st.Create(context.Background(), &store.Submission{
		TxHash:   hash,
		TxType:   "MINT",
		Metadata: map[string]any{"task_id": "t-1"},
		Phase:    phase,
		Attempts: attempts,
	}))
}

func TestReconcile_RegistersUntracked(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st, "h1", store.PhaseUntracked, 1)
	gw := &mockRegistrar{res: gateway.RegisterResponse{RequiresOnChainConfirmation: true}}
	tr := &recordingTracker{}
	c := NewRegistrationController(st, gw, WithTracker(tr))

	require.NoError(t, c.Reconcile(context.Background(), "h1"))

	require.Len(t, gw.calls, 1)
	assert.Equal(t, "MINT", gw.calls[0].TxType)
	assert.Equal(t, "t-1", gw.calls[0].Metadata["task_id"])

	sub, err := st.Get(context.Background(), "h1")
	require.NoError(t, err)
	assert.Equal(t, store.PhaseRegistered, sub.Phase)
	assert.Equal(t, 2, sub.Attempts)
	assert.Empty(t, sub.LastError)
	assert.True(t, sub.RequiresOnChainConfirmation)

	require.Len(t, tr.tracked, 1)
	assert.Equal(t, gateway.TxStatePending, tr.tracked[0].State)
}

func TestReconcile_SkipsOtherPhases(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st, "reg", store.PhaseRegistered, 1)
	seed(t, st, "sub", store.PhaseSubmitted, 0)
	gw := &mockRegistrar{}
	c := NewRegistrationController(st, gw)

	require.NoError(t, c.Reconcile(context.Background(), "reg"))
	require.NoError(t, c.Reconcile(context.Background(), "sub"))
	require.NoError(t, c.Reconcile(context.Background(), "missing"))
	assert.Zero(t, gw.count())
}

func TestReconcile_FailureRecordsAttempt(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st, "h1", store.PhaseUntracked, 1)
	gw := &mockRegistrar{fails: -1, err: errors.New("gateway down")}
	c := NewRegistrationController(st, gw, WithMaxAttempts(3))

	err := c.Reconcile(context.Background(), "h1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway down")

	sub, _ := st.Get(context.Background(), "h1")
	assert.Equal(t, store.PhaseUntracked, sub.Phase)
	assert.Equal(t, 2, sub.Attempts)
	assert.Equal(t, "gateway down", sub.LastError)

	// The last allowed attempt gives up without asking for a requeue.
	require.NoError(t, c.Reconcile(context.Background(), "h1"))
	sub, _ = st.Get(context.Background(), "h1")
	assert.Equal(t, 3, sub.Attempts)
	assert.False(t, c.Pending(sub))

	require.NoError(t, c.Reconcile(context.Background(), "h1"))
	assert.Equal(t, 2, gw.count())
}

func TestResync(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st, "ok", store.PhaseUntracked, 1)
	seed(t, st, "done", store.PhaseRegistered, 1)
	seed(t, st, "spent", store.PhaseUntracked, DefaultMaxAttempts)
	gw := &mockRegistrar{}
	c := NewRegistrationController(st, gw)

	out, err := c.Resync(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "ok", out[0].TxHash)
	assert.NoError(t, out[0].Err)
	assert.Equal(t, 2, out[0].Attempts)
}

type countingController struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]int
}

func (c *countingController) Reconcile(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[key]++
	if c.fail[key] > 0 {
		c.fail[key]--
		return errors.New("transient")
	}
	return nil
}

func (c *countingController) get(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[key]
}

func TestManager_RetriesWithBackOff(t *testing.T) {
	ctrl := &countingController{calls: map[string]int{}, fail: map[string]int{"a": 2}}
	m := NewManager(ctrl)
	m.SetBackOff(func() backoff.BackOff { return backoff.NewConstantBackOff(5 * time.Millisecond) })

	ctx, cancel := context.WithCancel(context.Background())
	go m.Start(ctx, 2)

	m.Enqueue("a")
	m.Enqueue("b")

	assert.Eventually(t, func() bool { return ctrl.get("a") == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, ctrl.get("b"))

	cancel()
	m.Stop()
}

func TestManager_GivesUpWhenBackOffStops(t *testing.T) {
	ctrl := &countingController{calls: map[string]int{}, fail: map[string]int{"a": 100}}
	m := NewManager(ctrl)
	m.SetBackOff(func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 2)
	})

	ctx, cancel := context.WithCancel(context.Background())
	go m.Start(ctx, 1)
	m.Enqueue("a")

	assert.Eventually(t, func() bool { return ctrl.get("a") == 3 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 3, ctrl.get("a"))

	cancel()
	m.Stop()
}

func TestManager_StopWithoutStart(t *testing.T) {
	m := NewManager(&countingController{calls: map[string]int{}})
	m.Stop()
	assert.True(t, m.Queue().ShuttingDown())
}

func TestRun_RegistersExistingAndNewSubmissions(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st, "old", store.PhaseUntracked, 1)
	gw := &mockRegistrar{}
	c := NewRegistrationController(st, gw)
	m := NewManager(c)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- Run(ctx, st, c, m, 1) }()

	phase := func(hash string) store.Phase {
		sub, err := st.Get(context.Background(), hash)
		if err != nil {
			return ""
		}
		return sub.Phase
	}
	assert.Eventually(t, func() bool { return phase("old") == store.PhaseRegistered }, time.Second, 5*time.Millisecond)

	seed(t, st, "new", store.PhaseUntracked, 1)
	assert.Eventually(t, func() bool { return phase("new") == store.PhaseRegistered }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestManager_TracksUntilDone(t *testing.T) {
	ctrl := &countingController{calls: map[string]int{}, fail: map[string]int{"a": 1}}
	m := NewManager(ctrl)
	m.SetBackOff(func() backoff.BackOff { return backoff.NewConstantBackOff(50 * time.Millisecond) })

	m.Enqueue("a")
	m.Enqueue("a")
	assert.True(t, m.Tracking("a"))
	assert.Equal(t, 1, m.Queue().Len())

	ctx, cancel := context.WithCancel(context.Background())
	go m.Start(ctx, 1)

	assert.Eventually(t, func() bool { return ctrl.get("a") == 1 }, time.Second, time.Millisecond)
	// Waiting out the retry delay; another Enqueue must not jump the queue.
	m.Enqueue("a")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, ctrl.get("a"))

	assert.Eventually(t, func() bool { return ctrl.get("a") == 2 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return !m.Tracking("a") }, time.Second, 5*time.Millisecond)

	cancel()
	m.Stop()
}

func TestRun_FailedRegistrationWaitsForBackOff(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st, "h1", store.PhaseUntracked, 1)
	gw := &mockRegistrar{fails: -1, err: errors.New("gateway down")}
	c := NewRegistrationController(st, gw)
	m := NewManager(c)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(500*time.Millisecond, cancel)
	require.NoError(t, Run(ctx, st, c, m, 2))

	// The default policy waits 2s before the first retry.
	assert.Equal(t, 1, gw.count())
	sub, err := st.Get(context.Background(), "h1")
	require.NoError(t, err)
	assert.Equal(t, 2, sub.Attempts)
	assert.Equal(t, store.PhaseUntracked, sub.Phase)
}
