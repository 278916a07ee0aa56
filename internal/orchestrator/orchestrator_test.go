package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altuslabsxyz/txflow/internal/store"
	"github.com/altuslabsxyz/txflow/pkg/gateway"
	"github.com/altuslabsxyz/txflow/pkg/txhash"
	"github.com/altuslabsxyz/txflow/pkg/wallet"
)

// mockGateway implements Gateway for testing.
type mockGateway struct {
	mu        sync.Mutex
	builds    []gateway.BuildRequest
	registers []gateway.RegisterRequest

	buildErr    error
	registerErr error
	registerRes gateway.RegisterResponse
	buildHashes map[string]string
	echoHashes  map[string]any
}

func (m *mockGateway) BuildTx(ctx context.Context, req gateway.BuildRequest) (*gateway.UnsignedTx, error) {
	m.mu.Lock()
	m.builds = append(m.builds, req)
	m.mu.Unlock()
	if m.buildErr != nil {
		return nil, m.buildErr
	}
	return &gateway.UnsignedTx{TxType: req.TxType, Payload: "0a0b0c", ContentHashes: m.buildHashes}, nil
}

func (m *mockGateway) RegisterTx(ctx context.Context, req gateway.RegisterRequest) (*gateway.RegisterResponse, error) {
	m.mu.Lock()
	m.registers = append(m.registers, req)
	m.mu.Unlock()
	if m.registerErr != nil {
		return nil, m.registerErr
	}
	res := m.registerRes
	if m.echoHashes != nil {
		res.APIResponse = map[string]any{"hashes": m.echoHashes}
	}
	return &res, nil
}

func (m *mockGateway) registerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.registers)
}

type mockTracker struct {
	mu      sync.Mutex
	tracked []gateway.TxStatus
}

func (m *mockTracker) Track(st gateway.TxStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracked = append(m.tracked, st)
}

type fixture struct {
	gw      *mockGateway
	wallet  *wallet.Mock
	journal *store.MemoryStore
	tracker *mockTracker
	orch    *Orchestrator

	mu     sync.Mutex
	states []State
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		gw:      &mockGateway{registerRes: gateway.RegisterResponse{RequiresDBUpdate: true}},
		wallet:  wallet.NewMock(),
		journal: store.NewMemoryStore(),
		tracker: &mockTracker{},
	}
	f.wallet.SubmitHash = "abc123"
	f.orch = New(f.gw, f.wallet, WithJournal(f.journal), WithTracker(f.tracker))
	f.orch.Observe(func(tr Transition) {
		f.mu.Lock()
		f.states = append(f.states, tr.To)
		f.mu.Unlock()
	})
	return f
}

func (f *fixture) visited() []State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]State(nil), f.states...)
}

type callbacks struct {
	successes []*Result
	errs      []error
}

func (c *callbacks) request(txType string) *Request {
	return &Request{
		TxType:    txType,
		Params:    map[string]any{"amount": 5, "asset": "token"},
		Metadata:  map[string]any{"task_id": "t-1"},
		OnSuccess: func(r *Result) { c.successes = append(c.successes, r) },
		OnError:   func(err error) { c.errs = append(c.errs, err) },
	}
}

func TestExecute_MintScenario(t *testing.T) {
	f := newFixture(t)
	cb := &callbacks{}

	res, err := f.orch.Execute(context.Background(), cb.request("MINT"))
	require.NoError(t, err)

	assert.Equal(t, []State{StateFetching, StateSigning, StateSubmitting, StateSuccess}, f.visited())
	assert.Equal(t, StateSuccess, f.orch.State())
	assert.Equal(t, "abc123", res.TxHash)
	assert.True(t, res.NeedsConfirmation())
	assert.Same(t, res, f.orch.Result())
	assert.NoError(t, f.orch.Err())

	require.Len(t, cb.successes, 1)
	assert.Empty(t, cb.errs)

	require.Len(t, f.gw.builds, 1)
	assert.Equal(t, "addr_dev_0001", f.gw.builds[0].ChangeAddress)
	assert.Equal(t, []string{"addr_dev_0001"}, f.gw.builds[0].UsedAddresses)
	require.Len(t, f.gw.registers, 1)
	assert.Equal(t, "t-1", f.gw.registers[0].Metadata["task_id"])

	sub, err := f.journal.Get(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, store.PhaseRegistered, sub.Phase)
	assert.True(t, sub.RequiresDBUpdate)

	require.Len(t, f.tracker.tracked, 1)
	assert.Equal(t, gateway.TxStatePending, f.tracker.tracked[0].State)
}

func TestExecute_UserDeclined(t *testing.T) {
	f := newFixture(t)
	f.wallet.SignErr = wallet.ErrUserDeclined
	cb := &callbacks{}

	res, err := f.orch.Execute(context.Background(), cb.request("MINT"))
	require.Error(t, err)
	assert.Nil(t, res)

	var signErr *SignError
	require.ErrorAs(t, err, &signErr)
	assert.True(t, signErr.Declined)
	assert.Equal(t, "You declined the signing request.", UserMessage(err))

	assert.Equal(t, []State{StateFetching, StateSigning, StateError}, f.visited())
	assert.Empty(t, f.wallet.Submissions())
	assert.Equal(t, 0, f.gw.registerCount())
	assert.Nil(t, f.orch.Result())
	assert.Equal(t, err, f.orch.Err())
	require.Len(t, cb.errs, 1)
	assert.Empty(t, cb.successes)
}

func TestExecute_WalletFaultIsNotDeclined(t *testing.T) {
	f := newFixture(t)
	f.wallet.SignErr = errors.New("device disconnected")

	_, err := f.orch.Execute(context.Background(), (&callbacks{}).request("MINT"))
	var signErr *SignError
	require.ErrorAs(t, err, &signErr)
	assert.False(t, signErr.Declined)
	assert.Contains(t, UserMessage(err), "device disconnected")
	assert.True(t, IsRetryable(err))
}

func TestExecute_BuildFailure(t *testing.T) {
	f := newFixture(t)
	f.gw.buildErr = errors.New("bad params")
	cb := &callbacks{}

	_, err := f.orch.Execute(context.Background(), cb.request("MINT"))
	var buildErr *BuildError
	require.ErrorAs(t, err, &buildErr)
	assert.Equal(t, []State{StateFetching, StateError}, f.visited())
	assert.Equal(t, 0, f.wallet.SignCount())
	assert.Len(t, cb.errs, 1)
}

func TestExecute_SubmitFailure(t *testing.T) {
	f := newFixture(t)
	f.wallet.SubmitErr = errors.New("mempool full")
	cb := &callbacks{}

	_, err := f.orch.Execute(context.Background(), cb.request("MINT"))
	var submitErr *SubmitError
	require.ErrorAs(t, err, &submitErr)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, 0, f.gw.registerCount())
	assert.Equal(t, []State{StateFetching, StateSigning, StateSubmitting, StateError}, f.visited())

	subs, err := f.journal.List(context.Background(), store.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, subs, "nothing reached the chain")
}

func TestExecute_RegistrationFailureIsUntracked(t *testing.T) {
	f := newFixture(t)
	f.gw.registerErr = &gateway.Error{StatusCode: 503, Message: "unavailable"}
	cb := &callbacks{}

	_, err := f.orch.Execute(context.Background(), cb.request("MINT"))
	require.Error(t, err)

	hash, untracked := IsUntracked(err)
	require.True(t, untracked)
	assert.Equal(t, "abc123", hash)
	assert.False(t, IsRetryable(err))
	assert.Contains(t, UserMessage(err), "abc123")
	assert.Len(t, f.wallet.Submissions(), 1)
	require.Len(t, cb.errs, 1)

	sub, err := f.journal.Get(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, store.PhaseUntracked, sub.Phase)
	assert.Equal(t, 1, sub.Attempts)
	assert.Contains(t, sub.LastError, "unavailable")
	assert.Empty(t, f.tracker.tracked)
}

func TestExecute_ConcurrentCallIsRejected(t *testing.T) {
	f := newFixture(t)
	inSigning := make(chan struct{})
	release := make(chan struct{})
	f.wallet.BeforeSign = func(ctx context.Context) error {
		close(inSigning)
		<-release
		return nil
	}

	first := (&callbacks{}).request("MINT")
	done := make(chan error, 1)
	go func() {
		_, err := f.orch.Execute(context.Background(), first)
		done <- err
	}()
	<-inSigning

	cb := &callbacks{}
	res, err := f.orch.Execute(context.Background(), cb.request("MINT"))
	assert.ErrorIs(t, err, ErrInFlight)
	assert.Nil(t, res)
	assert.Empty(t, cb.errs, "rejected call fires no callbacks")
	assert.Empty(t, cb.successes)
	assert.Equal(t, StateSigning, f.orch.State())

	// Reset while in flight is ignored.
	f.orch.Reset()
	assert.Equal(t, StateSigning, f.orch.State())

	close(release)
	require.NoError(t, <-done)
	assert.Len(t, f.wallet.Submissions(), 1)
	assert.Len(t, f.gw.builds, 1)
}

func TestExecute_ValidationIsSynchronous(t *testing.T) {
	f := newFixture(t)
	cb := &callbacks{}

	req := cb.request("")
	_, err := f.orch.Execute(context.Background(), req)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "txType", vErr.Field)

	req = cb.request("MINT")
	req.Params["bad"] = make(chan int)
	_, err = f.orch.Execute(context.Background(), req)
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "params", vErr.Field)

	assert.Empty(t, f.visited())
	assert.Equal(t, StateIdle, f.orch.State())
	assert.Empty(t, f.gw.builds)
	assert.Empty(t, cb.errs)
}

func TestExecute_NoConfirmationNeeded(t *testing.T) {
	f := newFixture(t)
	f.gw.registerRes = gateway.RegisterResponse{}

	res, err := f.orch.Execute(context.Background(), (&callbacks{}).request("PROFILE"))
	require.NoError(t, err)
	assert.False(t, res.NeedsConfirmation())
	assert.Empty(t, f.tracker.tracked)
}

func TestExecute_HashMismatchOnlyWarns(t *testing.T) {
	f := newFixture(t)
	evidence := map[string]any{"url": "https://example.com/proof", "task_id": "t-1"}
	f.gw.echoHashes = map[string]any{"evidence": "ffff"}
	f.gw.buildHashes = map[string]string{"params": txhash.MustCompute(map[string]any{"asset": "token", "amount": 5})}

	req := (&callbacks{}).request("SUBMIT_EVIDENCE")
	req.Content = map[string]any{"evidence": evidence}

	res, err := f.orch.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, txhash.MustCompute(evidence), res.ContentHashes["evidence"])
	require.Len(t, res.HashMismatches, 1)
	assert.Equal(t, "evidence", res.HashMismatches[0].Key)

	md := f.gw.registers[0].Metadata
	assert.Equal(t, evidence, md[MetaContent].(map[string]any)["evidence"])
	assert.Equal(t, res.ContentHashes["evidence"], md[MetaContentHashes].(map[string]any)["evidence"])
}

func TestExecute_RequestIsCopied(t *testing.T) {
	f := newFixture(t)
	req := (&callbacks{}).request("MINT")
	f.wallet.BeforeSign = func(ctx context.Context) error {
		req.Params["amount"] = 999
		return nil
	}

	_, err := f.orch.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 5, f.gw.builds[0].Params["amount"])
}

func TestExecute_NestedRequestValuesAreCopied(t *testing.T) {
	f := newFixture(t)
	task := map[string]any{"title": "Build docs", "tags": []any{"a"}}
	req := (&callbacks{}).request("MINT")
	req.Params["task"] = task
	req.Metadata["labels"] = map[string]string{"team": "core"}
	req.Content = map[string]any{"task": task}
	want := txhash.MustCompute(task)

	f.wallet.BeforeSign = func(ctx context.Context) error {
		task["title"] = "changed"
		task["tags"].([]any)[0] = "z"
		req.Metadata["labels"].(map[string]string)["team"] = "other"
		return nil
	}

	res, err := f.orch.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, want, res.ContentHashes["task"])

	built := f.gw.builds[0].Params["task"].(map[string]any)
	assert.Equal(t, "Build docs", built["title"])
	assert.Equal(t, []any{"a"}, built["tags"])

	md := f.gw.registers[0].Metadata
	assert.Equal(t, "Build docs", md[MetaContent].(map[string]any)["task"].(map[string]any)["title"])
	assert.Equal(t, map[string]any{"team": "core"}, md["labels"])
}

func TestValidate_ReservedContentName(t *testing.T) {
	req := (&callbacks{}).request("MINT")
	req.Content = map[string]any{ParamsHashKey: map[string]any{"x": 1}}

	var vErr *ValidationError
	require.ErrorAs(t, req.Validate(), &vErr)
	assert.Equal(t, "content.params", vErr.Field)
}

func TestReset(t *testing.T) {
	f := newFixture(t)
	f.wallet.SignErr = wallet.ErrUserDeclined

	_, err := f.orch.Execute(context.Background(), (&callbacks{}).request("MINT"))
	require.Error(t, err)
	require.Equal(t, StateError, f.orch.State())

	f.orch.Reset()
	assert.Equal(t, StateIdle, f.orch.State())
	assert.NoError(t, f.orch.Err())

	// A finished orchestrator accepts a new execution.
	f.wallet.SignErr = nil
	_, err = f.orch.Execute(context.Background(), (&callbacks{}).request("MINT"))
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, f.orch.State())
}

func TestObserve_Cancel(t *testing.T) {
	f := newFixture(t)
	var seen []Transition
	cancel := f.orch.Observe(func(tr Transition) { seen = append(seen, tr) })
	cancel()
	cancel()

	_, err := f.orch.Execute(context.Background(), (&callbacks{}).request("MINT"))
	require.NoError(t, err)
	assert.Empty(t, seen)
}

func TestWithClock(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	o := New(&mockGateway{}, wallet.NewMock(), WithClock(func() time.Time { return fixed }))
	var at []time.Time
	o.Observe(func(tr Transition) { at = append(at, tr.At) })

	_, err := o.Execute(context.Background(), &Request{TxType: "MINT"})
	require.NoError(t, err)
	require.NotEmpty(t, at)
	assert.Equal(t, fixed, at[0])
}
