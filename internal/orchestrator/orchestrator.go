// Package orchestrator drives one transaction at a time through build, sign,
// submit and gateway registration, and exposes the execution state to
// observers.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/altuslabsxyz/txflow/internal/store"
	"github.com/altuslabsxyz/txflow/pkg/gateway"
	"github.com/altuslabsxyz/txflow/pkg/txhash"
	"github.com/altuslabsxyz/txflow/pkg/wallet"
)

// Gateway is the part of the gateway client the orchestrator needs.
type Gateway interface {
	BuildTx(ctx context.Context, req gateway.BuildRequest) (*gateway.UnsignedTx, error)
	RegisterTx(ctx context.Context, req gateway.RegisterRequest) (*gateway.RegisterResponse, error)
}

// Journal records broadcast transactions before registration.
type Journal interface {
	Create(ctx context.Context, sub *store.Submission) error
	Update(ctx context.Context, sub *store.Submission) error
}

// Tracker is told about newly registered transactions so pending lists can
// show them before the gateway does.
type Tracker interface {
	Track(status gateway.TxStatus)
}

// metadata keys added to the registration.
const (
	MetaContent       = "content"
	MetaContentHashes = "content_hashes"
	apiHashesKey      = "hashes"
)

// Orchestrator runs at most one execution at a time.
type Orchestrator struct {
	gw      Gateway
	wallet  wallet.Wallet
	journal Journal
	tracker Tracker
	logger  *slog.Logger
	now     func() time.Time

	mu        sync.Mutex
	state     State
	result    *Result
	err       error
	observers map[int]func(Transition)
	nextObs   int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithJournal records every broadcast in j.
func WithJournal(j Journal) Option {
	return func(o *Orchestrator) { o.journal = j }
}

// WithTracker reports registered transactions to t.
func WithTracker(t Tracker) Option {
	return func(o *Orchestrator) { o.tracker = t }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an idle orchestrator.
func New(gw Gateway, w wallet.Wallet, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		gw:        gw,
		wallet:    w,
		logger:    slog.Default(),
		now:       time.Now,
		state:     StateIdle,
		observers: make(map[int]func(Transition)),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Result returns the last successful result, or nil.
func (o *Orchestrator) Result() *Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.result
}

// Err returns the last execution error, or nil.
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// Observe registers fn for every state transition. The returned function
// unregisters it.
func (o *Orchestrator) Observe(fn func(Transition)) (cancel func()) {
	o.mu.Lock()
	id := o.nextObs
	o.nextObs++
	o.observers[id] = fn
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.observers, id)
			o.mu.Unlock()
		})
	}
}

// Reset returns a finished orchestrator to idle. It does nothing while an
// execution is in flight.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	if o.state.InFlight() {
		o.mu.Unlock()
		o.logger.Debug("reset ignored while in flight")
		return
	}
	from := o.state
	o.state = StateIdle
	o.result = nil
	o.err = nil
	fns := o.observerFuncs()
	o.mu.Unlock()

	if from != StateIdle {
		o.emit(fns, from, StateIdle)
	}
}

// Execute runs req to completion. Validation errors are returned without
// any state change. A call while another execution is in flight returns
// ErrInFlight and has no other effect. Otherwise exactly one of OnSuccess
// or OnError is called before Execute returns, and the same outcome is
// returned.
func (o *Orchestrator) Execute(ctx context.Context, req *Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	req = req.clone()

	o.mu.Lock()
	if o.state.InFlight() {
		o.mu.Unlock()
		o.logger.Warn("execute ignored, already in flight", "txType", req.TxType)
		return nil, ErrInFlight
	}
	// Claim the orchestrator before releasing the lock.
	from := o.state
	o.state = StateFetching
	o.result = nil
	o.err = nil
	fns := o.observerFuncs()
	o.mu.Unlock()
	o.emit(fns, from, StateFetching)

	res, err := o.run(ctx, req)
	if err != nil {
		o.fail(req, err)
		return nil, err
	}

	o.mu.Lock()
	o.result = res
	o.mu.Unlock()
	o.setState(StateSuccess)

	o.logger.Info("transaction registered",
		"txHash", res.TxHash,
		"txType", res.TxType,
		"needsConfirmation", res.NeedsConfirmation())
	if req.OnSuccess != nil {
		req.OnSuccess(res)
	}
	return res, nil
}

func (o *Orchestrator) run(ctx context.Context, req *Request) (*Result, error) {
	local, err := localHashes(req)
	if err != nil {
		return nil, &BuildError{Err: err}
	}

	// fetching
	changeAddr, err := o.wallet.GetChangeAddress(ctx)
	if err != nil {
		return nil, &BuildError{Err: err}
	}
	usedAddrs, err := o.wallet.GetUsedAddresses(ctx)
	if err != nil {
		return nil, &BuildError{Err: err}
	}
	unsigned, err := o.gw.BuildTx(ctx, gateway.BuildRequest{
		TxType:        req.TxType,
		Params:        req.Params,
		ChangeAddress: changeAddr,
		UsedAddresses: usedAddrs,
	})
	if err != nil {
		return nil, &BuildError{Err: err}
	}
	mismatches := o.checkHashes(local, stringMap(unsigned.ContentHashes), "build")

	// signing
	o.setState(StateSigning)
	signed, err := o.wallet.SignTx(ctx, unsigned)
	if err != nil {
		return nil, &SignError{Declined: wallet.IsDeclined(err), Err: err}
	}
	if signed.TxType == "" {
		signed.TxType = req.TxType
	}

	// submitting
	o.setState(StateSubmitting)
	txHash, err := o.wallet.SubmitTx(ctx, signed)
	if err != nil {
		return nil, &SubmitError{Err: err}
	}
	o.logger.Info("transaction broadcast", "txHash", txHash, "txType", req.TxType)

	meta := registrationMetadata(req, local)
	sub := o.journalSubmitted(ctx, txHash, req.TxType, meta)

	reg, err := o.gw.RegisterTx(ctx, gateway.RegisterRequest{
		TxHash:   txHash,
		TxType:   req.TxType,
		Metadata: meta,
	})
	if err != nil {
		o.journalUntracked(ctx, sub, err)
		return nil, &UntrackedError{TxHash: txHash, Err: err}
	}

	res := &Result{
		TxHash:                      txHash,
		TxType:                      req.TxType,
		RequiresDBUpdate:            reg.RequiresDBUpdate,
		RequiresOnChainConfirmation: reg.RequiresOnChainConfirmation,
		APIResponse:                 reg.APIResponse,
		ContentHashes:               local,
	}
	if echoed, ok := reg.APIResponse[apiHashesKey].(map[string]any); ok {
		mismatches = append(mismatches, o.checkHashes(local, echoed, "register")...)
	}
	res.HashMismatches = mismatches

	o.journalRegistered(ctx, sub, res)
	if o.tracker != nil && res.NeedsConfirmation() {
		o.tracker.Track(gateway.TxStatus{
			TxHash: txHash,
			TxType: req.TxType,
			State:  gateway.TxStatePending,
		})
	}
	return res, nil
}

func (o *Orchestrator) fail(req *Request, err error) {
	o.mu.Lock()
	o.err = err
	o.mu.Unlock()
	o.setState(StateError)

	if hash, untracked := IsUntracked(err); untracked {
		o.logger.Error("transaction on-chain but untracked", "txHash", hash, "txType", req.TxType, "error", err)
	} else {
		o.logger.Warn("transaction failed", "txType", req.TxType, "error", err)
	}
	if req.OnError != nil {
		req.OnError(err)
	}
}

func (o *Orchestrator) setState(to State) {
	o.mu.Lock()
	from := o.state
	o.state = to
	fns := o.observerFuncs()
	o.mu.Unlock()

	o.logger.Debug("state transition", "from", from, "to", to)
	o.emit(fns, from, to)
}

func (o *Orchestrator) observerFuncs() []func(Transition) {
	fns := make([]func(Transition), 0, len(o.observers))
	for i := 0; i < o.nextObs; i++ {
		if fn, ok := o.observers[i]; ok {
			fns = append(fns, fn)
		}
	}
	return fns
}

func (o *Orchestrator) emit(fns []func(Transition), from, to State) {
	tr := Transition{From: from, To: to, At: o.now()}
	for _, fn := range fns {
		fn(tr)
	}
}

// checkHashes logs and returns fingerprint mismatches. They never fail the
// execution.
func (o *Orchestrator) checkHashes(local map[string]string, echoed map[string]any, stage string) []txhash.Mismatch {
	mismatches := txhash.Compare(local, echoed)
	for _, m := range mismatches {
		o.logger.Warn("content hash mismatch",
			"stage", stage,
			"key", m.Key,
			"local", m.Local,
			"gateway", m.Echoed)
	}
	return mismatches
}

// journalSubmitted records the exact registration metadata so a failed
// registration can be replayed later.
func (o *Orchestrator) journalSubmitted(ctx context.Context, txHash, txType string, meta map[string]any) *store.Submission {
	if o.journal == nil {
		return nil
	}
	sub := &store.Submission{
		TxHash:    txHash,
		TxType:    txType,
		Metadata:  meta,
		Phase:     store.PhaseSubmitted,
		CreatedAt: o.now().UTC(),
	}
	if err := o.journal.Create(ctx, sub); err != nil {
		o.logger.Warn("failed to journal submission", "txHash", txHash, "error", err)
		return nil
	}
	return sub
}

func (o *Orchestrator) journalUntracked(ctx context.Context, sub *store.Submission, regErr error) {
	if sub == nil {
		return
	}
	sub.Phase = store.PhaseUntracked
	sub.Attempts++
	sub.LastError = regErr.Error()
	if err := o.journal.Update(ctx, sub); err != nil {
		o.logger.Warn("failed to journal untracked submission", "txHash", sub.TxHash, "error", err)
	}
}

func (o *Orchestrator) journalRegistered(ctx context.Context, sub *store.Submission, res *Result) {
	if sub == nil {
		return
	}
	sub.Phase = store.PhaseRegistered
	sub.Attempts++
	sub.LastError = ""
	sub.RequiresDBUpdate = res.RequiresDBUpdate
	sub.RequiresOnChainConfirmation = res.RequiresOnChainConfirmation
	if err := o.journal.Update(ctx, sub); err != nil {
		o.logger.Warn("failed to journal registration", "txHash", sub.TxHash, "error", err)
	}
}

// localHashes fingerprints params and every content payload.
func localHashes(req *Request) (map[string]string, error) {
	out := make(map[string]string, len(req.Content)+1)
	h, err := txhash.Compute(req.Params)
	if err != nil {
		return nil, err
	}
	out[ParamsHashKey] = h
	for name, payload := range req.Content {
		h, err := txhash.Compute(payload)
		if err != nil {
			return nil, err
		}
		out[name] = h
	}
	return out, nil
}

func registrationMetadata(req *Request, local map[string]string) map[string]any {
	md := cloneMap(req.Metadata)
	if len(req.Content) == 0 {
		return md
	}
	if md == nil {
		md = make(map[string]any, 2)
	}
	md[MetaContent] = req.Content
	hashes := make(map[string]any, len(req.Content))
	for name := range req.Content {
		hashes[name] = local[name]
	}
	md[MetaContentHashes] = hashes
	return md
}

func stringMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
