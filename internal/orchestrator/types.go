package orchestrator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/altuslabsxyz/txflow/pkg/txhash"
)

// State is the orchestrator's local execution state.
type State string

// States in lifecycle order. success and error are terminal.
const (
	StateIdle       State = "idle"
	StateFetching   State = "fetching"
	StateSigning    State = "signing"
	StateSubmitting State = "submitting"
	StateSuccess    State = "success"
	StateError      State = "error"
)

// IsTerminal reports whether s ends an execution.
func (s State) IsTerminal() bool { return s == StateSuccess || s == StateError }

// InFlight reports whether an execution is running in state s.
func (s State) InFlight() bool { return s != StateIdle && !s.IsTerminal() }

// Transition is one state change, delivered to observers in order.
type Transition struct {
	From State
	To   State
	At   time.Time
}

// ParamsHashKey names the params fingerprint in Result.ContentHashes. It
// cannot be used as a Content name.
const ParamsHashKey = "params"

// Request describes one transaction to build, sign, submit and register.
// It is copied by Execute; later changes by the caller have no effect.
type Request struct {
	TxType string
	Params map[string]any
	// Metadata is forwarded to the gateway on registration.
	Metadata map[string]any
	// Content holds payloads to fingerprint (task descriptors, evidence).
	// Their hashes are sent with the registration and compared against the
	// hashes the gateway computes.
	Content map[string]any

	// OnSuccess is called once when registration succeeds.
	OnSuccess func(*Result)
	// OnError is called once when the execution fails.
	OnError func(error)
}

// Validate checks the request without any network call.
func (r *Request) Validate() error {
	if r == nil {
		return &ValidationError{Field: "request", Reason: "is required"}
	}
	if strings.TrimSpace(r.TxType) == "" {
		return &ValidationError{Field: "txType", Reason: "is required"}
	}
	if _, err := json.Marshal(r.Params); err != nil {
		return &ValidationError{Field: "params", Reason: fmt.Sprintf("not encodable: %v", err)}
	}
	if _, err := json.Marshal(r.Metadata); err != nil {
		return &ValidationError{Field: "metadata", Reason: fmt.Sprintf("not encodable: %v", err)}
	}
	for name, payload := range r.Content {
		if name == ParamsHashKey {
			return &ValidationError{Field: "content." + name, Reason: "is reserved for the params fingerprint"}
		}
		if _, err := txhash.Canonical(payload); err != nil {
			return &ValidationError{Field: "content." + name, Reason: "not hashable"}
		}
	}
	return nil
}

func (r *Request) clone() *Request {
	cp := *r
	cp.Params = cloneMap(r.Params)
	cp.Metadata = cloneMap(r.Metadata)
	cp.Content = cloneMap(r.Content)
	return &cp
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue deep-copies a JSON-shaped value. Generic maps and slices are
// copied element by element; other composite values go through a JSON round
// trip so nothing the caller holds stays shared.
func cloneValue(v any) any {
	switch t := v.(type) {
	case nil, string, bool, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return t
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return v
	}
	return out
}

// Result is the outcome of a successful execution.
type Result struct {
	TxHash                      string
	TxType                      string
	RequiresDBUpdate            bool
	RequiresOnChainConfirmation bool
	APIResponse                 map[string]any

	// ContentHashes are the locally computed fingerprints, keyed like
	// Request.Content plus "params".
	ContentHashes map[string]string
	// HashMismatches lists fingerprints the gateway computed differently.
	HashMismatches []txhash.Mismatch
}

// NeedsConfirmation reports whether the gateway has dependent work for this
// transaction, in which case the caller should watch TxHash.
func (r *Result) NeedsConfirmation() bool {
	return r != nil && (r.RequiresDBUpdate || r.RequiresOnChainConfirmation)
}
