// Package gateway is the client for the confirmation gateway: the external
// service that builds unsigned transactions, registers submitted ones for
// tracking, and reports their confirmation state.
package gateway

import (
	"encoding/json"
	"time"
)

// TxState is the gateway-owned confirmation state of a registered transaction.
type TxState string

// Confirmation states. pending -> confirmed -> updated is the success path;
// updated, failed and expired are terminal.
const (
	TxStatePending   TxState = "pending"
	TxStateConfirmed TxState = "confirmed"
	TxStateUpdated   TxState = "updated"
	TxStateFailed    TxState = "failed"
	TxStateExpired   TxState = "expired"
)

// IsTerminal reports whether no further transition can follow s.
func (s TxState) IsTerminal() bool {
	switch s {
	case TxStateUpdated, TxStateFailed, TxStateExpired:
		return true
	}
	return false
}

// IsSuccess reports whether s is the success terminal.
func (s TxState) IsSuccess() bool { return s == TxStateUpdated }

// IsFailure reports whether s is a failure terminal.
func (s TxState) IsFailure() bool { return s == TxStateFailed || s == TxStateExpired }

// Valid reports whether s is one of the known states.
func (s TxState) Valid() bool { return s.Rank() > 0 }

// Rank orders states along the lifecycle. Unknown states rank 0.
// All terminal states share the highest rank.
func (s TxState) Rank() int {
	switch s {
	case TxStatePending:
		return 1
	case TxStateConfirmed:
		return 2
	case TxStateUpdated, TxStateFailed, TxStateExpired:
		return 3
	}
	return 0
}

// TxStatus is a gateway status record for one transaction hash.
type TxStatus struct {
	TxHash      string     `json:"tx_hash"`
	TxType      string     `json:"tx_type"`
	State       TxState    `json:"state"`
	LastError   string     `json:"last_error,omitempty"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
}

// BuildRequest is the body of POST /tx/build.
type BuildRequest struct {
	TxType        string         `json:"tx_type"`
	Params        map[string]any `json:"params"`
	ChangeAddress string         `json:"change_address,omitempty"`
	UsedAddresses []string       `json:"used_addresses,omitempty"`
}

// UnsignedTx is the payload returned by POST /tx/build. Payload is opaque to
// the client and only interpreted by the wallet.
type UnsignedTx struct {
	TxType        string            `json:"tx_type"`
	Payload       string            `json:"payload"`
	ContentHashes map[string]string `json:"content_hashes,omitempty"`
}

// RegisterRequest is the body of POST /tx/register.
type RegisterRequest struct {
	TxHash   string         `json:"tx_hash"`
	TxType   string         `json:"tx_type"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// RegisterResponse tells the caller whether the transaction has dependent
// effects worth watching.
type RegisterResponse struct {
	RequiresDBUpdate            bool           `json:"requires_db_update"`
	RequiresOnChainConfirmation bool           `json:"requires_on_chain_confirmation"`
	APIResponse                 map[string]any `json:"api_response,omitempty"`
}

// pendingEnvelope accepts both a bare array and {"transactions": [...]}.
type pendingEnvelope struct {
	Transactions []TxStatus `json:"transactions"`
}

func decodePending(body []byte) ([]TxStatus, error) {
	if len(body) == 0 {
		return nil, nil
	}
	var list []TxStatus
	if err := json.Unmarshal(body, &list); err == nil {
		return list, nil
	}
	var env pendingEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	return env.Transactions, nil
}
