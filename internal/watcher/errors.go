package watcher

import (
	"errors"
	"fmt"

	"github.com/altuslabsxyz/txflow/pkg/gateway"
)

var (
	// ErrTimeout is wrapped by the ConfirmationError synthesized when no
	// terminal status arrives in time.
	ErrTimeout = errors.New("watcher: timed out waiting for confirmation")
	// ErrCancelled is returned by Wait after Cancel.
	ErrCancelled = errors.New("watcher: observation cancelled")
	// ErrClosed is returned by Wait when the watcher was closed.
	ErrClosed = errors.New("watcher: closed")
	// ErrNoTerminal is the cause when a transport finished without
	// delivering a terminal status.
	ErrNoTerminal = errors.New("watcher: transport ended without a terminal status")
)

// ConfirmationError reports a failed, expired or timed-out transaction.
// It is terminal: the same transaction will not succeed later.
type ConfirmationError struct {
	TxHash string
	State  gateway.TxState
	Reason string
	cause  error
}

func (e *ConfirmationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("transaction %s %s: %s", e.TxHash, e.State, e.Reason)
	}
	return fmt.Sprintf("transaction %s %s", e.TxHash, e.State)
}

func (e *ConfirmationError) Unwrap() error { return e.cause }

// IsTimeout reports whether err is a local confirmation timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

func confirmationErr(st gateway.TxStatus) error {
	if !st.State.IsFailure() {
		return nil
	}
	return &ConfirmationError{TxHash: st.TxHash, State: st.State, Reason: st.LastError}
}
