package orchestrator

import (
	"errors"
	"fmt"

	"github.com/altuslabsxyz/txflow/pkg/gateway"
	"github.com/altuslabsxyz/txflow/pkg/wallet"
)

// ErrInFlight is returned when Execute is called while another execution on
// the same orchestrator has not finished.
var ErrInFlight = errors.New("orchestrator: execution already in flight")

// ValidationError is a local request problem found before any network call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s %s", e.Field, e.Reason)
}

// BuildError means no unsigned transaction could be obtained.
type BuildError struct {
	Err error
}

func (e *BuildError) Error() string { return fmt.Sprintf("build transaction: %v", e.Err) }
func (e *BuildError) Unwrap() error { return e.Err }

// SignError means the wallet did not sign. Declined is set when the user
// rejected the request rather than the wallet failing.
type SignError struct {
	Declined bool
	Err      error
}

func (e *SignError) Error() string {
	if e.Declined {
		return "sign transaction: declined by user"
	}
	return fmt.Sprintf("sign transaction: %v", e.Err)
}

func (e *SignError) Unwrap() error { return e.Err }

// SubmitError means the broadcast failed; nothing reached the chain and a
// fresh Execute is safe.
type SubmitError struct {
	Err error
}

func (e *SubmitError) Error() string { return fmt.Sprintf("submit transaction: %v", e.Err) }
func (e *SubmitError) Unwrap() error { return e.Err }

// UntrackedError means the transaction is on-chain under TxHash but the
// gateway did not acknowledge tracking it. It must not be resubmitted.
type UntrackedError struct {
	TxHash string
	Err    error
}

func (e *UntrackedError) Error() string {
	return fmt.Sprintf("transaction %s submitted but not registered: %v", e.TxHash, e.Err)
}

func (e *UntrackedError) Unwrap() error { return e.Err }

// IsUntracked reports whether err is an UntrackedError and returns its hash.
func IsUntracked(err error) (string, bool) {
	var u *UntrackedError
	if errors.As(err, &u) {
		return u.TxHash, true
	}
	return "", false
}

// IsRetryable reports whether a fresh Execute with the same request is safe.
// Untracked transactions are already on-chain and are never retryable.
func IsRetryable(err error) bool {
	var (
		b *BuildError
		s *SignError
		u *SubmitError
	)
	return errors.As(err, &b) || errors.As(err, &s) || errors.As(err, &u)
}

// UserMessage returns text suitable for showing the user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var (
		validation *ValidationError
		build      *BuildError
		sign       *SignError
		submit     *SubmitError
		untracked  *UntrackedError
	)
	switch {
	case errors.Is(err, ErrInFlight):
		return "A transaction is already in progress."
	case errors.As(err, &validation):
		return fmt.Sprintf("Invalid request: %s %s.", validation.Field, validation.Reason)
	case errors.As(err, &untracked):
		return fmt.Sprintf("Your transaction %s was submitted on-chain but could not be registered for tracking. "+
			"Do not submit it again; it will be re-registered.", untracked.TxHash)
	case errors.As(err, &sign):
		if sign.Declined || wallet.IsDeclined(sign.Err) {
			return "You declined the signing request."
		}
		return fmt.Sprintf("Your wallet could not sign the transaction: %v", sign.Err)
	case errors.As(err, &submit):
		return "The transaction could not be submitted. Nothing was sent; you can try again."
	case errors.As(err, &build):
		if gateway.IsUnauthorized(build.Err) {
			return "Your session has expired. Sign in and try again."
		}
		return fmt.Sprintf("The transaction could not be prepared: %v", build.Err)
	}
	return err.Error()
}
