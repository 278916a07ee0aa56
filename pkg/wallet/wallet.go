// Package wallet defines the wallet boundary used by the orchestrator: the
// collaborator that knows the user's addresses, asks the user to approve and
// sign a transaction, and broadcasts it.
package wallet

import (
	"context"
	"errors"

	"github.com/altuslabsxyz/txflow/pkg/gateway"
)

// ErrUserDeclined is returned (possibly wrapped) when the user rejects a
// signing request.
var ErrUserDeclined = errors.New("wallet: user declined to sign")

// IsDeclined reports whether err means the user rejected signing, as opposed
// to a wallet or network fault.
func IsDeclined(err error) bool {
	return errors.Is(err, ErrUserDeclined)
}

// SignedTx is a transaction ready for broadcast.
type SignedTx struct {
	TxType    string
	Payload   []byte
	Signature []byte
	PubKey    []byte
}

// Wallet is the user's connected wallet. Every call may block on user
// interaction and may fail or be cancelled.
type Wallet interface {
	GetUsedAddresses(ctx context.Context) ([]string, error)
	GetChangeAddress(ctx context.Context) (string, error)
	SignTx(ctx context.Context, tx *gateway.UnsignedTx) (*SignedTx, error)
	// SubmitTx broadcasts tx and returns its chain hash.
	SubmitTx(ctx context.Context, tx *SignedTx) (string, error)
}
