package wallet

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"sync"

	"github.com/altuslabsxyz/txflow/pkg/gateway"
	"github.com/altuslabsxyz/txflow/pkg/txhash"
)

// Mock is an in-memory Wallet for tests and local development against the
// fake gateway. Signing never prompts; submitted hashes are the Blake2b-256
// digest of the payload unless SubmitHash is set.
type Mock struct {
	mu          sync.Mutex
	signCount   int
	submissions []*SignedTx

	Address       string
	UsedAddresses []string

	// Configurable behaviors for testing
	AddressErr error
	SignErr    error
	SubmitErr  error
	SubmitHash string

	// BeforeSign, when set, runs at the start of SignTx. Tests use it to hold
	// an execution in the signing stage.
	BeforeSign func(ctx context.Context) error
}

// NewMock creates a mock wallet with a fixed dev address.
func NewMock() *Mock {
	return &Mock{
		Address:       "addr_dev_0001",
		UsedAddresses: []string{"addr_dev_0001"},
	}
}

// GetUsedAddresses returns the configured used addresses.
func (m *Mock) GetUsedAddresses(ctx context.Context) ([]string, error) {
	if m.AddressErr != nil {
		return nil, m.AddressErr
	}
	return append([]string(nil), m.UsedAddresses...), nil
}

// GetChangeAddress returns the configured address.
func (m *Mock) GetChangeAddress(ctx context.Context) (string, error) {
	if m.AddressErr != nil {
		return "", m.AddressErr
	}
	return m.Address, nil
}

// SignTx signs tx with a digest-based signature.
func (m *Mock) SignTx(ctx context.Context, tx *gateway.UnsignedTx) (*SignedTx, error) {
	if m.BeforeSign != nil {
		if err := m.BeforeSign(ctx); err != nil {
			return nil, err
		}
	}
	if m.SignErr != nil {
		return nil, m.SignErr
	}
	if tx == nil {
		return nil, errors.New("wallet: unsigned transaction is required")
	}

	payload, err := hex.DecodeString(strings.TrimPrefix(tx.Payload, "0x"))
	if err != nil {
		payload = []byte(tx.Payload)
	}

	m.mu.Lock()
	m.signCount++
	m.mu.Unlock()

	sig, _ := hex.DecodeString(txhash.Sum(payload))
	return &SignedTx{
		TxType:    tx.TxType,
		Payload:   payload,
		Signature: sig,
		PubKey:    []byte(m.Address),
	}, nil
}

// SubmitTx records tx and returns its hash.
func (m *Mock) SubmitTx(ctx context.Context, tx *SignedTx) (string, error) {
	if m.SubmitErr != nil {
		return "", m.SubmitErr
	}
	if tx == nil {
		return "", errors.New("wallet: signed transaction is required")
	}

	m.mu.Lock()
	m.submissions = append(m.submissions, tx)
	m.mu.Unlock()

	if m.SubmitHash != "" {
		return m.SubmitHash, nil
	}
	return txhash.Sum(tx.Payload), nil
}

// Submissions returns every submitted transaction (for test assertions).
func (m *Mock) Submissions() []*SignedTx {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*SignedTx(nil), m.submissions...)
}

// SignCount returns how many transactions were signed.
func (m *Mock) SignCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signCount
}

var _ Wallet = (*Mock)(nil)
