// Package evm implements wallet.Wallet for EVM chains with a local private
// key. The gateway's unsigned payload is a hex transaction in its binary
// encoding (legacy RLP or an EIP-2718 typed envelope); the wallet asks an Approver before signing and broadcasts through
// eth_sendRawTransaction.
package evm

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/altuslabsxyz/txflow/pkg/gateway"
	"github.com/altuslabsxyz/txflow/pkg/wallet"
)

// Summary describes a transaction awaiting user approval.
type Summary struct {
	TxType   string
	From     string
	To       string
	Value    *big.Int
	Nonce    uint64
	Gas      uint64
	GasPrice *big.Int
}

// Approver asks the user to approve a signing request. Returning false
// declines the request.
type Approver func(ctx context.Context, s Summary) (bool, error)

// AutoApprove approves every request.
func AutoApprove(context.Context, Summary) (bool, error) { return true, nil }

// Config configures a Wallet.
type Config struct {
	RPCEndpoint string
	ChainID     string
	// PrivKey is the raw secp256k1 private key.
	PrivKey []byte
}

// RPCError is a JSON-RPC error returned by the node.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Wallet signs and broadcasts EVM transactions with a single key.
type Wallet struct {
	rpcEndpoint string
	chainID     *big.Int
	key         *ecdsa.PrivateKey
	address     string
	approve     Approver
	httpClient  *http.Client
}

// New creates a wallet. A nil approver approves every request.
func New(cfg Config, approve Approver) (*Wallet, error) {
	if cfg.RPCEndpoint == "" {
		return nil, fmt.Errorf("RPC endpoint is required")
	}
	if cfg.ChainID == "" {
		return nil, fmt.Errorf("chain ID is required")
	}
	chainID, ok := new(big.Int).SetString(cfg.ChainID, 10)
	if !ok {
		return nil, fmt.Errorf("invalid chain ID: %s", cfg.ChainID)
	}
	if len(cfg.PrivKey) == 0 {
		return nil, fmt.Errorf("private key required")
	}
	key, err := crypto.ToECDSA(cfg.PrivKey)
	if err != nil {
		return nil, fmt.Errorf("load private key: %w", err)
	}
	if approve == nil {
		approve = AutoApprove
	}
	return &Wallet{
		rpcEndpoint: cfg.RPCEndpoint,
		chainID:     chainID,
		key:         key,
		address:     crypto.PubkeyToAddress(key.PublicKey).Hex(),
		approve:     approve,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// LoadKeyFile reads a hex-encoded private key file.
func LoadKeyFile(path string) ([]byte, error) {
	key, err := crypto.LoadECDSA(path)
	if err != nil {
		return nil, fmt.Errorf("load key file: %w", err)
	}
	return crypto.FromECDSA(key), nil
}

// Address returns the wallet's checksummed address.
func (w *Wallet) Address() string { return w.address }

// GetUsedAddresses returns the wallet's only address.
func (w *Wallet) GetUsedAddresses(ctx context.Context) ([]string, error) {
	return []string{w.address}, nil
}

// GetChangeAddress returns the wallet's address.
func (w *Wallet) GetChangeAddress(ctx context.Context) (string, error) {
	return w.address, nil
}

// SignTx decodes the unsigned payload, asks for approval and signs it.
func (w *Wallet) SignTx(ctx context.Context, unsigned *gateway.UnsignedTx) (*wallet.SignedTx, error) {
	if unsigned == nil {
		return nil, fmt.Errorf("unsigned transaction is required")
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(unsigned.Payload, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode payload hex: %w", err)
	}

	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("decode unsigned transaction: %w", err)
	}

	summary := Summary{
		TxType:   unsigned.TxType,
		From:     w.address,
		Value:    tx.Value(),
		Nonce:    tx.Nonce(),
		Gas:      tx.Gas(),
		GasPrice: tx.GasPrice(),
	}
	if to := tx.To(); to != nil {
		summary.To = to.Hex()
	}
	ok, err := w.approve(ctx, summary)
	if err != nil {
		return nil, fmt.Errorf("approval prompt: %w", err)
	}
	if !ok {
		return nil, wallet.ErrUserDeclined
	}

	// signature is [R || S || V] with V the recovery id (0 or 1).
	signer := types.LatestSignerForChainID(w.chainID)
	signature, err := crypto.Sign(signer.Hash(tx).Bytes(), w.key)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	signedTx, err := tx.WithSignature(signer, signature)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	signedBytes, err := signedTx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode signed transaction: %w", err)
	}

	return &wallet.SignedTx{
		TxType:    unsigned.TxType,
		Payload:   signedBytes,
		Signature: signature,
		PubKey:    crypto.FromECDSAPub(&w.key.PublicKey),
	}, nil
}

// SubmitTx broadcasts tx with eth_sendRawTransaction and returns the hash
// reported by the node.
func (w *Wallet) SubmitTx(ctx context.Context, tx *wallet.SignedTx) (string, error) {
	if tx == nil || len(tx.Payload) == 0 {
		return "", fmt.Errorf("transaction bytes are required")
	}

	reqBody := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "eth_sendRawTransaction",
		"params":  []string{"0x" + hex.EncodeToString(tx.Payload)},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.rpcEndpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("broadcast: %w", err)
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result string `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return "", &RPCError{Code: rpcResp.Error.Code, Message: rpcResp.Error.Message}
	}
	if rpcResp.Result == "" {
		return "", fmt.Errorf("broadcast: empty transaction hash")
	}
	return rpcResp.Result, nil
}

var _ wallet.Wallet = (*Wallet)(nil)
