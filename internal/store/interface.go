// Package store is the local submission journal. Every broadcast transaction
// is recorded before the gateway is asked to track it, so a transaction that
// reached the chain but was never registered can be found and re-registered.
package store

import (
	"context"
	"time"
)

// Phase is the journal phase of a submission.
type Phase string

const (
	// PhaseSubmitted: broadcast succeeded, registration not yet attempted.
	PhaseSubmitted Phase = "submitted"
	// PhaseRegistered: the gateway acknowledged tracking.
	PhaseRegistered Phase = "registered"
	// PhaseUntracked: on-chain but registration failed.
	PhaseUntracked Phase = "untracked"
)

// Submission is one broadcast transaction.
type Submission struct {
	TxHash   string         `json:"txHash"`
	TxType   string         `json:"txType"`
	Metadata map[string]any `json:"metadata,omitempty"`

	Phase     Phase  `json:"phase"`
	LastError string `json:"lastError,omitempty"`
	// Attempts counts registration attempts.
	Attempts int `json:"attempts"`

	RequiresDBUpdate            bool `json:"requiresDBUpdate,omitempty"`
	RequiresOnChainConfirmation bool `json:"requiresOnChainConfirmation,omitempty"`
	// FinalState is the terminal gateway state once one was observed.
	FinalState string `json:"finalState,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AwaitingConfirmation reports whether the submission may still show up in
// the gateway's pending list.
func (s *Submission) AwaitingConfirmation() bool {
	if s.FinalState != "" {
		return false
	}
	switch s.Phase {
	case PhaseUntracked:
		return true
	case PhaseRegistered:
		return s.RequiresOnChainConfirmation
	default:
		return false
	}
}

// Event types passed to WatchHandler.
const (
	EventAdded    = "ADDED"
	EventModified = "MODIFIED"
	EventDeleted  = "DELETED"
)

// WatchHandler receives journal changes.
type WatchHandler func(eventType string, sub *Submission)

// ListOptions configures listing.
type ListOptions struct {
	// Phase filters by phase.
	Phase Phase
	// TxType filters by transaction type.
	TxType string
	// Limit is the maximum number of results.
	Limit int
}

// Store persists submissions.
type Store interface {
	Create(ctx context.Context, sub *Submission) error
	Get(ctx context.Context, txHash string) (*Submission, error)
	Update(ctx context.Context, sub *Submission) error
	Delete(ctx context.Context, txHash string) error
	// List returns submissions oldest first.
	List(ctx context.Context, opts ListOptions) ([]*Submission, error)

	// Watch calls handler for every change until ctx is done.
	Watch(ctx context.Context, handler WatchHandler) error

	Close() error
}

func (o ListOptions) match(s *Submission) bool {
	if o.Phase != "" && s.Phase != o.Phase {
		return false
	}
	if o.TxType != "" && s.TxType != o.TxType {
		return false
	}
	return true
}
