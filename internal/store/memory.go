package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of Store for testing.
type MemoryStore struct {
	subs map[string]*Submission
	mu   sync.RWMutex
	hub  watchHub
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[string]*Submission)}
}

// Create journals a new submission.
func (m *MemoryStore) Create(ctx context.Context, sub *Submission) error {
	now := time.Now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now
	if sub.Phase == "" {
		sub.Phase = PhaseSubmitted
	}

	m.mu.Lock()
	if _, exists := m.subs[sub.TxHash]; exists {
		m.mu.Unlock()
		return &AlreadyExistsError{TxHash: sub.TxHash}
	}
	copy := *sub
	m.subs[sub.TxHash] = &copy
	m.mu.Unlock()

	m.hub.notify(EventAdded, sub)
	return nil
}

// Get returns the submission for txHash.
func (m *MemoryStore) Get(ctx context.Context, txHash string) (*Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, exists := m.subs[txHash]
	if !exists {
		return nil, &NotFoundError{TxHash: txHash}
	}
	copy := *sub
	return &copy, nil
}

// Update replaces an existing submission.
func (m *MemoryStore) Update(ctx context.Context, sub *Submission) error {
	sub.UpdatedAt = time.Now().UTC()

	m.mu.Lock()
	if _, exists := m.subs[sub.TxHash]; !exists {
		m.mu.Unlock()
		return &NotFoundError{TxHash: sub.TxHash}
	}
	copy := *sub
	m.subs[sub.TxHash] = &copy
	m.mu.Unlock()

	m.hub.notify(EventModified, sub)
	return nil
}

// Delete removes a submission.
func (m *MemoryStore) Delete(ctx context.Context, txHash string) error {
	m.mu.Lock()
	sub, exists := m.subs[txHash]
	if !exists {
		m.mu.Unlock()
		return &NotFoundError{TxHash: txHash}
	}
	delete(m.subs, txHash)
	m.mu.Unlock()

	m.hub.notify(EventDeleted, sub)
	return nil
}

// List returns matching submissions, oldest first.
func (m *MemoryStore) List(ctx context.Context, opts ListOptions) ([]*Submission, error) {
	m.mu.RLock()
	var result []*Submission
	for _, sub := range m.subs {
		if opts.match(sub) {
			copy := *sub
			result = append(result, &copy)
		}
	}
	m.mu.RUnlock()
	return sortAndLimit(result, opts.Limit), nil
}

// Watch registers a handler, replays existing submissions and blocks until
// ctx is cancelled.
func (m *MemoryStore) Watch(ctx context.Context, handler WatchHandler) error {
	return m.hub.watch(ctx, handler, func() ([]*Submission, error) {
		return m.List(ctx, ListOptions{})
	})
}

// Close closes the store.
func (m *MemoryStore) Close() error {
	return nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*BoltStore)(nil)
)
