package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketSubmissions = []byte("submissions")

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db  *bolt.DB
	hub watchHub
	now func() time.Time
}

// NewBoltStore opens or creates the journal at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketSubmissions); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketSubmissions, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Create journals a new submission.
func (s *BoltStore) Create(ctx context.Context, sub *Submission) error {
	now := s.now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now
	if sub.Phase == "" {
		sub.Phase = PhaseSubmitted
	}

	err := s.db.Update(func(btx *bolt.Tx) error {
		b := btx.Bucket(bucketSubmissions)
		key := []byte(sub.TxHash)
		if b.Get(key) != nil {
			return &AlreadyExistsError{TxHash: sub.TxHash}
		}
		data, err := json.Marshal(sub)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
	if err != nil {
		return err
	}
	s.hub.notify(EventAdded, sub)
	return nil
}

// Get returns the submission for txHash.
func (s *BoltStore) Get(ctx context.Context, txHash string) (*Submission, error) {
	var sub Submission
	err := s.db.View(func(btx *bolt.Tx) error {
		data := btx.Bucket(bucketSubmissions).Get([]byte(txHash))
		if data == nil {
			return &NotFoundError{TxHash: txHash}
		}
		return json.Unmarshal(data, &sub)
	})
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// Update replaces an existing submission.
func (s *BoltStore) Update(ctx context.Context, sub *Submission) error {
	sub.UpdatedAt = s.now().UTC()
	err := s.db.Update(func(btx *bolt.Tx) error {
		b := btx.Bucket(bucketSubmissions)
		key := []byte(sub.TxHash)
		if b.Get(key) == nil {
			return &NotFoundError{TxHash: sub.TxHash}
		}
		data, err := json.Marshal(sub)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
	if err != nil {
		return err
	}
	s.hub.notify(EventModified, sub)
	return nil
}

// Delete removes a submission.
func (s *BoltStore) Delete(ctx context.Context, txHash string) error {
	var sub Submission
	err := s.db.Update(func(btx *bolt.Tx) error {
		b := btx.Bucket(bucketSubmissions)
		key := []byte(txHash)
		data := b.Get(key)
		if data == nil {
			return &NotFoundError{TxHash: txHash}
		}
		if err := json.Unmarshal(data, &sub); err != nil {
			return err
		}
		return b.Delete(key)
	})
	if err != nil {
		return err
	}
	s.hub.notify(EventDeleted, &sub)
	return nil
}

// List returns matching submissions, oldest first.
func (s *BoltStore) List(ctx context.Context, opts ListOptions) ([]*Submission, error) {
	var subs []*Submission
	err := s.db.View(func(btx *bolt.Tx) error {
		return btx.Bucket(bucketSubmissions).ForEach(func(k, v []byte) error {
			var sub Submission
			if err := json.Unmarshal(v, &sub); err != nil {
				return fmt.Errorf("decode submission %s: %w", k, err)
			}
			if opts.match(&sub) {
				subs = append(subs, &sub)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return sortAndLimit(subs, opts.Limit), nil
}

// Watch registers a handler, replays existing submissions as ADDED events
// and blocks until ctx is cancelled.
func (s *BoltStore) Watch(ctx context.Context, handler WatchHandler) error {
	return s.hub.watch(ctx, handler, func() ([]*Submission, error) {
		return s.List(ctx, ListOptions{})
	})
}

func sortAndLimit(subs []*Submission, limit int) []*Submission {
	sort.SliceStable(subs, func(i, j int) bool {
		if subs[i].CreatedAt.Equal(subs[j].CreatedAt) {
			return subs[i].TxHash < subs[j].TxHash
		}
		return subs[i].CreatedAt.Before(subs[j].CreatedAt)
	})
	if limit > 0 && len(subs) > limit {
		subs = subs[:limit]
	}
	return subs
}

// watchHub fans journal changes out to Watch handlers.
type watchHub struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]WatchHandler
}

func (h *watchHub) notify(eventType string, sub *Submission) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, fn := range h.handlers {
		cp := *sub
		go fn(eventType, &cp)
	}
}

func (h *watchHub) watch(ctx context.Context, handler WatchHandler, initial func() ([]*Submission, error)) error {
	h.mu.Lock()
	if h.handlers == nil {
		h.handlers = make(map[int]WatchHandler)
	}
	id := h.nextID
	h.nextID++
	h.handlers[id] = handler
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.handlers, id)
		h.mu.Unlock()
	}()

	subs, err := initial()
	if err != nil {
		return err
	}
	for _, sub := range subs {
		handler(EventAdded, sub)
	}

	<-ctx.Done()
	return ctx.Err()
}
