// Package journal records undo actions for an in-flight transaction so that
// every in-process effect can be rolled back when the transaction fails.
//
// A Journal travels in the context. Collaborators that mutate their own state
// call Record with the inverse of each mutation; the transaction owner calls
// Revert on failure or Discard on success.
package journal

import (
	"context"
	"sync"
)

type ctxKey struct{}

// Journal is a LIFO list of undo actions.
type Journal struct {
	mu     sync.Mutex
	undo   []func()
	closed bool
}

// New returns an empty journal.
func New() *Journal {
	return &Journal{}
}

// Record appends an undo action. Actions recorded after the journal was
// closed are ignored.
func (j *Journal) Record(undo func()) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}
	j.undo = append(j.undo, undo)
}

// Len returns the number of pending undo actions.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.undo)
}

// Revert runs every undo action in reverse order and closes the journal.
func (j *Journal) Revert() {
	j.mu.Lock()
	undo := j.undo
	j.undo = nil
	j.closed = true
	j.mu.Unlock()

	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
}

// Discard drops all undo actions and closes the journal.
func (j *Journal) Discard() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.undo = nil
	j.closed = true
}

// WithJournal returns a context carrying j.
func WithJournal(ctx context.Context, j *Journal) context.Context {
	return context.WithValue(ctx, ctxKey{}, j)
}

// FromContext returns the journal carried by ctx, if any.
func FromContext(ctx context.Context) (*Journal, bool) {
	j, ok := ctx.Value(ctxKey{}).(*Journal)
	return j, ok && j != nil
}

// Record is a convenience that records undo on the journal carried by ctx.
// It is a no-op when ctx carries no journal.
func Record(ctx context.Context, undo func()) {
	if j, ok := FromContext(ctx); ok {
		j.Record(undo)
	}
}
