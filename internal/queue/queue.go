// Package queue provides the bounded FIFO admission queue between the webhook
// and the dispatcher, plus the per-user in-flight gate.
package queue

import (
	"context"
	"sync"

	"pixelbot/internal/domain"
)

// Item is one admitted generation waiting for a dispatcher worker.
type Item struct {
	GenerationID int64
	UserID       int64
	Prompt       string
	DebitKind    domain.DebitKind
	// LangCode is the sender's Telegram language_code, carried along so
	// result notifications speak the user's language.
	LangCode string
}

// Queue is a fixed-capacity FIFO shared by all users. Capacity caps the
// number of concurrently outstanding jobs; it is not a per-user rate limit.
type Queue struct {
	items chan Item
}

// New creates a queue with the given capacity.
func New(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{items: make(chan Item, capacity)}
}

// Enqueue blocks until a slot frees or the context is cancelled.
func (q *Queue) Enqueue(ctx context.Context, item Item) error {
	select {
	case q.items <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryEnqueue admits the item only when a slot is immediately available.
func (q *Queue) TryEnqueue(item Item) error {
	select {
	case q.items <- item:
		return nil
	default:
		return domain.ErrQueueFull
	}
}

// Dequeue blocks until an item is available or the context is cancelled.
func (q *Queue) Dequeue(ctx context.Context) (Item, error) {
	select {
	case item := <-q.items:
		return item, nil
	case <-ctx.Done():
		return Item{}, ctx.Err()
	}
}

// Len returns the number of admitted, not yet dispatched items.
func (q *Queue) Len() int {
	return len(q.items)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.items)
}

// Gate tracks which users currently have a generation in flight. One
// generation per user at a time, from admission to terminal state.
type Gate struct {
	mu     sync.Mutex
	active map[int64]struct{}
}

// NewGate creates an empty gate.
func NewGate() *Gate {
	return &Gate{active: make(map[int64]struct{})}
}

// Acquire reserves the user's slot. It reports false when the user already
// has a generation in flight.
func (g *Gate) Acquire(userID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.active[userID]; busy {
		return false
	}
	g.active[userID] = struct{}{}
	return true
}

// Release frees the user's slot. Safe to call for a user that holds none.
func (g *Gate) Release(userID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.active, userID)
}

// Active returns the number of users with a generation in flight.
func (g *Gate) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.active)
}
