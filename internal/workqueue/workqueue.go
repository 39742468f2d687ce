// Package workqueue implements the work-item lifecycle and per-actor FIFO
// queues described in spec §4.6: stateless transition helpers over a
// persistent collection, guarded by status preconditions rather than
// silent no-ops.
package workqueue

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a WorkItem.
type Status string

const (
	StatusPending    Status = "pending"
	StatusClaimed    Status = "claimed"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// WorkItem is a unit of work routed between actors (spec §3.3).
type WorkItem struct {
	ID            string
	BoardID       string
	SourceHexID   string
	CurrentHexID  string
	Status        Status
	Payload       any
	ClaimedBy     string
	ClaimedAt     *time.Time
	CompletedAt   *time.Time
	Result        any
	Err           string
}

// Partial is the subset of WorkItem fields a caller supplies to Create; the
// queue assigns ID, timestamps, and the initial Pending status.
type Partial struct {
	BoardID      string
	SourceHexID  string
	CurrentHexID string
	Payload      any
}

// Error is a work-queue transition error: every status change is guarded
// by a precondition, and violating it is an error, not a silent no-op
// (spec §4.6 "Atomicity").
type Error struct {
	ItemID string
	Op     string
	From   Status
	Want   Status
}

func (e *Error) Error() string {
	return fmt.Sprintf("workqueue: item %s: cannot %s (status is %s, want %s)", e.ItemID, e.Op, e.From, e.Want)
}

// Queue holds every work item and a per-hex FIFO of pending item IDs.
// Atomicity is logical: the runtime is single-threaded between awaits, but
// the mutex still guards against reentrant mutation from within event
// handlers.
type Queue struct {
	mu    sync.Mutex
	items map[string]*WorkItem
	fifo  map[string][]string // hexID -> ordered item IDs, enqueued but not yet dequeued
}

// New creates an empty Queue.
func New() *Queue {
	return &Queue{items: make(map[string]*WorkItem), fifo: make(map[string][]string)}
}

// Create assigns an ID and timestamps to p and stores it as Pending.
func (q *Queue) Create(p Partial) *WorkItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	item := &WorkItem{
		ID:           uuid.NewString(),
		BoardID:      p.BoardID,
		SourceHexID:  p.SourceHexID,
		CurrentHexID: p.CurrentHexID,
		Payload:      p.Payload,
		Status:       StatusPending,
	}
	q.items[item.ID] = item
	return item
}

// Enqueue appends item.ID to hexID's FIFO.
func (q *Queue) Enqueue(hexID string, item *WorkItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.fifo[hexID] = append(q.fifo[hexID], item.ID)
}

// Dequeue pops the oldest item enqueued for hexID, or returns nil if empty.
func (q *Queue) Dequeue(hexID string) *WorkItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := q.fifo[hexID]
	if len(ids) == 0 {
		return nil
	}
	id := ids[0]
	q.fifo[hexID] = ids[1:]
	return q.items[id]
}

// Get returns the item by ID, or nil.
func (q *Queue) Get(id string) *WorkItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items[id]
}

// Claim atomically transitions an item from Pending to Claimed by
// entityID. Returns an *Error if the item is missing or not Pending.
func (q *Queue) Claim(itemID, entityID string) (*WorkItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[itemID]
	if !ok {
		return nil, &Error{ItemID: itemID, Op: "claim", Want: StatusPending}
	}
	if item.Status != StatusPending {
		return nil, &Error{ItemID: itemID, Op: "claim", From: item.Status, Want: StatusPending}
	}
	now := time.Now()
	item.Status = StatusClaimed
	item.ClaimedBy = entityID
	item.ClaimedAt = &now
	return item, nil
}

// StartProcessing transitions a Claimed item to Processing.
func (q *Queue) StartProcessing(itemID string) (*WorkItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[itemID]
	if !ok {
		return nil, &Error{ItemID: itemID, Op: "start_processing", Want: StatusClaimed}
	}
	if item.Status != StatusClaimed {
		return nil, &Error{ItemID: itemID, Op: "start_processing", From: item.Status, Want: StatusClaimed}
	}
	item.Status = StatusProcessing
	return item, nil
}

// Complete transitions a Processing (or Claimed) item to Completed with the
// given result.
func (q *Queue) Complete(itemID string, result any) (*WorkItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[itemID]
	if !ok {
		return nil, &Error{ItemID: itemID, Op: "complete", Want: StatusProcessing}
	}
	if item.Status != StatusProcessing && item.Status != StatusClaimed {
		return nil, &Error{ItemID: itemID, Op: "complete", From: item.Status, Want: StatusProcessing}
	}
	now := time.Now()
	item.Status = StatusCompleted
	item.Result = result
	item.CompletedAt = &now
	return item, nil
}

// Fail transitions a Processing (or Claimed) item to Failed with the given
// error message.
func (q *Queue) Fail(itemID string, errMsg string) (*WorkItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[itemID]
	if !ok {
		return nil, &Error{ItemID: itemID, Op: "fail", Want: StatusProcessing}
	}
	if item.Status != StatusProcessing && item.Status != StatusClaimed {
		return nil, &Error{ItemID: itemID, Op: "fail", From: item.Status, Want: StatusProcessing}
	}
	now := time.Now()
	item.Status = StatusFailed
	item.Err = errMsg
	item.CompletedAt = &now
	return item, nil
}

// PendingFor returns every pending item currently enqueued for hexID,
// without dequeuing them.
func (q *Queue) PendingFor(hexID string) []*WorkItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*WorkItem
	for _, id := range q.fifo[hexID] {
		if item := q.items[id]; item != nil && item.Status == StatusPending {
			out = append(out, item)
		}
	}
	return out
}

// ProcessingFor returns every item currently Claimed or Processing whose
// CurrentHexID is hexID.
func (q *Queue) ProcessingFor(hexID string) []*WorkItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*WorkItem
	for _, item := range q.items {
		if item.CurrentHexID != hexID {
			continue
		}
		if item.Status == StatusClaimed || item.Status == StatusProcessing {
			out = append(out, item)
		}
	}
	return out
}
