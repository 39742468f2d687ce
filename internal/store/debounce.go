package store

import (
	"context"
	"sync"
	"time"
)

// DebouncedSaver coalesces rapid successive SaveEntity calls for the same
// entity into one write after a quiet period (spec §5, "persistence is
// debounced (1s default) per entity, and all pending writes are flushed
// during stop").
type DebouncedSaver struct {
	store Store
	delay time.Duration

	mu      sync.Mutex
	pending map[string]pendingWrite
	timers  map[string]*time.Timer
}

type pendingWrite struct {
	boardID, entityID string
	data              []byte
}

// NewDebouncedSaver wraps store with a per-entity debounce window. delay
// <= 0 defaults to 1 second (spec §5's default).
func NewDebouncedSaver(store Store, delay time.Duration) *DebouncedSaver {
	if delay <= 0 {
		delay = time.Second
	}
	return &DebouncedSaver{
		store:   store,
		delay:   delay,
		pending: make(map[string]pendingWrite),
		timers:  make(map[string]*time.Timer),
	}
}

// SaveEntity schedules data to be written after the debounce window,
// replacing any not-yet-flushed write already scheduled for the same
// entity.
func (d *DebouncedSaver) SaveEntity(boardID, entityID string, data []byte) {
	key := boardID + "/" + entityID
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending[key] = pendingWrite{boardID: boardID, entityID: entityID, data: data}
	if t, ok := d.timers[key]; ok {
		t.Stop()
	}
	d.timers[key] = time.AfterFunc(d.delay, func() { d.flushOne(key) })
}

func (d *DebouncedSaver) flushOne(key string) {
	d.mu.Lock()
	w, ok := d.pending[key]
	if ok {
		delete(d.pending, key)
		delete(d.timers, key)
	}
	d.mu.Unlock()
	if !ok {
		return
	}
	_ = d.store.SaveEntity(context.Background(), w.boardID, w.entityID, w.data)
}

// DeleteEntity cancels any not-yet-flushed write pending for entityID and
// deletes it from the backing store immediately; deletions are not
// debounced, since coalescing them with a later save would reintroduce the
// entity.
func (d *DebouncedSaver) DeleteEntity(ctx context.Context, boardID, entityID string) error {
	key := boardID + "/" + entityID
	d.mu.Lock()
	if t, ok := d.timers[key]; ok {
		t.Stop()
		delete(d.timers, key)
	}
	delete(d.pending, key)
	d.mu.Unlock()
	return d.store.DeleteEntity(ctx, boardID, entityID)
}

// Flush immediately writes every pending entity save, used during the
// Board Runner's stop sequence.
func (d *DebouncedSaver) Flush(ctx context.Context) error {
	d.mu.Lock()
	pending := d.pending
	d.pending = make(map[string]pendingWrite)
	for _, t := range d.timers {
		t.Stop()
	}
	d.timers = make(map[string]*time.Timer)
	d.mu.Unlock()

	var firstErr error
	for _, w := range pending {
		if err := d.store.SaveEntity(ctx, w.boardID, w.entityID, w.data); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
