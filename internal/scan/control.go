package scan

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MJE43/keyscan/internal/checkpoint"
)

// DefaultPollInterval bounds how long a paused worker sleeps between checks.
const DefaultPollInterval = 100 * time.Millisecond

// Control is the control plane shared by every worker of one scan: the
// stop and pause flags plus the composite checkpoint. A stop cannot be
// undone; a new scan gets a new Control.
//
// Workers read the flags once per candidate, so reads are lock-free.
// Every flag change closes the current changed channel to wake paused
// workers, then re-arms it.
type Control struct {
	stop   atomic.Bool
	paused atomic.Bool

	mu      sync.Mutex
	changed chan struct{}
	record  *checkpoint.Record

	saveMu sync.Mutex
	store  checkpoint.Store
	poll   time.Duration
}

// ControlOption configures a Control.
type ControlOption func(*Control)

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) ControlOption {
	return func(c *Control) {
		if d > 0 {
			c.poll = d
		}
	}
}

// NewControl returns a control plane persisting checkpoints to store. A nil
// store keeps checkpoints in memory only.
func NewControl(store checkpoint.Store, opts ...ControlOption) *Control {
	c := &Control{
		changed: make(chan struct{}),
		store:   store,
		poll:    DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RequestStop is idempotent.
func (c *Control) RequestStop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop.Swap(true) {
		return
	}
	c.broadcastLocked()
}

// SetPaused is idempotent.
func (c *Control) SetPaused(paused bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused.Swap(paused) == paused {
		return
	}
	c.broadcastLocked()
}

func (c *Control) IsStopRequested() bool { return c.stop.Load() }
func (c *Control) IsPaused() bool        { return c.paused.Load() }

func (c *Control) broadcastLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

// WaitWhilePaused blocks while the scan is paused. It returns true when the
// worker should continue and false when a stop was requested (or ctx ended).
func (c *Control) WaitWhilePaused(ctx context.Context) bool {
	timer := time.NewTimer(c.poll)
	defer timer.Stop()

	for {
		c.mu.Lock()
		stop, paused, changed := c.stop.Load(), c.paused.Load(), c.changed
		c.mu.Unlock()

		if stop {
			return false
		}
		if !paused {
			return true
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(c.poll)

		select {
		case <-changed:
		case <-timer.C:
		case <-ctx.Done():
			return false
		}
	}
}

// begin installs the base record for a new scan.
func (c *Control) begin(base *checkpoint.Record) {
	c.mu.Lock()
	c.record = base
	c.mu.Unlock()
}

// Checkpoint merges one worker's state into the composite record and
// persists the whole record, so concurrent stops never drop a worker.
func (c *Control) Checkpoint(ctx context.Context, ws checkpoint.WorkerState) error {
	c.merge(ws, false)
	return c.persist(ctx)
}

// markDone records a worker that exhausted its work. Nothing is written:
// the state only matters if a later checkpoint is persisted.
func (c *Control) markDone(ws checkpoint.WorkerState) {
	ws.Done = true
	ws.Position = ""
	c.merge(ws, false)
}

// markFound flags the record and persists it with the finder's position.
func (c *Control) markFound(ctx context.Context, ws checkpoint.WorkerState) error {
	c.merge(ws, true)
	return c.persist(ctx)
}

func (c *Control) merge(ws checkpoint.WorkerState, found bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.record == nil {
		c.record = &checkpoint.Record{}
	}
	c.record.Upsert(ws)
	if found {
		c.record.Found = true
	}
}

// flush persists the composite record as it stands.
func (c *Control) flush(ctx context.Context) error {
	return c.persist(ctx)
}

// clear deletes the persisted checkpoint.
func (c *Control) clear(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	c.saveMu.Lock()
	defer c.saveMu.Unlock()
	return c.store.Delete(ctx)
}

func (c *Control) persist(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	// Snapshot under saveMu so saves land in merge order.
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	rec := c.Snapshot()
	if rec == nil {
		return nil
	}
	rec.UpdatedAt = time.Now().UTC()
	return c.store.Save(ctx, rec)
}

// Snapshot returns a copy of the composite record, or nil before a scan begins.
func (c *Control) Snapshot() *checkpoint.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.record.Clone()
}
