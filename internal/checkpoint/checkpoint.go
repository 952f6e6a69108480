package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/MJE43/keyscan/internal/keyspace"
)

// ErrNotFound is returned by Load when no checkpoint has been persisted.
var ErrNotFound = errors.New("checkpoint not found")

// Store persists the single authoritative checkpoint record.
type Store interface {
	// Load returns ErrNotFound when nothing is stored.
	Load(ctx context.Context) (*Record, error)

	// Save overwrites any previous record.
	Save(ctx context.Context, rec *Record) error

	// Delete removes the record. It is not an error if none exists.
	Delete(ctx context.Context) error
}

// WorkerState is one worker's resume point. Exhaustive workers resume at
// Position (the next key to examine); sampled workers resume by Consumed
// attempt count only, since their draws cannot be replayed.
type WorkerState struct {
	Index    int    `json:"index"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Position string `json:"position,omitempty"`
	Consumed uint64 `json:"consumed"`
	Done     bool   `json:"done"`
}

// Record is the composite checkpoint of one scan. Position mirrors the
// lowest unfinished worker position so single-worker scans can be resumed
// from [Position, End] directly.
type Record struct {
	Target       string        `json:"target_address"`
	Start        string        `json:"start"`
	End          string        `json:"end_int"`
	Position     string        `json:"current"`
	Mode         string        `json:"mode"`
	Attempts     int           `json:"attempts"`
	PrefixLength int           `json:"prefix_length"`
	WorkerCount  int           `json:"worker_count"`
	Found        bool          `json:"found,omitempty"`
	Workers      []WorkerState `json:"workers"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Clone returns a deep copy safe to hand to another goroutine.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Workers = append([]WorkerState(nil), r.Workers...)
	return &c
}

// Upsert merges ws into the record, replacing any prior state for the same
// worker, and keeps Workers ordered by index.
func (r *Record) Upsert(ws WorkerState) {
	for i := range r.Workers {
		if r.Workers[i].Index == ws.Index {
			r.Workers[i] = ws
			r.refreshPosition()
			return
		}
	}
	r.Workers = append(r.Workers, ws)
	sort.Slice(r.Workers, func(i, j int) bool { return r.Workers[i].Index < r.Workers[j].Index })
	r.refreshPosition()
}

// Worker returns the stored state for worker index.
func (r *Record) Worker(index int) (WorkerState, bool) {
	if r == nil {
		return WorkerState{}, false
	}
	for _, ws := range r.Workers {
		if ws.Index == index {
			return ws, true
		}
	}
	return WorkerState{}, false
}

// Remaining reports whether any worker still has work recorded.
func (r *Record) Remaining() bool {
	if len(r.Workers) < r.WorkerCount {
		return true
	}
	for _, ws := range r.Workers {
		if !ws.Done {
			return true
		}
	}
	return false
}

func (r *Record) refreshPosition() {
	var lowest *big.Int
	for _, ws := range r.Workers {
		if ws.Done || ws.Position == "" {
			continue
		}
		p, err := keyspace.ParseKey(ws.Position)
		if err != nil {
			continue
		}
		if lowest == nil || p.Cmp(lowest) < 0 {
			lowest = p
		}
	}
	switch {
	case lowest != nil:
		r.Position = keyspace.FormatKey(lowest)
	case !r.Remaining():
		r.Position = r.End
	}
}

// Validate checks the record's keys and counters before it is used to resume.
func (r *Record) Validate() error {
	if _, err := keyspace.ParseInterval(r.Start, r.End); err != nil {
		return fmt.Errorf("checkpoint interval: %w", err)
	}
	if r.WorkerCount < 1 {
		return fmt.Errorf("checkpoint worker count must be positive, got %d", r.WorkerCount)
	}
	for _, ws := range r.Workers {
		if ws.Index < 0 || ws.Index >= r.WorkerCount {
			return fmt.Errorf("checkpoint worker index %d out of range", ws.Index)
		}
		// Finished workers are never resumed from their position.
		if !ws.Done && ws.Position != "" {
			if _, err := keyspace.ParseKey(ws.Position); err != nil {
				return fmt.Errorf("checkpoint worker %d position: %w", ws.Index, err)
			}
		}
	}
	return nil
}

// DeletePolicy decides whether the coordinator clears the checkpoint when a scan ends.
type DeletePolicy string

const (
	// DeleteOnCompletion keeps the checkpoint after a stop so the scan can be resumed.
	DeleteOnCompletion DeletePolicy = "on-completion"
	// DeleteAlways clears the checkpoint on every coordinator exit, including stops.
	DeleteAlways DeletePolicy = "always"
)

// ParsePolicy accepts the config spelling of a policy; empty means DeleteOnCompletion.
func ParsePolicy(s string) (DeletePolicy, error) {
	switch DeletePolicy(s) {
	case "", DeleteOnCompletion:
		return DeleteOnCompletion, nil
	case DeleteAlways:
		return DeleteAlways, nil
	default:
		return "", fmt.Errorf("unknown checkpoint delete policy %q", s)
	}
}

// ShouldDelete reports whether a scan that ended with completed (every
// worker exhausted its range or attempts) should drop its checkpoint.
func (p DeletePolicy) ShouldDelete(completed bool) bool {
	if p == DeleteAlways {
		return true
	}
	return completed
}
