package scan

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/MJE43/keyscan/internal/checkpoint"
	"github.com/MJE43/keyscan/internal/keyspace"
)

// Mode selects how candidates are drawn from a sub-range.
type Mode string

const (
	// ModeExhaustive visits every key of the sub-range in ascending order.
	ModeExhaustive Mode = "sequential"
	// ModeSampled draws Attempts uniform keys from the sub-range, with replacement.
	ModeSampled Mode = "random"
)

// ParseMode accepts the wire names and their long aliases. Empty means exhaustive.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sequential", "exhaustive":
		return ModeExhaustive, nil
	case "random", "sampled":
		return ModeSampled, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// ScanRequest is immutable once a scan starts. Mode is not validated here:
// a worker handed an unknown mode logs and exits on its own.
type ScanRequest struct {
	Target       string            `json:"target_address"`
	Interval     keyspace.Interval `json:"-"`
	Mode         Mode              `json:"mode"`
	Attempts     int               `json:"attempts"`
	PrefixLength int               `json:"prefix_length"`
	Workers      int               `json:"workers"`

	// Resume restarts each worker from its recorded state. It must describe
	// the same interval and worker count as the request.
	Resume *checkpoint.Record `json:"-"`
}

// Validate checks everything except Mode.
func (r ScanRequest) Validate() error {
	if r.Interval.Start == nil || r.Interval.End == nil || r.Interval.Start.Cmp(r.Interval.End) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, keyspace.ErrInvalidInterval)
	}
	if r.Workers < 1 {
		return fmt.Errorf("%w: worker count must be positive, got %d", ErrInvalidRequest, r.Workers)
	}
	if r.PrefixLength < 0 || r.PrefixLength > len(r.Target) {
		return fmt.Errorf("%w: prefix length %d outside [0, %d]", ErrInvalidRequest, r.PrefixLength, len(r.Target))
	}
	if r.Mode == ModeSampled && r.Attempts < 1 {
		return fmt.Errorf("%w: sampled mode needs at least one attempt", ErrInvalidRequest)
	}
	if r.Resume != nil {
		if r.Resume.WorkerCount != r.Workers {
			return fmt.Errorf("%w: checkpoint has %d workers, request has %d", ErrInvalidRequest, r.Resume.WorkerCount, r.Workers)
		}
		if r.Resume.Start != keyspace.FormatKey(r.Interval.Start) || r.Resume.End != keyspace.FormatKey(r.Interval.End) {
			return fmt.Errorf("%w: checkpoint interval does not match request", ErrInvalidRequest)
		}
	}
	return nil
}

// Match is a candidate whose identifier shares the target prefix.
type Match struct {
	Worker  int       `json:"worker"`
	Key     *big.Int  `json:"-"`
	HexKey  string    `json:"key"`
	Address string    `json:"address"`
	Prefix  string    `json:"prefix"`
	FoundAt time.Time `json:"found_at"`
}

// MatchSink receives every match as it is found. Implementations must be
// safe for concurrent use by all workers.
type MatchSink interface {
	RecordMatch(ctx context.Context, m Match) error
}

// MatchSinkFunc adapts a function to MatchSink.
type MatchSinkFunc func(ctx context.Context, m Match) error

func (f MatchSinkFunc) RecordMatch(ctx context.Context, m Match) error { return f(ctx, m) }

// WorkerState is a worker's position in its state machine. The last four
// values are terminal.
type WorkerState string

const (
	StatePending           WorkerState = "pending"
	StateRunning           WorkerState = "running"
	StatePaused            WorkerState = "paused"
	StateStopped           WorkerState = "stopped"
	StateExhaustedRange    WorkerState = "exhausted_range"
	StateAttemptsExhausted WorkerState = "attempts_exhausted"
	StateFailed            WorkerState = "failed"
)

// WorkerResult summarizes one worker after it returns.
type WorkerResult struct {
	Worker   int         `json:"worker"`
	State    WorkerState `json:"state"`
	Examined uint64      `json:"examined"`
	Matches  uint64      `json:"matches"`
	Invalid  uint64      `json:"invalid"`
	Err      error       `json:"-"`
}

// Result summarizes a scan once every worker has been joined.
type Result struct {
	Workers           []WorkerResult `json:"workers"`
	Examined          uint64         `json:"examined"`
	Matches           uint64         `json:"matches"`
	Invalid           uint64         `json:"invalid"`
	Completed         bool           `json:"completed"`
	Stopped           bool           `json:"stopped"`
	CheckpointCleared bool           `json:"checkpoint_cleared"`
	Duration          time.Duration  `json:"duration"`
}

func summarize(results []WorkerResult) *Result {
	res := &Result{Workers: results, Completed: true}
	for _, wr := range results {
		res.Examined += wr.Examined
		res.Matches += wr.Matches
		res.Invalid += wr.Invalid
		if wr.State == StateStopped {
			res.Stopped = true
			res.Completed = false
		}
	}
	return res
}
