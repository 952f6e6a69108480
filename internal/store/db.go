package store

import (
	"context"
	"errors"
	"time"
)

// ErrRunNotFound is returned when a run ID is unknown.
var ErrRunNotFound = errors.New("run not found")

// Run states recorded in history.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunStopped   = "stopped"
	RunFailed    = "failed"
)

// DB is the scan history store.
type DB interface {
	Close() error
	Migrate(ctx context.Context) error
	SaveRun(ctx context.Context, run *Run) error
	FinishRun(ctx context.Context, id, state string, examined, matches uint64) error
	SaveMatch(ctx context.Context, m *Match) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, query RunsQuery) (*RunsList, error)
	GetMatches(ctx context.Context, runID string) ([]Match, error)
}

// RunsQuery pages through runs, newest first.
type RunsQuery struct {
	Page    int `json:"page"`
	PerPage int `json:"perPage"`
}

type RunsList struct {
	Runs       []Run `json:"runs"`
	TotalCount int   `json:"totalCount"`
	Page       int   `json:"page"`
	PerPage    int   `json:"perPage"`
	TotalPages int   `json:"totalPages"`
}

// Run is one scan as recorded in history.
type Run struct {
	ID            string     `json:"id"`
	Target        string     `json:"target_address"`
	Start         string     `json:"start"`
	End           string     `json:"end"`
	Mode          string     `json:"mode"`
	Attempts      int        `json:"attempts"`
	PrefixLength  int        `json:"prefix_length"`
	Workers       int        `json:"workers"`
	Resumed       bool       `json:"resumed"`
	State         string     `json:"state"`
	Examined      uint64     `json:"examined"`
	MatchCount    uint64     `json:"match_count"`
	EngineVersion string     `json:"engine_version"`
	CreatedAt     time.Time  `json:"created_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// Match is a prefix match found during a run.
type Match struct {
	ID      int64     `json:"id"`
	RunID   string    `json:"run_id"`
	Worker  int       `json:"worker"`
	Key     string    `json:"key"`
	Address string    `json:"address"`
	Prefix  string    `json:"prefix"`
	FoundAt time.Time `json:"found_at"`
}
