package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/MJE43/keyscan/internal/activity"
	"github.com/MJE43/keyscan/internal/address"
	"github.com/MJE43/keyscan/internal/checkpoint"
	"github.com/MJE43/keyscan/internal/keyspace"
	"github.com/MJE43/keyscan/internal/matchlog"
	"github.com/MJE43/keyscan/internal/scan"
	"github.com/MJE43/keyscan/internal/store"
)

var (
	ErrScanRunning  = errors.New("scan already running")
	ErrNotRunning   = errors.New("no scan running")
	ErrNoCheckpoint = errors.New("no checkpoint to resume")
)

// State is the lifecycle state of the runner.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StatePaused   State = "paused"
	StateStopping State = "stopping"
	StateFinished State = "finished"
)

// StatusLines is how many recent activity lines Status returns.
const StatusLines = 50

// StartRequest is a scan request as submitted by a client. Keys are
// 64-digit hex strings. With Resume set every other field is taken from
// the stored checkpoint.
type StartRequest struct {
	Target       string `json:"target_address"`
	Start        string `json:"start"`
	End          string `json:"end"`
	Mode         string `json:"mode"`
	Attempts     int    `json:"attempts"`
	PrefixLength int    `json:"prefix_length"`
	Workers      int    `json:"workers"`
	Resume       bool   `json:"resume"`
}

// Status is a point-in-time view of the runner.
type Status struct {
	Result    []string                 `json:"result"`
	Finished  bool                     `json:"finished"`
	Timestamp float64                  `json:"timestamp"`
	State     State                    `json:"state"`
	RunID     string                   `json:"run_id,omitempty"`
	Examined  uint64                   `json:"examined"`
	Matches   uint64                   `json:"matches"`
	Invalid   uint64                   `json:"invalid"`
	Percent   string                   `json:"percent"`
	Workers   map[int]scan.WorkerState `json:"workers,omitempty"`
	Last      *scan.Result             `json:"last_result,omitempty"`
}

// Runner owns at most one scan at a time. It is safe for concurrent use.
type Runner struct {
	mu       sync.Mutex
	state    State
	finished bool
	runID    string
	ctl      *scan.Control
	progress *scan.Progress
	cancel   context.CancelFunc
	done     chan struct{}
	last     *scan.Result

	base     context.Context
	shutdown context.CancelFunc

	checkpoints checkpoint.Store
	matches     *matchlog.Writer
	activity    *activity.Log
	history     store.DB
	logger      *zap.Logger
	meter       metric.Meter
	deriver     address.Deriver

	defaultWorkers  int
	pollInterval    time.Duration
	progressEvery   uint64
	checkpointEvery uint64
	policy          checkpoint.DeletePolicy
	engineVersion   string
}

// Option configures a Runner.
type Option func(*Runner)

// WithHistory records every run and its matches in db.
func WithHistory(db store.DB) Option {
	return func(r *Runner) { r.history = db }
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

func WithMeter(m metric.Meter) Option {
	return func(r *Runner) { r.meter = m }
}

// WithDeriver replaces P2PKH derivation, for tests.
func WithDeriver(d address.Deriver) Option {
	return func(r *Runner) { r.deriver = d }
}

// WithDefaultWorkers sets the worker count used when a request leaves it unset.
func WithDefaultWorkers(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.defaultWorkers = n
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(r *Runner) { r.pollInterval = d }
}

func WithProgressEvery(n uint64) Option {
	return func(r *Runner) { r.progressEvery = n }
}

func WithCheckpointEvery(n uint64) Option {
	return func(r *Runner) { r.checkpointEvery = n }
}

func WithDeletePolicy(p checkpoint.DeletePolicy) Option {
	return func(r *Runner) { r.policy = p }
}

func WithEngineVersion(v string) Option {
	return func(r *Runner) { r.engineVersion = v }
}

// New returns an idle runner. checkpoints, matches and log are required.
func New(checkpoints checkpoint.Store, matches *matchlog.Writer, log *activity.Log, opts ...Option) *Runner {
	base, shutdown := context.WithCancel(context.Background())
	r := &Runner{
		state:          StateIdle,
		finished:       true,
		base:           base,
		shutdown:       shutdown,
		checkpoints:    checkpoints,
		matches:        matches,
		activity:       log,
		logger:         zap.NewNop(),
		defaultWorkers: 4,
		policy:         checkpoint.DeleteOnCompletion,
		engineVersion:  "dev",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start validates req and launches the scan in the background. It returns
// the run ID once workers are spawning.
func (r *Runner) Start(ctx context.Context, req StartRequest) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active() {
		return "", ErrScanRunning
	}

	sreq, err := r.buildRequest(ctx, req)
	if err != nil {
		return "", err
	}

	runID := uuid.New().String()
	if r.history != nil {
		run := &store.Run{
			ID:            runID,
			Target:        sreq.Target,
			Start:         keyspace.FormatKey(sreq.Interval.Start),
			End:           keyspace.FormatKey(sreq.Interval.End),
			Mode:          string(sreq.Mode),
			Attempts:      sreq.Attempts,
			PrefixLength:  sreq.PrefixLength,
			Workers:       sreq.Workers,
			Resumed:       sreq.Resume != nil,
			EngineVersion: r.engineVersion,
		}
		if err := r.history.SaveRun(ctx, run); err != nil {
			r.logger.Warn("Failed to record run", zap.Error(err))
		}
	}

	r.activity.Reset()
	r.runID = runID
	r.ctl = scan.NewControl(r.checkpoints, scan.WithPollInterval(r.pollInterval))
	r.progress = scan.NewProgress()
	r.state = StateRunning
	r.finished = false
	r.last = nil
	r.done = make(chan struct{})

	runCtx, cancel := context.WithCancel(r.base)
	r.cancel = cancel

	scanner := scan.NewScanner(r.scannerOptions(runID)...)
	go r.run(runCtx, scanner, sreq, r.ctl, r.progress, r.done, runID)

	return runID, nil
}

// active reports whether a scan is in flight. Callers hold mu.
func (r *Runner) active() bool {
	switch r.state {
	case StateRunning, StatePaused, StateStopping:
		return true
	}
	return false
}

func (r *Runner) buildRequest(ctx context.Context, req StartRequest) (scan.ScanRequest, error) {
	if req.Resume {
		return r.resumeRequest(ctx)
	}

	iv, err := keyspace.ParseInterval(req.Start, req.End)
	if err != nil {
		return scan.ScanRequest{}, err
	}
	mode, err := scan.ParseMode(req.Mode)
	if err != nil {
		return scan.ScanRequest{}, err
	}
	attempts := req.Attempts
	if attempts < 1 {
		attempts = 1
	}
	workers := req.Workers
	if workers < 1 {
		workers = r.defaultWorkers
	}
	sreq := scan.ScanRequest{
		Target:       req.Target,
		Interval:     iv,
		Mode:         mode,
		Attempts:     attempts,
		PrefixLength: req.PrefixLength,
		Workers:      workers,
	}
	return sreq, sreq.Validate()
}

func (r *Runner) resumeRequest(ctx context.Context) (scan.ScanRequest, error) {
	rec, err := r.checkpoints.Load(ctx)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return scan.ScanRequest{}, ErrNoCheckpoint
	}
	if err != nil {
		return scan.ScanRequest{}, fmt.Errorf("load checkpoint: %w", err)
	}
	if err := rec.Validate(); err != nil {
		return scan.ScanRequest{}, err
	}
	iv, err := keyspace.ParseInterval(rec.Start, rec.End)
	if err != nil {
		return scan.ScanRequest{}, err
	}
	mode, err := scan.ParseMode(rec.Mode)
	if err != nil {
		return scan.ScanRequest{}, err
	}
	sreq := scan.ScanRequest{
		Target:       rec.Target,
		Interval:     iv,
		Mode:         mode,
		Attempts:     max(rec.Attempts, 1),
		PrefixLength: rec.PrefixLength,
		Workers:      rec.WorkerCount,
		Resume:       rec,
	}
	return sreq, sreq.Validate()
}

func (r *Runner) scannerOptions(runID string) []scan.Option {
	opts := []scan.Option{
		scan.WithLogger(r.logger),
		scan.WithMatchSink(r.sink(runID)),
		scan.WithProgressEvery(r.progressEvery),
		scan.WithCheckpointEvery(r.checkpointEvery),
		scan.WithDeletePolicy(r.policy),
	}
	if r.deriver != nil {
		opts = append(opts, scan.WithDeriver(r.deriver))
	}
	if r.meter != nil {
		opts = append(opts, scan.WithMeter(r.meter))
	}
	return opts
}

// sink appends each match to the match record and, when history is on, the run's matches.
func (r *Runner) sink(runID string) scan.MatchSink {
	return scan.MatchSinkFunc(func(ctx context.Context, m scan.Match) error {
		err := r.matches.Append(m.Prefix, m.HexKey)
		if r.history != nil {
			err = multierr.Append(err, r.history.SaveMatch(context.WithoutCancel(ctx), &store.Match{
				RunID:   runID,
				Worker:  m.Worker,
				Key:     m.HexKey,
				Address: m.Address,
				Prefix:  m.Prefix,
				FoundAt: m.FoundAt,
			}))
		}
		return err
	})
}

func (r *Runner) run(ctx context.Context, s *scan.Scanner, req scan.ScanRequest, ctl *scan.Control, progress *scan.Progress, done chan struct{}, runID string) {
	defer close(done)

	res, err := s.Run(ctx, req, ctl, progress)
	if err != nil {
		r.logger.Error("Checkpoint persistence failed", zap.Error(err))
	}

	outcome := store.RunFailed
	switch {
	case res == nil:
	case res.Stopped:
		outcome = store.RunStopped
	case res.Completed:
		outcome = store.RunCompleted
	}
	if r.history != nil {
		if err := r.history.FinishRun(context.WithoutCancel(ctx), runID, outcome, progress.Examined(), progress.Matches()); err != nil {
			r.logger.Warn("Failed to record run outcome", zap.Error(err))
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runID == runID {
		r.state = StateFinished
		r.finished = true
		r.last = res
		r.cancel()
	}
}

// Pause suspends every worker of the running scan.
func (r *Runner) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRunning && r.state != StatePaused {
		return ErrNotRunning
	}
	r.ctl.SetPaused(true)
	r.state = StatePaused
	r.logger.Info("Search paused")
	return nil
}

func (r *Runner) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRunning && r.state != StatePaused {
		return ErrNotRunning
	}
	r.ctl.SetPaused(false)
	r.state = StateRunning
	r.logger.Info("Search resumed")
	return nil
}

// Stop asks every worker to checkpoint and exit. It does not wait; use Wait.
func (r *Runner) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active() {
		return ErrNotRunning
	}
	r.ctl.RequestStop()
	r.ctl.SetPaused(false)
	if r.state != StateStopping {
		r.state = StateStopping
		r.logger.Info("Stop requested")
	}
	return nil
}

// Wait blocks until the current scan, if any, has finished.
func (r *Runner) Wait(ctx context.Context) error {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) Status() Status {
	r.mu.Lock()
	st := Status{
		Finished:  r.finished,
		Timestamp: float64(time.Now().UnixMilli()) / 1000,
		State:     r.state,
		RunID:     r.runID,
		Percent:   "0.00",
		Last:      r.last,
	}
	progress := r.progress
	r.mu.Unlock()

	st.Result = r.activity.Recent(StatusLines)
	if progress != nil {
		snap := progress.Snapshot()
		st.Examined = snap.Examined
		st.Matches = snap.Matches
		st.Invalid = snap.Invalid
		st.Percent = snap.Percent
		st.Workers = snap.Workers
	}
	return st
}

// ClearLog empties the activity ring and truncates the log file.
func (r *Runner) ClearLog() error {
	return r.activity.Clear()
}

// Checkpoint returns the stored checkpoint or checkpoint.ErrNotFound.
func (r *Runner) Checkpoint(ctx context.Context) (*checkpoint.Record, error) {
	return r.checkpoints.Load(ctx)
}

// ResetCheckpoint deletes the stored checkpoint. It refuses while a scan runs.
func (r *Runner) ResetCheckpoint(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active() {
		return ErrScanRunning
	}
	return r.checkpoints.Delete(ctx)
}

// Close stops any running scan and waits for its workers to checkpoint.
func (r *Runner) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.active() {
		r.ctl.RequestStop()
		r.ctl.SetPaused(false)
		r.state = StateStopping
	}
	r.mu.Unlock()

	err := r.Wait(ctx)
	r.shutdown()
	return err
}
