package scan

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/MJE43/keyscan/internal/address"
	"github.com/MJE43/keyscan/internal/checkpoint"
	"github.com/MJE43/keyscan/internal/keyspace"
)

// worker owns one sub-range for the lifetime of a scan.
type worker struct {
	s        *Scanner
	req      ScanRequest
	sub      keyspace.SubRange
	resume   *checkpoint.WorkerState
	ctl      *Control
	progress *Progress
	tally    *workerTally
	log      *zap.Logger

	prefix string
	res    WorkerResult
}

// state is the worker's resume point. A range with nothing left carries no
// position, and an empty range no bounds: its start may lie past MaxKey.
func (w *worker) state(gen Generator) checkpoint.WorkerState {
	ws := checkpoint.WorkerState{
		Index:    w.sub.Worker,
		Consumed: gen.Consumed(),
	}
	if w.sub.Empty() {
		ws.Done = true
		return ws
	}
	ws.Start = keyspace.FormatKey(w.sub.Start)
	ws.End = keyspace.FormatKey(w.sub.End)
	if pos := gen.Position(); pos != nil {
		if pos.Cmp(w.sub.End) > 0 {
			ws.Done = true
		} else {
			ws.Position = keyspace.FormatKey(pos)
		}
	}
	return ws
}

func (w *worker) setState(s WorkerState) {
	w.res.State = s
	w.progress.setState(w.sub.Worker, s)
}

// run drives the worker state machine until a terminal state.
func (w *worker) run(ctx context.Context) WorkerResult {
	w.res.Worker = w.sub.Worker
	defer w.tally.flush(context.WithoutCancel(ctx))

	gen, err := NewGenerator(w.sub, w.req.Mode, w.req.Attempts, w.resume, w.s.random)
	if err != nil {
		if errors.Is(err, ErrUnknownMode) {
			w.log.Error("Unknown mode", zap.String("mode", string(w.req.Mode)))
		} else {
			w.log.Error("Worker setup failed", zap.Error(err))
		}
		w.res.Err = err
		w.setState(StateFailed)
		return w.res
	}

	if w.sub.Empty() {
		w.log.Debug("Empty sub-range")
	} else {
		w.log.Info("Starting search",
			zap.String("from", keyspace.FormatKey(w.sub.Start)),
			zap.String("to", keyspace.FormatKey(w.sub.End)),
			zap.String("mode", string(w.req.Mode)))
	}
	w.setState(StateRunning)

	var sinceProgress, sinceCheckpoint uint64
	for {
		if w.ctl.IsStopRequested() {
			w.stop(ctx, gen, "Stopping")
			return w.res
		}
		if w.ctl.IsPaused() {
			w.setState(StatePaused)
			if !w.ctl.WaitWhilePaused(ctx) {
				w.stop(ctx, gen, "Stopping during pause")
				return w.res
			}
			w.setState(StateRunning)
			continue
		}

		key, ok := gen.Next()
		if !ok {
			if err := gen.Err(); err != nil {
				w.log.Error("Candidate source failed", zap.Error(err))
				w.res.Err = err
				w.ctl.merge(w.state(gen), false)
				w.setState(StateFailed)
				return w.res
			}
			w.ctl.markDone(w.state(gen))
			if w.req.Mode == ModeSampled {
				w.setState(StateAttemptsExhausted)
			} else {
				w.setState(StateExhaustedRange)
			}
			w.log.Debug("Worker finished", zap.String("state", string(w.res.State)),
				zap.String("examined", humanize.Comma(int64(w.res.Examined))))
			return w.res
		}

		w.examine(ctx, gen, key)

		sinceProgress++
		if sinceProgress >= w.s.progressEvery {
			sinceProgress = 0
			w.tally.flush(ctx)
			w.log.Info("Checked", zap.String("mode", string(w.req.Mode)),
				zap.String("count", humanize.Comma(int64(gen.Consumed()))))
		}
		if w.s.checkpointEvery > 0 {
			sinceCheckpoint++
			if sinceCheckpoint >= w.s.checkpointEvery {
				sinceCheckpoint = 0
				if err := w.ctl.Checkpoint(ctx, w.state(gen)); err != nil {
					w.log.Warn("Periodic checkpoint failed", zap.Error(err))
				}
			}
		}
	}
}

func (w *worker) examine(ctx context.Context, gen Generator, key *big.Int) {
	w.res.Examined++
	w.progress.examined.Add(1)
	w.tally.pending.candidates++

	addr, err := w.s.deriver.Derive(key)
	if err != nil {
		if !errors.Is(err, address.ErrInvalidKey) {
			w.log.Debug("Derivation failed", zap.Error(err))
		}
		w.res.Invalid++
		w.progress.invalid.Add(1)
		w.tally.pending.invalid++
		return
	}

	if w.prefix == "" || len(addr) < len(w.prefix) || addr[:len(w.prefix)] != w.prefix {
		return
	}

	hexKey := keyspace.FormatKey(key)
	w.log.Info("Found key!", zap.String("addr", addr), zap.String("key", hexKey))
	w.res.Matches++
	w.progress.matches.Add(1)
	w.tally.pending.matches++

	m := Match{
		Worker:  w.sub.Worker,
		Key:     key,
		HexKey:  hexKey,
		Address: addr,
		Prefix:  w.prefix,
		FoundAt: time.Now().UTC(),
	}
	if err := w.s.sink.RecordMatch(ctx, m); err != nil {
		w.log.Error("Failed to record match", zap.String("key", hexKey), zap.Error(err))
	}
	if err := w.ctl.markFound(context.WithoutCancel(ctx), w.state(gen)); err != nil {
		w.log.Warn("Checkpoint after match failed", zap.Error(err))
	}
}

func (w *worker) stop(ctx context.Context, gen Generator, msg string) {
	fields := []zap.Field{zap.Uint64("consumed", gen.Consumed())}
	if pos := gen.Position(); pos != nil {
		fields = append(fields, zap.String("at", keyspace.FormatKey(pos)))
	}
	w.log.Info(msg, fields...)
	if err := w.ctl.Checkpoint(context.WithoutCancel(ctx), w.state(gen)); err != nil {
		w.log.Error("Failed to save checkpoint", zap.Error(err))
	}
	w.setState(StateStopped)
}
