package scan

import (
	"context"
	crand "crypto/rand"
	"io"
	"math/big"
	"time"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MJE43/keyscan/internal/address"
	"github.com/MJE43/keyscan/internal/checkpoint"
	"github.com/MJE43/keyscan/internal/keyspace"
)

// DefaultProgressEvery is how many candidates a worker examines between progress lines.
const DefaultProgressEvery = 1000

// Scanner coordinates parallel workers over a partitioned interval.
type Scanner struct {
	deriver         address.Deriver
	sink            MatchSink
	logger          *zap.Logger
	meter           metric.Meter
	random          io.Reader
	progressEvery   uint64
	checkpointEvery uint64
	policy          checkpoint.DeletePolicy
}

// Option configures a Scanner.
type Option func(*Scanner)

func WithDeriver(d address.Deriver) Option {
	return func(s *Scanner) { s.deriver = d }
}

// WithMatchSink receives every match. The sink is shared by all workers.
func WithMatchSink(m MatchSink) Option {
	return func(s *Scanner) { s.sink = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Scanner) { s.logger = l }
}

func WithMeter(m metric.Meter) Option {
	return func(s *Scanner) { s.meter = m }
}

// WithRandom replaces crypto/rand as the source for sampled mode.
func WithRandom(r io.Reader) Option { return func(s *Scanner) { s.random = r } }

// WithProgressEvery sets the progress log interval. Zero keeps the default.
func WithProgressEvery(n uint64) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.progressEvery = n
		}
	}
}

// WithCheckpointEvery makes workers persist their state every n candidates.
// Zero disables periodic checkpoints; stops and matches still write one.
func WithCheckpointEvery(n uint64) Option {
	return func(s *Scanner) { s.checkpointEvery = n }
}

func WithDeletePolicy(p checkpoint.DeletePolicy) Option {
	return func(s *Scanner) { s.policy = p }
}

func NewScanner(opts ...Option) *Scanner {
	s := &Scanner{
		deriver:       address.P2PKH{},
		sink:          MatchSinkFunc(func(context.Context, Match) error { return nil }),
		logger:        zap.NewNop(),
		random:        crand.Reader,
		progressEvery: DefaultProgressEvery,
		policy:        checkpoint.DeleteOnCompletion,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.meter == nil {
		s.meter = otel.Meter("keyscan/scan")
	}
	return s
}

// Run partitions req.Interval, runs one worker per sub-range and returns
// once every worker has been joined. Cancelling ctx is a stop request.
// ctl and progress may be nil. The returned error reports checkpoint
// persistence failures only; per-worker failures are in the Result.
func (s *Scanner) Run(ctx context.Context, req ScanRequest, ctl *Control, progress *Progress) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	subs, err := keyspace.Partition(req.Interval, req.Workers)
	if err != nil {
		return nil, err
	}
	if ctl == nil {
		ctl = NewControl(nil)
	}
	if progress == nil {
		progress = NewProgress()
	}

	release := context.AfterFunc(ctx, ctl.RequestStop)
	defer release()

	ctl.begin(s.baseRecord(req))

	total := new(big.Int)
	resumes := make([]*checkpoint.WorkerState, len(subs))
	for i, sub := range subs {
		if ws, ok := req.Resume.Worker(sub.Worker); ok {
			resumes[i] = &ws
		}
		total.Add(total, planned(sub, req.Mode, req.Attempts, resumes[i]))
		progress.setState(sub.Worker, StatePending)
	}
	progress.setTotal(total)

	started := time.Now()
	s.logger.Info("Search started in parallel mode",
		zap.Int("workers", req.Workers),
		zap.String("mode", string(req.Mode)),
		zap.String("interval", req.Interval.String()),
		zap.Bool("resumed", req.Resume != nil))

	m, err := newMetrics(s.meter)
	if err != nil {
		s.logger.Warn("Scan metrics unavailable", zap.Error(err))
	}
	results := make([]WorkerResult, len(subs))
	var g errgroup.Group
	for i, sub := range subs {
		w := &worker{
			s:        s,
			req:      req,
			sub:      sub,
			resume:   resumes[i],
			ctl:      ctl,
			progress: progress,
			tally:    m.forWorker(sub.Worker, req.Mode),
			log:      s.logger.With(zap.Int("worker", sub.Worker)),
		}
		if req.PrefixLength > 0 {
			w.prefix = req.Target[:req.PrefixLength]
		}
		g.Go(func() error {
			results[i] = w.run(ctx)
			return nil
		})
	}
	_ = g.Wait()

	res := summarize(results)
	res.Duration = time.Since(started)

	var errs error
	persistCtx := context.WithoutCancel(ctx)
	if !res.Completed {
		errs = multierr.Append(errs, ctl.flush(persistCtx))
	}
	if s.policy.ShouldDelete(res.Completed) {
		if err := ctl.clear(persistCtx); err != nil {
			errs = multierr.Append(errs, err)
		} else {
			res.CheckpointCleared = true
		}
	}

	s.logger.Info("Parallel search finished.",
		zap.String("examined", humanize.Comma(int64(res.Examined))),
		zap.Uint64("matches", res.Matches),
		zap.Bool("completed", res.Completed),
		zap.Duration("elapsed", res.Duration))
	return res, errs
}

func (s *Scanner) baseRecord(req ScanRequest) *checkpoint.Record {
	if req.Resume != nil {
		rec := req.Resume.Clone()
		rec.Target = req.Target
		rec.Mode = string(req.Mode)
		rec.Attempts = req.Attempts
		rec.PrefixLength = req.PrefixLength
		return rec
	}
	return &checkpoint.Record{
		Target:       req.Target,
		Start:        keyspace.FormatKey(req.Interval.Start),
		End:          keyspace.FormatKey(req.Interval.End),
		Position:     keyspace.FormatKey(req.Interval.Start),
		Mode:         string(req.Mode),
		Attempts:     req.Attempts,
		PrefixLength: req.PrefixLength,
		WorkerCount:  req.Workers,
	}
}
