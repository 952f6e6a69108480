package scan

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/multierr"
)

type metrics struct {
	candidates metric.Int64Counter
	matches    metric.Int64Counter
	invalid    metric.Int64Counter
}

// newMetrics registers the scan counters on meter. A counter the meter
// refuses is replaced by a no-op so the scan still runs; the returned
// error names every refusal.
func newMetrics(meter metric.Meter) (*metrics, error) {
	var errs error
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("register %s: %w", name, err))
		}
		if err != nil || c == nil {
			return noop.Int64Counter{}
		}
		return c
	}
	m := &metrics{
		candidates: counter("keyscan_candidates_total", "Candidate keys examined"),
		matches:    counter("keyscan_matches_total", "Candidates whose identifier shared the target prefix"),
		invalid:    counter("keyscan_invalid_keys_total", "Candidates skipped as invalid scalars"),
	}
	return m, errs
}

// workerTally batches one worker's counts between flushes so the hot loop
// never touches the meter.
type workerTally struct {
	m       *metrics
	attrs   metric.AddOption
	pending struct{ candidates, matches, invalid int64 }
}

func (m *metrics) forWorker(worker int, mode Mode) *workerTally {
	return &workerTally{
		m: m,
		attrs: metric.WithAttributes(
			attribute.Int("worker", worker),
			attribute.String("mode", string(mode)),
		),
	}
}

func (t *workerTally) flush(ctx context.Context) {
	p := &t.pending
	if p.candidates > 0 {
		t.m.candidates.Add(ctx, p.candidates, t.attrs)
	}
	if p.matches > 0 {
		t.m.matches.Add(ctx, p.matches, t.attrs)
	}
	if p.invalid > 0 {
		t.m.invalid.Add(ctx, p.invalid, t.attrs)
	}
	*p = struct{ candidates, matches, invalid int64 }{}
}
