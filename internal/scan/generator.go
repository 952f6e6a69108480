package scan

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"

	"github.com/MJE43/keyscan/internal/checkpoint"
	"github.com/MJE43/keyscan/internal/keyspace"
)

var one = big.NewInt(1)

// Generator yields the candidates of one sub-range. It is finite and used
// by a single worker.
type Generator interface {
	// Next returns the next candidate, or false when the sequence is done.
	Next() (*big.Int, bool)
	// Consumed counts candidates yielded, including any carried over from a resume.
	Consumed() uint64
	// Position is the next key to be yielded, or nil for sampled generators.
	Position() *big.Int
	// Err reports a failure of the randomness source, if any ended the sequence.
	Err() error
}

// NewGenerator builds the generator for sub in the given mode. resume, when
// non-nil, restarts exhaustive scans at its Position and sampled scans with
// its Consumed attempts already spent. src defaults to crypto/rand.
func NewGenerator(sub keyspace.SubRange, mode Mode, attempts int, resume *checkpoint.WorkerState, src io.Reader) (Generator, error) {
	switch mode {
	case ModeExhaustive:
		return newExhaustive(sub, resume)
	case ModeSampled:
		if src == nil {
			src = rand.Reader
		}
		return newSampled(sub, attempts, resume, src), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}

type exhaustive struct {
	next     *big.Int
	end      *big.Int
	consumed uint64
}

func newExhaustive(sub keyspace.SubRange, resume *checkpoint.WorkerState) (*exhaustive, error) {
	g := &exhaustive{
		next: new(big.Int).Set(sub.Start),
		end:  new(big.Int).Set(sub.End),
	}
	if resume == nil {
		return g, nil
	}
	g.consumed = resume.Consumed
	if resume.Done {
		g.next.Add(g.end, one)
		return g, nil
	}
	if resume.Position != "" {
		pos, err := keyspace.ParseKey(resume.Position)
		if err != nil {
			return nil, fmt.Errorf("resume position: %w", err)
		}
		if pos.Cmp(g.next) > 0 {
			g.next = pos
		}
	}
	return g, nil
}

func (g *exhaustive) Next() (*big.Int, bool) {
	if g.next.Cmp(g.end) > 0 {
		return nil, false
	}
	k := new(big.Int).Set(g.next)
	g.next.Add(g.next, one)
	g.consumed++
	return k, true
}

func (g *exhaustive) Consumed() uint64   { return g.consumed }
func (g *exhaustive) Position() *big.Int { return new(big.Int).Set(g.next) }
func (g *exhaustive) Err() error         { return nil }

type sampled struct {
	lo        *big.Int
	span      *big.Int
	remaining uint64
	consumed  uint64
	src       io.Reader
	err       error
}

func newSampled(sub keyspace.SubRange, attempts int, resume *checkpoint.WorkerState, src io.Reader) *sampled {
	g := &sampled{
		lo:   new(big.Int).Set(sub.Start),
		span: sub.Size(),
		src:  src,
	}
	if sub.Empty() || attempts < 1 {
		return g
	}
	g.remaining = uint64(attempts)
	if resume != nil {
		g.consumed = resume.Consumed
		switch {
		case resume.Done || resume.Consumed >= g.remaining:
			g.remaining = 0
		default:
			g.remaining -= resume.Consumed
		}
	}
	return g
}

func (g *sampled) Next() (*big.Int, bool) {
	if g.remaining == 0 || g.err != nil {
		return nil, false
	}
	n, err := rand.Int(g.src, g.span)
	if err != nil {
		g.err = fmt.Errorf("draw candidate: %w", err)
		return nil, false
	}
	g.remaining--
	g.consumed++
	return n.Add(n, g.lo), true
}

func (g *sampled) Consumed() uint64   { return g.consumed }
func (g *sampled) Position() *big.Int { return nil }
func (g *sampled) Err() error         { return g.err }

// planned returns how many candidates the generator for sub would yield.
func planned(sub keyspace.SubRange, mode Mode, attempts int, resume *checkpoint.WorkerState) *big.Int {
	switch mode {
	case ModeExhaustive:
		g, err := newExhaustive(sub, resume)
		if err != nil || g.next.Cmp(g.end) > 0 {
			return new(big.Int)
		}
		n := new(big.Int).Sub(g.end, g.next)
		return n.Add(n, one)
	case ModeSampled:
		g := newSampled(sub, attempts, resume, nil)
		return new(big.Int).SetUint64(g.remaining)
	default:
		return new(big.Int)
	}
}
