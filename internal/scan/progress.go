package scan

import (
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"
)

// Progress aggregates live counters across workers. Counters only grow
// within a scan; a new scan gets a new Progress.
type Progress struct {
	examined atomic.Uint64
	matches  atomic.Uint64
	invalid  atomic.Uint64

	mu     sync.RWMutex
	total  *big.Int
	states map[int]WorkerState
}

// ProgressSnapshot is a point-in-time copy of Progress.
type ProgressSnapshot struct {
	Examined uint64              `json:"examined"`
	Matches  uint64              `json:"matches"`
	Invalid  uint64              `json:"invalid"`
	Total    string              `json:"total"`
	Percent  string              `json:"percent"`
	Workers  map[int]WorkerState `json:"workers"`
}

func NewProgress() *Progress {
	return &Progress{
		total:  new(big.Int),
		states: make(map[int]WorkerState),
	}
}

func (p *Progress) setTotal(total *big.Int) {
	p.mu.Lock()
	p.total = new(big.Int).Set(total)
	p.mu.Unlock()
}

func (p *Progress) setState(worker int, s WorkerState) {
	p.mu.Lock()
	p.states[worker] = s
	p.mu.Unlock()
}

func (p *Progress) Examined() uint64 { return p.examined.Load() }
func (p *Progress) Matches() uint64  { return p.matches.Load() }
func (p *Progress) Invalid() uint64  { return p.invalid.Load() }

// Total is the number of candidates the scan planned to examine.
func (p *Progress) Total() *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return new(big.Int).Set(p.total)
}

// Percent returns examined/total as a percentage rounded to four places.
// An empty plan reads as 100.
func (p *Progress) Percent() decimal.Decimal {
	total := p.Total()
	if total.Sign() == 0 {
		return decimal.NewFromInt(100)
	}
	examined := decimal.NewFromBigInt(new(big.Int).SetUint64(p.Examined()), 0)
	pct := examined.Mul(decimal.NewFromInt(100)).DivRound(decimal.NewFromBigInt(total, 0), 4)
	if pct.GreaterThan(decimal.NewFromInt(100)) {
		return decimal.NewFromInt(100)
	}
	return pct
}

// WorkerStates returns a copy of the last known state of each worker.
func (p *Progress) WorkerStates() map[int]WorkerState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[int]WorkerState, len(p.states))
	for k, v := range p.states {
		out[k] = v
	}
	return out
}

func (p *Progress) Snapshot() ProgressSnapshot {
	return ProgressSnapshot{
		Examined: p.Examined(),
		Matches:  p.Matches(),
		Invalid:  p.Invalid(),
		Total:    p.Total().String(),
		Percent:  p.Percent().StringFixed(2),
		Workers:  p.WorkerStates(),
	}
}
