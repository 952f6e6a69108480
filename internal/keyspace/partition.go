package keyspace

import (
	"fmt"
	"math/big"
)

// SubRange is one worker's exclusive slice of a scan interval. A sub-range
// whose Start exceeds its End is empty.
type SubRange struct {
	Worker int
	Start  *big.Int
	End    *big.Int
}

// Empty reports whether the sub-range holds no keys.
func (sr SubRange) Empty() bool {
	return sr.Start.Cmp(sr.End) > 0
}

// Size returns the number of keys in the sub-range, zero when empty.
func (sr SubRange) Size() *big.Int {
	if sr.Empty() {
		return new(big.Int)
	}
	n := new(big.Int).Sub(sr.End, sr.Start)
	return n.Add(n, one)
}

// Partition splits iv into exactly workers contiguous sub-ranges of
// ceil(size/workers) keys each. The last non-empty chunk may be short;
// trailing workers past iv.End receive empty ranges.
func Partition(iv Interval, workers int) ([]SubRange, error) {
	if workers < 1 {
		return nil, fmt.Errorf("worker count must be positive, got %d", workers)
	}
	if iv.Start == nil || iv.End == nil || iv.Start.Cmp(iv.End) > 0 {
		return nil, ErrInvalidInterval
	}

	w := big.NewInt(int64(workers))
	chunk := new(big.Int).Add(iv.Size(), new(big.Int).Sub(w, one))
	chunk.Quo(chunk, w)

	subs := make([]SubRange, workers)
	for i := 0; i < workers; i++ {
		start := new(big.Int).Mul(chunk, big.NewInt(int64(i)))
		start.Add(start, iv.Start)

		end := new(big.Int).Add(start, chunk)
		end.Sub(end, one)
		if end.Cmp(iv.End) > 0 {
			end.Set(iv.End)
		}
		subs[i] = SubRange{Worker: i, Start: start, End: end}
	}
	return subs, nil
}
