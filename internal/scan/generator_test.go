package scan

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MJE43/keyscan/internal/checkpoint"
	"github.com/MJE43/keyscan/internal/keyspace"
)

func sub(start, end int64) keyspace.SubRange {
	return keyspace.SubRange{Start: big.NewInt(start), End: big.NewInt(end)}
}

func drain(g Generator) []int64 {
	var out []int64
	for {
		k, ok := g.Next()
		if !ok {
			return out
		}
		out = append(out, k.Int64())
	}
}

func TestExhaustiveGenerator(t *testing.T) {
	g, err := NewGenerator(sub(5, 9), ModeExhaustive, 0, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 6, 7, 8, 9}, drain(g))
	assert.EqualValues(t, 5, g.Consumed())
	assert.Equal(t, int64(10), g.Position().Int64())
	assert.NoError(t, g.Err())

	_, ok := g.Next()
	assert.False(t, ok, "exhausted generators stay exhausted")
}

func TestExhaustiveGeneratorEmptyRange(t *testing.T) {
	g, err := NewGenerator(sub(10, 9), ModeExhaustive, 0, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, drain(g))
	assert.Zero(t, g.Consumed())
}

func TestExhaustiveGeneratorResume(t *testing.T) {
	ws := &checkpoint.WorkerState{Position: keyspace.FormatKey(big.NewInt(8)), Consumed: 3}
	g, err := NewGenerator(sub(5, 9), ModeExhaustive, 0, ws, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{8, 9}, drain(g))
	assert.EqualValues(t, 5, g.Consumed())

	// A position before the sub-range is clamped to its start.
	ws = &checkpoint.WorkerState{Position: keyspace.FormatKey(big.NewInt(1))}
	g, err = NewGenerator(sub(5, 6), ModeExhaustive, 0, ws, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 6}, drain(g))

	g, err = NewGenerator(sub(5, 9), ModeExhaustive, 0, &checkpoint.WorkerState{Done: true}, nil)
	require.NoError(t, err)
	assert.Empty(t, drain(g))

	_, err = NewGenerator(sub(5, 9), ModeExhaustive, 0, &checkpoint.WorkerState{Position: "zz"}, nil)
	assert.ErrorIs(t, err, keyspace.ErrInvalidKeyFormat)
}

func TestSampledGenerator(t *testing.T) {
	g, err := NewGenerator(sub(100, 103), ModeSampled, 200, nil, nil)
	require.NoError(t, err)
	keys := drain(g)
	assert.Len(t, keys, 200)
	for _, k := range keys {
		assert.GreaterOrEqual(t, k, int64(100))
		assert.LessOrEqual(t, k, int64(103))
	}
	assert.Nil(t, g.Position())
	assert.EqualValues(t, 200, g.Consumed())
}

func TestSampledGeneratorSingleKeyRange(t *testing.T) {
	g, err := NewGenerator(sub(7, 7), ModeSampled, 3, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 7, 7}, drain(g))
}

func TestSampledGeneratorEmptyOrSpent(t *testing.T) {
	g, err := NewGenerator(sub(8, 7), ModeSampled, 10, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, drain(g))

	g, err = NewGenerator(sub(0, 9), ModeSampled, 10, &checkpoint.WorkerState{Consumed: 12}, nil)
	require.NoError(t, err)
	assert.Empty(t, drain(g))
	assert.EqualValues(t, 12, g.Consumed())
}

func TestSampledGeneratorSourceFailure(t *testing.T) {
	g, err := NewGenerator(sub(0, 1<<40), ModeSampled, 5, nil, bytes.NewReader(nil))
	require.NoError(t, err)
	_, ok := g.Next()
	assert.False(t, ok)
	assert.Error(t, g.Err())
}

func TestNewGeneratorUnknownMode(t *testing.T) {
	_, err := NewGenerator(sub(0, 1), Mode("spiral"), 0, nil, nil)
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestPlanned(t *testing.T) {
	assert.Equal(t, "5", planned(sub(5, 9), ModeExhaustive, 0, nil).String())
	assert.Equal(t, "0", planned(sub(9, 5), ModeExhaustive, 0, nil).String())
	assert.Equal(t, "2", planned(sub(5, 9), ModeExhaustive, 0,
		&checkpoint.WorkerState{Position: keyspace.FormatKey(big.NewInt(8))}).String())
	assert.Equal(t, "7", planned(sub(0, 9), ModeSampled, 10, &checkpoint.WorkerState{Consumed: 3}).String())
	assert.Equal(t, "0", planned(sub(0, 9), Mode("x"), 10, nil).String())
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{
		"":           ModeExhaustive,
		"sequential": ModeExhaustive,
		"Exhaustive": ModeExhaustive,
		"random":     ModeSampled,
		" sampled ":  ModeSampled,
	} {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseMode("spiral")
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestProgressPercent(t *testing.T) {
	p := NewProgress()
	assert.Equal(t, "100", p.Percent().String())

	p.setTotal(big.NewInt(3))
	p.examined.Add(1)
	assert.Equal(t, "33.3333", p.Percent().String())
	p.examined.Add(2)
	assert.Equal(t, "100", p.Percent().String())

	p.setState(0, StateRunning)
	snap := p.Snapshot()
	assert.Equal(t, "3", snap.Total)
	assert.Equal(t, StateRunning, snap.Workers[0])
}
