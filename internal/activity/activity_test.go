package activity

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestRingTrimsToNewest(t *testing.T) {
	l, err := Open("")
	require.NoError(t, err)

	for i := 0; i < maxLines+1; i++ {
		_, err := l.Write([]byte(fmt.Sprintf("line %d\n", i)))
		require.NoError(t, err)
	}

	assert.Equal(t, keepLines, l.Len())
	recent := l.Recent(1)
	assert.Equal(t, []string{fmt.Sprintf("line %d", maxLines)}, recent)
}

func TestRecentBounds(t *testing.T) {
	l, _ := Open("")
	l.Write([]byte("a\n"))
	l.Write([]byte("b\nc\n"))

	assert.Equal(t, []string{"a", "b", "c"}, l.Recent(50))
	assert.Equal(t, []string{"b", "c"}, l.Recent(2))
	assert.Equal(t, []string{"a", "b", "c"}, l.Recent(0))
}

func TestClearTruncatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")
	l, err := Open(path)
	require.NoError(t, err)
	defer l.Close()

	l.Write([]byte("first\n"))
	require.NoError(t, l.Sync())
	data, _ := os.ReadFile(path)
	assert.Equal(t, "first\n", string(data))

	require.NoError(t, l.Clear())
	assert.Zero(t, l.Len())
	data, _ = os.ReadFile(path)
	assert.Empty(t, data)

	l.Write([]byte("second\n"))
	data, _ = os.ReadFile(path)
	assert.Equal(t, "second\n", string(data))
}

func TestResetKeepsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")
	l, err := Open(path)
	require.NoError(t, err)
	defer l.Close()

	l.Write([]byte("kept\n"))
	l.Reset()
	assert.Zero(t, l.Len())

	data, _ := os.ReadFile(path)
	assert.Equal(t, "kept\n", string(data))
}

func TestCoreFormatting(t *testing.T) {
	l, _ := Open("")
	logger := zap.New(l.Core(zapcore.InfoLevel))

	logger.Info("Search started", zap.Int("workers", 4))
	logger.Debug("hidden")

	lines := l.Recent(0)
	require.Len(t, lines, 1)
	line := lines[0]
	assert.True(t, strings.HasPrefix(line, "["), "timestamp comes first: %q", line)
	assert.Contains(t, line, "] Search started")
	assert.Contains(t, line, `"workers": 4`)
}
