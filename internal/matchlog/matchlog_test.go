package matchlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	assert.Equal(t, "prefix: 1B | key: 00ff", Format("1B", "00ff"))
}

func TestAppendAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "found_keys.txt")

	w, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, w.Append("1Bg", "01"))
	require.NoError(t, w.Append("1Bg", "02"))
	require.NoError(t, w.Close())

	// reopening appends, never truncates
	w, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, w.Append("1Bg", "01"))
	require.NoError(t, w.Close())

	entries, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, entries, 3, "duplicates are kept")
	assert.Equal(t, Entry{Prefix: "1Bg", Key: "01"}, entries[0])
	assert.Equal(t, Entry{Prefix: "1Bg", Key: "01"}, entries[2])

	assert.Error(t, w.Append("x", "y"), "closed writer rejects appends")
}

func TestConcurrentAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "found_keys.txt")
	w, err := Open(path)
	require.NoError(t, err)
	defer w.Close()

	const goroutines, perG = 8, 50
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perG; i++ {
				assert.NoError(t, w.Append("1A", fmt.Sprintf("%02d%04d", g, i)))
			}
		}(g)
	}
	wg.Wait()

	entries, err := ReadAll(path)
	require.NoError(t, err)
	assert.Len(t, entries, goroutines*perG)
}

func TestReadAllMissingAndMalformed(t *testing.T) {
	dir := t.TempDir()

	entries, err := ReadAll(filepath.Join(dir, "absent.txt"))
	require.NoError(t, err)
	assert.Empty(t, entries)

	bad := filepath.Join(dir, "bad.txt")
	require.NoError(t, os.WriteFile(bad, []byte("garbage\n"), 0o644))
	_, err = ReadAll(bad)
	assert.Error(t, err)
}
