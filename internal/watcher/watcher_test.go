package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/semindex-mcp/internal/treebuilder"
)

func treebuilderConfig() treebuilder.Config {
	return treebuilder.Config{ExcludePatterns: []string{"node_modules"}}
}

// batchSink collects handler batches for assertion.
type batchSink struct {
	mu      sync.Mutex
	batches [][]string
}

func (s *batchSink) handle(paths []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, paths)
}

func (s *batchSink) allPaths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []string
	for _, batch := range s.batches {
		all = append(all, batch...)
	}
	return all
}

func (s *batchSink) contains(path string) bool {
	for _, p := range s.allPaths() {
		if p == path {
			return true
		}
	}
	return false
}

func startTestWatcher(t *testing.T, root string) *batchSink {
	t.Helper()

	sink := &batchSink{}
	w, err := New(root, sink.handle, Config{Debounce: 50 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	require.NoError(t, w.Start(context.Background()))
	return sink
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func TestReportsCreatedFile(t *testing.T) {
	root := t.TempDir()
	sink := startTestWatcher(t, root)

	writeFile(t, root, "a.ts", "export const a = 1\n")

	require.Eventually(t, func() bool {
		return sink.contains("a.ts")
	}, 3*time.Second, 20*time.Millisecond)
}

func TestBatchDeduplicatesRapidWrites(t *testing.T) {
	root := t.TempDir()
	sink := startTestWatcher(t, root)

	for i := 0; i < 5; i++ {
		writeFile(t, root, "a.ts", "rev\n")
	}

	require.Eventually(t, func() bool {
		return sink.contains("a.ts")
	}, 3*time.Second, 20*time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	for _, batch := range sink.batches {
		count := 0
		for _, p := range batch {
			if p == "a.ts" {
				count++
			}
		}
		assert.LessOrEqual(t, count, 1)
	}
}

func TestReportsRemovedFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.ts", "export const a = 1\n")
	sink := startTestWatcher(t, root)

	require.NoError(t, os.Remove(filepath.Join(root, "a.ts")))

	require.Eventually(t, func() bool {
		return sink.contains("a.ts")
	}, 3*time.Second, 20*time.Millisecond)
}

func TestIgnoresExcludedAndIneligiblePaths(t *testing.T) {
	root := t.TempDir()
	sink := &batchSink{}
	w, err := New(root, sink.handle, Config{
		Debounce: 50 * time.Millisecond,
		Filter:   treebuilderConfig(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	require.NoError(t, w.Start(context.Background()))

	writeFile(t, root, "image.bin", "\x00\x01")
	writeFile(t, root, "a.ts", "export const a = 1\n")

	require.Eventually(t, func() bool {
		return sink.contains("a.ts")
	}, 3*time.Second, 20*time.Millisecond)
	assert.False(t, sink.contains("image.bin"))
	assert.False(t, sink.contains("node_modules/lib.js"))
}

func TestNewDirectoryIsWatchedRecursively(t *testing.T) {
	root := t.TempDir()
	sink := startTestWatcher(t, root)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.Eventually(t, func() bool {
		return sink.contains("sub")
	}, 3*time.Second, 20*time.Millisecond)

	writeFile(t, root, "sub/b.ts", "export const b = 2\n")
	require.Eventually(t, func() bool {
		return sink.contains("sub/b.ts")
	}, 3*time.Second, 20*time.Millisecond)
}

func TestCloseStopsDelivery(t *testing.T) {
	root := t.TempDir()

	sink := &batchSink{}
	w, err := New(root, sink.handle, Config{Debounce: 50 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	writeFile(t, root, "late.ts", "export const late = 1\n")
	time.Sleep(200 * time.Millisecond)
	assert.False(t, sink.contains("late.ts"))
}
