package coordinator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/semindex-mcp/internal/embedder"
	"github.com/dshills/semindex-mcp/internal/snapshot"
	"github.com/dshills/semindex-mcp/internal/vectorstore"
	"github.com/dshills/semindex-mcp/pkg/types"
)

type fixture struct {
	coord     *Coordinator
	snapshots *snapshot.Store
	workspace string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	provider, err := embedder.NewLocalProvider(embedder.NewCache(256))
	require.NoError(t, err)

	store, err := vectorstore.NewSQLiteStore(filepath.Join(t.TempDir(), "index.db"), provider)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	snapshots, err := snapshot.NewStore(t.TempDir())
	require.NoError(t, err)

	return &fixture{
		coord:     New(snapshots, store, provider, Config{Branch: "main"}),
		snapshots: snapshots,
		workspace: t.TempDir(),
	}
}

func (f *fixture) write(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(f.workspace, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// touch pushes the file's mtime forward so the scanner's mtime+size check
// sees it as dirty even when the test runs faster than mtime granularity.
func (f *fixture) touch(t *testing.T, rel string, offset time.Duration) {
	t.Helper()
	when := time.Now().Add(offset)
	require.NoError(t, os.Chtimes(filepath.Join(f.workspace, rel), when, when))
}

func TestIndexWorkspaceFirstRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.write(t, "a.ts", "export const a = 1\n")
	f.write(t, "b.ts", "export const b = 2\n")

	result, err := f.coord.IndexWorkspace(ctx, f.workspace, nil)
	require.NoError(t, err)
	assert.False(t, result.Cancelled)
	assert.Equal(t, 2, result.Computed)
	assert.Zero(t, result.Deleted)
	assert.Zero(t, result.Tagged)
	assert.NotEmpty(t, result.RootHash)

	hasIndex, err := f.coord.HasIndex(ctx, f.workspace)
	require.NoError(t, err)
	assert.True(t, hasIndex)
	assert.True(t, f.snapshots.Exists(f.workspace))
}

func TestIndexWorkspaceIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.write(t, "a.ts", "export const a = 1\n")

	first, err := f.coord.IndexWorkspace(ctx, f.workspace, nil)
	require.NoError(t, err)

	second, err := f.coord.IndexWorkspace(ctx, f.workspace, nil)
	require.NoError(t, err)
	assert.Zero(t, second.Computed)
	assert.Zero(t, second.Deleted)
	assert.Zero(t, second.Tagged)
	assert.Equal(t, first.RootHash, second.RootHash)
}

func TestIndexWorkspaceEditRecomputesOnlyChanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.write(t, "a.ts", "export const a = 1\n")
	f.write(t, "b.ts", "export const b = 2\n")

	first, err := f.coord.IndexWorkspace(ctx, f.workspace, nil)
	require.NoError(t, err)

	f.write(t, "a.ts", "export const a = 42\n")
	f.touch(t, "a.ts", time.Hour)

	second, err := f.coord.IndexWorkspace(ctx, f.workspace, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Computed)
	assert.Zero(t, second.Deleted)
	assert.NotEqual(t, first.RootHash, second.RootHash)
}

func TestIndexWorkspaceDeletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.write(t, "a.ts", "export const a = 1\n")
	f.write(t, "b.ts", "export const b = 2\n")

	_, err := f.coord.IndexWorkspace(ctx, f.workspace, nil)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(f.workspace, "b.ts")))

	result, err := f.coord.IndexWorkspace(ctx, f.workspace, nil)
	require.NoError(t, err)
	assert.Zero(t, result.Computed)
	assert.Equal(t, 1, result.Deleted)

	stats, err := f.coord.GetIndexStats(ctx, f.workspace)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Files)
}

func TestRenameTagsWithoutRecompute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.write(t, "old.ts", "export const body = true\n")
	_, err := f.coord.IndexWorkspace(ctx, f.workspace, nil)
	require.NoError(t, err)

	require.NoError(t, os.Rename(
		filepath.Join(f.workspace, "old.ts"),
		filepath.Join(f.workspace, "new.ts")))

	result, err := f.coord.IndexWorkspace(ctx, f.workspace, nil)
	require.NoError(t, err)
	assert.Zero(t, result.Computed, "identical content must come from the cache")
	assert.Equal(t, 1, result.Tagged)
	assert.Equal(t, 1, result.Deleted)
}

func TestIndexWorkspaceAlreadyIndexing(t *testing.T) {
	f := newFixture(t)

	lock := f.coord.lockFor(f.workspace)
	require.True(t, lock.TryAcquire())
	defer lock.Release()

	_, err := f.coord.IndexWorkspace(context.Background(), f.workspace, nil)
	require.Error(t, err)
	assert.Equal(t, types.CodeAlreadyIndexing, types.CodeOf(err))
}

func TestIndexWorkspaceNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.coord.IndexWorkspace(context.Background(), filepath.Join(f.workspace, "missing"), nil)
	require.Error(t, err)
	assert.Equal(t, types.CodeWorkspaceNotFound, types.CodeOf(err))
}

func TestSetIndexEnabled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, "a.ts", "export const a = 1\n")

	f.coord.SetIndexEnabled(f.workspace, false)
	_, err := f.coord.IndexWorkspace(ctx, f.workspace, nil)
	require.Error(t, err)

	f.coord.SetIndexEnabled(f.workspace, true)
	_, err = f.coord.IndexWorkspace(ctx, f.workspace, nil)
	require.NoError(t, err)
}

func TestCancelIndexingWhenIdle(t *testing.T) {
	f := newFixture(t)
	assert.False(t, f.coord.CancelIndexing(f.workspace))
}

func TestOnFilesChangedTargeted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.write(t, "a.ts", "export const a = 1\n")
	f.write(t, "b.ts", "export const b = 2\n")
	_, err := f.coord.IndexWorkspace(ctx, f.workspace, nil)
	require.NoError(t, err)

	f.write(t, "a.ts", "export const a = 99\n")
	f.touch(t, "a.ts", time.Hour)

	result, err := f.coord.OnFilesChanged(ctx, f.workspace, []string{"a.ts"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Computed)
	assert.Zero(t, result.Deleted)
}

func TestOnFilesChangedVanishedPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.write(t, "a.ts", "export const a = 1\n")
	_, err := f.coord.IndexWorkspace(ctx, f.workspace, nil)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(f.workspace, "a.ts")))

	result, err := f.coord.OnFilesChanged(ctx, f.workspace, []string{"a.ts"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deleted)
}

func TestOnFilesChangedEmpty(t *testing.T) {
	f := newFixture(t)

	result, err := f.coord.OnFilesChanged(context.Background(), f.workspace, nil, nil)
	require.NoError(t, err)
	assert.Zero(t, result.Computed)
}

func TestRetrieve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	content := "export function greet() { return \"hello\" }\n"
	f.write(t, "greet.ts", content)
	_, err := f.coord.IndexWorkspace(ctx, f.workspace, nil)
	require.NoError(t, err)

	results, err := f.coord.Retrieve(ctx, f.workspace, content, 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "greet.ts", results[0].Path)
}

func TestRetrieveNoIndex(t *testing.T) {
	f := newFixture(t)

	_, err := f.coord.Retrieve(context.Background(), f.workspace, "query", 5)
	require.Error(t, err)
	assert.Equal(t, types.CodeNoIndexAvailable, types.CodeOf(err))
}

func TestDeleteIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.write(t, "a.ts", "export const a = 1\n")
	_, err := f.coord.IndexWorkspace(ctx, f.workspace, nil)
	require.NoError(t, err)

	require.NoError(t, f.coord.DeleteIndex(ctx, f.workspace))

	hasIndex, err := f.coord.HasIndex(ctx, f.workspace)
	require.NoError(t, err)
	assert.False(t, hasIndex)
	assert.False(t, f.snapshots.Exists(f.workspace))

	_, err = f.coord.GetIndexStats(ctx, f.workspace)
	require.Error(t, err)
	assert.Equal(t, types.CodeIndexNotFound, types.CodeOf(err))
}

func TestStatusLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	status, err := f.coord.GetStatus(ctx, f.workspace)
	require.NoError(t, err)
	assert.Equal(t, types.StateIdle, status.State)
	assert.True(t, status.Enabled)
	assert.False(t, status.HasIndex)

	f.write(t, "a.ts", "export const a = 1\n")
	_, err = f.coord.IndexWorkspace(ctx, f.workspace, nil)
	require.NoError(t, err)

	status, err = f.coord.GetStatus(ctx, f.workspace)
	require.NoError(t, err)
	assert.Equal(t, types.StateCompleted, status.State)
	assert.True(t, status.HasIndex)
	assert.False(t, status.LastIndexedAt.IsZero())
}

func TestProgressReported(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.write(t, "a.ts", "export const a = 1\n")

	var phases []string
	_, err := f.coord.IndexWorkspace(ctx, f.workspace, func(p types.Progress) {
		phases = append(phases, p.Phase)
	})
	require.NoError(t, err)
	assert.Contains(t, phases, "embedding")
}
