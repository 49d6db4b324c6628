package worker

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/semindex-mcp/pkg/types"
)

// newRunnerChannel wires a real Runner to a Channel over in-process pipes,
// exercising the full wire protocol without spawning a binary.
func newRunnerChannel(t *testing.T) *Channel {
	t.Helper()

	spawn := func() (*transport, error) {
		hostR, workerW := io.Pipe()
		workerR, hostW := io.Pipe()

		runner := NewRunner(workerR, workerW)
		go func() {
			_ = runner.Run(context.Background())
			_ = workerW.Close()
			_ = runner.Close()
		}()

		return &transport{
			stdin:  hostW,
			stdout: hostR,
			wait:   func() error { return nil },
			kill:   func() { _ = workerW.Close() },
		}, nil
	}

	ch := newChannel(spawn)
	t.Cleanup(func() { _ = ch.Dispose(context.Background()) })
	return ch
}

func initRequest(t *testing.T) *InitRequest {
	t.Helper()
	return &InitRequest{
		DBPath:      filepath.Join(t.TempDir(), "index.db"),
		SnapshotDir: t.TempDir(),
		Provider:    "local",
	}
}

func writeWorkspaceFile(t *testing.T, workspace, rel, content string) {
	t.Helper()
	path := filepath.Join(workspace, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestRunnerRejectsCallsBeforeInit(t *testing.T) {
	ch := newRunnerChannel(t)

	_, err := ch.Call(context.Background(), RequestHasIndex, &WorkspaceRequest{Workspace: "/ws"})
	require.Error(t, err)
	assert.Equal(t, types.CodeWorkerNotReady, types.CodeOf(err))
}

func TestRunnerInitIdempotent(t *testing.T) {
	ch := newRunnerChannel(t)
	ctx := context.Background()
	init := initRequest(t)

	_, err := ch.Call(ctx, RequestInit, init)
	require.NoError(t, err)

	// Identical init is accepted, a different one is refused.
	_, err = ch.Call(ctx, RequestInit, init)
	require.NoError(t, err)

	other := *init
	other.Branch = "dev"
	_, err = ch.Call(ctx, RequestInit, &other)
	require.Error(t, err)
	assert.Equal(t, types.CodeInitFailed, types.CodeOf(err))
}

func TestRunnerIndexAndRetrieve(t *testing.T) {
	ch := newRunnerChannel(t)
	ctx := context.Background()
	workspace := t.TempDir()

	content := "export function greet() { return \"hello\" }\n"
	writeWorkspaceFile(t, workspace, "greet.ts", content)

	_, err := ch.Call(ctx, RequestInit, initRequest(t))
	require.NoError(t, err)

	data, err := ch.Call(ctx, RequestIndexWorkspace, &WorkspaceRequest{Workspace: workspace})
	require.NoError(t, err)

	var result types.IndexResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.False(t, result.Cancelled)
	assert.Equal(t, 1, result.Computed)
	assert.NotEmpty(t, result.RootHash)

	data, err = ch.Call(ctx, RequestHasIndex, &WorkspaceRequest{Workspace: workspace})
	require.NoError(t, err)
	var has HasIndexResponse
	require.NoError(t, json.Unmarshal(data, &has))
	assert.True(t, has.HasIndex)

	data, err = ch.Call(ctx, RequestRetrieve, &RetrieveRequest{Workspace: workspace, Query: content, TopK: 5})
	require.NoError(t, err)
	var retrieved RetrieveResponse
	require.NoError(t, json.Unmarshal(data, &retrieved))
	require.NotEmpty(t, retrieved.Results)
	assert.Equal(t, "greet.ts", retrieved.Results[0].Path)

	data, err = ch.Call(ctx, RequestGetIndexStats, &WorkspaceRequest{Workspace: workspace})
	require.NoError(t, err)
	var stats types.IndexStats
	require.NoError(t, json.Unmarshal(data, &stats))
	assert.Equal(t, 1, stats.Files)
}

func TestRunnerCancelWhenIdle(t *testing.T) {
	ch := newRunnerChannel(t)
	ctx := context.Background()

	_, err := ch.Call(ctx, RequestInit, initRequest(t))
	require.NoError(t, err)

	data, err := ch.Call(ctx, RequestCancelIndexing, &WorkspaceRequest{Workspace: "/nowhere"})
	require.NoError(t, err)

	var cancel CancelResponse
	require.NoError(t, json.Unmarshal(data, &cancel))
	assert.False(t, cancel.WasRunning)
}

func TestRunnerDeleteIndex(t *testing.T) {
	ch := newRunnerChannel(t)
	ctx := context.Background()
	workspace := t.TempDir()
	writeWorkspaceFile(t, workspace, "a.ts", "const a = 1\n")

	_, err := ch.Call(ctx, RequestInit, initRequest(t))
	require.NoError(t, err)

	_, err = ch.Call(ctx, RequestIndexWorkspace, &WorkspaceRequest{Workspace: workspace})
	require.NoError(t, err)

	_, err = ch.Call(ctx, RequestDeleteIndex, &WorkspaceRequest{Workspace: workspace})
	require.NoError(t, err)

	data, err := ch.Call(ctx, RequestHasIndex, &WorkspaceRequest{Workspace: workspace})
	require.NoError(t, err)
	var has HasIndexResponse
	require.NoError(t, json.Unmarshal(data, &has))
	assert.False(t, has.HasIndex)
}

func TestRunnerProgressReachesSubscriber(t *testing.T) {
	ch := newRunnerChannel(t)
	ctx := context.Background()
	workspace := t.TempDir()
	writeWorkspaceFile(t, workspace, "a.ts", "const a = 1\n")

	progress := make(chan types.Progress, 16)
	ch.SubscribeProgress(func(p types.Progress) {
		select {
		case progress <- p:
		default:
		}
	})

	_, err := ch.Call(ctx, RequestInit, initRequest(t))
	require.NoError(t, err)
	_, err = ch.Call(ctx, RequestIndexWorkspace, &WorkspaceRequest{Workspace: workspace})
	require.NoError(t, err)

	select {
	case p := <-progress:
		assert.Equal(t, workspace, p.Workspace)
	default:
		t.Fatal("expected at least one progress event")
	}
}

func TestRunnerUnknownRequestType(t *testing.T) {
	ch := newRunnerChannel(t)
	ctx := context.Background()

	_, err := ch.Call(ctx, RequestInit, initRequest(t))
	require.NoError(t, err)

	_, err = ch.Call(ctx, RequestType("bogus"), nil)
	require.Error(t, err)
}

func TestRunnerSwitchProviderKeepsModelNamespaces(t *testing.T) {
	ch := newRunnerChannel(t)
	ctx := context.Background()
	workspace := t.TempDir()
	writeWorkspaceFile(t, workspace, "a.ts", "const a = 1\n")

	_, err := ch.Call(ctx, RequestInit, initRequest(t))
	require.NoError(t, err)

	_, err = ch.Call(ctx, RequestIndexWorkspace, &WorkspaceRequest{Workspace: workspace})
	require.NoError(t, err)

	// Switching models moves queries into the new model's namespace, so
	// the workspace reads as unindexed there while old rows stay intact.
	_, err = ch.Call(ctx, RequestSetEmbeddingsProvider,
		&SetProviderRequest{Provider: "ollama", Host: "http://localhost:11434"})
	require.NoError(t, err)

	data, err := ch.Call(ctx, RequestHasIndex, &WorkspaceRequest{Workspace: workspace})
	require.NoError(t, err)
	var has HasIndexResponse
	require.NoError(t, json.Unmarshal(data, &has))
	assert.False(t, has.HasIndex)

	// Switching back lands on the original namespace untouched.
	_, err = ch.Call(ctx, RequestSetEmbeddingsProvider, &SetProviderRequest{Provider: "local"})
	require.NoError(t, err)

	data, err = ch.Call(ctx, RequestHasIndex, &WorkspaceRequest{Workspace: workspace})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &has))
	assert.True(t, has.HasIndex)
}

func TestRunnerSetProviderUnknownRefused(t *testing.T) {
	ch := newRunnerChannel(t)
	ctx := context.Background()

	_, err := ch.Call(ctx, RequestInit, initRequest(t))
	require.NoError(t, err)

	_, err = ch.Call(ctx, RequestSetEmbeddingsProvider, &SetProviderRequest{Provider: "bogus"})
	require.Error(t, err)
	assert.Equal(t, types.CodeEmbeddingsProviderFailed, types.CodeOf(err))
}

func TestRunnerSetProviderBeforeInitRefused(t *testing.T) {
	ch := newRunnerChannel(t)

	_, err := ch.Call(context.Background(), RequestSetEmbeddingsProvider,
		&SetProviderRequest{Provider: "local"})
	require.Error(t, err)
	assert.Equal(t, types.CodeWorkerNotReady, types.CodeOf(err))
}
