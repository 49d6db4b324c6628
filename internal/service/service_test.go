package service

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/semindex-mcp/internal/watcher"
	"github.com/dshills/semindex-mcp/internal/worker"
	"github.com/dshills/semindex-mcp/pkg/types"
)

// fakeChannel implements the caller interface in-process.
type fakeChannel struct {
	handle func(reqType worker.RequestType, payload interface{}) (interface{}, error)

	mu       sync.Mutex
	calls    []worker.RequestType
	disposed bool
}

func (f *fakeChannel) Call(_ context.Context, reqType worker.RequestType, payload interface{}) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, reqType)
	f.mu.Unlock()

	out, err := f.handle(reqType, payload)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}
	return json.Marshal(out)
}

func (f *fakeChannel) SubscribeProgress(worker.ProgressFunc) {}

func (f *fakeChannel) Dispose(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disposed = true
	return nil
}

func (f *fakeChannel) count(reqType worker.RequestType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == reqType {
			n++
		}
	}
	return n
}

// okHandler accepts every request with a type-appropriate payload.
func okHandler(reqType worker.RequestType, _ interface{}) (interface{}, error) {
	switch reqType {
	case worker.RequestRetrieve:
		return worker.RetrieveResponse{Results: []types.RetrievalResult{}}, nil
	case worker.RequestHasIndex:
		return worker.HasIndexResponse{HasIndex: true}, nil
	case worker.RequestIndexWorkspace, worker.RequestOnFilesChanged:
		return types.IndexResult{Computed: 1}, nil
	default:
		return nil, nil
	}
}

func newTestService(handle func(worker.RequestType, interface{}) (interface{}, error)) (*Service, *fakeChannel) {
	ch := &fakeChannel{handle: handle}
	svc := newService(ch, Config{
		Init:  worker.InitRequest{DBPath: "/tmp/idx.db", Provider: "local"},
		Watch: watcher.Config{Debounce: 50 * time.Millisecond},
	})
	return svc, ch
}

func TestInitSentBeforeFirstCallOnly(t *testing.T) {
	svc, ch := newTestService(okHandler)
	ctx := context.Background()

	_, err := svc.Retrieve(ctx, "/ws", "query", 5)
	require.NoError(t, err)
	_, err = svc.HasIndex(ctx, "/ws")
	require.NoError(t, err)

	assert.Equal(t, 1, ch.count(worker.RequestInit))
	assert.Equal(t, worker.RequestInit, ch.calls[0])
}

func TestDisabledWorkspaceSkipsWorker(t *testing.T) {
	svc, ch := newTestService(okHandler)
	ctx := context.Background()

	svc.SetIndexEnabled("/ws", false)

	result, err := svc.IndexWorkspace(ctx, "/ws")
	require.NoError(t, err)
	assert.Equal(t, &types.IndexResult{}, result)

	result, err = svc.OnFilesChanged(ctx, "/ws", []string{"a.ts"})
	require.NoError(t, err)
	assert.Equal(t, &types.IndexResult{}, result)

	assert.Empty(t, ch.calls)

	svc.SetIndexEnabled("/ws", true)
	result, err = svc.IndexWorkspace(ctx, "/ws")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Computed)
	assert.Equal(t, 1, ch.count(worker.RequestIndexWorkspace))
}

func TestDisabledWorkspaceStillRetrieves(t *testing.T) {
	svc, ch := newTestService(okHandler)

	svc.SetIndexEnabled("/ws", false)
	_, err := svc.Retrieve(context.Background(), "/ws", "query", 5)
	require.NoError(t, err)
	assert.Equal(t, 1, ch.count(worker.RequestRetrieve))
}

func TestWorkerNotReadyTriggersReinit(t *testing.T) {
	var mu sync.Mutex
	ready := false
	handler := func(reqType worker.RequestType, payload interface{}) (interface{}, error) {
		mu.Lock()
		defer mu.Unlock()
		if reqType == worker.RequestInit {
			ready = true
			return nil, nil
		}
		if !ready {
			return nil, types.NewIndexError(types.CodeWorkerNotReady, "worker is not initialized")
		}
		return okHandler(reqType, payload)
	}

	svc, ch := newTestService(handler)
	ctx := context.Background()

	_, err := svc.HasIndex(ctx, "/ws")
	require.NoError(t, err)

	// Simulate a respawn: the fresh process has lost its init state.
	mu.Lock()
	ready = false
	mu.Unlock()

	has, err := svc.HasIndex(ctx, "/ws")
	require.NoError(t, err)
	assert.True(t, has)
	assert.Equal(t, 2, ch.count(worker.RequestInit))
	assert.Equal(t, 3, ch.count(worker.RequestHasIndex))
}

func TestRetrieveUnmarshalsResults(t *testing.T) {
	handler := func(reqType worker.RequestType, payload interface{}) (interface{}, error) {
		if reqType == worker.RequestRetrieve {
			req := payload.(worker.RetrieveRequest)
			assert.Equal(t, "/ws", req.Workspace)
			assert.Equal(t, 3, req.TopK)
			return worker.RetrieveResponse{Results: []types.RetrievalResult{
				{Path: "src/a.ts", Rank: 1, RelevanceScore: 0.9, Content: "const a = 1"},
			}}, nil
		}
		return nil, nil
	}

	svc, _ := newTestService(handler)
	results, err := svc.Retrieve(context.Background(), "/ws", "query", 3)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "src/a.ts", results[0].Path)
	assert.InDelta(t, 0.9, results[0].RelevanceScore, 1e-9)
}

func TestErrorCodesPassThrough(t *testing.T) {
	handler := func(reqType worker.RequestType, payload interface{}) (interface{}, error) {
		if reqType == worker.RequestRetrieve {
			return nil, types.NewIndexError(types.CodeNoIndexAvailable, "no index for workspace")
		}
		return nil, nil
	}

	svc, _ := newTestService(handler)
	_, err := svc.Retrieve(context.Background(), "/ws", "query", 5)
	require.Error(t, err)
	assert.Equal(t, types.CodeNoIndexAvailable, types.CodeOf(err))
}

func TestGetIndexStatusReflectsEnabledSwitch(t *testing.T) {
	handler := func(reqType worker.RequestType, payload interface{}) (interface{}, error) {
		if reqType == worker.RequestGetIndexStatus {
			return types.IndexStatus{Workspace: "/ws", State: types.StateIdle, Enabled: true}, nil
		}
		return nil, nil
	}

	svc, _ := newTestService(handler)
	svc.SetIndexEnabled("/ws", false)

	status, err := svc.GetIndexStatus(context.Background(), "/ws")
	require.NoError(t, err)
	assert.False(t, status.Enabled)

	svc.SetIndexEnabled("/ws", true)
	status, err = svc.GetIndexStatus(context.Background(), "/ws")
	require.NoError(t, err)
	assert.True(t, status.Enabled)
}

func TestDisposeRejectsFurtherCalls(t *testing.T) {
	svc, ch := newTestService(okHandler)
	ctx := context.Background()

	require.NoError(t, svc.Dispose(ctx))
	assert.True(t, ch.disposed)

	_, err := svc.Retrieve(ctx, "/ws", "query", 5)
	require.Error(t, err)
	assert.Equal(t, types.CodeDisposed, types.CodeOf(err))

	require.NoError(t, svc.Dispose(ctx))
}

func TestActivateWorkspaceIndexesAndWatches(t *testing.T) {
	svc, ch := newTestService(okHandler)
	ctx := context.Background()

	workspace := t.TempDir()
	require.NoError(t, svc.ActivateWorkspace(ctx, workspace))
	require.NoError(t, svc.ActivateWorkspace(ctx, workspace))

	require.Eventually(t, func() bool {
		return ch.count(worker.RequestIndexWorkspace) == 1
	}, 3*time.Second, 20*time.Millisecond)

	path := filepath.Join(workspace, "a.ts")
	require.NoError(t, os.WriteFile(path, []byte("export const a = 1\n"), 0o644))

	require.Eventually(t, func() bool {
		return ch.count(worker.RequestOnFilesChanged) >= 1
	}, 3*time.Second, 20*time.Millisecond)

	svc.DeactivateWorkspace(workspace)
}

func TestActivateAfterDisposeRefused(t *testing.T) {
	svc, _ := newTestService(okHandler)
	ctx := context.Background()

	require.NoError(t, svc.Dispose(ctx))
	err := svc.ActivateWorkspace(ctx, t.TempDir())
	require.Error(t, err)
	assert.Equal(t, types.CodeDisposed, types.CodeOf(err))
}
