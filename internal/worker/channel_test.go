package worker

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/semindex-mcp/pkg/types"
)

// fakeHandler decides how the in-process fake worker answers one request.
// Returning nil means no response (the request hangs).
type fakeHandler func(req RequestEnvelope, respond func(*ResponseEnvelope)) bool

// newFakeChannel builds a Channel whose "process" is a goroutine speaking
// the wire protocol over pipes. The handler's return value controls whether
// the fake keeps running; false simulates a crash.
func newFakeChannel(t *testing.T, handler fakeHandler) (*Channel, *int32) {
	t.Helper()

	var spawns int32
	spawn := func() (*transport, error) {
		atomic.AddInt32(&spawns, 1)

		reqR, reqW := io.Pipe()
		respR, respW := io.Pipe()

		go func() {
			defer func() { _ = respW.Close() }()
			dec := json.NewDecoder(reqR)
			for {
				var req RequestEnvelope
				if err := dec.Decode(&req); err != nil {
					return
				}
				respond := func(resp *ResponseEnvelope) {
					line, err := json.Marshal(resp)
					require.NoError(t, err)
					_, _ = respW.Write(append(line, '\n'))
				}
				if !handler(req, respond) {
					return
				}
			}
		}()

		return &transport{
			stdin:  reqW,
			stdout: respR,
			wait:   func() error { return nil },
			kill:   func() { _ = respW.Close() },
		}, nil
	}

	ch := newChannel(spawn)
	ch.respawnBackoff = 10 * time.Millisecond
	return ch, &spawns
}

func echoSuccess(req RequestEnvelope, respond func(*ResponseEnvelope)) bool {
	respond(&ResponseEnvelope{ID: req.ID, Type: ResponseSuccess, Data: req.Data})
	return true
}

func TestCallRoundTrip(t *testing.T) {
	ch, _ := newFakeChannel(t, echoSuccess)

	data, err := ch.Call(context.Background(), RequestHasIndex, &WorkspaceRequest{Workspace: "/ws"})
	require.NoError(t, err)

	var ws WorkspaceRequest
	require.NoError(t, json.Unmarshal(data, &ws))
	assert.Equal(t, "/ws", ws.Workspace)
}

func TestCallErrorResponse(t *testing.T) {
	ch, _ := newFakeChannel(t, func(req RequestEnvelope, respond func(*ResponseEnvelope)) bool {
		respond(&ResponseEnvelope{
			ID:    req.ID,
			Type:  ResponseError,
			Error: &ErrorPayload{Code: int(types.CodeIndexNotFound), Message: "no index"},
		})
		return true
	})

	_, err := ch.Call(context.Background(), RequestGetIndexStats, &WorkspaceRequest{Workspace: "/ws"})
	require.Error(t, err)
	assert.Equal(t, types.CodeIndexNotFound, types.CodeOf(err))
}

func TestCallTimeout(t *testing.T) {
	ch, _ := newFakeChannel(t, func(req RequestEnvelope, respond func(*ResponseEnvelope)) bool {
		return true // swallow the request
	})
	ch.shortTimeout = 50 * time.Millisecond

	_, err := ch.Call(context.Background(), RequestHasIndex, &WorkspaceRequest{Workspace: "/ws"})
	require.Error(t, err)
	assert.Equal(t, types.CodeWorkerTimeout, types.CodeOf(err))

	ch.mu.Lock()
	assert.Empty(t, ch.pending, "timed out call must leave the table")
	ch.mu.Unlock()
}

func TestCrashRejectsAllPending(t *testing.T) {
	const calls = 5
	var seen int32

	ch, _ := newFakeChannel(t, func(req RequestEnvelope, respond func(*ResponseEnvelope)) bool {
		// Crash once every request is in flight, answering none of them.
		return atomic.AddInt32(&seen, 1) < calls
	})

	var wg sync.WaitGroup
	errs := make([]error, calls)
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = ch.Call(context.Background(), RequestHasIndex, &WorkspaceRequest{Workspace: "/ws"})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.Error(t, err)
		assert.Equal(t, types.CodeWorkerCrashed, types.CodeOf(err))
	}

	ch.mu.Lock()
	assert.Empty(t, ch.pending)
	ch.mu.Unlock()
}

func TestLazyRespawnAfterCrash(t *testing.T) {
	var first int32
	ch, spawns := newFakeChannel(t, func(req RequestEnvelope, respond func(*ResponseEnvelope)) bool {
		if atomic.CompareAndSwapInt32(&first, 0, 1) {
			return false // first worker dies on its first request
		}
		respond(&ResponseEnvelope{ID: req.ID, Type: ResponseSuccess})
		return true
	})

	_, err := ch.Call(context.Background(), RequestHasIndex, &WorkspaceRequest{Workspace: "/ws"})
	require.Error(t, err)
	assert.Equal(t, types.CodeWorkerCrashed, types.CodeOf(err))

	_, err = ch.Call(context.Background(), RequestHasIndex, &WorkspaceRequest{Workspace: "/ws"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(spawns))
}

func TestProgressBroadcast(t *testing.T) {
	ch, _ := newFakeChannel(t, func(req RequestEnvelope, respond func(*ResponseEnvelope)) bool {
		progress, _ := json.Marshal(types.Progress{Workspace: "/ws", Phase: "embedding", Processed: 1, EstimatedTotal: 3})
		respond(&ResponseEnvelope{Type: ResponseProgress, Data: progress})
		respond(&ResponseEnvelope{ID: req.ID, Type: ResponseSuccess})
		return true
	})

	var mu sync.Mutex
	var events []types.Progress
	ch.SubscribeProgress(func(p types.Progress) {
		mu.Lock()
		events = append(events, p)
		mu.Unlock()
	})

	_, err := ch.Call(context.Background(), RequestIndexWorkspace, &WorkspaceRequest{Workspace: "/ws"})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, "/ws", events[0].Workspace)
	assert.Equal(t, "embedding", events[0].Phase)
}

func TestModelDownloadBroadcast(t *testing.T) {
	ch, _ := newFakeChannel(t, func(req RequestEnvelope, respond func(*ResponseEnvelope)) bool {
		download, _ := json.Marshal(types.ModelDownloadProgress{
			ModelID: "nomic-embed-text", BytesDownloaded: 512, BytesTotal: 1024, Percent: 50,
		})
		respond(&ResponseEnvelope{Type: ResponseModelDownloadProgress, Data: download})
		respond(&ResponseEnvelope{ID: req.ID, Type: ResponseSuccess})
		return true
	})

	var mu sync.Mutex
	var events []types.ModelDownloadProgress
	ch.SubscribeModelDownload(func(p types.ModelDownloadProgress) {
		mu.Lock()
		events = append(events, p)
		mu.Unlock()
	})

	_, err := ch.Call(context.Background(), RequestInit, &InitRequest{Provider: "ollama"})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, "nomic-embed-text", events[0].ModelID)
	assert.Equal(t, 50.0, events[0].Percent)
}

func TestCallContextCancelled(t *testing.T) {
	ch, _ := newFakeChannel(t, func(req RequestEnvelope, respond func(*ResponseEnvelope)) bool {
		return true // never answer
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := ch.Call(ctx, RequestHasIndex, &WorkspaceRequest{Workspace: "/ws"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDisposedChannelRejectsCalls(t *testing.T) {
	ch, _ := newFakeChannel(t, echoSuccess)

	// Warm the channel so dispose has a live worker to shut down.
	_, err := ch.Call(context.Background(), RequestHasIndex, &WorkspaceRequest{Workspace: "/ws"})
	require.NoError(t, err)

	require.NoError(t, ch.Dispose(context.Background()))

	_, err = ch.Call(context.Background(), RequestHasIndex, &WorkspaceRequest{Workspace: "/ws"})
	require.Error(t, err)
	assert.Equal(t, types.CodeDisposed, types.CodeOf(err))
}

func TestTimeoutClassPerRequestType(t *testing.T) {
	assert.Equal(t, LongCallTimeout, timeoutFor(RequestInit))
	assert.Equal(t, LongCallTimeout, timeoutFor(RequestIndexWorkspace))
	assert.Equal(t, LongCallTimeout, timeoutFor(RequestOnFilesChanged))
	assert.Equal(t, ShortCallTimeout, timeoutFor(RequestRetrieve))
	assert.Equal(t, ShortCallTimeout, timeoutFor(RequestCancelIndexing))
	assert.Equal(t, ShortCallTimeout, timeoutFor(RequestHasIndex))
}
