package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/dshills/semindex-mcp/internal/coordinator"
	"github.com/dshills/semindex-mcp/internal/embedder"
	"github.com/dshills/semindex-mcp/internal/snapshot"
	"github.com/dshills/semindex-mcp/internal/vectorstore"
	"github.com/dshills/semindex-mcp/pkg/types"
)

// Runner is the worker side of the process boundary: it reads request
// envelopes from stdin, dispatches them against the coordinator, and writes
// response envelopes to stdout. Long operations run in their own goroutine
// so cancelIndexing can interleave with a running index cycle.
type Runner struct {
	in  io.Reader
	out io.Writer

	writeMu sync.Mutex // one response line at a time

	mu        sync.Mutex
	coord     *coordinator.Coordinator
	store     *vectorstore.SQLiteStore
	snapshots *snapshot.Store
	init      InitRequest
}

// NewRunner creates a runner over the given streams, normally os.Stdin and
// os.Stdout.
func NewRunner(in io.Reader, out io.Writer) *Runner {
	return &Runner{in: in, out: out}
}

// Run processes requests until stdin closes or a dispose request arrives.
func (r *Runner) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(r.in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var wg sync.WaitGroup
	defer wg.Wait()

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req RequestEnvelope
		if err := json.Unmarshal(line, &req); err != nil {
			log.Printf("worker: dropping malformed request line: %v", err)
			continue
		}

		if req.Type == RequestDispose {
			r.respondSuccess(req.ID, nil)
			return nil
		}

		wg.Add(1)
		go func(req RequestEnvelope) {
			defer wg.Done()
			r.dispatch(ctx, req)
		}(req)
	}
	return scanner.Err()
}

// dispatch handles one request and writes exactly one response for it.
func (r *Runner) dispatch(ctx context.Context, req RequestEnvelope) {
	payload, err := r.handle(ctx, req)
	if err != nil {
		r.respondError(req.ID, err)
		return
	}
	r.respondSuccess(req.ID, payload)
}

func (r *Runner) handle(ctx context.Context, req RequestEnvelope) (interface{}, error) {
	if req.Type == RequestInit {
		var init InitRequest
		if err := json.Unmarshal(req.Data, &init); err != nil {
			return nil, types.WrapError(types.CodeInitFailed, "malformed init request", err)
		}
		return nil, r.initialize(init)
	}

	coord, err := r.coordinator()
	if err != nil {
		return nil, err
	}

	switch req.Type {
	case RequestIndexWorkspace:
		var ws WorkspaceRequest
		if err := json.Unmarshal(req.Data, &ws); err != nil {
			return nil, err
		}
		return coord.IndexWorkspace(ctx, ws.Workspace, r.sendProgress)

	case RequestCancelIndexing:
		var ws WorkspaceRequest
		if err := json.Unmarshal(req.Data, &ws); err != nil {
			return nil, err
		}
		return &CancelResponse{WasRunning: coord.CancelIndexing(ws.Workspace)}, nil

	case RequestOnFilesChanged:
		var fc FilesChangedRequest
		if err := json.Unmarshal(req.Data, &fc); err != nil {
			return nil, err
		}
		return coord.OnFilesChanged(ctx, fc.Workspace, fc.Paths, r.sendProgress)

	case RequestRetrieve:
		var rr RetrieveRequest
		if err := json.Unmarshal(req.Data, &rr); err != nil {
			return nil, err
		}
		results, err := coord.Retrieve(ctx, rr.Workspace, rr.Query, rr.TopK)
		if err != nil {
			return nil, err
		}
		return &RetrieveResponse{Results: results}, nil

	case RequestDeleteIndex:
		var ws WorkspaceRequest
		if err := json.Unmarshal(req.Data, &ws); err != nil {
			return nil, err
		}
		return nil, coord.DeleteIndex(ctx, ws.Workspace)

	case RequestGetIndexStatus:
		var ws WorkspaceRequest
		if err := json.Unmarshal(req.Data, &ws); err != nil {
			return nil, err
		}
		return coord.GetStatus(ctx, ws.Workspace)

	case RequestGetIndexStats:
		var ws WorkspaceRequest
		if err := json.Unmarshal(req.Data, &ws); err != nil {
			return nil, err
		}
		return coord.GetIndexStats(ctx, ws.Workspace)

	case RequestGetDetailedStats:
		return coord.GetDetailedStats(ctx)

	case RequestHasIndex:
		var ws WorkspaceRequest
		if err := json.Unmarshal(req.Data, &ws); err != nil {
			return nil, err
		}
		hasIndex, err := coord.HasIndex(ctx, ws.Workspace)
		if err != nil {
			return nil, err
		}
		return &HasIndexResponse{HasIndex: hasIndex}, nil

	case RequestSetEmbeddingsProvider:
		var sp SetProviderRequest
		if err := json.Unmarshal(req.Data, &sp); err != nil {
			return nil, err
		}
		return nil, r.setProvider(sp)

	default:
		return nil, types.NewIndexError(types.CodeUnknown,
			fmt.Sprintf("unknown request type %q", req.Type))
	}
}

// initialize builds the pipeline: provider, vector store, snapshot store,
// coordinator. Idempotent for identical init payloads.
func (r *Runner) initialize(init InitRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.coord != nil {
		if init == r.init {
			return nil
		}
		return types.NewIndexError(types.CodeInitFailed, "worker is already initialized")
	}

	provider, err := r.buildProvider(init.Provider, init.APIKey, init.Host)
	if err != nil {
		return types.WrapError(types.CodeEmbeddingsProviderFailed, "failed to build provider", err)
	}

	dbPath := init.DBPath
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "semindex.db")
	}
	store, err := vectorstore.NewSQLiteStore(dbPath, provider)
	if err != nil {
		return types.WrapError(types.CodeVectorIndexFailed, "failed to open vector store", err)
	}

	snapDir := init.SnapshotDir
	if snapDir == "" {
		snapDir, err = snapshot.DefaultCacheDir()
		if err != nil {
			_ = store.Close()
			return types.WrapError(types.CodeCacheFailed, "failed to resolve cache dir", err)
		}
	}
	snapshots, err := snapshot.NewStore(snapDir)
	if err != nil {
		_ = store.Close()
		return types.WrapError(types.CodeCacheFailed, "failed to open snapshot store", err)
	}

	r.store = store
	r.snapshots = snapshots
	r.coord = coordinator.New(snapshots, store, provider, coordinator.Config{Branch: init.Branch})
	r.init = init
	return nil
}

func (r *Runner) buildProvider(name, apiKey, host string) (embedder.Provider, error) {
	if name == "" {
		return embedder.NewFromEnv()
	}
	return embedder.New(embedder.Config{
		Provider:  name,
		APIKey:    apiKey,
		Host:      host,
		CacheSize: 10000,
	})
}

// setProvider switches the embedding model. The cache is keyed by
// (contentHash, modelID), so old-model rows remain valid under their own
// tags and the new model starts in its own namespace. Refused while an
// index cycle is running: the cycle holds the old model id in its tag.
func (r *Runner) setProvider(sp SetProviderRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.coord == nil {
		return types.NewIndexError(types.CodeWorkerNotReady, "worker is not initialized")
	}
	if r.coord.Busy() {
		return types.NewIndexError(types.CodeAlreadyIndexing,
			"cannot switch provider while an index cycle is running")
	}

	provider, err := r.buildProvider(sp.Provider, sp.APIKey, sp.Host)
	if err != nil {
		return types.WrapError(types.CodeEmbeddingsProviderFailed, "failed to build provider", err)
	}

	if old := r.store.Provider(); old != nil {
		_ = old.Close()
	}
	r.store.SetProvider(provider)
	r.coord = coordinator.New(r.snapshots, r.store, provider, coordinator.Config{Branch: r.init.Branch})
	r.init.Provider = sp.Provider
	r.init.APIKey = sp.APIKey
	r.init.Host = sp.Host
	return nil
}

func (r *Runner) coordinator() (*coordinator.Coordinator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.coord == nil {
		return nil, types.NewIndexError(types.CodeWorkerNotReady, "worker is not initialized")
	}
	return r.coord, nil
}

// sendProgress broadcasts a progress envelope. Progress carries no request
// ID: the host routes it to subscribers, not to a pending call.
func (r *Runner) sendProgress(progress types.Progress) {
	data, err := json.Marshal(progress)
	if err != nil {
		return
	}
	r.write(&ResponseEnvelope{Type: ResponseProgress, Data: data})
}

func (r *Runner) respondSuccess(id string, payload interface{}) {
	resp := &ResponseEnvelope{ID: id, Type: ResponseSuccess}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			r.respondError(id, err)
			return
		}
		resp.Data = data
	}
	r.write(resp)
}

func (r *Runner) respondError(id string, err error) {
	r.write(&ResponseEnvelope{ID: id, Type: ResponseError, Error: errorPayloadFor(err)})
}

func (r *Runner) write(resp *ResponseEnvelope) {
	line, err := json.Marshal(resp)
	if err != nil {
		log.Printf("worker: failed to encode response: %v", err)
		return
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	_, _ = r.out.Write(append(line, '\n'))
}

// Close releases the runner's resources after Run returns.
func (r *Runner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.store != nil {
		return r.store.Close()
	}
	return nil
}
