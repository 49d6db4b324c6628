package coordinator

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dshills/semindex-mcp/internal/changetree"
	"github.com/dshills/semindex-mcp/internal/chunker"
	"github.com/dshills/semindex-mcp/internal/embedder"
	"github.com/dshills/semindex-mcp/internal/snapshot"
	"github.com/dshills/semindex-mcp/internal/treebuilder"
	"github.com/dshills/semindex-mcp/internal/vectorstore"
	"github.com/dshills/semindex-mcp/pkg/types"
)

// Config contains configuration for the coordinator
type Config struct {
	Builder treebuilder.Config // File eligibility rules shared by every scan
	Branch  string             // Optional VCS branch label carried in index tags
}

// Coordinator drives the indexing cycle for workspaces: load snapshot, scan,
// classify against the content cache, apply to the vector store, and persist
// the snapshot only when the whole cycle succeeded.
type Coordinator struct {
	snapshots *snapshot.Store
	store     vectorstore.Store
	chunker   *chunker.Chunker
	modelID   string
	config    Config

	mu     sync.Mutex
	locks  map[string]*IndexLock
	states map[string]*workspaceState
}

// workspaceState tracks one workspace's lifecycle between calls.
type workspaceState struct {
	state       types.IndexState
	disabled    bool
	lastError   string
	lastIndexed time.Time
	cancel      *types.CancelFlag
}

// New creates a Coordinator. The provider determines the chunk budget and
// the embedding model id recorded in index tags.
func New(snapshots *snapshot.Store, store vectorstore.Store, provider embedder.Provider, config Config) *Coordinator {
	return &Coordinator{
		snapshots: snapshots,
		store:     store,
		chunker:   chunker.New(provider.MaxChunkSize()),
		modelID:   provider.EmbeddingID(),
		config:    config,
		locks:     make(map[string]*IndexLock),
		states:    make(map[string]*workspaceState),
	}
}

// TagFor returns the index tag a workspace's content is recorded under.
func (c *Coordinator) TagFor(workspace string) types.IndexTag {
	return types.IndexTag{
		Directory:        workspace,
		Branch:           c.config.Branch,
		EmbeddingModelID: c.modelID,
	}
}

func (c *Coordinator) lockFor(workspace string) *IndexLock {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[workspace]
	if !ok {
		lock = &IndexLock{}
		c.locks[workspace] = lock
	}
	return lock
}

func (c *Coordinator) stateFor(workspace string) *workspaceState {
	c.mu.Lock()
	defer c.mu.Unlock()
	ws, ok := c.states[workspace]
	if !ok {
		ws = &workspaceState{state: types.StateIdle}
		c.states[workspace] = ws
	}
	return ws
}

// IndexWorkspace runs a full refresh cycle for the workspace. Concurrent
// calls for the same workspace fail fast with AlreadyIndexing. A cancelled
// run resolves with Cancelled=true rather than an error.
func (c *Coordinator) IndexWorkspace(ctx context.Context, workspace string, onProgress vectorstore.ProgressFunc) (*types.IndexResult, error) {
	return c.refresh(ctx, workspace, nil, onProgress)
}

// OnFilesChanged runs a targeted refresh for specific paths, typically from
// a file watcher. Paths are workspace-relative. Without a prior snapshot it
// falls back to a full scan.
func (c *Coordinator) OnFilesChanged(ctx context.Context, workspace string, paths []string, onProgress vectorstore.ProgressFunc) (*types.IndexResult, error) {
	if len(paths) == 0 {
		return &types.IndexResult{}, nil
	}
	return c.refresh(ctx, workspace, paths, onProgress)
}

// refresh is the shared cycle behind IndexWorkspace and OnFilesChanged. A
// nil paths slice means a full scan.
func (c *Coordinator) refresh(ctx context.Context, workspace string, paths []string, onProgress vectorstore.ProgressFunc) (*types.IndexResult, error) {
	info, err := os.Stat(workspace)
	if err != nil || !info.IsDir() {
		return nil, types.NewIndexError(types.CodeWorkspaceNotFound,
			fmt.Sprintf("workspace directory %s not found", workspace))
	}

	ws := c.stateFor(workspace)
	c.mu.Lock()
	disabled := ws.disabled
	c.mu.Unlock()
	if disabled {
		return nil, types.NewIndexError(types.CodeInitFailed,
			fmt.Sprintf("indexing is disabled for %s", workspace))
	}

	lock := c.lockFor(workspace)
	if !lock.TryAcquire() {
		return nil, types.NewIndexError(types.CodeAlreadyIndexing,
			fmt.Sprintf("workspace %s is already being indexed", workspace))
	}
	defer lock.Release()

	flag := types.NewCancelFlag()
	c.setRunning(ws, flag)

	result, err := c.runCycle(ctx, workspace, paths, onProgress, flag)
	if err != nil {
		c.setFinished(ws, types.StateFailed, err.Error())
		return nil, err
	}
	if result.Cancelled {
		c.setFinished(ws, types.StateCancelled, "")
		return result, nil
	}
	c.setFinished(ws, types.StateCompleted, "")
	return result, nil
}

func (c *Coordinator) runCycle(ctx context.Context, workspace string, paths []string, onProgress vectorstore.ProgressFunc, flag *types.CancelFlag) (*types.IndexResult, error) {
	start := time.Now()
	tag := c.TagFor(workspace)

	tree, err := c.snapshots.Load(workspace)
	if err != nil {
		return nil, types.WrapError(types.CodeCacheFailed, "failed to load snapshot", err)
	}
	if tree == nil {
		tree = changetree.New()
		paths = nil // no baseline, targeted update widens to a full scan
	}

	builder := treebuilder.New(workspace, c.config.Builder)

	var scan *treebuilder.ScanResult
	if paths == nil {
		scan, err = builder.FullScan(ctx, tree, func(scanned, estimatedTotal int) {
			if onProgress != nil {
				onProgress(types.Progress{
					Workspace:      workspace,
					Phase:          "scanning",
					Processed:      scanned,
					EstimatedTotal: estimatedTotal,
				})
			}
		})
	} else {
		scan, err = builder.Update(ctx, tree, paths)
	}
	if err != nil {
		return nil, types.WrapError(types.CodeIndexFailed, "workspace scan failed", err)
	}

	refresh, err := c.classify(ctx, tree, tag, scan.Changes)
	if err != nil {
		return nil, err
	}

	source := &fileSource{workspace: workspace, chunker: c.chunker}
	cancelled, err := c.store.Update(ctx, tag, refresh, source, onProgress, flag)
	if err != nil {
		return nil, types.WrapError(types.CodeIndexFailed, "vector store update failed", err)
	}

	result := &types.IndexResult{
		Cancelled: cancelled,
		Computed:  len(refresh.Compute),
		Deleted:   len(refresh.Delete),
		Tagged:    len(refresh.AddTag),
		RootHash:  tree.RootHash(),
		Duration:  time.Since(start),
	}
	if cancelled {
		// The store rolled back and the snapshot is not saved, so both
		// stay at their pre-task state and the next run re-detects the
		// same work.
		return result, nil
	}

	if err := c.snapshots.Save(workspace, tree); err != nil {
		return nil, types.WrapError(types.CodeCacheFailed, "failed to save snapshot", err)
	}
	return result, nil
}

func (c *Coordinator) setRunning(ws *workspaceState, flag *types.CancelFlag) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ws.state = types.StateRunning
	ws.lastError = ""
	ws.cancel = flag
}

func (c *Coordinator) setFinished(ws *workspaceState, state types.IndexState, lastError string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ws.state = state
	ws.lastError = lastError
	ws.cancel = nil
	if state == types.StateCompleted {
		ws.lastIndexed = time.Now()
	}
}

// Busy reports whether any workspace currently has a running cycle.
func (c *Coordinator) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ws := range c.states {
		if ws.state == types.StateRunning {
			return true
		}
	}
	return false
}

// CancelIndexing requests cooperative cancellation of a running cycle.
// Returns false when no cycle is running for the workspace.
func (c *Coordinator) CancelIndexing(workspace string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ws, ok := c.states[workspace]
	if !ok || ws.cancel == nil {
		return false
	}
	ws.cancel.Cancel()
	return true
}

// SetIndexEnabled toggles whether refresh cycles run for the workspace.
func (c *Coordinator) SetIndexEnabled(workspace string, enabled bool) {
	ws := c.stateFor(workspace)
	c.mu.Lock()
	defer c.mu.Unlock()
	ws.disabled = !enabled
}

// GetStatus reports the workspace's lifecycle state and index presence.
func (c *Coordinator) GetStatus(ctx context.Context, workspace string) (*types.IndexStatus, error) {
	hasIndex, err := c.store.HasIndex(ctx, c.TagFor(workspace))
	if err != nil {
		return nil, err
	}

	ws := c.stateFor(workspace)
	c.mu.Lock()
	defer c.mu.Unlock()
	return &types.IndexStatus{
		Workspace:     workspace,
		State:         ws.state,
		Enabled:       !ws.disabled,
		HasIndex:      hasIndex,
		LastError:     ws.lastError,
		LastIndexedAt: ws.lastIndexed,
	}, nil
}

// HasIndex reports whether any content is indexed for the workspace.
func (c *Coordinator) HasIndex(ctx context.Context, workspace string) (bool, error) {
	return c.store.HasIndex(ctx, c.TagFor(workspace))
}

// GetIndexStats summarizes the workspace's index.
func (c *Coordinator) GetIndexStats(ctx context.Context, workspace string) (*types.IndexStats, error) {
	hasIndex, err := c.HasIndex(ctx, workspace)
	if err != nil {
		return nil, err
	}
	if !hasIndex {
		return nil, types.NewIndexError(types.CodeIndexNotFound,
			fmt.Sprintf("no index for workspace %s", workspace))
	}
	return c.store.GetIndexStats(ctx, c.TagFor(workspace))
}

// GetDetailedStats summarizes every index in the store.
func (c *Coordinator) GetDetailedStats(ctx context.Context) (*types.DetailedStats, error) {
	return c.store.GetDetailedStats(ctx)
}

// Retrieve runs a similarity query against the workspace's index.
func (c *Coordinator) Retrieve(ctx context.Context, workspace, query string, topK int) ([]types.RetrievalResult, error) {
	hasIndex, err := c.HasIndex(ctx, workspace)
	if err != nil {
		return nil, err
	}
	if !hasIndex {
		return nil, types.NewIndexError(types.CodeNoIndexAvailable,
			fmt.Sprintf("no index available for workspace %s", workspace))
	}
	results, err := c.store.Retrieve(ctx, query, topK, []types.IndexTag{c.TagFor(workspace)})
	if err != nil {
		return nil, types.WrapError(types.CodeRetrieveFailed, "retrieval failed", err)
	}
	return results, nil
}

// DeleteIndex removes the workspace's index and its snapshot, so the next
// cycle starts from scratch.
func (c *Coordinator) DeleteIndex(ctx context.Context, workspace string) error {
	lock := c.lockFor(workspace)
	if !lock.TryAcquire() {
		return types.NewIndexError(types.CodeAlreadyIndexing,
			fmt.Sprintf("workspace %s is already being indexed", workspace))
	}
	defer lock.Release()

	if err := c.store.DeleteIndex(ctx, c.TagFor(workspace)); err != nil {
		return types.WrapError(types.CodeIndexFailed, "failed to delete index", err)
	}
	if err := c.snapshots.Delete(workspace); err != nil {
		return types.WrapError(types.CodeCacheFailed, "failed to delete snapshot", err)
	}

	ws := c.stateFor(workspace)
	c.mu.Lock()
	ws.state = types.StateIdle
	ws.lastError = ""
	ws.lastIndexed = time.Time{}
	c.mu.Unlock()
	return nil
}
