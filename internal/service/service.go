package service

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/dshills/semindex-mcp/internal/watcher"
	"github.com/dshills/semindex-mcp/internal/worker"
	"github.com/dshills/semindex-mcp/pkg/types"
)

// caller is the slice of the worker channel the service depends on.
type caller interface {
	Call(ctx context.Context, reqType worker.RequestType, payload interface{}) (json.RawMessage, error)
	SubscribeProgress(fn worker.ProgressFunc)
	Dispose(ctx context.Context) error
}

// Config wires a service to its worker process.
type Config struct {
	// WorkerPath is the worker binary spawned on demand.
	WorkerPath string
	// WorkerArgs are extra arguments passed to the worker binary.
	WorkerArgs []string
	// Init is sent to the worker before its first operation, and again
	// after a respawn.
	Init worker.InitRequest
	// Watch configures the per-workspace watchers ActivateWorkspace starts.
	Watch watcher.Config
}

// Service is the consumer-facing surface of the indexing pipeline. Every
// operation runs in the worker process; the service owns the channel, the
// per-workspace enabled switches, and the filesystem watchers.
type Service struct {
	channel  caller
	init     worker.InitRequest
	watchCfg watcher.Config

	mu          sync.Mutex
	initialized bool
	disposed    bool
	disabled    map[string]bool
	watchers    map[string]*watcher.Watcher
}

// New creates a service backed by a worker process. The worker is spawned
// lazily on the first call.
func New(config Config) *Service {
	return newService(worker.NewChannel(config.WorkerPath, config.WorkerArgs...), config)
}

func newService(ch caller, config Config) *Service {
	return &Service{
		channel:  ch,
		init:     config.Init,
		watchCfg: config.Watch,
		disabled: make(map[string]bool),
		watchers: make(map[string]*watcher.Watcher),
	}
}

// SubscribeProgress registers a callback for worker progress broadcasts.
func (s *Service) SubscribeProgress(fn func(progress types.Progress)) {
	s.channel.SubscribeProgress(fn)
}

// IndexWorkspace runs a full index cycle for the workspace. Returns a zero
// result without touching the worker when indexing is disabled for the
// workspace.
func (s *Service) IndexWorkspace(ctx context.Context, workspace string) (*types.IndexResult, error) {
	if !s.indexingEnabled(workspace) {
		return &types.IndexResult{}, nil
	}
	var result types.IndexResult
	if err := s.call(ctx, worker.RequestIndexWorkspace, worker.WorkspaceRequest{Workspace: workspace}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// OnFilesChanged runs a targeted refresh for the given workspace-relative
// paths. A no-op when indexing is disabled for the workspace.
func (s *Service) OnFilesChanged(ctx context.Context, workspace string, paths []string) (*types.IndexResult, error) {
	if !s.indexingEnabled(workspace) {
		return &types.IndexResult{}, nil
	}
	var result types.IndexResult
	if err := s.call(ctx, worker.RequestOnFilesChanged, worker.FilesChangedRequest{Workspace: workspace, Paths: paths}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CancelIndexing requests cancellation of a running index task. Returns
// whether a task was actually running.
func (s *Service) CancelIndexing(ctx context.Context, workspace string) (bool, error) {
	var resp worker.CancelResponse
	if err := s.call(ctx, worker.RequestCancelIndexing, worker.WorkspaceRequest{Workspace: workspace}, &resp); err != nil {
		return false, err
	}
	return resp.WasRunning, nil
}

// Retrieve runs a similarity query against the workspace's index.
func (s *Service) Retrieve(ctx context.Context, workspace, query string, topK int) ([]types.RetrievalResult, error) {
	var resp worker.RetrieveResponse
	if err := s.call(ctx, worker.RequestRetrieve, worker.RetrieveRequest{Workspace: workspace, Query: query, TopK: topK}, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// DeleteIndex removes the workspace's index data and snapshot.
func (s *Service) DeleteIndex(ctx context.Context, workspace string) error {
	return s.call(ctx, worker.RequestDeleteIndex, worker.WorkspaceRequest{Workspace: workspace}, nil)
}

// GetIndexStatus reports the workspace's current indexing state.
func (s *Service) GetIndexStatus(ctx context.Context, workspace string) (*types.IndexStatus, error) {
	var status types.IndexStatus
	if err := s.call(ctx, worker.RequestGetIndexStatus, worker.WorkspaceRequest{Workspace: workspace}, &status); err != nil {
		return nil, err
	}
	status.Enabled = s.indexingEnabled(workspace)
	return &status, nil
}

// GetIndexStats summarizes the workspace's index.
func (s *Service) GetIndexStats(ctx context.Context, workspace string) (*types.IndexStats, error) {
	var stats types.IndexStats
	if err := s.call(ctx, worker.RequestGetIndexStats, worker.WorkspaceRequest{Workspace: workspace}, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// GetDetailedStats summarizes the whole store with a per-tag breakdown.
func (s *Service) GetDetailedStats(ctx context.Context) (*types.DetailedStats, error) {
	var stats types.DetailedStats
	if err := s.call(ctx, worker.RequestGetDetailedStats, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// HasIndex reports whether the workspace has any indexed content.
func (s *Service) HasIndex(ctx context.Context, workspace string) (bool, error) {
	var resp worker.HasIndexResponse
	if err := s.call(ctx, worker.RequestHasIndex, worker.WorkspaceRequest{Workspace: workspace}, &resp); err != nil {
		return false, err
	}
	return resp.HasIndex, nil
}

// SetEmbeddingsProvider configures the worker's embedding provider. Only
// valid before the worker has initialized its pipeline.
func (s *Service) SetEmbeddingsProvider(ctx context.Context, provider, apiKey, host string) error {
	return s.call(ctx, worker.RequestSetEmbeddingsProvider, worker.SetProviderRequest{Provider: provider, APIKey: apiKey, Host: host}, nil)
}

// SetIndexEnabled flips the per-workspace switch. While disabled,
// IndexWorkspace and OnFilesChanged resolve immediately without reaching the
// worker; retrieval against an existing index keeps working.
func (s *Service) SetIndexEnabled(workspace string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if enabled {
		delete(s.disabled, workspace)
	} else {
		s.disabled[workspace] = true
	}
}

func (s *Service) indexingEnabled(workspace string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.disabled[workspace]
}

// ActivateWorkspace starts a filesystem watcher for the workspace and kicks
// off a background index cycle to warm the snapshot. Idempotent while the
// workspace stays active.
func (s *Service) ActivateWorkspace(ctx context.Context, workspace string) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return types.NewIndexError(types.CodeDisposed, "service is disposed")
	}
	if _, ok := s.watchers[workspace]; ok {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	w, err := watcher.New(workspace, func(paths []string) {
		if _, err := s.OnFilesChanged(context.Background(), workspace, paths); err != nil {
			log.Printf("refresh failed for %s: %v", workspace, err)
		}
	}, s.watchCfg)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	if s.disposed || s.watchers[workspace] != nil {
		s.mu.Unlock()
		_ = w.Close()
		return nil
	}
	s.watchers[workspace] = w
	s.mu.Unlock()

	go func() {
		if _, err := s.IndexWorkspace(context.Background(), workspace); err != nil {
			log.Printf("initial index failed for %s: %v", workspace, err)
		}
	}()
	return nil
}

// DeactivateWorkspace stops the workspace's watcher, if any.
func (s *Service) DeactivateWorkspace(workspace string) {
	s.mu.Lock()
	w := s.watchers[workspace]
	delete(s.watchers, workspace)
	s.mu.Unlock()
	if w != nil {
		_ = w.Close()
	}
}

// Dispose stops all watchers and shuts the worker down. The service cannot
// be used afterwards.
func (s *Service) Dispose(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.disposed = true
	watchers := s.watchers
	s.watchers = make(map[string]*watcher.Watcher)
	s.mu.Unlock()

	for _, w := range watchers {
		_ = w.Close()
	}
	return s.channel.Dispose(ctx)
}

// call sends one request through the channel, initializing the worker first
// when needed. A WorkerNotReady rejection means the worker was respawned
// since the last init; the service re-initializes and retries once.
func (s *Service) call(ctx context.Context, reqType worker.RequestType, payload, out interface{}) error {
	if err := s.ensureInit(ctx); err != nil {
		return err
	}

	data, err := s.channel.Call(ctx, reqType, payload)
	if types.CodeOf(err) == types.CodeWorkerNotReady {
		if err = s.sendInit(ctx); err != nil {
			return err
		}
		data, err = s.channel.Call(ctx, reqType, payload)
	}
	if err != nil {
		return err
	}
	if out != nil && len(data) > 0 {
		return json.Unmarshal(data, out)
	}
	return nil
}

func (s *Service) ensureInit(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return types.NewIndexError(types.CodeDisposed, "service is disposed")
	}
	done := s.initialized
	s.mu.Unlock()
	if done {
		return nil
	}
	return s.sendInit(ctx)
}

// sendInit is safe to race: the worker treats a repeated identical init as a
// no-op.
func (s *Service) sendInit(ctx context.Context) error {
	if _, err := s.channel.Call(ctx, worker.RequestInit, s.init); err != nil {
		return err
	}
	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()
	return nil
}
