package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/semindex-mcp/pkg/types"
)

// RespawnBackoff is the minimum gap between consecutive worker spawns, so a
// crash-looping worker cannot be restarted hot.
const RespawnBackoff = 2 * time.Second

// maxLineSize bounds one protocol line. Retrieval responses carry chunk
// contents, so this is generous.
const maxLineSize = 16 * 1024 * 1024

// ProgressFunc receives broadcast progress events from the worker.
type ProgressFunc func(progress types.Progress)

// ModelDownloadFunc receives broadcast model download events from the worker.
type ModelDownloadFunc func(progress types.ModelDownloadProgress)

// transport is one live worker process from the channel's point of view.
type transport struct {
	stdin  io.WriteCloser
	stdout io.Reader
	wait   func() error
	kill   func()
	exited chan struct{}
}

// SpawnFunc starts a worker process. Swappable for tests.
type SpawnFunc func() (*transport, error)

// Channel is the host side of the worker boundary. It owns the child
// process, correlates responses to requests by ID, enforces per-call
// timeouts, and broadcasts progress to subscribers. The worker is spawned
// lazily on the first call and respawned (with backoff) after a crash.
type Channel struct {
	spawn SpawnFunc

	shortTimeout   time.Duration
	longTimeout    time.Duration
	respawnBackoff time.Duration

	mu           sync.Mutex
	current      *transport
	pending      map[string]*pendingCall
	subs         []ProgressFunc
	downloadSubs []ModelDownloadFunc
	disposed     bool
	lastSpawn    time.Time
}

type pendingCall struct {
	done  chan *ResponseEnvelope
	timer *time.Timer
}

// NewChannel creates a channel that spawns the worker binary at binPath.
func NewChannel(binPath string, args ...string) *Channel {
	return newChannel(func() (*transport, error) {
		return spawnProcess(binPath, args...)
	})
}

func newChannel(spawn SpawnFunc) *Channel {
	return &Channel{
		spawn:          spawn,
		shortTimeout:   ShortCallTimeout,
		longTimeout:    LongCallTimeout,
		respawnBackoff: RespawnBackoff,
		pending:        make(map[string]*pendingCall),
	}
}

// spawnProcess launches the worker binary with stderr passed through.
func spawnProcess(binPath string, args ...string) (*transport, error) {
	cmd := exec.Command(binPath, args...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}

	return &transport{
		stdin:  stdin,
		stdout: stdout,
		wait:   cmd.Wait,
		kill:   func() { _ = cmd.Process.Kill() },
	}, nil
}

// SubscribeProgress registers a callback for broadcast progress events.
func (c *Channel) SubscribeProgress(fn ProgressFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, fn)
}

// SubscribeModelDownload registers a callback for broadcast model download
// events.
func (c *Channel) SubscribeModelDownload(fn ModelDownloadFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.downloadSubs = append(c.downloadSubs, fn)
}

// Call sends one request and waits for its response, the per-type timeout,
// or context cancellation, whichever comes first.
func (c *Channel) Call(ctx context.Context, reqType RequestType, payload interface{}) (json.RawMessage, error) {
	id := uuid.NewString()

	req := RequestEnvelope{ID: id, Type: reqType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		req.Data = data
	}
	line, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request envelope: %w", err)
	}

	call := &pendingCall{done: make(chan *ResponseEnvelope, 1)}

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil, types.NewIndexError(types.CodeDisposed, "worker channel is disposed")
	}
	tr, err := c.ensureStartedLocked()
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}

	c.pending[id] = call
	call.timer = time.AfterFunc(c.timeoutFor(reqType), func() {
		c.reject(id, types.NewIndexError(types.CodeWorkerTimeout,
			fmt.Sprintf("worker did not answer %s in time", reqType)))
	})

	if _, err := tr.stdin.Write(append(line, '\n')); err != nil {
		c.removeLocked(id)
		c.mu.Unlock()
		return nil, types.WrapError(types.CodeWorkerCrashed, "failed to write to worker", err)
	}
	c.mu.Unlock()

	select {
	case resp := <-call.done:
		if resp.Type == ResponseError || resp.Error != nil {
			return nil, errorFromPayload(resp.Error)
		}
		return resp.Data, nil
	case <-ctx.Done():
		c.mu.Lock()
		c.removeLocked(id)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (c *Channel) timeoutFor(reqType RequestType) time.Duration {
	if timeoutFor(reqType) == LongCallTimeout {
		return c.longTimeout
	}
	return c.shortTimeout
}

// ensureStartedLocked lazily spawns the worker, honoring the respawn
// backoff. Called with c.mu held; the backoff sleep holds the lock, which is
// fine because every caller needs a live worker anyway.
func (c *Channel) ensureStartedLocked() (*transport, error) {
	if c.current != nil {
		return c.current, nil
	}

	if wait := c.respawnBackoff - time.Since(c.lastSpawn); wait > 0 {
		time.Sleep(wait)
	}

	tr, err := c.spawn()
	if err != nil {
		return nil, types.WrapError(types.CodeWorkerNotReady, "failed to spawn worker", err)
	}
	tr.exited = make(chan struct{})
	c.current = tr
	c.lastSpawn = time.Now()

	go c.readLoop(tr)
	return tr, nil
}

// readLoop consumes worker stdout until EOF, routing responses to pending
// calls and broadcasting progress. EOF means the worker exited: every
// pending call is rejected with WorkerCrashed and the next Call respawns.
func (c *Channel) readLoop(tr *transport) {
	scanner := bufio.NewScanner(tr.stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp ResponseEnvelope
		if err := json.Unmarshal(line, &resp); err != nil {
			log.Printf("worker: dropping malformed response line: %v", err)
			continue
		}

		switch resp.Type {
		case ResponseProgress:
			c.broadcastProgress(resp.Data)
		case ResponseModelDownloadProgress:
			c.broadcastModelDownload(resp.Data)
		default:
			c.deliver(&resp)
		}
	}

	_ = tr.wait()
	c.onExit(tr)
}

func (c *Channel) broadcastProgress(data json.RawMessage) {
	var progress types.Progress
	if err := json.Unmarshal(data, &progress); err != nil {
		log.Printf("worker: dropping malformed progress: %v", err)
		return
	}

	c.mu.Lock()
	subs := make([]ProgressFunc, len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	for _, fn := range subs {
		fn(progress)
	}
}

func (c *Channel) broadcastModelDownload(data json.RawMessage) {
	var progress types.ModelDownloadProgress
	if err := json.Unmarshal(data, &progress); err != nil {
		log.Printf("worker: dropping malformed download progress: %v", err)
		return
	}

	c.mu.Lock()
	subs := make([]ModelDownloadFunc, len(c.downloadSubs))
	copy(subs, c.downloadSubs)
	c.mu.Unlock()

	for _, fn := range subs {
		fn(progress)
	}
}

// deliver matches a response to its pending call. Unmatched responses
// (late answers to timed-out calls) are dropped.
func (c *Channel) deliver(resp *ResponseEnvelope) {
	c.mu.Lock()
	call, ok := c.pending[resp.ID]
	if ok {
		c.removeLocked(resp.ID)
	}
	c.mu.Unlock()

	if ok {
		call.done <- resp
	}
}

// reject fails one pending call with the given error.
func (c *Channel) reject(id string, err error) {
	c.mu.Lock()
	call, ok := c.pending[id]
	if ok {
		c.removeLocked(id)
	}
	c.mu.Unlock()

	if ok {
		call.done <- &ResponseEnvelope{ID: id, Type: ResponseError, Error: errorPayloadFor(err)}
	}
}

// removeLocked drops a pending entry and stops its timer. Caller holds c.mu.
func (c *Channel) removeLocked(id string) {
	if call, ok := c.pending[id]; ok {
		if call.timer != nil {
			call.timer.Stop()
		}
		delete(c.pending, id)
	}
}

// onExit handles worker death: bulk-reject everything in flight.
func (c *Channel) onExit(tr *transport) {
	c.mu.Lock()
	if c.current != tr {
		// A newer worker already replaced this one.
		c.mu.Unlock()
		return
	}
	c.current = nil
	orphans := c.pending
	c.pending = make(map[string]*pendingCall)
	for _, call := range orphans {
		if call.timer != nil {
			call.timer.Stop()
		}
	}
	disposed := c.disposed
	c.mu.Unlock()

	if !disposed {
		log.Printf("worker: process exited, rejecting %d pending calls", len(orphans))
	}
	payload := errorPayloadFor(types.NewIndexError(types.CodeWorkerCrashed, "worker process exited"))
	for id, call := range orphans {
		call.done <- &ResponseEnvelope{ID: id, Type: ResponseError, Error: payload}
	}
	close(tr.exited)
}

// Dispose shuts the worker down: a best-effort dispose request, then stdin
// close, then kill. The channel rejects all calls afterwards.
func (c *Channel) Dispose(ctx context.Context) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil
	}
	c.disposed = true
	tr := c.current
	c.mu.Unlock()

	if tr == nil {
		return nil
	}

	req := RequestEnvelope{ID: uuid.NewString(), Type: RequestDispose}
	if line, err := json.Marshal(req); err == nil {
		_, _ = tr.stdin.Write(append(line, '\n'))
	}
	_ = tr.stdin.Close()

	select {
	case <-tr.exited:
	case <-ctx.Done():
		tr.kill()
	case <-time.After(5 * time.Second):
		tr.kill()
	}
	return nil
}
