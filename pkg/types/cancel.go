package types

import "sync/atomic"

// CancelFlag is a cooperative cancellation token threaded through
// long-running loops. Setting it never preempts work in flight; the loop
// observes the flag at its next checkpoint and resolves with a cancelled
// result rather than an error.
type CancelFlag struct {
	requested atomic.Bool
}

// NewCancelFlag creates an unset cancellation flag.
func NewCancelFlag() *CancelFlag {
	return &CancelFlag{}
}

// Cancel requests cancellation. Safe to call from any goroutine, repeatedly.
func (f *CancelFlag) Cancel() {
	f.requested.Store(true)
}

// IsCancellationRequested reports whether cancellation has been requested.
// A nil flag never cancels.
func (f *CancelFlag) IsCancellationRequested() bool {
	if f == nil {
		return false
	}
	return f.requested.Load()
}
