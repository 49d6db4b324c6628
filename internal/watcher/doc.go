// Package watcher delivers debounced filesystem change batches for a
// workspace.
//
// Raw fsnotify events are filtered with the same include and exclude rules
// the tree scanner applies, deduplicated, and held until the debounce window
// closes without new activity. Each flush hands the handler a sorted batch of
// workspace-relative paths suitable for a targeted index refresh.
package watcher
