// Package service is the host-side surface of the indexing pipeline.
//
// All heavy work happens in a separate worker process reached through the
// worker channel; the service adds the pieces that must live in the host:
// lazy worker initialization (repeated after a respawn), per-workspace
// enable switches that short-circuit indexing calls, and the filesystem
// watchers that turn editor activity into targeted refreshes.
package service
