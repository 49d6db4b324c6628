// Package worker implements the process boundary between the host and the
// embedding compute process.
//
// The protocol is JSON lines: request envelopes {id, type, data} on the
// worker's stdin, response envelopes {id, type, data|error} on its stdout.
// Request IDs are UUIDs; the host matches responses to requests by ID in a
// pending-call table with a per-type timeout (30s for queries, 30m for
// indexing and init). Progress envelopes carry no ID and are broadcast to
// subscribers instead of being matched.
//
// The worker is spawned lazily on the first call. If the process exits,
// every in-flight call is rejected with WorkerCrashed and the next call
// respawns it, with a minimum backoff between spawns so a crash loop cannot
// spin hot.
package worker
