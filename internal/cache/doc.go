// Package cache defines the disk-backed blob store that maps (group, key)
// pairs onto <BasePath>/<Group>/<sha256(key)> files. Each group is one
// directory guarded by a single mutex: writes go through temp file + rename,
// reads never observe a half-written entry, and the file mtime is the only
// expiry signal (no sidecar metadata). Misses are reported as ok=false rather
// than errors; deletions are best-effort and only logged on failure.
// The fetcher and HTTP layers depend on the Store interface so tests can
// substitute in-memory fakes.
package cache
