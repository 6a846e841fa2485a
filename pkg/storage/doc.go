/*
Package storage persists tracked jobs behind a single Store interface with
three backends: BoltDB (default), PostgreSQL, and an in-memory map.

Every backend stores the whole Job aggregate as one JSON document keyed by
the job's storage key (app:tenant:patient:document:run). The contract that
matters is UpdateJob: it reads the current job, hands a copy to an
UpdateFunc, and persists the result as one unit. Two concurrent updates to
the same key can never interleave between the read and the write.

# Backends

	┌──────────────────────── Store ─────────────────────────┐
	│  GetJob   InsertJob   UpdateJob(fn)   ListJobs   Ping   │
	└──────┬──────────────────────┬─────────────────────┬─────┘
	       │                      │                     │
	┌──────▼───────┐   ┌──────────▼─────────┐   ┌───────▼───────┐
	│  BoltStore   │   │   PostgresStore     │   │  MemoryStore  │
	│  djt.db      │   │   table "jobs"      │   │  map + keyed  │
	│  bucket jobs │   │   version column    │   │  mutexes      │
	│  db.Update   │   │   WHERE version=$n  │   │  per key      │
	│  serializes  │   │   retry w/ backoff  │   │               │
	└──────────────┘   └────────────────────┘   └───────────────┘

BoltStore wraps each UpdateJob in a bolt read-write transaction. bolt runs
one such transaction at a time and holds a file lock, so a single process
owns the database.

PostgresStore is safe for many processes. Inserts use ON CONFLICT DO
NOTHING, updates only apply when the version read is still current. A lost
race is retried with exponential backoff up to the configured retry count,
after which the call fails with types.ErrStoreUnavailable. Store calls are
wrapped in OpenTelemetry client spans. The schema lives in the embedded
migrations directory and is applied with MigrateUp.

MemoryStore keeps jobs in a map and serializes UpdateJob per key only.
It backs tests and the memory store backend.

# Errors

	types.ErrNotFound          GetJob on an unknown key
	types.ErrDuplicateJob      InsertJob on an existing key
	types.ErrStoreUnavailable  I/O failure, closed database, canceled context,
	                           exhausted conflict retries

An error returned by an UpdateFunc aborts the write and is returned to the
caller unchanged, which is how the job store reports stale updates.

# Usage

	store, err := storage.NewBoltStore("/var/lib/djt")
	if err != nil {
		return err
	}
	defer store.Close()

	job, err := store.UpdateJob(ctx, key, func(current *types.Job) (*types.Job, error) {
		if current == nil {
			current = newJob(key)
		}
		current.Status = types.StatusInProgress
		return current, nil
	})
*/
package storage
