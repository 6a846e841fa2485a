/*
Package jobstore implements the job lifecycle on top of a storage backend:
explicit creation, idempotent create-or-get, and the atomic
read-merge-write that folds a status update into a job.

ApplyUpdate runs inside storage.Store.UpdateJob so the read, the merge and
the write are one unit per key:

	UpdateJob(key, fn)
	  fn(current):
	    current == nil ──▶ create from SeedFromUpdate   (OutcomeCreated)
	    merger.Merge(current.Pages, update)
	      ErrStaleStatus ──▶ abort, return current      (no write)
	      unchanged      ──▶ skip write                 (OutcomeUnchanged)
	      changed        ──▶ re-aggregate, write        (OutcomeUpdated)

Every call runs under the configured store timeout. A call that hits the
deadline fails with types.ErrStoreUnavailable and may be retried; merges
are idempotent so a retried update that already landed is a no-op.
*/
package jobstore
