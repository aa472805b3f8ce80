/*
Package storage provides the pluggable persistence abstraction for trafficwatch.

# Store Interface

Every job and handler talks to a Store, never to a concrete backend:
  - memory: in-memory maps for tests and ephemeral runs
  - badger: BadgerDB for a single-node embedded deployment
  - sqlite: a single SQL file (modernc.org/sqlite, no cgo)
  - postgres: pgx connection pool, the production target

# Idempotent Upserts

Hourly stats, live snapshots and daily summaries are written by their natural
composite key:

	hourly_stats     (hour, camera_id, vehicle_type, direction)
	live_snapshots   (snapshot_time, camera_id)
	daily_summaries  (date, camera_id)

The ConflictPolicy decides what happens when a key already exists. Update
overwrites the non-key fields, Ignore keeps the stored row. Writing the same
batch twice leaves the store in the same state as writing it once.

Each upsert call is one unit of work: either every row of the batch is applied
or none is, and the failure is returned as a *traffic.StorageError.

	res, err := store.UpsertSnapshots(ctx, snaps, storage.Update)
	if err != nil {
	    return err
	}
	fmt.Printf("inserted=%d updated=%d\n", res.Inserted, res.Updated)

# Append-only Tables

Anomalies and fetch log entries are never updated. They are removed only by
retention cleanup:

	n, err := store.DeleteBefore(ctx, storage.DeleteOptions{
	    Table:  storage.TableFetchLogs,
	    Before: time.Now().AddDate(0, 0, -90),
	})

# Queries

QueryRequest ranges are half-open, [Start, End). A zero Start or End leaves that
side unbounded. Results come back in time order.

# See Also

  - storagetest.Run for the behaviour every backend must share
  - pkg/aggregation for the daily rollup that reads hourly stats
*/
package storage
