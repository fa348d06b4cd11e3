/*
Package storage persists faultbridge state in an embedded bbolt database.

The only durable state the ingester needs is where historical collection
left off. Each poll task and each completed pagination bucket writes a
Checkpoint keyed by cluster and object class, so a restart resumes from the
last complete interval instead of re-reading (or skipping) history.

	┌──────────────── <dataDir>/faultbridge.db ────────────────┐
	│                                                           │
	│  bucket "checkpoints"                                     │
	│    fabric-east/faultRecord  → {"timestamp": "...", ...}   │
	│    fabric-west/faultRecord  → {"timestamp": "...", ...}   │
	│                                                           │
	└───────────────────────────────────────────────────────────┘

Values are JSON. SaveCheckpoint is an upsert that ignores timestamps older
than the stored one, so overlapping writers cannot move a cluster backwards.

# Usage

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	cp, ok, err := store.GetCheckpoint("fabric-east", "faultRecord")
	if err == nil && !ok {
		// first run: start from the configured lookback
	}

bbolt holds an exclusive file lock, so only one process may open a data
directory at a time. Open waits one second for the lock before failing.
*/
package storage
