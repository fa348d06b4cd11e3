package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketCheckpoints = []byte("checkpoints")
)

// BoltStore implements Store using bbolt
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

// NewBoltStore opens (or creates) faultbridge.db under dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, "faultbridge.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketCheckpoints); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketCheckpoints, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, now: time.Now}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func checkpointKey(cluster, class string) []byte {
	return []byte(cluster + "/" + class)
}

func (s *BoltStore) GetCheckpoint(cluster, class string) (*Checkpoint, bool, error) {
	var cp Checkpoint
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCheckpoints).Get(checkpointKey(cluster, class))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &cp)
	})
	if err != nil || !found {
		return nil, false, err
	}
	return &cp, true, nil
}

// SaveCheckpoint upserts the checkpoint. It never moves a checkpoint backwards.
func (s *BoltStore) SaveCheckpoint(cluster, class string, ts time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCheckpoints)
		key := checkpointKey(cluster, class)

		if data := b.Get(key); data != nil {
			var existing Checkpoint
			if err := json.Unmarshal(data, &existing); err == nil && existing.Timestamp.After(ts) {
				return nil
			}
		}

		data, err := json.Marshal(&Checkpoint{
			Cluster:   cluster,
			Class:     class,
			Timestamp: ts,
			UpdatedAt: s.now(),
		})
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func (s *BoltStore) ListCheckpoints() ([]*Checkpoint, error) {
	var cps []*Checkpoint
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCheckpoints).ForEach(func(k, v []byte) error {
			var cp Checkpoint
			if err := json.Unmarshal(v, &cp); err != nil {
				return err
			}
			cps = append(cps, &cp)
			return nil
		})
	})
	return cps, err
}

// DeleteCheckpoints removes every checkpoint of a cluster
func (s *BoltStore) DeleteCheckpoints(cluster string) error {
	prefix := []byte(cluster + "/")
	return s.db.Update(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketCheckpoints).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Seek(prefix) {
			if err := c.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}
