package storage

import (
	"time"
)

// Checkpoint is the resume point of historical collection for one
// cluster and object class
type Checkpoint struct {
	Cluster   string    `json:"cluster"`
	Class     string    `json:"class"`
	Timestamp time.Time `json:"timestamp"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store defines the interface for ingester state storage
type Store interface {
	// GetCheckpoint returns the stored checkpoint; ok is false when none exists
	GetCheckpoint(cluster, class string) (cp *Checkpoint, ok bool, err error)
	SaveCheckpoint(cluster, class string, ts time.Time) error
	ListCheckpoints() ([]*Checkpoint, error)
	DeleteCheckpoints(cluster string) error

	// Utility
	Close() error
}
