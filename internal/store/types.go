// Package store provides SQLite-based detection history for keyseq.
package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Detection is one recognised sequence.
type Detection struct {
	ID         string
	RunID      string
	Sequence   string
	Length     int
	Target     string
	Source     string
	DetectedAt time.Time
}

// Run is one daemon lifetime. Detections made while it was running
// carry its ID.
type Run struct {
	ID        string
	Source    string
	Config    string
	StartedAt time.Time
	StoppedAt *time.Time
}

// ListOptions filters ListDetections.
type ListOptions struct {
	// Limit caps the number of rows. 0 means no limit.
	Limit int

	// Since keeps detections at or after this time.
	Since time.Time

	// Sequence keeps detections with exactly this value.
	Sequence string

	// RunID keeps detections from one run.
	RunID string
}
