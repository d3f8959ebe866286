// ============================================================================
// Metadata Store - Collected Pipeline Performance Metrics
// ============================================================================
//
// Package: internal/metadata
// File: store.go
// Purpose: Holds per-dataset, per-worker input pipeline metrics reported by
// workers. The cache policy engine reads them to compare measured compute
// cost against the modeled cache read cost.
//
// The store is keyed by dataset fingerprint. A missing fingerprint is the
// normal cold-start condition and is reported as ErrNotFound; callers must
// treat any other error as a store malfunction, never as cold start.
//
// ============================================================================

package metadata

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound indicates no metrics were recorded for a fingerprint yet.
var ErrNotFound = errors.New("metadata: not found")

// NodeMetrics is one worker's report for the terminal pipeline node of a
// dataset: total bytes and elements produced, and the time spent in the
// pipeline prefix feeding that node.
type NodeMetrics struct {
	BytesProduced  int64   `json:"bytes_produced"`
	NumElements    int64   `json:"num_elements"`
	InPrefixTimeMs float64 `json:"in_prefix_time_ms"`
}

// Store keeps the last reported metrics per fingerprint and worker.
type Store struct {
	mu            sync.RWMutex
	byFingerprint map[uint64]map[string]*NodeMetrics
}

// NewStore creates an empty metadata store.
func NewStore() *Store {
	return &Store{
		byFingerprint: make(map[uint64]map[string]*NodeMetrics),
	}
}

// RecordNodeMetrics stores (or overwrites) a worker's report for a dataset.
func (s *Store) RecordNodeMetrics(fingerprint uint64, workerAddress string, metrics NodeMetrics) error {
	if metrics.NumElements <= 0 {
		return fmt.Errorf("metadata: report for fingerprint %d from %s has no elements", fingerprint, workerAddress)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	workers, exists := s.byFingerprint[fingerprint]
	if !exists {
		workers = make(map[string]*NodeMetrics)
		s.byFingerprint[fingerprint] = workers
	}
	copied := metrics
	workers[workerAddress] = &copied
	return nil
}

// LastNodeMetrics returns every worker's last report for a fingerprint.
// Returns ErrNotFound when no worker has reported yet.
func (s *Store) LastNodeMetrics(fingerprint uint64) (map[string]*NodeMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	workers, exists := s.byFingerprint[fingerprint]
	if !exists || len(workers) == 0 {
		return nil, fmt.Errorf("metrics for fingerprint %d: %w", fingerprint, ErrNotFound)
	}
	out := make(map[string]*NodeMetrics, len(workers))
	for address, metrics := range workers {
		copied := *metrics
		out[address] = &copied
	}
	return out, nil
}
