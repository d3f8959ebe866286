// ============================================================================
// Cache State Projection
// ============================================================================
//
// Package: internal/cache
// File: state.go
// Purpose: The narrow cache view consumed and updated by the policy engine:
// which fingerprints have a completed materialization, and which job is
// responsible for populating a fingerprint's cache.
//
// ============================================================================

package cache

import "sync"

// State tracks cache materializations by dataset fingerprint.
type State struct {
	mu sync.RWMutex

	// cached holds fingerprints with a completed materialization.
	cached map[uint64]bool

	// cachingJobs maps a fingerprint to the job registered to populate
	// its cache (the PUT job).
	cachingJobs map[uint64]int64
}

// NewState creates an empty cache-state projection.
func NewState() *State {
	return &State{
		cached:      make(map[uint64]bool),
		cachingJobs: make(map[uint64]int64),
	}
}

// IsDatasetCached reports whether a completed materialization exists for
// the fingerprint.
func (s *State) IsDatasetCached(fingerprint uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cached[fingerprint]
}

// RegisterCachingJob records the job responsible for populating the
// fingerprint's cache. Once registered, dataset-key derivation for the
// fingerprint must consistently point at that job's PUT/GET variants.
// The first registration wins.
func (s *State) RegisterCachingJob(fingerprint uint64, jobID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.cachingJobs[fingerprint]; exists {
		return
	}
	s.cachingJobs[fingerprint] = jobID
}

// CachingJob returns the job registered to populate the fingerprint's
// cache, if any.
func (s *State) CachingJob(fingerprint uint64) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobID, exists := s.cachingJobs[fingerprint]
	return jobID, exists
}

// MarkDatasetCached records that the fingerprint's materialization is
// complete. Called when the registered caching job finishes.
func (s *State) MarkDatasetCached(fingerprint uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached[fingerprint] = true
}
