// ============================================================================
// Cache Policy Engine
// ============================================================================
//
// Package: internal/cache
// File: policy.go
// Purpose: Decides, per job, whether to compute a dataset from scratch,
// compute it while populating the cache (PUT), or read the existing cache
// (GET). Consulted once at job creation time, before tasks are created.
//
// Decision order under the adaptive policy:
//   1. Fingerprint already cached -> GET. A prior decision to cache is
//      trusted without re-evaluating cost.
//   2. No metrics for the dataset yet (cold start) -> COMPUTE.
//   3. Modeled cache read ms/row < measured compute ms/row -> PUT, and the
//      job is registered as the fingerprint's caching job. Otherwise the
//      cache would never fill up.
//   4. Otherwise -> COMPUTE.
//
// ============================================================================

package cache

import (
	"errors"
	"fmt"

	"github.com/eth-easl/ml-input-data-service/internal/metadata"
	"github.com/eth-easl/ml-input-data-service/pkg/types"
)

// DetermineJobType picks the execution mode for a job over the given
// dataset fingerprint.
//
// Only a metrics lookup failing with something other than "not found"
// produces an error: a metrics-store malfunction must not be masked as
// cold start.
func DetermineJobType(policy types.CachePolicy, cacheState *State, metadataStore *metadata.Store,
	fingerprint uint64, jobID int64) (types.JobType, error) {

	// Fixed, non-adaptive policies for experimentation.
	switch policy {
	case types.CachePolicyAlwaysCompute:
		return types.JobTypeCompute, nil
	case types.CachePolicyComputeOnce:
		if cacheState.IsDatasetCached(fingerprint) {
			return types.JobTypeGet, nil
		}
		// The PUT job is the fingerprint's caching job under every policy;
		// completion of the registered job is what marks the cache ready.
		cacheState.RegisterCachingJob(fingerprint, jobID)
		return types.JobTypePut, nil
	case types.CachePolicyAdaptive:
		// fall through to the adaptive decision below
	default:
		return "", fmt.Errorf("cache: unknown cache policy %d", policy)
	}

	if cacheState.IsDatasetCached(fingerprint) {
		return types.JobTypeGet, nil
	}

	metricsByWorker, err := metadataStore.LastNodeMetrics(fingerprint)
	if errors.Is(err, metadata.ErrNotFound) {
		// No prior run to learn from.
		return types.JobTypeCompute, nil
	}
	if err != nil {
		return "", err
	}

	// Row sizes are assumed uniform per worker; the compute time per row
	// is averaged across every worker that reported.
	var rowSize uint64
	var computeTimePerRowMs float64
	for _, workerMetrics := range metricsByWorker {
		rowSize = uint64(workerMetrics.BytesProduced / workerMetrics.NumElements)
		computeTimePerRowMs += workerMetrics.InPrefixTimeMs
	}
	computeTimePerRowMs /= float64(len(metricsByWorker))

	cacheReadTimePerRowMs := GetTimePerRow(rowSize)
	if cacheReadTimePerRowMs < computeTimePerRowMs {
		cacheState.RegisterCachingJob(fingerprint, jobID)
		return types.JobTypePut, nil
	}
	return types.JobTypeCompute, nil
}
