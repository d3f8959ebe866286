package cache

import (
	"fmt"

	"github.com/eth-easl/ml-input-data-service/pkg/types"
)

// DatasetPutKey names the cache-writing materialization of a dataset.
func DatasetPutKey(id int64, fingerprint uint64) string {
	return fmt.Sprintf("id_%d_fp_%d_put", id, fingerprint)
}

// DatasetGetKey names the cache-reading materialization of a dataset.
func DatasetGetKey(id int64, fingerprint uint64) string {
	return fmt.Sprintf("id_%d_fp_%d_get", id, fingerprint)
}

// DatasetComputeKey names the plain (uncached) materialization.
func DatasetComputeKey(id int64, fingerprint uint64) string {
	return fmt.Sprintf("id_%d_fp_%d", id, fingerprint)
}

// DatasetKey resolves the materialization key for a job type.
func DatasetKey(id int64, fingerprint uint64, jobType types.JobType) string {
	switch jobType {
	case types.JobTypePut:
		return DatasetPutKey(id, fingerprint)
	case types.JobTypeGet:
		return DatasetGetKey(id, fingerprint)
	default:
		return DatasetComputeKey(id, fingerprint)
	}
}
