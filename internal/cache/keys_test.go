package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/eth-easl/ml-input-data-service/pkg/types"
)

func TestDatasetKeyVariants(t *testing.T) {
	assert.Equal(t, "id_3_fp_9000_put", DatasetPutKey(3, 9000))
	assert.Equal(t, "id_3_fp_9000_get", DatasetGetKey(3, 9000))
	assert.Equal(t, "id_3_fp_9000", DatasetComputeKey(3, 9000))
}

func TestDatasetKeyByJobType(t *testing.T) {
	assert.Equal(t, "id_3_fp_9000_put", DatasetKey(3, 9000, types.JobTypePut))
	assert.Equal(t, "id_3_fp_9000_get", DatasetKey(3, 9000, types.JobTypeGet))
	assert.Equal(t, "id_3_fp_9000", DatasetKey(3, 9000, types.JobTypeCompute))
}

func TestGetTimePerRowClampsAtTheEdges(t *testing.T) {
	smallest := GetTimePerRow(1)
	assert.Equal(t, GetTimePerRow(1<<7), smallest)

	largest := GetTimePerRow(1 << 30)
	assert.Equal(t, GetTimePerRow(1<<25), largest)
}

func TestGetTimePerRowInterpolates(t *testing.T) {
	lo := GetTimePerRow(1 << 10)
	hi := GetTimePerRow(1 << 13)
	mid := GetTimePerRow(1 << 12)

	assert.Greater(t, mid, lo)
	assert.Less(t, mid, hi)

	// Estimates must not decrease with row size.
	previous := 0.0
	for shift := 7; shift <= 25; shift++ {
		estimate := GetTimePerRow(1 << shift)
		assert.GreaterOrEqual(t, estimate, previous, "row size 1<<%d", shift)
		previous = estimate
	}
}
