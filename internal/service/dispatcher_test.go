package service

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eth-easl/ml-input-data-service/internal/metadata"
	"github.com/eth-easl/ml-input-data-service/pkg/types"
)

// ============================================================================
// 測試輔助
// ============================================================================

func testConfig(t *testing.T, policy types.CachePolicy) Config {
	t.Helper()
	dir := t.TempDir()
	return Config{
		JournalPath:          filepath.Join(dir, "journal.log"),
		SnapshotPath:         filepath.Join(dir, "snapshot.json"),
		SnapshotInterval:     time.Hour, // 背景循環在測試中不觸發
		JobGCInterval:        time.Hour,
		ClientReleaseTimeout: time.Hour,
		CachePolicy:          policy,
		TargetWorkersPerJob:  0, // 取用全部可用 worker
	}
}

// startDispatcher 啟動一個 dispatcher 並在測試結束時關閉
func startDispatcher(t *testing.T, config Config) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(config, nil)
	require.NoError(t, err)
	require.NoError(t, d.Start())
	t.Cleanup(d.Stop)
	return d
}

// ============================================================================
// 基本操作
// ============================================================================

func TestFreshBootKeepsInitialCounters(t *testing.T) {
	d := startDispatcher(t, testConfig(t, types.CachePolicyAlwaysCompute))

	// 沒有快照檔的首次啟動不得動到初始計數器：所有 id 從 1 起鑄造
	assert.Equal(t, int64(1), d.State().NextAvailableDatasetID())
	assert.Equal(t, int64(1), d.State().NextAvailableJobID())
	assert.Equal(t, int64(1), d.State().NextAvailableJobClientID())
	assert.Equal(t, int64(1), d.State().NextAvailableTaskID())

	datasetID, err := d.GetOrRegisterDataset(9000)
	require.NoError(t, err)
	assert.Equal(t, int64(1), datasetID)
}

func TestGetOrRegisterDatasetIsIdempotent(t *testing.T) {
	d := startDispatcher(t, testConfig(t, types.CachePolicyAlwaysCompute))

	first, err := d.GetOrRegisterDataset(9000)
	require.NoError(t, err)
	second, err := d.GetOrRegisterDataset(9000)
	require.NoError(t, err)
	assert.Equal(t, first, second, "same fingerprint must map to the same dataset")

	other, err := d.GetOrRegisterDataset(9001)
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
}

func TestRegisterWorkerIsIdempotent(t *testing.T) {
	d := startDispatcher(t, testConfig(t, types.CachePolicyAlwaysCompute))

	tasks, err := d.RegisterWorker("w1:5000", "w1:5001")
	require.NoError(t, err)
	assert.Empty(t, tasks)

	// 重啟後重新註冊：不報錯，拿回現有任務
	tasks, err = d.RegisterWorker("w1:5000", "w1:5001")
	require.NoError(t, err)
	assert.Empty(t, tasks)
	assert.Len(t, d.State().ListWorkers(), 1)
}

func TestGetOrCreateJobCreatesTasksOnEveryWorker(t *testing.T) {
	d := startDispatcher(t, testConfig(t, types.CachePolicyAlwaysCompute))

	datasetID, err := d.GetOrRegisterDataset(9000)
	require.NoError(t, err)
	for _, address := range []string{"w1:5000", "w2:5000", "w3:5000"} {
		_, err := d.RegisterWorker(address, address+"-transfer")
		require.NoError(t, err)
	}

	jobID, err := d.GetOrCreateJob(JobRequest{
		DatasetID:      datasetID,
		ProcessingMode: types.ProcessingModeParallelEpochs,
	})
	require.NoError(t, err)

	tasks, err := d.State().TasksForJob(jobID)
	require.NoError(t, err)
	require.Len(t, tasks, 3, "one task per reserved worker")
	for _, task := range tasks {
		assert.Equal(t, "id_1_fp_9000", task.DatasetKey)
		assert.False(t, task.Finished)
	}
	assert.Empty(t, d.State().ListAvailableWorkers())

	// worker 註冊回傳它被指派的任務
	workerTasks, err := d.RegisterWorker("w1:5000", "w1:5000-transfer")
	require.NoError(t, err)
	assert.Len(t, workerTasks, 1)
}

func TestGetOrCreateJobUnknownDataset(t *testing.T) {
	d := startDispatcher(t, testConfig(t, types.CachePolicyAlwaysCompute))

	_, err := d.GetOrCreateJob(JobRequest{
		DatasetID:      42,
		ProcessingMode: types.ProcessingModeParallelEpochs,
	})
	assert.Error(t, err)
}

func TestNamedJobReuse(t *testing.T) {
	d := startDispatcher(t, testConfig(t, types.CachePolicyAlwaysCompute))

	datasetID, err := d.GetOrRegisterDataset(9000)
	require.NoError(t, err)
	_, err = d.RegisterWorker("w1:5000", "w1:5001")
	require.NoError(t, err)

	key := &types.NamedJobKey{Name: "shared", Index: 0}
	request := JobRequest{
		DatasetID:      datasetID,
		ProcessingMode: types.ProcessingModeParallelEpochs,
		NamedJobKey:    key,
	}

	first, err := d.GetOrCreateJob(request)
	require.NoError(t, err)
	second, err := d.GetOrCreateJob(request)
	require.NoError(t, err)
	assert.Equal(t, first, second, "same named key must reuse the job")

	// 同名但不同 dataset 是衝突
	otherDataset, err := d.GetOrRegisterDataset(9001)
	require.NoError(t, err)
	_, err = d.GetOrCreateJob(JobRequest{
		DatasetID:      otherDataset,
		ProcessingMode: types.ProcessingModeParallelEpochs,
		NamedJobKey:    key,
	})
	assert.Error(t, err)
}

func TestClientLeaseAndHeartbeat(t *testing.T) {
	d := startDispatcher(t, testConfig(t, types.CachePolicyAlwaysCompute))

	datasetID, err := d.GetOrRegisterDataset(9000)
	require.NoError(t, err)
	_, err = d.RegisterWorker("w1:5000", "w1:5001")
	require.NoError(t, err)
	jobID, err := d.GetOrCreateJob(JobRequest{
		DatasetID:      datasetID,
		ProcessingMode: types.ProcessingModeParallelEpochs,
	})
	require.NoError(t, err)

	clientID, err := d.AcquireJobClient(jobID)
	require.NoError(t, err)

	// 純進度心跳：不落日誌，回傳 active 任務
	tasks, err := d.ClientHeartbeat(clientID, false, nil)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	require.NoError(t, d.ReleaseJobClient(clientID))

	// 釋放後租約失效
	_, err = d.ClientHeartbeat(clientID, false, nil)
	assert.Error(t, err)
	assert.Error(t, d.ReleaseJobClient(clientID))
}

func TestCoordinatedAdmission(t *testing.T) {
	d := startDispatcher(t, testConfig(t, types.CachePolicyAlwaysCompute))

	datasetID, err := d.GetOrRegisterDataset(9000)
	require.NoError(t, err)
	_, err = d.RegisterWorker("w1:5000", "w1:5001")
	require.NoError(t, err)

	numConsumers := int64(2)
	jobID, err := d.GetOrCreateJob(JobRequest{
		DatasetID:      datasetID,
		ProcessingMode: types.ProcessingModeParallelEpochs,
		NumConsumers:   &numConsumers,
	})
	require.NoError(t, err)

	clientA, err := d.AcquireJobClient(jobID)
	require.NoError(t, err)
	clientB, err := d.AcquireJobClient(jobID)
	require.NoError(t, err)

	// 任務在 quorum 湊齊前停留在 pending queue
	tasks, err := d.ClientHeartbeat(clientA, true, nil)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	tasks, err = d.ClientHeartbeat(clientB, true, nil)
	require.NoError(t, err)
	require.Len(t, tasks, 1, "both consumers accepted, task must be active")
	assert.Equal(t, int64(0), tasks[0].StartingRound)

	// 佇列已空：接受/拒絕心跳是錯誤而非 panic
	_, err = d.ClientHeartbeat(clientA, true, nil)
	assert.Error(t, err)
}

func TestProduceSplitValidation(t *testing.T) {
	d := startDispatcher(t, testConfig(t, types.CachePolicyAlwaysCompute))

	datasetID, err := d.GetOrRegisterDataset(9000)
	require.NoError(t, err)
	jobID, err := d.GetOrCreateJob(JobRequest{
		DatasetID:         datasetID,
		ProcessingMode:    types.ProcessingModeDistributedEpoch,
		NumSplitProviders: 2,
	})
	require.NoError(t, err)

	require.NoError(t, d.ProduceSplit(jobID, 0, false))
	require.NoError(t, d.ProduceSplit(jobID, 0, true))
	require.NoError(t, d.ProduceSplit(jobID, 1, false))

	job, err := d.State().JobFromID(jobID)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 0}, job.DistributedEpochState.Repetitions)
	assert.Equal(t, []int64{0, 1}, job.DistributedEpochState.Indices)

	assert.Error(t, d.ProduceSplit(jobID, 5, false), "provider index out of range")
	assert.Error(t, d.ProduceSplit(999, 0, false), "unknown job")

	// parallel epochs job 沒有 split 進度
	plainJob, err := d.GetOrCreateJob(JobRequest{
		DatasetID:      datasetID,
		ProcessingMode: types.ProcessingModeParallelEpochs,
	})
	require.NoError(t, err)
	assert.Error(t, d.ProduceSplit(plainJob, 0, false))
}

// ============================================================================
// 快取決策流程
// ============================================================================

func TestComputeOnceCacheLifecycle(t *testing.T) {
	d := startDispatcher(t, testConfig(t, types.CachePolicyComputeOnce))

	datasetID, err := d.GetOrRegisterDataset(9000)
	require.NoError(t, err)
	_, err = d.RegisterWorker("w1:5000", "w1:5001")
	require.NoError(t, err)

	// 第一個 job 負責寫入快取
	putJob, err := d.GetOrCreateJob(JobRequest{
		DatasetID:      datasetID,
		ProcessingMode: types.ProcessingModeParallelEpochs,
	})
	require.NoError(t, err)

	tasks, err := d.State().TasksForJob(putJob)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "id_1_fp_9000_put", tasks[0].DatasetKey)

	// PUT job 完成前，相同 dataset 的新 job 仍然走 PUT 路徑
	require.NoError(t, d.FinishTask(tasks[0].ID))
	job, err := d.State().JobFromID(putJob)
	require.NoError(t, err)
	require.True(t, job.Finished)

	// 完成後 fingerprint 視為已快取，下一個 job 讀快取
	getJob, err := d.GetOrCreateJob(JobRequest{
		DatasetID:      datasetID,
		ProcessingMode: types.ProcessingModeParallelEpochs,
	})
	require.NoError(t, err)

	getTasks, err := d.State().TasksForJob(getJob)
	require.NoError(t, err)
	require.Len(t, getTasks, 1)
	assert.Equal(t, "id_1_fp_9000_get", getTasks[0].DatasetKey)
}

func TestAdaptivePolicyUsesWorkerMetrics(t *testing.T) {
	d := startDispatcher(t, testConfig(t, types.CachePolicyAdaptive))

	datasetID, err := d.GetOrRegisterDataset(9000)
	require.NoError(t, err)
	_, err = d.RegisterWorker("w1:5000", "w1:5001")
	require.NoError(t, err)

	// 冷啟動：沒有指標，直接計算
	coldJob, err := d.GetOrCreateJob(JobRequest{
		DatasetID:      datasetID,
		ProcessingMode: types.ProcessingModeParallelEpochs,
	})
	require.NoError(t, err)
	coldTasks, err := d.State().TasksForJob(coldJob)
	require.NoError(t, err)
	require.Len(t, coldTasks, 1)
	assert.Equal(t, "id_1_fp_9000", coldTasks[0].DatasetKey)
	require.NoError(t, d.FinishTask(coldTasks[0].ID))

	// worker 回報昂貴的計算成本後，下一個 job 轉為寫入快取
	require.NoError(t, d.RecordWorkerMetrics("w1:5000", 9000, metadata.NodeMetrics{
		BytesProduced:  1024 * 100,
		NumElements:    100,
		InPrefixTimeMs: 50.0,
	}))

	putJob, err := d.GetOrCreateJob(JobRequest{
		DatasetID:      datasetID,
		ProcessingMode: types.ProcessingModeParallelEpochs,
	})
	require.NoError(t, err)
	putTasks, err := d.State().TasksForJob(putJob)
	require.NoError(t, err)
	require.Len(t, putTasks, 1)
	assert.Equal(t, "id_1_fp_9000_put", putTasks[0].DatasetKey)
}

func TestRecordWorkerMetricsRejectsEmptyReport(t *testing.T) {
	d := startDispatcher(t, testConfig(t, types.CachePolicyAdaptive))
	err := d.RecordWorkerMetrics("w1:5000", 9000, metadata.NodeMetrics{NumElements: 0})
	assert.Error(t, err)
}

// ============================================================================
// 任務生命週期與垃圾回收
// ============================================================================

func TestRemoveTask(t *testing.T) {
	d := startDispatcher(t, testConfig(t, types.CachePolicyAlwaysCompute))

	datasetID, err := d.GetOrRegisterDataset(9000)
	require.NoError(t, err)
	_, err = d.RegisterWorker("w1:5000", "w1:5001")
	require.NoError(t, err)
	jobID, err := d.GetOrCreateJob(JobRequest{
		DatasetID:      datasetID,
		ProcessingMode: types.ProcessingModeParallelEpochs,
	})
	require.NoError(t, err)

	tasks, err := d.State().TasksForJob(jobID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	require.NoError(t, d.RemoveTask(tasks[0].ID))
	assert.Error(t, d.RemoveTask(tasks[0].ID), "removing twice must fail, not panic")

	remaining, err := d.State().TasksForJob(jobID)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestGarbageCollectExpiredJobs(t *testing.T) {
	config := testConfig(t, types.CachePolicyAlwaysCompute)
	config.ClientReleaseTimeout = 0 // 立即過期
	d := startDispatcher(t, config)

	datasetID, err := d.GetOrRegisterDataset(9000)
	require.NoError(t, err)
	_, err = d.RegisterWorker("w1:5000", "w1:5001")
	require.NoError(t, err)

	// expired: 取得又釋放了租約
	expiredJob, err := d.GetOrCreateJob(JobRequest{
		DatasetID:      datasetID,
		ProcessingMode: types.ProcessingModeParallelEpochs,
	})
	require.NoError(t, err)
	clientID, err := d.AcquireJobClient(expiredJob)
	require.NoError(t, err)
	require.NoError(t, d.ReleaseJobClient(clientID))

	// untouched: 從未被 client 取用，不回收
	untouchedJob, err := d.GetOrCreateJob(JobRequest{
		DatasetID:      datasetID,
		ProcessingMode: types.ProcessingModeParallelEpochs,
	})
	require.NoError(t, err)

	// held: 仍有存活租約，不回收
	heldJob, err := d.GetOrCreateJob(JobRequest{
		DatasetID:      datasetID,
		ProcessingMode: types.ProcessingModeParallelEpochs,
	})
	require.NoError(t, err)
	_, err = d.AcquireJobClient(heldJob)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	d.garbageCollectExpiredJobs()

	expired, err := d.State().JobFromID(expiredJob)
	require.NoError(t, err)
	assert.True(t, expired.GarbageCollected)

	untouched, err := d.State().JobFromID(untouchedJob)
	require.NoError(t, err)
	assert.False(t, untouched.GarbageCollected)

	held, err := d.State().JobFromID(heldJob)
	require.NoError(t, err)
	assert.False(t, held.GarbageCollected)
}

func TestGetStatus(t *testing.T) {
	d := startDispatcher(t, testConfig(t, types.CachePolicyAlwaysCompute))

	datasetID, err := d.GetOrRegisterDataset(9000)
	require.NoError(t, err)
	_, err = d.RegisterWorker("w1:5000", "w1:5001")
	require.NoError(t, err)
	_, err = d.GetOrCreateJob(JobRequest{
		DatasetID:      datasetID,
		ProcessingMode: types.ProcessingModeParallelEpochs,
	})
	require.NoError(t, err)

	status := d.GetStatus()
	assert.Equal(t, 1, status["workers"])
	assert.Equal(t, 0, status["available_workers"])
	assert.Equal(t, 1, status["jobs"])
	assert.Equal(t, 1, status["active_jobs"])
}

func TestStopIsIdempotent(t *testing.T) {
	d, err := NewDispatcher(testConfig(t, types.CachePolicyAlwaysCompute), nil)
	require.NoError(t, err)
	require.NoError(t, d.Start())

	d.Stop()
	assert.NotPanics(t, d.Stop)
}
