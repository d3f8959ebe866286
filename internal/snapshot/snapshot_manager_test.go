package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eth-easl/ml-input-data-service/internal/dispatcher"
	"github.com/eth-easl/ml-input-data-service/internal/journal"
	"github.com/eth-easl/ml-input-data-service/pkg/types"
)

// buildStateImage 建立一份有內容的狀態影像供快照測試使用
func buildStateImage(t *testing.T) dispatcher.SnapshotData {
	t.Helper()
	state := dispatcher.NewState()
	updates := []*journal.Update{
		{RegisterDataset: &journal.RegisterDatasetUpdate{DatasetID: 1, Fingerprint: 9000}},
		{RegisterWorker: &journal.RegisterWorkerUpdate{WorkerAddress: "w1:5000", TransferAddress: "w1:5001"}},
		{CreateJob: &journal.CreateJobUpdate{
			JobID:          1,
			DatasetID:      1,
			ProcessingMode: types.ProcessingModeParallelEpochs,
			JobType:        types.JobTypeCompute,
		}},
		{CreateTask: &journal.CreateTaskUpdate{TaskID: 1, JobID: 1, WorkerAddress: "w1:5000"}},
	}
	for _, u := range updates {
		require.NoError(t, state.Apply(u))
	}
	return state.Snapshot()
}

func TestWriteLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	manager := NewManager(path)

	err := manager.Write(Snapshot{LastSeq: 4, State: buildStateImage(t)})
	require.NoError(t, err)
	assert.True(t, manager.Exists())

	loaded, err := manager.Load()
	require.NoError(t, err)

	// 驗證序號與 schema 版本
	assert.Equal(t, uint64(4), loaded.LastSeq)
	assert.Equal(t, schemaVersion, loaded.SchemaVer)

	// 驗證狀態影像可以還原成可查詢的狀態
	restored := dispatcher.NewState()
	require.NoError(t, restored.Restore(loaded.State))
	job, err := restored.JobFromID(1)
	require.NoError(t, err)
	assert.False(t, job.Finished)
	tasks, err := restored.TasksForJob(1)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestLoadMissingFile(t *testing.T) {
	manager := NewManager(filepath.Join(t.TempDir(), "does-not-exist.json"))

	// 首次啟動必須回報「無快照」，而不是一個會覆蓋初始狀態的零值影像
	_, err := manager.Load()
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
	assert.False(t, manager.Exists())
}

func TestLoadCorruptedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := NewManager(path).Load()
	assert.ErrorIs(t, err, ErrCorruptedSnapshot)
}

func TestLoadIncompatibleVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"schema_version": 99, "last_seq": 1, "state": {}}`), 0644))

	_, err := NewManager(path).Load()
	assert.ErrorIs(t, err, ErrIncompatibleVersion)
}

func TestWriteOverwritesAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	manager := NewManager(path)

	require.NoError(t, manager.Write(Snapshot{LastSeq: 1, State: buildStateImage(t)}))
	require.NoError(t, manager.Write(Snapshot{LastSeq: 2, State: buildStateImage(t)}))

	loaded, err := manager.Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), loaded.LastSeq)

	// 成功寫入後不得留下臨時檔
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestWriteStampsSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	manager := NewManager(path)

	// 呼叫端不需要（也不能）自行設定 schema 版本
	require.NoError(t, manager.Write(Snapshot{SchemaVer: 42, LastSeq: 7}))

	loaded, err := manager.Load()
	require.NoError(t, err)
	assert.Equal(t, schemaVersion, loaded.SchemaVer)
	assert.Equal(t, uint64(7), loaded.LastSeq)
}
