package dispatcher

// ============================================================================
// 實體定義
// 職責：定義 Entity Store 持有的領域實體
// 所有次級索引一律透過主鍵（id / address）回查權威 map，
// 不在實體之間存放反向指標
// ============================================================================

import "github.com/eth-easl/ml-input-data-service/pkg/types"

// Dataset 已註冊的資料集定義，註冊後不可變
type Dataset struct {
	ID          int64  `json:"id"`
	Fingerprint uint64 `json:"fingerprint"` // 內容雜湊，多個 job 可共用
}

// Worker 叢集中的一個 worker 節點
// 欄位不可變；是否存在（已註冊）是唯一可變的事實。
// 同一個 Worker 實體同時被完整集合與可用集合引用（兩個視圖，一份實體）。
type Worker struct {
	Address         string `json:"address"`          // 叢集內唯一
	TransferAddress string `json:"transfer_address"` // 資料平面傳輸位址
}

// DistributedEpochState 分散式 epoch 任務的 split 派發進度
// 每個 split provider 各有一個目前的 repetition 與 split index
type DistributedEpochState struct {
	Repetitions []int64 `json:"repetitions"`
	Indices     []int64 `json:"indices"`
}

func newDistributedEpochState(numSplitProviders int64) *DistributedEpochState {
	return &DistributedEpochState{
		Repetitions: make([]int64, numSplitProviders),
		Indices:     make([]int64, numSplitProviders),
	}
}

// PendingTask 等待多消費者共同接受的任務
// TaskID 回查權威 tasks map；ReadyConsumers 記錄已接受的 client id
type PendingTask struct {
	TaskID         int64          `json:"task_id"`
	TargetRound    int64          `json:"target_round"`
	Failures       int64          `json:"failures"`
	ReadyConsumers map[int64]bool `json:"ready_consumers"`
}

// Job 一次資料集的執行（可能跨多個 epoch）
type Job struct {
	ID                    int64                  `json:"id"`
	DatasetID             int64                  `json:"dataset_id"`
	ProcessingMode        types.ProcessingMode   `json:"processing_mode"`
	DistributedEpochState *DistributedEpochState `json:"distributed_epoch_state,omitempty"`
	NamedJobKey           *types.NamedJobKey     `json:"named_job_key,omitempty"`
	NumConsumers          *int64                 `json:"num_consumers,omitempty"`
	JobType               types.JobType          `json:"job_type"`

	// 可變欄位
	NumClients               int64          `json:"num_clients"`
	LastClientReleasedMicros int64          `json:"last_client_released_micros"`
	Finished                 bool           `json:"finished"`
	GarbageCollected         bool           `json:"garbage_collected"`
	PendingTasks             []*PendingTask `json:"pending_tasks,omitempty"` // FIFO，front 在 [0]
}

// IsRoundRobin 回報此 job 是否需要多消費者協調准入
func (j *Job) IsRoundRobin() bool {
	return j.NumConsumers != nil
}

// Task 綁定一個 job 與一個 worker 的工作單元
type Task struct {
	ID              int64  `json:"id"`
	JobID           int64  `json:"job_id"`
	WorkerAddress   string `json:"worker_address"`
	TransferAddress string `json:"transfer_address"`
	DatasetKey      string `json:"dataset_key"` // 指定執行哪個 materialization 變體
	StartingRound   int64  `json:"starting_round"`

	// 可變欄位
	Finished bool `json:"finished"`
	Removed  bool `json:"removed"`
}
