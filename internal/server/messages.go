package server

// Wire messages for the dispatcher service. These travel over gRPC with
// the JSON codec (see codec.go).

// TaskInfo describes one task as seen by workers and consumers.
type TaskInfo struct {
	TaskID          int64  `json:"task_id"`
	JobID           int64  `json:"job_id"`
	WorkerAddress   string `json:"worker_address"`
	TransferAddress string `json:"transfer_address"`
	DatasetKey      string `json:"dataset_key"`
	StartingRound   int64  `json:"starting_round"`
	Finished        bool   `json:"finished"`
}

type GetOrRegisterDatasetRequest struct {
	Fingerprint uint64 `json:"fingerprint"`
}

type GetOrRegisterDatasetResponse struct {
	DatasetID int64 `json:"dataset_id"`
}

type RegisterWorkerRequest struct {
	WorkerAddress   string `json:"worker_address"`
	TransferAddress string `json:"transfer_address"`
}

type RegisterWorkerResponse struct {
	Tasks []TaskInfo `json:"tasks"`
}

type GetOrCreateJobRequest struct {
	DatasetID         int64  `json:"dataset_id"`
	ProcessingMode    string `json:"processing_mode"`
	NumSplitProviders int64  `json:"num_split_providers"`

	// JobName selects idempotent named-job sharing when non-empty.
	JobName      string `json:"job_name,omitempty"`
	JobNameIndex int64  `json:"job_name_index,omitempty"`

	// NumConsumers enables coordinated (round-robin) task admission.
	NumConsumers *int64 `json:"num_consumers,omitempty"`
}

type GetOrCreateJobResponse struct {
	JobID int64 `json:"job_id"`
}

type AcquireJobClientRequest struct {
	JobID int64 `json:"job_id"`
}

type AcquireJobClientResponse struct {
	JobClientID int64 `json:"job_client_id"`
}

type ReleaseJobClientRequest struct {
	JobClientID int64 `json:"job_client_id"`
}

type ReleaseJobClientResponse struct{}

type ClientHeartbeatRequest struct {
	JobClientID    int64  `json:"job_client_id"`
	TaskAccepted   bool   `json:"task_accepted,omitempty"`
	NewTargetRound *int64 `json:"new_target_round,omitempty"`
}

type ClientHeartbeatResponse struct {
	Tasks []TaskInfo `json:"tasks"`
}

type ProduceSplitRequest struct {
	JobID              int64 `json:"job_id"`
	SplitProviderIndex int64 `json:"split_provider_index"`
	// Finished indicates the provider exhausted its current repetition.
	Finished bool `json:"finished"`
}

type ProduceSplitResponse struct{}

type FinishTaskRequest struct {
	TaskID int64 `json:"task_id"`
}

type FinishTaskResponse struct{}

type RemoveTaskRequest struct {
	TaskID int64 `json:"task_id"`
}

type RemoveTaskResponse struct{}

type WorkerMetricsRequest struct {
	WorkerAddress  string  `json:"worker_address"`
	Fingerprint    uint64  `json:"fingerprint"`
	BytesProduced  int64   `json:"bytes_produced"`
	NumElements    int64   `json:"num_elements"`
	InPrefixTimeMs float64 `json:"in_prefix_time_ms"`
}

type WorkerMetricsResponse struct{}

type GetStatusRequest struct{}

type GetStatusResponse struct {
	Status map[string]interface{} `json:"status"`
}
