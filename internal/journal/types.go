package journal

import "github.com/eth-easl/ml-input-data-service/pkg/types"

// ============================================================================
// Journal Type Definitions
// Responsibility: Define the update record (tagged union) written to the
// durable append-only log. Exactly one payload field is set per record.
// ============================================================================

// Kind identifies which payload an Update carries.
type Kind string

const (
	KindRegisterDataset   Kind = "REGISTER_DATASET"
	KindRegisterWorker    Kind = "REGISTER_WORKER"
	KindCreateJob         Kind = "CREATE_JOB"
	KindProduceSplit      Kind = "PRODUCE_SPLIT"
	KindAcquireJobClient  Kind = "ACQUIRE_JOB_CLIENT"
	KindReleaseJobClient  Kind = "RELEASE_JOB_CLIENT"
	KindGarbageCollectJob Kind = "GARBAGE_COLLECT_JOB"
	KindCreatePendingTask Kind = "CREATE_PENDING_TASK"
	KindClientHeartbeat   Kind = "CLIENT_HEARTBEAT"
	KindCreateTask        Kind = "CREATE_TASK"
	KindRemoveTask        Kind = "REMOVE_TASK"
	KindFinishTask        Kind = "FINISH_TASK"

	// KindNotSet is returned by Update.Kind for a malformed record.
	KindNotSet Kind = ""
)

// RegisterDatasetUpdate registers a fingerprinted dataset definition.
type RegisterDatasetUpdate struct {
	DatasetID   int64  `json:"dataset_id"`
	Fingerprint uint64 `json:"fingerprint"`
}

// RegisterWorkerUpdate adds a worker to the cluster.
type RegisterWorkerUpdate struct {
	WorkerAddress   string `json:"worker_address"`
	TransferAddress string `json:"transfer_address"`
}

// CreateJobUpdate creates a job over a registered dataset.
// NamedJobKey and NumConsumers are optional; JobType is decided by the
// cache policy engine before the update is appended.
type CreateJobUpdate struct {
	JobID             int64                `json:"job_id"`
	DatasetID         int64                `json:"dataset_id"`
	ProcessingMode    types.ProcessingMode `json:"processing_mode"`
	NumSplitProviders int64                `json:"num_split_providers"`
	NamedJobKey       *types.NamedJobKey   `json:"named_job_key,omitempty"`
	NumConsumers      *int64               `json:"num_consumers,omitempty"`
	JobType           types.JobType        `json:"job_type"`
}

// ProduceSplitUpdate advances a distributed-epoch job's split cursor.
type ProduceSplitUpdate struct {
	JobID              int64 `json:"job_id"`
	SplitProviderIndex int64 `json:"split_provider_index"`
	Repetition         int64 `json:"repetition"`
	Finished           bool  `json:"finished"`
}

// AcquireJobClientUpdate binds a client lease to a job.
type AcquireJobClientUpdate struct {
	JobClientID int64 `json:"job_client_id"`
	JobID       int64 `json:"job_id"`
}

// ReleaseJobClientUpdate releases a client lease. TimeMicros is embedded
// in the record so that replay never consults the clock.
type ReleaseJobClientUpdate struct {
	JobClientID int64 `json:"job_client_id"`
	TimeMicros  int64 `json:"time_micros"`
}

// GarbageCollectJobUpdate retires a job and all of its tasks.
type GarbageCollectJobUpdate struct {
	JobID int64 `json:"job_id"`
}

// CreatePendingTaskUpdate creates a task that must collect a quorum of
// consumer acceptances before becoming active.
type CreatePendingTaskUpdate struct {
	TaskID          int64  `json:"task_id"`
	JobID           int64  `json:"job_id"`
	WorkerAddress   string `json:"worker_address"`
	TransferAddress string `json:"transfer_address"`
	DatasetKey      string `json:"dataset_key"`
	StartingRound   int64  `json:"starting_round"`
}

// ClientHeartbeatUpdate reports a consumer's accept/reject decision for
// the front of the job's pending-task queue.
type ClientHeartbeatUpdate struct {
	JobClientID  int64                `json:"job_client_id"`
	TaskAccepted bool                 `json:"task_accepted,omitempty"`
	TaskRejected *TaskRejectedUpdate  `json:"task_rejected,omitempty"`
}

// TaskRejectedUpdate carries the round the rejecting consumer proposes.
type TaskRejectedUpdate struct {
	NewTargetRound int64 `json:"new_target_round"`
}

// CreateTaskUpdate creates an immediately-active task.
type CreateTaskUpdate struct {
	TaskID          int64  `json:"task_id"`
	JobID           int64  `json:"job_id"`
	WorkerAddress   string `json:"worker_address"`
	TransferAddress string `json:"transfer_address"`
	DatasetKey      string `json:"dataset_key"`
}

// RemoveTaskUpdate discards a task without normal completion.
type RemoveTaskUpdate struct {
	TaskID int64 `json:"task_id"`
}

// FinishTaskUpdate marks a task's data as fully consumed.
type FinishTaskUpdate struct {
	TaskID int64 `json:"task_id"`
}

// Update is one record of the append-only log. Seq, TimestampMs and
// Checksum are assigned by the journal on append; exactly one of the
// payload pointers must be non-nil.
type Update struct {
	Seq         uint64 `json:"seq"`
	TimestampMs int64  `json:"timestamp_ms"`
	Checksum    uint32 `json:"checksum"`

	RegisterDataset   *RegisterDatasetUpdate   `json:"register_dataset,omitempty"`
	RegisterWorker    *RegisterWorkerUpdate    `json:"register_worker,omitempty"`
	CreateJob         *CreateJobUpdate         `json:"create_job,omitempty"`
	ProduceSplit      *ProduceSplitUpdate      `json:"produce_split,omitempty"`
	AcquireJobClient  *AcquireJobClientUpdate  `json:"acquire_job_client,omitempty"`
	ReleaseJobClient  *ReleaseJobClientUpdate  `json:"release_job_client,omitempty"`
	GarbageCollectJob *GarbageCollectJobUpdate `json:"garbage_collect_job,omitempty"`
	CreatePendingTask *CreatePendingTaskUpdate `json:"create_pending_task,omitempty"`
	ClientHeartbeat   *ClientHeartbeatUpdate   `json:"client_heartbeat,omitempty"`
	CreateTask        *CreateTaskUpdate        `json:"create_task,omitempty"`
	RemoveTask        *RemoveTaskUpdate        `json:"remove_task,omitempty"`
	FinishTask        *FinishTaskUpdate        `json:"finish_task,omitempty"`
}

// Kind reports which payload is set, or KindNotSet for a malformed
// record. The first set payload wins; well-formed producers set one.
func (u *Update) Kind() Kind {
	switch {
	case u.RegisterDataset != nil:
		return KindRegisterDataset
	case u.RegisterWorker != nil:
		return KindRegisterWorker
	case u.CreateJob != nil:
		return KindCreateJob
	case u.ProduceSplit != nil:
		return KindProduceSplit
	case u.AcquireJobClient != nil:
		return KindAcquireJobClient
	case u.ReleaseJobClient != nil:
		return KindReleaseJobClient
	case u.GarbageCollectJob != nil:
		return KindGarbageCollectJob
	case u.CreatePendingTask != nil:
		return KindCreatePendingTask
	case u.ClientHeartbeat != nil:
		return KindClientHeartbeat
	case u.CreateTask != nil:
		return KindCreateTask
	case u.RemoveTask != nil:
		return KindRemoveTask
	case u.FinishTask != nil:
		return KindFinishTask
	}
	return KindNotSet
}

// UpdateHandler is the function type invoked for each record during
// Replay, in append order.
type UpdateHandler func(update *Update) error
