package dispatcher

// ============================================================================
// 快照序列化
// 職責：
// 1. 將權威 map 與高水位計數器匯出為可序列化影像
// 2. Restore 時從權威資料重建所有次級索引
// 可導出的只有權威資料＋無法推導的索引（active 任務順序、worker 保留、
// 具名鍵綁定、租約綁定）；其餘索引一律重建，避免兩份事實
// ============================================================================

import (
	"fmt"

	"github.com/eth-easl/ml-input-data-service/pkg/types"
)

// NamedJobBinding 具名鍵與 job 的綁定（map 的 struct 鍵無法直接 JSON 化）
type NamedJobBinding struct {
	Key   types.NamedJobKey `json:"key"`
	JobID int64             `json:"job_id"`
}

// SnapshotData 狀態機的可序列化影像
type SnapshotData struct {
	Datasets         []*Dataset         `json:"datasets"`
	Workers          []*Worker          `json:"workers"`
	AvailableWorkers []string           `json:"available_workers"` // addresses
	Jobs             []*Job             `json:"jobs"`
	Tasks            []*Task            `json:"tasks"`
	TasksByJob       map[int64][]int64  `json:"tasks_by_job"` // 保留 active 順序
	WorkersByJob     map[int64][]string `json:"workers_by_job"`
	JobsForClients   map[int64]int64    `json:"jobs_for_clients"`
	NamedJobs        []NamedJobBinding  `json:"named_jobs"`

	NextAvailableDatasetID   int64 `json:"next_available_dataset_id"`
	NextAvailableJobID       int64 `json:"next_available_job_id"`
	NextAvailableJobClientID int64 `json:"next_available_job_client_id"`
	NextAvailableTaskID      int64 `json:"next_available_task_id"`
}

// Snapshot 匯出目前狀態的深拷貝影像
func (s *State) Snapshot() SnapshotData {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data := SnapshotData{
		TasksByJob:     make(map[int64][]int64, len(s.tasksByJob)),
		WorkersByJob:   make(map[int64][]string, len(s.workersByJob)),
		JobsForClients: make(map[int64]int64, len(s.jobsForClientIDs)),

		NextAvailableDatasetID:   s.nextAvailableDatasetID,
		NextAvailableJobID:       s.nextAvailableJobID,
		NextAvailableJobClientID: s.nextAvailableJobClientID,
		NextAvailableTaskID:      s.nextAvailableTaskID,
	}

	for _, dataset := range s.datasetsByID {
		copied := *dataset
		data.Datasets = append(data.Datasets, &copied)
	}
	for _, worker := range s.workers {
		copied := *worker
		data.Workers = append(data.Workers, &copied)
	}
	for address := range s.availableWorkers {
		data.AvailableWorkers = append(data.AvailableWorkers, address)
	}
	for _, job := range s.jobs {
		data.Jobs = append(data.Jobs, copyJob(job))
	}
	for _, task := range s.tasks {
		copied := *task
		data.Tasks = append(data.Tasks, &copied)
	}
	for jobID, tasks := range s.tasksByJob {
		ids := make([]int64, len(tasks))
		for i, task := range tasks {
			ids[i] = task.ID
		}
		data.TasksByJob[jobID] = ids
	}
	for jobID, workers := range s.workersByJob {
		addresses := make([]string, len(workers))
		for i, worker := range workers {
			addresses[i] = worker.Address
		}
		data.WorkersByJob[jobID] = addresses
	}
	for clientID, job := range s.jobsForClientIDs {
		data.JobsForClients[clientID] = job.ID
	}
	for key, job := range s.namedJobs {
		data.NamedJobs = append(data.NamedJobs, NamedJobBinding{Key: key, JobID: job.ID})
	}
	return data
}

// Restore 以快照影像取代目前狀態並重建所有次級索引
func (s *State) Restore(data SnapshotData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := NewState()
	s.datasetsByID = fresh.datasetsByID
	s.workers = fresh.workers
	s.jobs = fresh.jobs
	s.tasks = fresh.tasks
	s.datasetsByFingerprint = fresh.datasetsByFingerprint
	s.availableWorkers = fresh.availableWorkers
	s.namedJobs = fresh.namedJobs
	s.jobsForClientIDs = fresh.jobsForClientIDs
	s.tasksByJob = fresh.tasksByJob
	s.tasksByWorker = fresh.tasksByWorker
	s.workersByJob = fresh.workersByJob
	s.jobsByWorker = fresh.jobsByWorker

	for _, dataset := range data.Datasets {
		s.datasetsByID[dataset.ID] = dataset
		s.datasetsByFingerprint[dataset.Fingerprint] = dataset
	}
	for _, worker := range data.Workers {
		s.workers[worker.Address] = worker
		s.tasksByWorker[worker.Address] = make(map[int64]*Task)
		s.jobsByWorker[worker.Address] = make(map[int64]*Job)
	}
	for _, address := range data.AvailableWorkers {
		worker, exists := s.workers[address]
		if !exists {
			return fmt.Errorf("snapshot: available worker %s not in worker set", address)
		}
		s.availableWorkers[address] = worker
	}
	for _, job := range data.Jobs {
		s.jobs[job.ID] = job
		s.tasksByJob[job.ID] = []*Task{}
	}
	for _, task := range data.Tasks {
		s.tasks[task.ID] = task
		// 未完成的任務（active 或 pending）才留在 worker 索引
		if !task.Finished {
			byWorker, exists := s.tasksByWorker[task.WorkerAddress]
			if !exists {
				return fmt.Errorf("snapshot: task %d references unknown worker %s", task.ID, task.WorkerAddress)
			}
			byWorker[task.ID] = task
		}
	}
	for jobID, taskIDs := range data.TasksByJob {
		tasks := make([]*Task, 0, len(taskIDs))
		for _, taskID := range taskIDs {
			task, exists := s.tasks[taskID]
			if !exists {
				return fmt.Errorf("snapshot: job %d references unknown task %d", jobID, taskID)
			}
			tasks = append(tasks, task)
		}
		s.tasksByJob[jobID] = tasks
	}
	for jobID, addresses := range data.WorkersByJob {
		job, exists := s.jobs[jobID]
		if !exists {
			return fmt.Errorf("snapshot: worker reservation for unknown job %d", jobID)
		}
		for _, address := range addresses {
			worker, exists := s.workers[address]
			if !exists {
				return fmt.Errorf("snapshot: job %d references unknown worker %s", jobID, address)
			}
			s.workersByJob[jobID] = append(s.workersByJob[jobID], worker)
			s.jobsByWorker[address][jobID] = job
		}
	}
	for clientID, jobID := range data.JobsForClients {
		job, exists := s.jobs[jobID]
		if !exists {
			return fmt.Errorf("snapshot: client %d bound to unknown job %d", clientID, jobID)
		}
		s.jobsForClientIDs[clientID] = job
	}
	for _, binding := range data.NamedJobs {
		job, exists := s.jobs[binding.JobID]
		if !exists {
			return fmt.Errorf("snapshot: named key (%s, %d) bound to unknown job %d",
				binding.Key.Name, binding.Key.Index, binding.JobID)
		}
		s.namedJobs[binding.Key] = job
	}

	s.nextAvailableDatasetID = data.NextAvailableDatasetID
	s.nextAvailableJobID = data.NextAvailableJobID
	s.nextAvailableJobClientID = data.NextAvailableJobClientID
	s.nextAvailableTaskID = data.NextAvailableTaskID
	return nil
}

// copyJob 深拷貝 job（含 distributed-epoch 狀態與 pending queue）
func copyJob(job *Job) *Job {
	copied := *job
	if job.DistributedEpochState != nil {
		state := &DistributedEpochState{
			Repetitions: append([]int64(nil), job.DistributedEpochState.Repetitions...),
			Indices:     append([]int64(nil), job.DistributedEpochState.Indices...),
		}
		copied.DistributedEpochState = state
	}
	if job.NamedJobKey != nil {
		key := *job.NamedJobKey
		copied.NamedJobKey = &key
	}
	if job.NumConsumers != nil {
		n := *job.NumConsumers
		copied.NumConsumers = &n
	}
	if len(job.PendingTasks) > 0 {
		copied.PendingTasks = make([]*PendingTask, len(job.PendingTasks))
		for i, pending := range job.PendingTasks {
			p := *pending
			p.ReadyConsumers = make(map[int64]bool, len(pending.ReadyConsumers))
			for id := range pending.ReadyConsumers {
				p.ReadyConsumers[id] = true
			}
			copied.PendingTasks[i] = &p
		}
	}
	return &copied
}
