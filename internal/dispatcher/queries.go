package dispatcher

// ============================================================================
// 查詢介面
// 職責：提供給外層服務的唯讀查詢面，與 Apply 讀寫互斥
// 所有 lookup 在鍵不存在時回傳包裝 ErrNotFound 的錯誤，
// 呼叫者以 errors.Is(err, ErrNotFound) 判斷
// ============================================================================

import (
	"errors"
	"fmt"
	"sort"

	"github.com/eth-easl/ml-input-data-service/pkg/types"
)

// ErrNotFound 查詢鍵不存在；對呼叫者而言永遠是可恢復的
var ErrNotFound = errors.New("not found")

// DatasetFromID 以 id 查詢資料集
func (s *State) DatasetFromID(id int64) (*Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dataset, exists := s.datasetsByID[id]
	if !exists {
		return nil, fmt.Errorf("dataset id %d: %w", id, ErrNotFound)
	}
	return dataset, nil
}

// DatasetFromFingerprint 以內容雜湊查詢資料集
func (s *State) DatasetFromFingerprint(fingerprint uint64) (*Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dataset, exists := s.datasetsByFingerprint[fingerprint]
	if !exists {
		return nil, fmt.Errorf("dataset fingerprint %d: %w", fingerprint, ErrNotFound)
	}
	return dataset, nil
}

// WorkerFromAddress 以位址查詢 worker
func (s *State) WorkerFromAddress(address string) (*Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	worker, exists := s.workers[address]
	if !exists {
		return nil, fmt.Errorf("worker %s: %w", address, ErrNotFound)
	}
	return worker, nil
}

// ListWorkers 列出所有已註冊 worker，依 address 排序
func (s *State) ListWorkers() []*Worker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedWorkers(s.workers)
}

// ListAvailableWorkers 列出目前可用（未被保留）的 worker，依 address 排序
func (s *State) ListAvailableWorkers() []*Worker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedWorkers(s.availableWorkers)
}

// JobFromID 以 id 查詢 job
func (s *State) JobFromID(id int64) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, exists := s.jobs[id]
	if !exists {
		return nil, fmt.Errorf("job id %d: %w", id, ErrNotFound)
	}
	return job, nil
}

// NamedJobByKey 以具名鍵查詢 job
// 注意：鍵可能指向一個已被垃圾回收的 job，呼叫者需自行檢查
func (s *State) NamedJobByKey(key types.NamedJobKey) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, exists := s.namedJobs[key]
	if !exists {
		return nil, fmt.Errorf("named job key (%s, %d): %w", key.Name, key.Index, ErrNotFound)
	}
	return job, nil
}

// JobForJobClientID 以 client 租約 id 查詢其綁定的 job
func (s *State) JobForJobClientID(jobClientID int64) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, exists := s.jobsForClientIDs[jobClientID]
	if !exists {
		return nil, fmt.Errorf("job client id %d: %w", jobClientID, ErrNotFound)
	}
	return job, nil
}

// ListJobs 列出所有 job，依 id 排序
func (s *State) ListJobs() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs
}

// ListJobsForWorker 列出指派給某 worker 的 job，依 id 排序
func (s *State) ListJobsForWorker(workerAddress string) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	workerJobs, exists := s.jobsByWorker[workerAddress]
	if !exists {
		return nil, fmt.Errorf("worker %s: %w", workerAddress, ErrNotFound)
	}
	jobs := make([]*Job, 0, len(workerJobs))
	for _, job := range workerJobs {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs, nil
}

// TaskFromID 以 id 查詢任務
func (s *State) TaskFromID(id int64) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, exists := s.tasks[id]
	if !exists {
		return nil, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	return task, nil
}

// TasksForJob 列出 job 的 active 任務（保留加入順序）
// 已被垃圾回收的任務仍會列出（標記 finished）；removeTask 剔除的不會
func (s *State) TasksForJob(jobID int64) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tasks, exists := s.tasksByJob[jobID]
	if !exists {
		return nil, fmt.Errorf("job %d: %w", jobID, ErrNotFound)
	}
	out := make([]*Task, len(tasks))
	copy(out, tasks)
	return out, nil
}

// TasksForWorker 列出 worker 上未完成的任務，依 id 排序
func (s *State) TasksForWorker(workerAddress string) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	workerTasks, exists := s.tasksByWorker[workerAddress]
	if !exists {
		return nil, fmt.Errorf("worker %s: %w", workerAddress, ErrNotFound)
	}
	tasks := make([]*Task, 0, len(workerTasks))
	for _, task := range workerTasks {
		tasks = append(tasks, task)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks, nil
}

// NextAvailableDatasetID 下一個可用的資料集 id（高水位）
func (s *State) NextAvailableDatasetID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextAvailableDatasetID
}

// NextAvailableJobID 下一個可用的 job id（高水位）
func (s *State) NextAvailableJobID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextAvailableJobID
}

// NextAvailableJobClientID 下一個可用的 client 租約 id（高水位）
func (s *State) NextAvailableJobClientID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextAvailableJobClientID
}

// NextAvailableTaskID 下一個可用的任務 id（高水位）
func (s *State) NextAvailableTaskID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextAvailableTaskID
}

func sortedWorkers(m map[string]*Worker) []*Worker {
	workers := make([]*Worker, 0, len(m))
	for _, worker := range m {
		workers = append(workers, worker)
	}
	sort.Slice(workers, func(i, j int) bool { return workers[i].Address < workers[j].Address })
	return workers
}
