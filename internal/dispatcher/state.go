// ============================================================================
// Dispatcher State - 控制平面狀態機
// ============================================================================
//
// Package: internal/dispatcher
// 文件: state.go
// 功能: 叢集控制平面的權威狀態與其唯一的變更入口 Apply
//
// 設計理念:
//   採用事件溯源（event sourcing）設計：
//   1. 狀態只能經由 Apply(update) 變更，live 操作與日誌重放走同一條路
//   2. 每個 transition handler 都是 (當前狀態, update) 的純函式，
//      不讀時鐘、不做 I/O，時間一律來自 update 內嵌欄位
//   3. 相同的有序 update 序列從空狀態重放必得到完全相同的狀態
//
// 狀態轉換 (Task Lifecycle):
//   pending (等待消費者接受，掛在 job 的 pending queue)
//      ↓ ClientHeartbeat 收滿 quorum
//   active (進入 job 與 worker 的任務索引)
//      ↓ FinishTask / RemoveTask
//   finished / removed (終態)
//
// 資料結構設計:
//   權威 map（datasets/workers/jobs/tasks）為單一真實來源，
//   次級索引（by fingerprint、by worker、by job、by named key、by client id）
//   在每個 handler 內與權威 map 同步更新，絕不事後補寫。
//
// 並發安全:
//   - 所有更新由單一邏輯寫入路徑序列化（外層 service 的互斥鎖或日誌重放迴圈）
//   - 內部以 sync.RWMutex 實現讀寫互斥：查詢可併發，與 Apply 互斥
//
// 錯誤處理:
//   - Apply 僅在 update 不帶任何已知種類時回傳錯誤（日誌損壞，致命）
//   - 違反協定的 update（重複註冊、空佇列心跳等）代表外層服務的 bug，
//     以 panic 處理；狀態機的正確性前提是收到因果有序的合法 update
//
// ============================================================================

package dispatcher

import (
	"fmt"
	"sort"
	"sync"

	"github.com/eth-easl/ml-input-data-service/internal/journal"
	"github.com/eth-easl/ml-input-data-service/pkg/types"
)

// State 叢集控制平面的權威狀態
type State struct {
	mu sync.RWMutex

	// 權威 map
	datasetsByID map[int64]*Dataset
	workers      map[string]*Worker
	jobs         map[int64]*Job
	tasks        map[int64]*Task

	// 次級索引
	datasetsByFingerprint map[uint64]*Dataset
	availableWorkers      map[string]*Worker          // 可用集合 ⊆ workers，共享同一實體
	namedJobs             map[types.NamedJobKey]*Job  // 至多指向一個未回收的 job
	jobsForClientIDs      map[int64]*Job              // client 租約 → job
	tasksByJob            map[int64][]*Task           // active 任務，保留加入順序
	tasksByWorker         map[string]map[int64]*Task  // 未完成任務
	workersByJob          map[int64][]*Worker         // 保留給 job 的 worker
	jobsByWorker          map[string]map[int64]*Job   // worker 被指派的 job

	// 全域高水位計數器，建立類 update 時單調推進，重放時重建
	nextAvailableDatasetID   int64
	nextAvailableJobID       int64
	nextAvailableJobClientID int64
	nextAvailableTaskID      int64
}

// NewState 建立空的狀態機
func NewState() *State {
	return &State{
		datasetsByID:          make(map[int64]*Dataset),
		workers:               make(map[string]*Worker),
		jobs:                  make(map[int64]*Job),
		tasks:                 make(map[int64]*Task),
		datasetsByFingerprint: make(map[uint64]*Dataset),
		availableWorkers:      make(map[string]*Worker),
		namedJobs:             make(map[types.NamedJobKey]*Job),
		jobsForClientIDs:      make(map[int64]*Job),
		tasksByJob:            make(map[int64][]*Task),
		tasksByWorker:         make(map[string]map[int64]*Task),
		workersByJob:          make(map[int64][]*Worker),
		jobsByWorker:          make(map[string]map[int64]*Job),

		nextAvailableDatasetID:   1,
		nextAvailableJobID:       1,
		nextAvailableJobClientID: 1,
		nextAvailableTaskID:      1,
	}
}

// protocolf 回報協定違規：外層服務送出了與既有狀態矛盾的 update。
// 依錯誤設計（§ 協定違規為致命斷言）直接 panic，不嘗試回復。
func protocolf(format string, args ...any) {
	panic(fmt.Sprintf("dispatcher: protocol violation: "+format, args...))
}

// Apply 應用一筆更新記錄，狀態唯一的變更入口
//
// 回傳值：
//   - error: 僅在記錄不帶任何已知更新種類時回傳
//     journal.ErrUpdateKindNotSet（對呼叫者而言是致命錯誤）
func (s *State) Apply(update *journal.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch update.Kind() {
	case journal.KindRegisterDataset:
		s.registerDataset(update.RegisterDataset)
	case journal.KindRegisterWorker:
		s.registerWorker(update.RegisterWorker)
	case journal.KindCreateJob:
		s.createJob(update.CreateJob)
	case journal.KindProduceSplit:
		s.produceSplit(update.ProduceSplit)
	case journal.KindAcquireJobClient:
		s.acquireJobClient(update.AcquireJobClient)
	case journal.KindReleaseJobClient:
		s.releaseJobClient(update.ReleaseJobClient)
	case journal.KindGarbageCollectJob:
		s.garbageCollectJob(update.GarbageCollectJob)
	case journal.KindCreatePendingTask:
		s.createPendingTask(update.CreatePendingTask)
	case journal.KindClientHeartbeat:
		s.clientHeartbeat(update.ClientHeartbeat)
	case journal.KindCreateTask:
		s.createTask(update.CreateTask)
	case journal.KindRemoveTask:
		s.removeTask(update.RemoveTask)
	case journal.KindFinishTask:
		s.finishTask(update.FinishTask)
	case journal.KindNotSet:
		return journal.ErrUpdateKindNotSet
	}
	return nil
}

// ============================================================================
// Transition handlers
// 每個 handler 假設呼叫者已持有寫鎖
// ============================================================================

// registerDataset 將資料集寫入兩個索引並推進 id 高水位
func (s *State) registerDataset(u *journal.RegisterDatasetUpdate) {
	if _, exists := s.datasetsByID[u.DatasetID]; exists {
		protocolf("dataset id %d already registered", u.DatasetID)
	}
	if _, exists := s.datasetsByFingerprint[u.Fingerprint]; exists {
		protocolf("dataset fingerprint %d already registered", u.Fingerprint)
	}
	dataset := &Dataset{ID: u.DatasetID, Fingerprint: u.Fingerprint}
	s.datasetsByID[u.DatasetID] = dataset
	s.datasetsByFingerprint[u.Fingerprint] = dataset
	if u.DatasetID+1 > s.nextAvailableDatasetID {
		s.nextAvailableDatasetID = u.DatasetID + 1
	}
}

// registerWorker 將 worker 同時放入完整集合與可用集合
// 兩個集合共享同一個 *Worker 實體（一份實體、兩個視圖）
func (s *State) registerWorker(u *journal.RegisterWorkerUpdate) {
	if _, exists := s.workers[u.WorkerAddress]; exists {
		protocolf("worker %s already registered", u.WorkerAddress)
	}
	worker := &Worker{Address: u.WorkerAddress, TransferAddress: u.TransferAddress}
	s.workers[u.WorkerAddress] = worker
	s.availableWorkers[u.WorkerAddress] = worker
	s.tasksByWorker[u.WorkerAddress] = make(map[int64]*Task)
	s.jobsByWorker[u.WorkerAddress] = make(map[int64]*Job)
}

// createJob 建立 job 並註冊具名鍵
// 具名鍵重用僅在前一個持有者已被垃圾回收時允許
func (s *State) createJob(u *journal.CreateJobUpdate) {
	if _, exists := s.jobs[u.JobID]; exists {
		protocolf("job id %d already exists", u.JobID)
	}
	job := &Job{
		ID:             u.JobID,
		DatasetID:      u.DatasetID,
		ProcessingMode: u.ProcessingMode,
		NamedJobKey:    u.NamedJobKey,
		NumConsumers:   u.NumConsumers,
		JobType:        u.JobType,
	}
	if u.ProcessingMode == types.ProcessingModeDistributedEpoch {
		job.DistributedEpochState = newDistributedEpochState(u.NumSplitProviders)
	}
	s.jobs[u.JobID] = job
	s.tasksByJob[u.JobID] = []*Task{}
	if u.NamedJobKey != nil {
		key := *u.NamedJobKey
		if prev, exists := s.namedJobs[key]; exists && !prev.GarbageCollected {
			protocolf("named job key (%s, %d) already held by live job %d",
				key.Name, key.Index, prev.ID)
		}
		s.namedJobs[key] = job
	}
	if u.JobID+1 > s.nextAvailableJobID {
		s.nextAvailableJobID = u.JobID + 1
	}
}

// produceSplit 推進分散式 epoch 任務的 split 進度
// update 所帶的 repetition 必須與目前狀態一致，否則代表重放或排序 bug
func (s *State) produceSplit(u *journal.ProduceSplitUpdate) {
	job, exists := s.jobs[u.JobID]
	if !exists {
		protocolf("produce split for unknown job %d", u.JobID)
	}
	if job.DistributedEpochState == nil {
		protocolf("job %d has no distributed epoch state", u.JobID)
	}
	state := job.DistributedEpochState
	i := u.SplitProviderIndex
	if u.Repetition != state.Repetitions[i] {
		protocolf("job %d provider %d: repetition %d does not match current %d",
			u.JobID, i, u.Repetition, state.Repetitions[i])
	}
	if u.Finished {
		state.Repetitions[i]++
		state.Indices[i] = 0
		return
	}
	state.Indices[i]++
}

// acquireJobClient 綁定 client 租約並遞增 job 的引用計數
func (s *State) acquireJobClient(u *journal.AcquireJobClientUpdate) {
	if _, exists := s.jobsForClientIDs[u.JobClientID]; exists {
		protocolf("job client id %d already bound", u.JobClientID)
	}
	job, exists := s.jobs[u.JobID]
	if !exists {
		protocolf("acquire client for unknown job %d", u.JobID)
	}
	s.jobsForClientIDs[u.JobClientID] = job
	job.NumClients++
	if u.JobClientID+1 > s.nextAvailableJobClientID {
		s.nextAvailableJobClientID = u.JobClientID + 1
	}
}

// releaseJobClient 解除 client 租約，記錄釋放時間（來自 update，非時鐘）
func (s *State) releaseJobClient(u *journal.ReleaseJobClientUpdate) {
	job, exists := s.jobsForClientIDs[u.JobClientID]
	if !exists {
		protocolf("release of unbound job client id %d", u.JobClientID)
	}
	job.NumClients--
	if job.NumClients < 0 {
		protocolf("job %d client refcount went negative", job.ID)
	}
	job.LastClientReleasedMicros = u.TimeMicros
	delete(s.jobsForClientIDs, u.JobClientID)
}

// garbageCollectJob 回收 job：所有任務標記完成並自 worker 索引移除。
// 任務仍留在 per-job 清單供歷史查詢（與 removeTask 的完全剔除不同）。
func (s *State) garbageCollectJob(u *journal.GarbageCollectJobUpdate) {
	job, exists := s.jobs[u.JobID]
	if !exists {
		protocolf("garbage collect of unknown job %d", u.JobID)
	}
	for _, task := range s.tasksByJob[u.JobID] {
		task.Finished = true
		delete(s.tasksByWorker[task.WorkerAddress], task.ID)
	}
	job.Finished = true
	job.GarbageCollected = true
}

// createPendingTask 建立待准入任務：入 job 的 pending queue、
// 入 worker 索引與全域任務 map，但不入 active 清單
func (s *State) createPendingTask(u *journal.CreatePendingTaskUpdate) {
	if _, exists := s.tasks[u.TaskID]; exists {
		protocolf("task id %d already exists", u.TaskID)
	}
	job, exists := s.jobs[u.JobID]
	if !exists {
		protocolf("create pending task for unknown job %d", u.JobID)
	}
	task := &Task{
		ID:              u.TaskID,
		JobID:           u.JobID,
		WorkerAddress:   u.WorkerAddress,
		TransferAddress: u.TransferAddress,
		DatasetKey:      u.DatasetKey,
		StartingRound:   u.StartingRound,
	}
	s.tasks[u.TaskID] = task
	job.PendingTasks = append(job.PendingTasks, &PendingTask{
		TaskID:         u.TaskID,
		TargetRound:    u.StartingRound,
		ReadyConsumers: make(map[int64]bool),
	})
	s.tasksByWorker[u.WorkerAddress][u.TaskID] = task
	if u.TaskID+1 > s.nextAvailableTaskID {
		s.nextAvailableTaskID = u.TaskID + 1
	}
}

// clientHeartbeat 處理 pending queue 前端任務的接受/拒絕
//
// 拒絕：失敗數 +1、清空已接受集合、採用新的 target round（不出佇列）。
// 接受：加入已接受集合；收滿 quorum（= NumConsumers）時晉升——
// 設定 starting round、加入 active 清單、自 pending queue 彈出。
func (s *State) clientHeartbeat(u *journal.ClientHeartbeatUpdate) {
	job, exists := s.jobsForClientIDs[u.JobClientID]
	if !exists {
		protocolf("heartbeat from unbound job client id %d", u.JobClientID)
	}
	if len(job.PendingTasks) == 0 {
		protocolf("heartbeat for job %d with empty pending queue", job.ID)
	}
	pending := job.PendingTasks[0]
	if u.TaskRejected != nil {
		pending.Failures++
		pending.ReadyConsumers = make(map[int64]bool)
		pending.TargetRound = u.TaskRejected.NewTargetRound
	}
	if u.TaskAccepted {
		pending.ReadyConsumers[u.JobClientID] = true
		if job.NumConsumers != nil && int64(len(pending.ReadyConsumers)) == *job.NumConsumers {
			task := s.tasks[pending.TaskID]
			task.StartingRound = pending.TargetRound
			s.tasksByJob[job.ID] = append(s.tasksByJob[job.ID], task)
			job.PendingTasks = job.PendingTasks[1:]
		}
	}
}

// createTask 建立直接生效的任務（非協調准入路徑）
func (s *State) createTask(u *journal.CreateTaskUpdate) {
	if _, exists := s.tasks[u.TaskID]; exists {
		protocolf("task id %d already exists", u.TaskID)
	}
	if _, exists := s.jobs[u.JobID]; !exists {
		protocolf("create task for unknown job %d", u.JobID)
	}
	task := &Task{
		ID:              u.TaskID,
		JobID:           u.JobID,
		WorkerAddress:   u.WorkerAddress,
		TransferAddress: u.TransferAddress,
		DatasetKey:      u.DatasetKey,
	}
	s.tasks[u.TaskID] = task
	s.tasksByJob[u.JobID] = append(s.tasksByJob[u.JobID], task)
	s.tasksByWorker[u.WorkerAddress][u.TaskID] = task
	if u.TaskID+1 > s.nextAvailableTaskID {
		s.nextAvailableTaskID = u.TaskID + 1
	}
}

// removeTask 永久剔除任務：自 active 清單、worker 索引與全域 map 全數移除
func (s *State) removeTask(u *journal.RemoveTaskUpdate) {
	task, exists := s.tasks[u.TaskID]
	if !exists {
		protocolf("remove of unknown task %d", u.TaskID)
	}
	task.Removed = true
	tasksForJob := s.tasksByJob[task.JobID]
	for i, t := range tasksForJob {
		if t.ID == task.ID {
			s.tasksByJob[task.JobID] = append(tasksForJob[:i], tasksForJob[i+1:]...)
			break
		}
	}
	delete(s.tasksByWorker[task.WorkerAddress], task.ID)
	delete(s.tasks, task.ID)
}

// finishTask 標記任務完成；若 job 的 active 任務全數完成，
// 則 job 轉為完成並將保留的 worker 歸還可用集合
func (s *State) finishTask(u *journal.FinishTaskUpdate) {
	task, exists := s.tasks[u.TaskID]
	if !exists {
		protocolf("finish of unknown task %d", u.TaskID)
	}
	task.Finished = true
	delete(s.tasksByWorker[task.WorkerAddress], task.ID)

	allFinished := true
	for _, taskForJob := range s.tasksByJob[task.JobID] {
		if !taskForJob.Finished {
			allFinished = false
		}
	}
	job := s.jobs[task.JobID]
	job.Finished = allFinished
	if allFinished {
		for _, worker := range s.workersByJob[job.ID] {
			s.availableWorkers[worker.Address] = worker
			delete(s.jobsByWorker[worker.Address], job.ID)
		}
		s.workersByJob[job.ID] = nil
	}
}

// ============================================================================
// Worker Pool Allocator
// ============================================================================

// ReserveWorkers 從可用集合保留至多 targetNumWorkers 個 worker 給 job
//
// 行為：
//   - targetNumWorkers <= 0 或超過可用數時，取走全部可用 worker
//   - 可用 worker 依 address 遞增順序被選取（Go map 迭代順序隨機，
//     故先排序；此順序是介面的一部分，見測試）
//   - 永不阻塞：可用數不足時 job 拿到較少的 worker
//
// 副作用：雙向記錄指派（workersByJob / jobsByWorker），並自可用集合移除
func (s *State) ReserveWorkers(jobID int64, targetNumWorkers int64) []*Worker {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		protocolf("reserve workers for unknown job %d", jobID)
	}

	numWorkers := targetNumWorkers
	if numWorkers <= 0 || numWorkers > int64(len(s.availableWorkers)) {
		numWorkers = int64(len(s.availableWorkers))
	}

	addresses := make([]string, 0, len(s.availableWorkers))
	for address := range s.availableWorkers {
		addresses = append(addresses, address)
	}
	sort.Strings(addresses)

	workers := make([]*Worker, 0, numWorkers)
	for _, address := range addresses[:numWorkers] {
		worker := s.availableWorkers[address]
		workers = append(workers, worker)
		s.workersByJob[jobID] = append(s.workersByJob[jobID], worker)
		s.jobsByWorker[address][jobID] = job
		delete(s.availableWorkers, address)
	}
	return workers
}

// ReconcileWorkerAssignments 依未完成的 job 重建 worker 指派索引
//
// 保留（ReserveWorkers）不走日誌，重放日誌尾端無法重建指派；
// 恢復流程在重放完成後呼叫本方法，從任務反推：
// worker 有屬於未完成 job 的任務 ⇔ 被該 job 保留。
// 判準是 job 而非單一任務：live 路徑只在 job 的全部任務完成時
// 釋放 worker，單一任務先完成不會放回可用池。
// 每個 job 的 worker 清單依 address 排序，與 ReserveWorkers 的
// 選取順序一致。
func (s *State) ReconcileWorkerAssignments() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.availableWorkers = make(map[string]*Worker)
	s.workersByJob = make(map[int64][]*Worker)
	for address, worker := range s.workers {
		s.availableWorkers[address] = worker
		s.jobsByWorker[address] = make(map[int64]*Job)
	}

	assigned := make(map[int64]map[string]bool)
	for _, task := range s.tasks {
		if s.jobs[task.JobID].Finished {
			continue
		}
		if assigned[task.JobID] == nil {
			assigned[task.JobID] = make(map[string]bool)
		}
		if assigned[task.JobID][task.WorkerAddress] {
			continue
		}
		assigned[task.JobID][task.WorkerAddress] = true
		delete(s.availableWorkers, task.WorkerAddress)
		s.jobsByWorker[task.WorkerAddress][task.JobID] = s.jobs[task.JobID]
	}
	for jobID, addresses := range assigned {
		sorted := make([]string, 0, len(addresses))
		for address := range addresses {
			sorted = append(sorted, address)
		}
		sort.Strings(sorted)
		for _, address := range sorted {
			s.workersByJob[jobID] = append(s.workersByJob[jobID], s.workers[address])
		}
	}
}
