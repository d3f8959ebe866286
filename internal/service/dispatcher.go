// ============================================================================
// Dispatcher Service - 控制平面核心協調器
// ============================================================================
//
// Package: internal/service
// 文件: dispatcher.go
// 功能: 叢集控制平面的唯一寫入者，協調所有模組並實現崩潰恢復
//
// 架構設計:
//   這是整個系統的"大腦"，負責協調以下組件：
//   - dispatcher.State: 權威實體狀態（事件溯源狀態機）
//   - Journal: 持久化所有狀態變更，確保數據不丟失
//   - Snapshot: 快照管理，定期保存系統狀態，加速恢復
//   - cache.State + metadata.Store: 快取決策所需的投影與指標
//
// 寫入路徑（Write-Ahead）:
//   每個變更操作都遵循同一條路：
//   1. 在服務互斥鎖下鑄造 id（取狀態機的 next-available 計數器）
//   2. 組出 update 記錄，先寫 Journal
//   3. 再 state.Apply(update) 變更內存狀態
//   live 操作與重放走完全相同的 Apply 入口，保證恢復後狀態一致。
//
// 崩潰恢復流程:
//   啟動時自動執行：
//   1. loadSnapshot() - 從最新快照恢復實體狀態
//   2. replayJournal() - 重放快照之後的日誌尾端
//   3. ReconcileWorkerAssignments() - 從未完成任務反推 worker 指派
//   4. rebuildCacheState() - 從 PUT job 重建快取投影
//
// 核心循環 (2 個並發 Goroutine):
//   1. Snapshot Loop - 定期快照 + 旋轉日誌
//   2. GC Loop - 回收超過釋放期限且無 client 的 job
//
// 並發安全:
//   - 單一 sync.Mutex 序列化所有變更操作（唯一寫入者）
//   - 查詢直接走狀態機的讀鎖，可與寫入併發
//   - stopCh + sync.WaitGroup 實現優雅關閉
//
// ============================================================================

package service

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eth-easl/ml-input-data-service/internal/cache"
	"github.com/eth-easl/ml-input-data-service/internal/dispatcher"
	"github.com/eth-easl/ml-input-data-service/internal/journal"
	"github.com/eth-easl/ml-input-data-service/internal/metadata"
	"github.com/eth-easl/ml-input-data-service/internal/metrics"
	"github.com/eth-easl/ml-input-data-service/internal/snapshot"
	"github.com/eth-easl/ml-input-data-service/pkg/types"
)

var log = slog.Default()

// ============================================================================
// 資料結構定義
// ============================================================================

// Config Dispatcher 服務配置
type Config struct {
	JournalPath          string            // 日誌檔案路徑
	SnapshotPath         string            // 快照檔案路徑
	SnapshotInterval     time.Duration     // 快照間隔
	JobGCInterval        time.Duration     // job 垃圾回收掃描間隔
	ClientReleaseTimeout time.Duration     // 最後一個 client 釋放後多久可回收 job
	CachePolicy          types.CachePolicy // 快取決策政策
	TargetWorkersPerJob  int64             // 每個 job 期望的 worker 數（<=0 表示全部）
	SyncOnAppend         bool              // 每筆日誌都 fsync
}

// JobRequest GetOrCreateJob 的參數
type JobRequest struct {
	DatasetID         int64
	ProcessingMode    types.ProcessingMode
	NumSplitProviders int64
	NamedJobKey       *types.NamedJobKey // 具名共用 job 時設置
	NumConsumers      *int64             // 協調准入（round-robin）時設置
}

// Dispatcher 控制平面服務
type Dispatcher struct {
	mu            sync.Mutex // 序列化所有變更操作
	state         *dispatcher.State
	journal       *journal.Journal
	snapshots     *snapshot.Manager
	cacheState    *cache.State
	metadataStore *metadata.Store
	collector     *metrics.Collector
	config        Config
	stopCh        chan struct{}
	stopped       bool
	startTime     time.Time
	loopWg        sync.WaitGroup
}

// ============================================================================
// 建構與生命週期
// ============================================================================

// NewDispatcher 建立新的 Dispatcher 服務實例
//
// collector 可為 nil（不收集指標，測試時常用）。
func NewDispatcher(config Config, collector *metrics.Collector) (*Dispatcher, error) {
	jrn, err := journal.NewJournal(config.JournalPath, config.SyncOnAppend)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	return &Dispatcher{
		state:         dispatcher.NewState(),
		journal:       jrn,
		snapshots:     snapshot.NewManager(config.SnapshotPath),
		cacheState:    cache.NewState(),
		metadataStore: metadata.NewStore(),
		collector:     collector,
		config:        config,
		stopCh:        make(chan struct{}),
	}, nil
}

// Start 啟動服務
//
// 流程：
//  1. 恢復階段：loadSnapshot -> replayJournal -> 重建推導狀態
//  2. 啟動階段：啟動快照循環與 GC 循環
func (d *Dispatcher) Start() error {
	d.startTime = time.Now()

	log.Info("Starting recovery...")

	lastSeq, err := d.loadSnapshot()
	if err != nil {
		return fmt.Errorf("loadSnapshot failed: %w", err)
	}

	replayed, err := d.replayJournal(lastSeq)
	if err != nil {
		return fmt.Errorf("replayJournal failed: %w", err)
	}

	// 保留（ReserveWorkers）與快取投影不走日誌，重放後從實體狀態反推
	d.state.ReconcileWorkerAssignments()
	d.rebuildCacheState()

	recoveryTime := time.Since(d.startTime)
	d.collector.SetRecoveryTime(recoveryTime.Seconds())
	if recoveryTime > 3*time.Second {
		log.Warn("Recovery time exceeds 3s", "duration", recoveryTime)
	}
	log.Info("Recovery completed",
		"duration", recoveryTime,
		"snapshot_seq", lastSeq,
		"replayed_updates", replayed)

	d.loopWg.Add(2)
	go d.snapshotLoop()
	go d.gcLoop()

	log.Info("Dispatcher started")
	return nil
}

// loadSnapshot 從快照恢復實體狀態
//
// 返回值：
//   - uint64: 快照涵蓋的最後一筆日誌序號（重放時跳過 <= 此序號的記錄）
func (d *Dispatcher) loadSnapshot() (uint64, error) {
	snap, err := d.snapshots.Load()
	if errors.Is(err, snapshot.ErrSnapshotNotFound) {
		// 首次啟動：保持 NewState 的初始狀態，全部靠日誌重放
		log.Info("No snapshot found, starting from empty state")
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load snapshot: %w", err)
	}

	if err := d.state.Restore(snap.State); err != nil {
		return 0, fmt.Errorf("failed to restore state: %w", err)
	}

	log.Info("Snapshot loaded",
		"last_seq", snap.LastSeq,
		"jobs", len(snap.State.Jobs),
		"workers", len(snap.State.Workers))
	return snap.LastSeq, nil
}

// replayJournal 重放快照之後的日誌尾端
//
// 重放與 live 操作走同一個 Apply 入口；已納入快照的記錄直接跳過。
func (d *Dispatcher) replayJournal(snapshotSeq uint64) (int, error) {
	replayed := 0
	handler := func(update *journal.Update) error {
		if update.Seq <= snapshotSeq {
			return nil
		}
		if err := d.state.Apply(update); err != nil {
			return fmt.Errorf("apply update seq %d: %w", update.Seq, err)
		}
		replayed++
		return nil
	}
	if err := d.journal.Replay(handler); err != nil {
		return replayed, err
	}
	return replayed, nil
}

// rebuildCacheState 從 PUT job 重建快取投影
//
// 判定規則：
//   - PUT job 正常完成（未被垃圾回收）⇒ 該 fingerprint 已快取
//   - PUT job 仍在執行 ⇒ 它是該 fingerprint 的 caching job，
//     後續 adaptive 決策不會重複發起 PUT
//   - PUT job 被垃圾回收 ⇒ 不視為已快取（寫入可能未完成）
func (d *Dispatcher) rebuildCacheState() {
	for _, job := range d.state.ListJobs() {
		if job.JobType != types.JobTypePut {
			continue
		}
		ds, err := d.state.DatasetFromID(job.DatasetID)
		if err != nil {
			continue
		}
		switch {
		case job.Finished && !job.GarbageCollected:
			d.cacheState.MarkDatasetCached(ds.Fingerprint)
		case !job.Finished:
			d.cacheState.RegisterCachingJob(ds.Fingerprint, job.ID)
		}
	}
}

// Stop 優雅關閉服務
//
// 關閉順序：
//  1. close(stopCh) 通知循環退出
//  2. loopWg.Wait() 等待循環退出（確保沒有 goroutine 再寫日誌）
//  3. 最後一次快照（持久化最終狀態）
//  4. 關閉日誌（flush 殘餘緩衝）
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		log.Info("Dispatcher already stopped")
		return
	}
	d.stopped = true
	d.mu.Unlock()

	log.Info("Stopping dispatcher...")

	close(d.stopCh)
	d.loopWg.Wait()

	if err := d.takeSnapshot(); err != nil {
		log.Error("Failed to take final snapshot", "error", err)
	}
	if err := d.journal.Close(); err != nil {
		log.Error("Failed to close journal", "error", err)
	}

	log.Info("Dispatcher stopped")
}

// ============================================================================
// 寫入路徑
// ============================================================================

// apply 唯一的變更路徑：先寫日誌，再套用到狀態機
// 呼叫者必須持有 d.mu
func (d *Dispatcher) apply(update *journal.Update, forceFlush bool) error {
	start := time.Now()
	if _, err := d.journal.Append(update, forceFlush); err != nil {
		return fmt.Errorf("failed to append update: %w", err)
	}
	d.collector.ObserveJournalAppend(time.Since(start).Seconds())
	return d.state.Apply(update)
}

// ============================================================================
// 變更操作
// ============================================================================

// GetOrRegisterDataset 以 fingerprint 冪等註冊資料集
//
// 相同 fingerprint 重複註冊回傳既有的 dataset id，不產生新日誌。
func (d *Dispatcher) GetOrRegisterDataset(fingerprint uint64) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if ds, err := d.state.DatasetFromFingerprint(fingerprint); err == nil {
		return ds.ID, nil
	} else if !errors.Is(err, dispatcher.ErrNotFound) {
		return 0, err
	}

	id := d.state.NextAvailableDatasetID()
	update := &journal.Update{
		RegisterDataset: &journal.RegisterDatasetUpdate{
			DatasetID:   id,
			Fingerprint: fingerprint,
		},
	}
	if err := d.apply(update, true); err != nil {
		return 0, err
	}
	d.collector.RecordDatasetRegistered()
	log.Info("Dataset registered", "dataset_id", id, "fingerprint", fingerprint)
	return id, nil
}

// RegisterWorker 註冊 worker 並回傳它目前應執行的任務
//
// 重複註冊（worker 重啟後重新連上）不產生新日誌，僅回傳現有任務。
func (d *Dispatcher) RegisterWorker(address, transferAddress string) ([]*dispatcher.Task, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.state.WorkerFromAddress(address); errors.Is(err, dispatcher.ErrNotFound) {
		update := &journal.Update{
			RegisterWorker: &journal.RegisterWorkerUpdate{
				WorkerAddress:   address,
				TransferAddress: transferAddress,
			},
		}
		if err := d.apply(update, true); err != nil {
			return nil, err
		}
		d.collector.RecordWorkerRegistered()
		log.Info("Worker registered", "address", address)
	} else if err != nil {
		return nil, err
	}

	return d.state.TasksForWorker(address)
}

// GetOrCreateJob 建立 job，或冪等重用同名的未回收 job
//
// 新 job 的流程：
//  1. 快取決策（DetermineJobType）決定 COMPUTE / PUT / GET
//  2. 寫入 CreateJob 記錄
//  3. 保留 worker 並為每個 worker 建立任務
//     （round-robin job 走協調准入：建立 pending task）
func (d *Dispatcher) GetOrCreateJob(req JobRequest) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if req.NamedJobKey != nil {
		job, err := d.state.NamedJobByKey(*req.NamedJobKey)
		if err == nil && !job.GarbageCollected {
			if job.DatasetID != req.DatasetID {
				return 0, fmt.Errorf(
					"named job (%s, %d) already exists for dataset %d, requested dataset %d",
					req.NamedJobKey.Name, req.NamedJobKey.Index, job.DatasetID, req.DatasetID)
			}
			return job.ID, nil
		}
		if err != nil && !errors.Is(err, dispatcher.ErrNotFound) {
			return 0, err
		}
	}

	ds, err := d.state.DatasetFromID(req.DatasetID)
	if err != nil {
		return 0, err
	}

	jobID := d.state.NextAvailableJobID()
	jobType, err := cache.DetermineJobType(
		d.config.CachePolicy, d.cacheState, d.metadataStore, ds.Fingerprint, jobID)
	if err != nil {
		return 0, fmt.Errorf("failed to determine job type: %w", err)
	}

	update := &journal.Update{
		CreateJob: &journal.CreateJobUpdate{
			JobID:             jobID,
			DatasetID:         req.DatasetID,
			ProcessingMode:    req.ProcessingMode,
			NumSplitProviders: req.NumSplitProviders,
			NamedJobKey:       req.NamedJobKey,
			NumConsumers:      req.NumConsumers,
			JobType:           jobType,
		},
	}
	if err := d.apply(update, true); err != nil {
		return 0, err
	}
	d.collector.RecordJobCreated()
	log.Info("Job created",
		"job_id", jobID,
		"dataset_id", req.DatasetID,
		"job_type", jobType,
		"processing_mode", req.ProcessingMode)

	if err := d.createTasksForJob(jobID, ds, jobType, req.NumConsumers != nil); err != nil {
		return 0, err
	}
	return jobID, nil
}

// createTasksForJob 保留 worker 並為每個保留到的 worker 建立一個任務
// 呼叫者必須持有 d.mu
func (d *Dispatcher) createTasksForJob(jobID int64, ds *dispatcher.Dataset,
	jobType types.JobType, coordinated bool) error {

	workers := d.state.ReserveWorkers(jobID, d.config.TargetWorkersPerJob)
	if len(workers) == 0 {
		log.Warn("No available workers for job", "job_id", jobID)
		return nil
	}
	datasetKey := cache.DatasetKey(ds.ID, ds.Fingerprint, jobType)

	for i, worker := range workers {
		taskID := d.state.NextAvailableTaskID()
		forceFlush := i == len(workers)-1

		var update *journal.Update
		if coordinated {
			update = &journal.Update{
				CreatePendingTask: &journal.CreatePendingTaskUpdate{
					TaskID:          taskID,
					JobID:           jobID,
					WorkerAddress:   worker.Address,
					TransferAddress: worker.TransferAddress,
					DatasetKey:      datasetKey,
					StartingRound:   0,
				},
			}
		} else {
			update = &journal.Update{
				CreateTask: &journal.CreateTaskUpdate{
					TaskID:          taskID,
					JobID:           jobID,
					WorkerAddress:   worker.Address,
					TransferAddress: worker.TransferAddress,
					DatasetKey:      datasetKey,
				},
			}
		}
		if err := d.apply(update, forceFlush); err != nil {
			return err
		}
		d.collector.RecordTaskCreated()
	}

	log.Info("Tasks created for job",
		"job_id", jobID,
		"num_tasks", len(workers),
		"coordinated", coordinated)
	return nil
}

// AcquireJobClient 取得 job 的 client 租約
func (d *Dispatcher) AcquireJobClient(jobID int64) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.state.JobFromID(jobID); err != nil {
		return 0, err
	}

	jobClientID := d.state.NextAvailableJobClientID()
	update := &journal.Update{
		AcquireJobClient: &journal.AcquireJobClientUpdate{
			JobClientID: jobClientID,
			JobID:       jobID,
		},
	}
	if err := d.apply(update, true); err != nil {
		return 0, err
	}
	return jobClientID, nil
}

// ReleaseJobClient 釋放 client 租約
//
// 釋放時間嵌入 update 記錄，重放時不讀時鐘。
func (d *Dispatcher) ReleaseJobClient(jobClientID int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.state.JobForJobClientID(jobClientID); err != nil {
		return err
	}

	update := &journal.Update{
		ReleaseJobClient: &journal.ReleaseJobClientUpdate{
			JobClientID: jobClientID,
			TimeMicros:  time.Now().UnixMicro(),
		},
	}
	return d.apply(update, true)
}

// ClientHeartbeat 處理消費者心跳
//
// 帶有接受/拒絕決定的心跳會寫入日誌並推進 pending queue 前端任務的
// 准入狀態；純粹的進度心跳不落日誌。回傳 job 目前的 active 任務。
func (d *Dispatcher) ClientHeartbeat(jobClientID int64, taskAccepted bool,
	newTargetRound *int64) ([]*dispatcher.Task, error) {

	d.mu.Lock()
	defer d.mu.Unlock()

	job, err := d.state.JobForJobClientID(jobClientID)
	if err != nil {
		return nil, err
	}
	d.collector.RecordClientHeartbeat()

	if taskAccepted || newTargetRound != nil {
		if len(job.PendingTasks) == 0 {
			return nil, fmt.Errorf("job %d has no pending task to accept or reject", job.ID)
		}
		heartbeat := &journal.ClientHeartbeatUpdate{
			JobClientID:  jobClientID,
			TaskAccepted: taskAccepted,
		}
		if newTargetRound != nil {
			heartbeat.TaskRejected = &journal.TaskRejectedUpdate{
				NewTargetRound: *newTargetRound,
			}
		}
		if err := d.apply(&journal.Update{ClientHeartbeat: heartbeat}, true); err != nil {
			return nil, err
		}
	}

	return d.state.TasksForJob(job.ID)
}

// ProduceSplit 推進分散式 epoch job 的 split 派發進度
//
// update 所帶的 repetition 取自目前狀態，保證與狀態機一致。
// finished 表示該 split provider 的當前 repetition 已派發完畢。
func (d *Dispatcher) ProduceSplit(jobID, splitProviderIndex int64, finished bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	job, err := d.state.JobFromID(jobID)
	if err != nil {
		return err
	}
	if job.DistributedEpochState == nil {
		return fmt.Errorf("job %d is not a distributed epoch job", jobID)
	}
	if splitProviderIndex < 0 ||
		splitProviderIndex >= int64(len(job.DistributedEpochState.Repetitions)) {
		return fmt.Errorf("job %d has no split provider %d", jobID, splitProviderIndex)
	}

	update := &journal.Update{
		ProduceSplit: &journal.ProduceSplitUpdate{
			JobID:              jobID,
			SplitProviderIndex: splitProviderIndex,
			Repetition:         job.DistributedEpochState.Repetitions[splitProviderIndex],
			Finished:           finished,
		},
	}
	return d.apply(update, true)
}

// FinishTask 標記任務完成
//
// 若這是某個 fingerprint 的 caching PUT job 的最後一個任務，
// 該 fingerprint 轉為已快取，後續 job 的快取決策得到 GET。
func (d *Dispatcher) FinishTask(taskID int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	task, err := d.state.TaskFromID(taskID)
	if err != nil {
		return err
	}

	update := &journal.Update{
		FinishTask: &journal.FinishTaskUpdate{TaskID: taskID},
	}
	if err := d.apply(update, true); err != nil {
		return err
	}
	d.collector.RecordTaskFinished()

	job, err := d.state.JobFromID(task.JobID)
	if err != nil {
		return err
	}
	if job.Finished && job.JobType == types.JobTypePut {
		ds, err := d.state.DatasetFromID(job.DatasetID)
		if err != nil {
			return err
		}
		if cachingJob, ok := d.cacheState.CachingJob(ds.Fingerprint); ok && cachingJob == job.ID {
			d.cacheState.MarkDatasetCached(ds.Fingerprint)
			log.Info("Dataset marked as cached",
				"fingerprint", ds.Fingerprint,
				"caching_job", job.ID)
		}
	}
	return nil
}

// RemoveTask 永久剔除任務（未正常完成）
func (d *Dispatcher) RemoveTask(taskID int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.state.TaskFromID(taskID); err != nil {
		return err
	}

	update := &journal.Update{
		RemoveTask: &journal.RemoveTaskUpdate{TaskID: taskID},
	}
	if err := d.apply(update, true); err != nil {
		return err
	}
	d.collector.RecordTaskRemoved()
	return nil
}

// RecordWorkerMetrics 記錄 worker 回報的管線效能指標
//
// 指標只進內存的 metadata store，不落日誌：它們是快取決策的輸入，
// 不是權威狀態的一部分，重啟後由 worker 心跳重新累積。
func (d *Dispatcher) RecordWorkerMetrics(workerAddress string, fingerprint uint64,
	nodeMetrics metadata.NodeMetrics) error {
	return d.metadataStore.RecordNodeMetrics(fingerprint, workerAddress, nodeMetrics)
}

// ============================================================================
// 查詢
// ============================================================================

// State 回傳實體狀態的查詢介面
// 查詢走狀態機自己的讀鎖，可與寫入操作併發。
func (d *Dispatcher) State() *dispatcher.State {
	return d.state
}

// GetStatus 取得服務狀態摘要
func (d *Dispatcher) GetStatus() map[string]interface{} {
	jobs := d.state.ListJobs()
	activeJobs := 0
	for _, job := range jobs {
		if !job.Finished {
			activeJobs++
		}
	}
	return map[string]interface{}{
		"uptime":            time.Since(d.startTime).String(),
		"workers":           len(d.state.ListWorkers()),
		"available_workers": len(d.state.ListAvailableWorkers()),
		"jobs":              len(jobs),
		"active_jobs":       activeJobs,
	}
}

// ============================================================================
// 背景循環
// ============================================================================

// snapshotLoop 定期生成快照並旋轉日誌
func (d *Dispatcher) snapshotLoop() {
	defer d.loopWg.Done()
	ticker := time.NewTicker(d.config.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			log.Info("Snapshot loop stopped")
			return

		case <-ticker.C:
			if err := d.takeSnapshot(); err != nil {
				log.Error("Failed to take snapshot", "error", err)
			}
		}
	}
}

// TakeSnapshot 立即生成一次快照並旋轉日誌
// 正常情況由快照循環定期觸發；維運與測試可手動呼叫。
func (d *Dispatcher) TakeSnapshot() error {
	return d.takeSnapshot()
}

// takeSnapshot 執行快照操作：狀態影像 + 當前日誌序號，然後旋轉日誌
func (d *Dispatcher) takeSnapshot() error {
	start := time.Now()

	// 影像、快照檔寫入與日誌旋轉必須在同一個臨界區：一旦先放鎖，
	// 其間追加的 update 會落在旋轉前的舊檔——序號超出快照的 lastSeq，
	// 又不在新日誌裡，恢復時就此丟失。
	d.mu.Lock()
	defer d.mu.Unlock()

	data := d.state.Snapshot()
	lastSeq := d.journal.LastSeq()

	snap := snapshot.Snapshot{
		LastSeq: lastSeq,
		State:   data,
	}
	if err := d.snapshots.Write(snap); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}

	if err := d.journal.Rotate(); err != nil {
		return fmt.Errorf("failed to rotate journal: %w", err)
	}

	log.Info("Snapshot taken",
		"duration", time.Since(start),
		"last_seq", lastSeq,
		"jobs", len(data.Jobs))
	return nil
}

// gcLoop 定期回收無 client 的過期 job
func (d *Dispatcher) gcLoop() {
	defer d.loopWg.Done()
	ticker := time.NewTicker(d.config.JobGCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			log.Info("GC loop stopped")
			return

		case <-ticker.C:
			d.garbageCollectExpiredJobs()
			d.updateClusterStats()
		}
	}
}

// garbageCollectExpiredJobs 掃描並回收符合條件的 job
//
// 回收條件（全部成立）：
//   - job 未完成且未被回收
//   - 目前沒有任何 client 租約
//   - 曾經有 client（LastClientReleasedMicros > 0），且最後一個 client
//     釋放至今超過 ClientReleaseTimeout
//
// 從未被任何 client 取用過的 job 不回收。
func (d *Dispatcher) garbageCollectExpiredJobs() {
	d.mu.Lock()
	defer d.mu.Unlock()

	nowMicros := time.Now().UnixMicro()
	timeoutMicros := d.config.ClientReleaseTimeout.Microseconds()

	for _, job := range d.state.ListJobs() {
		if job.Finished || job.GarbageCollected {
			continue
		}
		if job.NumClients > 0 || job.LastClientReleasedMicros == 0 {
			continue
		}
		if nowMicros-job.LastClientReleasedMicros <= timeoutMicros {
			continue
		}

		update := &journal.Update{
			GarbageCollectJob: &journal.GarbageCollectJobUpdate{JobID: job.ID},
		}
		if err := d.apply(update, true); err != nil {
			log.Error("Failed to garbage collect job", "job_id", job.ID, "error", err)
			continue
		}
		d.collector.RecordJobGarbageCollected()
		log.Info("Job garbage collected", "job_id", job.ID)
	}
}

// updateClusterStats 更新叢集狀態 gauge
func (d *Dispatcher) updateClusterStats() {
	activeJobs := 0
	for _, job := range d.state.ListJobs() {
		if !job.Finished {
			activeJobs++
		}
	}
	d.collector.UpdateClusterStats(len(d.state.ListAvailableWorkers()), activeJobs)
}
