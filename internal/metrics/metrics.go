// ============================================================================
// Dispatcher Metrics - Prometheus 監控指標
// ============================================================================
//
// Package: internal/metrics
// 文件: metrics.go
// 功能: 收集和暴露控制平面運行指標，支持 Prometheus 監控
//
// 指標分類:
//
//   1. 計數器 (Counter) - 累計值，只增不減：
//      - dispatcher_datasets_registered_total
//      - dispatcher_workers_registered_total
//      - dispatcher_jobs_created_total
//      - dispatcher_jobs_garbage_collected_total
//      - dispatcher_tasks_created_total
//      - dispatcher_tasks_finished_total
//      - dispatcher_tasks_removed_total
//      - dispatcher_client_heartbeats_total
//
//   2. 性能指標 (Histogram):
//      - dispatcher_journal_append_seconds: 日誌追加延遲分佈
//
//   3. 狀態指標 (Gauge) - 瞬時值：
//      - dispatcher_recovery_time_seconds: 最近一次恢復時間
//      - dispatcher_available_workers: 可用 worker 數
//      - dispatcher_active_jobs: 未完成 job 數
//
// 使用場景:
//
//   監控告警:
//   - dispatcher_available_workers == 0 → 叢集容量耗盡
//   - dispatcher_recovery_time_seconds > 3s → 恢復時間超標
//
//   容量規劃:
//   - rate(dispatcher_tasks_created_total[1m]) → 調度吞吐量趨勢
//   - dispatcher_active_jobs / worker_count → Worker 利用率
//
// HTTP 端點:
//   通過 /metrics 端點暴露，由 Prometheus 定期抓取
//
// ============================================================================

package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector Prometheus 指標收集器
type Collector struct {
	datasetsRegistered   prometheus.Counter
	workersRegistered    prometheus.Counter
	jobsCreated          prometheus.Counter
	jobsGarbageCollected prometheus.Counter
	tasksCreated         prometheus.Counter
	tasksFinished        prometheus.Counter
	tasksRemoved         prometheus.Counter
	clientHeartbeats     prometheus.Counter

	journalAppend prometheus.Histogram

	recoveryTime     prometheus.Gauge
	availableWorkers prometheus.Gauge
	activeJobs       prometheus.Gauge
}

// NewCollector 創建新的指標收集器並註冊到指定的 registerer
// 測試時傳入獨立的 prometheus.NewRegistry() 以避免重複註冊
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		datasetsRegistered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatcher_datasets_registered_total",
			Help: "Total number of datasets registered",
		}),
		workersRegistered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatcher_workers_registered_total",
			Help: "Total number of workers registered",
		}),
		jobsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatcher_jobs_created_total",
			Help: "Total number of jobs created",
		}),
		jobsGarbageCollected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatcher_jobs_garbage_collected_total",
			Help: "Total number of jobs garbage collected",
		}),
		tasksCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatcher_tasks_created_total",
			Help: "Total number of tasks created (pending and active)",
		}),
		tasksFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatcher_tasks_finished_total",
			Help: "Total number of tasks finished",
		}),
		tasksRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatcher_tasks_removed_total",
			Help: "Total number of tasks removed without completion",
		}),
		clientHeartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatcher_client_heartbeats_total",
			Help: "Total number of client heartbeats processed",
		}),
		journalAppend: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dispatcher_journal_append_seconds",
			Help:    "Journal append latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		recoveryTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dispatcher_recovery_time_seconds",
			Help: "Time taken by the last crash recovery in seconds",
		}),
		availableWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dispatcher_available_workers",
			Help: "Current number of available (idle) workers",
		}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dispatcher_active_jobs",
			Help: "Current number of unfinished jobs",
		}),
	}

	reg.MustRegister(
		c.datasetsRegistered,
		c.workersRegistered,
		c.jobsCreated,
		c.jobsGarbageCollected,
		c.tasksCreated,
		c.tasksFinished,
		c.tasksRemoved,
		c.clientHeartbeats,
		c.journalAppend,
		c.recoveryTime,
		c.availableWorkers,
		c.activeJobs,
	)
	return c
}

// RecordDatasetRegistered 記錄資料集註冊
func (c *Collector) RecordDatasetRegistered() {
	if c == nil {
		return
	}
	c.datasetsRegistered.Inc()
}

// RecordWorkerRegistered 記錄 worker 註冊
func (c *Collector) RecordWorkerRegistered() {
	if c == nil {
		return
	}
	c.workersRegistered.Inc()
}

// RecordJobCreated 記錄 job 建立
func (c *Collector) RecordJobCreated() {
	if c == nil {
		return
	}
	c.jobsCreated.Inc()
}

// RecordJobGarbageCollected 記錄 job 垃圾回收
func (c *Collector) RecordJobGarbageCollected() {
	if c == nil {
		return
	}
	c.jobsGarbageCollected.Inc()
}

// RecordTaskCreated 記錄任務建立
func (c *Collector) RecordTaskCreated() {
	if c == nil {
		return
	}
	c.tasksCreated.Inc()
}

// RecordTaskFinished 記錄任務完成
func (c *Collector) RecordTaskFinished() {
	if c == nil {
		return
	}
	c.tasksFinished.Inc()
}

// RecordTaskRemoved 記錄任務被剔除
func (c *Collector) RecordTaskRemoved() {
	if c == nil {
		return
	}
	c.tasksRemoved.Inc()
}

// RecordClientHeartbeat 記錄 client 心跳
func (c *Collector) RecordClientHeartbeat() {
	if c == nil {
		return
	}
	c.clientHeartbeats.Inc()
}

// ObserveJournalAppend 記錄一次日誌追加的延遲
func (c *Collector) ObserveJournalAppend(seconds float64) {
	if c == nil {
		return
	}
	c.journalAppend.Observe(seconds)
}

// SetRecoveryTime 設置恢復時間
func (c *Collector) SetRecoveryTime(seconds float64) {
	if c == nil {
		return
	}
	c.recoveryTime.Set(seconds)
}

// UpdateClusterStats 更新叢集狀態統計
func (c *Collector) UpdateClusterStats(availableWorkers, activeJobs int) {
	if c == nil {
		return
	}
	c.availableWorkers.Set(float64(availableWorkers))
	c.activeJobs.Set(float64(activeJobs))
}

// StartServer 啟動 Prometheus metrics HTTP 伺服器
func StartServer(port int) error {
	http.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	return http.ListenAndServe(addr, nil)
}
