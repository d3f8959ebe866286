// Package types 定義了 ml-input-data-service 控制平面共用的領域模型
package types

// ProcessingMode 資料集的處理模式
type ProcessingMode string

// 定義處理模式常數
const (
	// ProcessingModeParallelEpochs 一般模式：每個 worker 獨立重複整個資料集
	ProcessingModeParallelEpochs ProcessingMode = "parallel_epochs"
	// ProcessingModeDistributedEpoch 分散式 epoch 模式：split 由 dispatcher 集中派發
	ProcessingModeDistributedEpoch ProcessingMode = "distributed_epoch"
)

// JobType 任務的快取執行型態，由 Cache Policy Engine 在建立 job 時決定
type JobType string

const (
	JobTypeCompute JobType = "COMPUTE" // 從頭計算，不讀寫快取
	JobTypePut     JobType = "PUT"     // 計算並寫入快取
	JobTypeGet     JobType = "GET"     // 直接讀取既有快取
)

// CachePolicy 快取決策政策
type CachePolicy int

const (
	// CachePolicyAdaptive 依據收集到的效能指標自動決定 COMPUTE / PUT / GET
	CachePolicyAdaptive CachePolicy = 1
	// CachePolicyAlwaysCompute 實驗用固定政策：永遠 COMPUTE
	CachePolicyAlwaysCompute CachePolicy = 2
	// CachePolicyComputeOnce 實驗用固定政策：第一次 PUT，之後 GET
	CachePolicyComputeOnce CachePolicy = 3
)

// NamedJobKey 具名 job 的識別鍵，讓多個 client 以名字冪等地共用同一個 job
type NamedJobKey struct {
	Name  string `json:"name"`
	Index int64  `json:"index"`
}
