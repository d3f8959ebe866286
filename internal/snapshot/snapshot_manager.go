package snapshot

// ============================================================================
// 職責說明：
// 1. 將 dispatcher 狀態影像序列化為 JSON 快照檔
// 2. 使用原子性寫入（temp file + rename）防止損壞
// 3. 載入時驗證 schema 版本相容性
// 4. 配合 journal 旋轉實現快速恢復
// ============================================================================

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/eth-easl/ml-input-data-service/internal/dispatcher"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	ErrSnapshotNotFound    = errors.New("snapshot file does not exist")
	ErrCorruptedSnapshot   = errors.New("snapshot file is corrupted")
	ErrIncompatibleVersion = errors.New("snapshot schema version is incompatible")
)

const schemaVersion = 1

// Snapshot 快照檔案的頂層結構
type Snapshot struct {
	SchemaVer int                     `json:"schema_version"`
	LastSeq   uint64                  `json:"last_seq"` // 已納入快照的最後一筆日誌序號
	State     dispatcher.SnapshotData `json:"state"`
}

// Manager 快照管理器
type Manager struct {
	path string     // 快照檔案路徑
	mu   sync.Mutex // 保護檔案操作
}

// NewManager 建立快照管理器實例
func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Write 原子性寫入快照
//
// 使用原子性寫入流程：
// 1. 寫入臨時檔案（.tmp）
// 2. 使用 os.Rename 原子性替換原始檔案
func (m *Manager) Write(snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap.SchemaVer = schemaVersion

	jsonBytes, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	tmpPath := m.path + ".tmp"
	if err := os.WriteFile(tmpPath, jsonBytes, 0644); err != nil {
		return fmt.Errorf("failed to write temp snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename snapshot: %w", err)
	}
	return nil
}

// Load 載入快照
//
// 行為：
//   - 如果檔案不存在，回傳 ErrSnapshotNotFound（首次啟動；呼叫端不得
//     拿零值影像去覆蓋初始狀態）
//   - 驗證 schema 版本是否相容
//   - 偵測損壞的快照檔案
func (m *Manager) Load() (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var snap Snapshot

	jsonBytes, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return snap, fmt.Errorf("%w: %s", ErrSnapshotNotFound, m.path)
		}
		return snap, fmt.Errorf("failed to read snapshot: %w", err)
	}

	if err := json.Unmarshal(jsonBytes, &snap); err != nil {
		return snap, fmt.Errorf("%w: %v", ErrCorruptedSnapshot, err)
	}
	if snap.SchemaVer != schemaVersion {
		return snap, fmt.Errorf("%w: got %d, want %d", ErrIncompatibleVersion, snap.SchemaVer, schemaVersion)
	}
	return snap, nil
}

// Exists 檢查快照檔案是否存在
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// GetPath 取得快照檔案路徑（用於測試與除錯）
func (m *Manager) GetPath() string {
	return m.path
}
