package journal

// ============================================================================
// Journal 核心實作
// 職責：
// 1. 追加更新記錄到日誌檔案（append-only）
// 2. 提供依序重放功能以恢復系統狀態
// 3. 支援日誌旋轉（快照後清空）
// 4. 確保寫入持久性與資料完整性
// ============================================================================

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"
)

// FileInterface 定義檔案操作所需的方法
// 這允許在測試中對檔案操作進行模擬
type FileInterface interface {
	Write(p []byte) (n int, err error)
	Sync() error
	Close() error
}

// Journal 表示一個 append-only 更新日誌實例
type Journal struct {
	mu           sync.Mutex    // 保護並發寫入
	file         FileInterface // 日誌檔案
	encoder      *json.Encoder // JSON 編碼器
	path         string        // 日誌檔案路徑
	seq          uint64        // 當前記錄序號
	syncOnAppend bool          // 是否每次追加都強制同步
	closed       bool

	buffer        []*Update // 批次寫入緩衝區
	bufferSize    int
	lastFlushTime time.Time
	flushInterval time.Duration
}

/*
NewJournal 建立或開啟一個 Journal 實例

行為：
- 如果檔案不存在，建立新檔案，seq 從 0 開始
- 如果檔案已存在，掃描最後一筆記錄的 seq 並繼續編號
- 以追加模式（O_APPEND）開啟，確保寫入不覆蓋
*/
func NewJournal(path string, syncOnAppend bool) (*Journal, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}

	// 若檔案非空，掃描最後一筆記錄以取得 seq
	var seq uint64
	stat, statErr := file.Stat()
	if statErr == nil && stat.Size() > 0 {
		last, err := lastSeqInFile(path)
		if err != nil {
			file.Close()
			return nil, err
		}
		seq = last
	}

	return &Journal{
		file:         file,
		encoder:      json.NewEncoder(file),
		path:         path,
		seq:          seq,
		syncOnAppend: syncOnAppend,

		buffer:        make([]*Update, 0, 1000),
		bufferSize:    1000,
		lastFlushTime: time.Now(),
		flushInterval: 1 * time.Second,
	}, nil
}

// Append 追加一筆更新記錄
//
// 行為：
// - 驗證記錄帶有合法的更新種類（否則回傳 ErrUpdateKindNotSet）
// - 自動遞增 seq、蓋上時間戳並計算 checksum
// - 批次寫入：先入緩衝區，滿了、超時或 forceFlush 時才 flush
//
// 回傳：
//
//	寫入後的序號，錯誤（如果寫入失敗）
func (j *Journal) Append(update *Update, forceFlush bool) (uint64, error) {
	if update.Kind() == KindNotSet {
		return 0, ErrUpdateKindNotSet
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return 0, ErrJournalClosed
	}

	j.seq++
	update.Seq = j.seq
	update.TimestampMs = time.Now().UnixMilli()
	update.Checksum = CalculateChecksum(update)

	j.buffer = append(j.buffer, update)

	needFlush := forceFlush || j.syncOnAppend || len(j.buffer) >= j.bufferSize ||
		time.Since(j.lastFlushTime) > j.flushInterval
	if needFlush {
		if err := j.flushLocked(); err != nil {
			return 0, err
		}
	}
	return update.Seq, nil
}

// Replay 依序重放所有日誌記錄
//
// 行為：
// - 先 flush 緩衝區，再從頭讀取日誌檔案
// - 驗證每筆記錄的更新種類與 checksum
// - 呼叫 handler 應用記錄，遇到錯誤立即停止
func (j *Journal) Replay(handler UpdateHandler) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.closed {
		if err := j.flushLocked(); err != nil {
			return err
		}
	}

	file, err := os.Open(j.path)
	if err != nil {
		return err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	var lastSeq uint64
	for decoder.More() {
		var update Update
		if err := decoder.Decode(&update); err != nil {
			return &CorruptionError{Seq: lastSeq, Cause: err}
		}
		if update.Kind() == KindNotSet {
			return ErrUpdateKindNotSet
		}
		if !VerifyChecksum(&update) {
			return &ChecksumError{
				Seq:      update.Seq,
				Expected: CalculateChecksum(&update),
				Actual:   update.Checksum,
			}
		}
		if err := handler(&update); err != nil {
			return err
		}
		lastSeq = update.Seq
	}
	return nil
}

// Rotate 旋轉日誌檔案
//
// 在快照完成後呼叫：目前的檔案改名備份，重新開一個空檔。
// 序號不歸零，維持整條更新流的單調性。
func (j *Journal) Rotate() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrJournalClosed
	}

	if err := j.flushLocked(); err != nil {
		return err
	}
	if err := j.file.Close(); err != nil {
		return err
	}

	// 奈秒精度：同一秒內的多次旋轉不得互相覆蓋備份
	backupPath := j.path + "." + time.Now().Format("20060102_150405.000000000")
	if err := os.Rename(j.path, backupPath); err != nil {
		return err
	}

	newFile, err := os.OpenFile(j.path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	j.file = newFile
	j.encoder = json.NewEncoder(newFile)
	j.buffer = j.buffer[:0]
	j.lastFlushTime = time.Now()
	return nil
}

// Close 關閉 Journal，關閉後的實例不可重用
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrJournalClosed
	}

	if err := j.flushLocked(); err != nil {
		return err
	}
	j.closed = true
	return j.file.Close()
}

// LastSeq 取得目前的記錄序號
//
// 用途：快照時需要記錄 last_seq，恢復時據此跳過已納入快照的記錄
func (j *Journal) LastSeq() uint64 {
	if j == nil {
		return 0
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

// Path 回傳日誌檔案路徑
func (j *Journal) Path() string {
	return j.path
}

// flushLocked 將緩衝的記錄批次寫入並視設定同步到磁碟
// 假設呼叫者已持有 j.mu
func (j *Journal) flushLocked() error {
	if len(j.buffer) == 0 {
		return nil
	}
	for _, update := range j.buffer {
		if err := j.encoder.Encode(update); err != nil {
			return err
		}
	}
	j.buffer = j.buffer[:0]
	j.lastFlushTime = time.Now()
	if err := j.file.Sync(); err != nil {
		return err
	}
	return nil
}

// lastSeqInFile 從頭掃描檔案取得最後一筆記錄的序號
func lastSeqInFile(path string) (uint64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	var last uint64
	for decoder.More() {
		var update Update
		if err := decoder.Decode(&update); err != nil {
			if err == io.EOF {
				break
			}
			return 0, &CorruptionError{Seq: last, Cause: err}
		}
		last = update.Seq
	}
	return last, nil
}
