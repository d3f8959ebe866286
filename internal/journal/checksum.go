package journal

// ============================================================================
// 校驗和計算
// 職責：計算與驗證 journal 記錄的 CRC32 校驗和
// ============================================================================

import (
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
)

// CalculateChecksum 計算一筆更新記錄的 CRC32 校驗和
//
// 演算法：
// - 以 kind + seq + payload 的 JSON 序列化組成輸入
// - 不包含 TimestampMs，時間戳不屬於狀態機語意
// - 使用 CRC32-IEEE 多項式計算
func CalculateChecksum(u *Update) uint32 {
	h := crc32.NewIEEE()
	h.Write([]byte(u.Kind()))

	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], u.Seq)
	h.Write(seq[:])

	if payload := payloadOf(u); payload != nil {
		// struct 欄位順序固定，json.Marshal 結果具決定性
		data, err := json.Marshal(payload)
		if err == nil {
			h.Write(data)
		}
	}
	return h.Sum32()
}

// VerifyChecksum 驗證記錄的校驗和是否正確
func VerifyChecksum(u *Update) bool {
	return u.Checksum == CalculateChecksum(u)
}

// payloadOf 回傳記錄中被設定的那個 payload（不分型別）
func payloadOf(u *Update) any {
	switch u.Kind() {
	case KindRegisterDataset:
		return u.RegisterDataset
	case KindRegisterWorker:
		return u.RegisterWorker
	case KindCreateJob:
		return u.CreateJob
	case KindProduceSplit:
		return u.ProduceSplit
	case KindAcquireJobClient:
		return u.AcquireJobClient
	case KindReleaseJobClient:
		return u.ReleaseJobClient
	case KindGarbageCollectJob:
		return u.GarbageCollectJob
	case KindCreatePendingTask:
		return u.CreatePendingTask
	case KindClientHeartbeat:
		return u.ClientHeartbeat
	case KindCreateTask:
		return u.CreateTask
	case KindRemoveTask:
		return u.RemoveTask
	case KindFinishTask:
		return u.FinishTask
	}
	return nil
}
