package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// SyncStatus 同步队列条目状态
type SyncStatus int8

const (
	SyncStatusPending    SyncStatus = 0 // 待提交
	SyncStatusProcessing SyncStatus = 1 // 提交中
	SyncStatusCompleted  SyncStatus = 2 // 已上链
	SyncStatusFailed     SyncStatus = 3 // 失败
)

func (s SyncStatus) String() string {
	switch s {
	case SyncStatusPending:
		return "PENDING"
	case SyncStatusProcessing:
		return "PROCESSING"
	case SyncStatusCompleted:
		return "COMPLETED"
	case SyncStatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal 判断是否为终态
func (s SyncStatus) IsTerminal() bool {
	return s == SyncStatusCompleted || s == SyncStatusFailed
}

// 提交来源
const (
	SubmissionTypeAuto   = "auto"   // 游戏成绩自动入队
	SubmissionTypeManual = "manual" // 手动触发同步
)

// fingerprintWindow 指纹时间桶宽度
const fingerprintWindow = 10 * time.Minute

// SyncQueueEntry 分数同步队列条目
//
// fingerprint 对 (userID, score, txs, 10分钟时间桶) 做 sha256，
// 列上的唯一索引把去重检查落到数据库约束上
type SyncQueueEntry struct {
	ID                int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	EntryID           string     `gorm:"column:entry_id;type:varchar(64);uniqueIndex;not null" json:"entry_id"`
	UserID            string     `gorm:"column:user_id;type:varchar(64);index;not null" json:"user_id"`
	Username          string     `gorm:"column:username;type:varchar(100);not null" json:"username"`
	WalletAddress     string     `gorm:"column:wallet_address;type:varchar(42);index;not null" json:"wallet_address"`
	ScoreAmount       int64      `gorm:"column:score_amount;type:bigint;not null" json:"score_amount"`
	TransactionAmount int64      `gorm:"column:transaction_amount;type:bigint;not null" json:"transaction_amount"`
	Fingerprint       string     `gorm:"column:fingerprint;type:varchar(64);uniqueIndex;not null" json:"fingerprint"`
	Status            SyncStatus `gorm:"column:status;type:smallint;index;not null;default:0" json:"status"`
	SubmissionType    string     `gorm:"column:submission_type;type:varchar(10);not null;default:auto" json:"submission_type"`
	TxHash            string     `gorm:"column:tx_hash;type:varchar(66)" json:"tx_hash"`
	ErrorMessage      string     `gorm:"column:error_message;type:varchar(500)" json:"error_message"`
	RetryCount        int        `gorm:"column:retry_count;type:int;not null;default:0" json:"retry_count"`
	MaxRetries        int        `gorm:"column:max_retries;type:int;not null;default:3" json:"max_retries"`
	LastAttemptAt     int64      `gorm:"column:last_attempt_at;type:bigint" json:"last_attempt_at"`
	CompletedAt       int64      `gorm:"column:completed_at;type:bigint" json:"completed_at"`
	CreatedAt         int64      `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	UpdatedAt         int64      `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (SyncQueueEntry) TableName() string {
	return "sync_queue_entries"
}

// Fingerprint 计算队列条目指纹
//
// 同一用户在同一个 10 分钟桶内的相同 (score, txs) 产生相同指纹；
// 创建时刻不参与哈希，指纹在桶内是确定的
func Fingerprint(userID string, scoreAmount, transactionAmount int64, at time.Time) string {
	bucket := at.UnixMilli() / fingerprintWindow.Milliseconds()
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%d:%d", userID, scoreAmount, transactionAmount, bucket)))
	return hex.EncodeToString(sum[:])
}

// SyncConfirmation 同步结果事件 (发送到 Kafka)
type SyncConfirmation struct {
	EntryID           string `json:"entry_id"`
	UserID            string `json:"user_id"`
	Username          string `json:"username"`
	WalletAddress     string `json:"wallet_address"`
	ScoreAmount       int64  `json:"score_amount"`
	TransactionAmount int64  `json:"transaction_amount"`
	TxHash            string `json:"tx_hash,omitempty"`
	Status            string `json:"status"` // COMPLETED/FAILED
	Error             string `json:"error,omitempty"`
	CompletedAt       int64  `json:"completed_at"`
}
