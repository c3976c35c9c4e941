package store

import (
	"encoding/binary"

	"amlgate/pkg/models"
)

const (
	// 默认数据库路径
	DefaultDBPath = "./data/amlgate.db"

	// 存储桶名称，每个逻辑槽位一个桶
	AdminBucket      = "admin"
	OracleKeyBucket  = "oracle_key"
	ComplianceBucket = "compliance"
	PendingBucket    = "pending"
	CountersBucket   = "counters"
	OutboxBucket     = "outbox"

	// 槽位内的键
	AdminKey     = "admin"
	OracleKeyKey = "key"
	IndexKey     = "index"
	NextIDKey    = "next_id"
)

// State 一次事务内可见的合约状态，按槽位提供类型化读写
type State interface {
	Admin() (string, bool, error)
	SetAdmin(admin string) error

	OracleKey() (*models.OracleKey, error)
	SetOracleKey(key models.OracleKey) error

	ComplianceRecord(wallet string) (*models.ComplianceRecord, error)
	ComplianceRecords() ([]models.ComplianceRecord, error)
	ReplaceCompliance(records map[string]models.ComplianceRecord) error

	PendingTransfer(id uint64) (*models.PendingTransfer, error)
	PendingTransfers() ([]models.PendingTransfer, error)
	SavePendingTransfer(transfer models.PendingTransfer) error
	RemovePendingTransfer(id uint64) error

	Counters() (*models.Counters, error)
	SetCounters(counters models.Counters) error
}

// MutateFunc 在读写事务内执行的状态变更
type MutateFunc func(state State) (*models.Response, error)

// Store 状态存储
//
// Execute 在单个读写事务内运行 fn：fn 返回错误时所有写入回滚；
// 成功时响应与状态变更一起写入发件箱。
type Store interface {
	View(fn func(state State) error) error
	Execute(operation, sender string, fn MutateFunc) (*models.OutboxRecord, error)

	PendingOutbox(limit int) ([]*models.OutboxRecord, error)
	AckOutbox(sequence uint64) error
	OutboxBacklog() (int, error)

	Close() error
}

func uint64Key(v uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, v)
	return key
}

func keyUint64(key []byte) uint64 {
	return binary.BigEndian.Uint64(key)
}

func hasContent(resp *models.Response) bool {
	return resp != nil && (len(resp.Events) > 0 || len(resp.Messages) > 0)
}
