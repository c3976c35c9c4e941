package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	apperrors "amlgate/internal/errors"
	"amlgate/pkg/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

var allBuckets = []string{
	AdminBucket,
	OracleKeyBucket,
	ComplianceBucket,
	PendingBucket,
	CountersBucket,
	OutboxBucket,
}

// BoltStore 基于BoltDB的状态存储
type BoltStore struct {
	db     *bolt.DB
	logger *logrus.Logger
	dbPath string
	now    func() time.Time
}

// NewBoltStore 打开（或创建）状态数据库
func NewBoltStore(dbPath string, logger *logrus.Logger) (*BoltStore, error) {
	if dbPath == "" {
		dbPath = DefaultDBPath
	}

	// 确保目录存在
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("打开状态数据库失败: %w", err)
	}

	s := &BoltStore{
		db:     db,
		logger: logger,
		dbPath: dbPath,
		now:    time.Now,
	}

	if err := s.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化数据库失败: %w", err)
	}

	logger.Infof("状态存储已初始化，数据库路径: %s", dbPath)
	return s, nil
}

// OpenBoltSnapshot 以只读方式打开已有数据库，不创建文件或存储桶
func OpenBoltSnapshot(dbPath string, logger *logrus.Logger) (*BoltStore, error) {
	if dbPath == "" {
		dbPath = DefaultDBPath
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("只读打开状态数据库失败: %w", err)
	}

	err = db.View(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if tx.Bucket([]byte(name)) == nil {
				return fmt.Errorf("缺少存储桶 %s", name)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("状态数据库不完整: %w", err)
	}

	return &BoltStore{db: db, logger: logger, dbPath: dbPath, now: time.Now}, nil
}

// initDB 创建全部存储桶
func (s *BoltStore) initDB() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("创建存储桶 %s 失败: %w", name, err)
			}
		}
		return nil
	})
}

// View 只读事务
func (s *BoltStore) View(fn func(state State) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(&boltState{tx: tx})
	})
}

// Execute 读写事务，成功时同时写入发件箱
func (s *BoltStore) Execute(operation, sender string, fn MutateFunc) (*models.OutboxRecord, error) {
	var record *models.OutboxRecord

	err := s.db.Update(func(tx *bolt.Tx) error {
		resp, err := fn(&boltState{tx: tx})
		if err != nil {
			return err
		}
		if resp == nil {
			resp = &models.Response{}
		}

		record = &models.OutboxRecord{
			MessageID: uuid.NewString(),
			Operation: operation,
			Sender:    sender,
			CreatedAt: s.now().UTC(),
			Response:  *resp,
		}
		if !hasContent(resp) {
			return nil
		}

		bucket := tx.Bucket([]byte(OutboxBucket))
		seq, err := bucket.NextSequence()
		if err != nil {
			return storageError("分配发件箱序号失败", err)
		}
		record.Sequence = seq

		data, err := json.Marshal(record)
		if err != nil {
			return apperrors.ErrSerializationFailed.WithCause(err)
		}
		if err := bucket.Put(uint64Key(seq), data); err != nil {
			return storageError("写入发件箱失败", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return record, nil
}

// PendingOutbox 按序号升序读取待投递记录
func (s *BoltStore) PendingOutbox(limit int) ([]*models.OutboxRecord, error) {
	records := make([]*models.OutboxRecord, 0)

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(OutboxBucket)).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if limit > 0 && len(records) >= limit {
				break
			}
			var record models.OutboxRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return apperrors.ErrSerializationFailed.WithDetail("发件箱记录 %d", keyUint64(k)).WithCause(err)
			}
			records = append(records, &record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

// AckOutbox 删除已投递的记录
func (s *BoltStore) AckOutbox(sequence uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket([]byte(OutboxBucket)).Delete(uint64Key(sequence)); err != nil {
			return storageError("删除发件箱记录失败", err)
		}
		return nil
	})
}

// OutboxBacklog 待投递记录数
func (s *BoltStore) OutboxBacklog() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket([]byte(OutboxBucket)).Stats().KeyN
		return nil
	})
	return n, err
}

// GetDBPath 获取数据库路径
func (s *BoltStore) GetDBPath() string {
	return s.dbPath
}

// Close 关闭状态存储
func (s *BoltStore) Close() error {
	if s.db != nil {
		s.logger.Info("关闭状态存储")
		return s.db.Close()
	}
	return nil
}

// boltState 绑定到单个事务的State实现
type boltState struct {
	tx *bolt.Tx
}

func (st *boltState) bucket(name string) *bolt.Bucket {
	return st.tx.Bucket([]byte(name))
}

func (st *boltState) getJSON(bucket string, key []byte, v interface{}) (bool, error) {
	data := st.bucket(bucket).Get(key)
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, apperrors.ErrSerializationFailed.WithDetail("%s/%s", bucket, key).WithCause(err)
	}
	return true, nil
}

func (st *boltState) putJSON(bucket string, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return apperrors.ErrSerializationFailed.WithCause(err)
	}
	if err := st.bucket(bucket).Put(key, data); err != nil {
		return storageError("写入 "+bucket+" 失败", err)
	}
	return nil
}

func (st *boltState) Admin() (string, bool, error) {
	data := st.bucket(AdminBucket).Get([]byte(AdminKey))
	if data == nil {
		return "", false, nil
	}
	return string(data), true, nil
}

func (st *boltState) SetAdmin(admin string) error {
	if err := st.bucket(AdminBucket).Put([]byte(AdminKey), []byte(admin)); err != nil {
		return storageError("写入管理员失败", err)
	}
	return nil
}

func (st *boltState) OracleKey() (*models.OracleKey, error) {
	var key models.OracleKey
	found, err := st.getJSON(OracleKeyBucket, []byte(OracleKeyKey), &key)
	if err != nil || !found {
		return nil, err
	}
	return &key, nil
}

func (st *boltState) SetOracleKey(key models.OracleKey) error {
	return st.putJSON(OracleKeyBucket, []byte(OracleKeyKey), key)
}

func (st *boltState) ComplianceRecord(wallet string) (*models.ComplianceRecord, error) {
	var record models.ComplianceRecord
	found, err := st.getJSON(ComplianceBucket, []byte(wallet), &record)
	if err != nil || !found {
		return nil, err
	}
	return &record, nil
}

// ComplianceRecords 桶内键按字节序排列，即钱包升序
func (st *boltState) ComplianceRecords() ([]models.ComplianceRecord, error) {
	records := make([]models.ComplianceRecord, 0)
	err := st.bucket(ComplianceBucket).ForEach(func(k, v []byte) error {
		var record models.ComplianceRecord
		if err := json.Unmarshal(v, &record); err != nil {
			return apperrors.ErrSerializationFailed.WithDetail("compliance/%s", k).WithCause(err)
		}
		records = append(records, record)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// ReplaceCompliance 删除并重建整个桶，事务提交前外部看不到中间状态
func (st *boltState) ReplaceCompliance(records map[string]models.ComplianceRecord) error {
	if err := st.tx.DeleteBucket([]byte(ComplianceBucket)); err != nil && err != bolt.ErrBucketNotFound {
		return storageError("清空合规登记失败", err)
	}
	if _, err := st.tx.CreateBucket([]byte(ComplianceBucket)); err != nil {
		return storageError("重建合规登记失败", err)
	}
	for wallet, record := range records {
		if err := st.putJSON(ComplianceBucket, []byte(wallet), record); err != nil {
			return err
		}
	}
	return nil
}

func (st *boltState) PendingTransfer(id uint64) (*models.PendingTransfer, error) {
	var transfer models.PendingTransfer
	found, err := st.getJSON(PendingBucket, uint64Key(id), &transfer)
	if err != nil || !found {
		return nil, err
	}
	return &transfer, nil
}

func (st *boltState) PendingTransfers() ([]models.PendingTransfer, error) {
	transfers := make([]models.PendingTransfer, 0)
	err := st.bucket(PendingBucket).ForEach(func(k, v []byte) error {
		var transfer models.PendingTransfer
		if err := json.Unmarshal(v, &transfer); err != nil {
			return apperrors.ErrSerializationFailed.WithDetail("pending/%d", keyUint64(k)).WithCause(err)
		}
		transfers = append(transfers, transfer)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return transfers, nil
}

func (st *boltState) SavePendingTransfer(transfer models.PendingTransfer) error {
	return st.putJSON(PendingBucket, uint64Key(transfer.ID), transfer)
}

func (st *boltState) RemovePendingTransfer(id uint64) error {
	if err := st.bucket(PendingBucket).Delete(uint64Key(id)); err != nil {
		return storageError("删除待结算请求失败", err)
	}
	return nil
}

func (st *boltState) Counters() (*models.Counters, error) {
	bucket := st.bucket(CountersBucket)
	index := bucket.Get([]byte(IndexKey))
	nextID := bucket.Get([]byte(NextIDKey))
	if index == nil || nextID == nil {
		return nil, nil
	}
	return &models.Counters{
		Index:  keyUint64(index),
		NextID: keyUint64(nextID),
	}, nil
}

func (st *boltState) SetCounters(counters models.Counters) error {
	bucket := st.bucket(CountersBucket)
	if err := bucket.Put([]byte(IndexKey), uint64Key(counters.Index)); err != nil {
		return storageError("保存 index 失败", err)
	}
	if err := bucket.Put([]byte(NextIDKey), uint64Key(counters.NextID)); err != nil {
		return storageError("保存 next_id 失败", err)
	}
	return nil
}

func storageError(detail string, err error) error {
	return apperrors.ErrStorage.WithDetail("%s", detail).WithCause(err).WithComponent("store")
}
