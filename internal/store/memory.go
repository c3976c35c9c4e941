package store

import (
	"errors"
	"os"
	"sort"
	"sync"
	"time"

	apperrors "amlgate/internal/errors"
	"amlgate/pkg/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// MemoryStore 内存状态存储，写事务在副本上执行，成功后整体替换
type MemoryStore struct {
	mu   sync.RWMutex
	data *memData
	now  func() time.Time
}

type memData struct {
	admin      *string
	oracleKey  *models.OracleKey
	compliance map[string]models.ComplianceRecord
	pending    map[uint64]models.PendingTransfer
	counters   *models.Counters

	outbox  map[uint64]*models.OutboxRecord
	nextSeq uint64
}

// NewMemoryStore 创建内存状态存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: &memData{
			compliance: make(map[string]models.ComplianceRecord),
			pending:    make(map[uint64]models.PendingTransfer),
			outbox:     make(map[uint64]*models.OutboxRecord),
		},
		now: time.Now,
	}
}

// NewMemoryStoreFrom 复制 src 当前的合约状态，发件箱不复制
func NewMemoryStoreFrom(src Store) (*MemoryStore, error) {
	s := NewMemoryStore()
	err := src.View(func(state State) error {
		admin, ok, err := state.Admin()
		if err != nil {
			return err
		}
		if ok {
			s.data.admin = &admin
		}
		if s.data.oracleKey, err = state.OracleKey(); err != nil {
			return err
		}
		if s.data.counters, err = state.Counters(); err != nil {
			return err
		}

		records, err := state.ComplianceRecords()
		if err != nil {
			return err
		}
		for _, record := range records {
			s.data.compliance[record.Wallet] = record
		}

		transfers, err := state.PendingTransfers()
		if err != nil {
			return err
		}
		for _, transfer := range transfers {
			s.data.pending[transfer.ID] = transfer
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// SnapshotMemoryStore 以 dbPath 处的数据库为起点构建内存存储，文件不存在时返回空存储
func SnapshotMemoryStore(dbPath string, logger *logrus.Logger) (*MemoryStore, error) {
	if dbPath == "" {
		dbPath = DefaultDBPath
	}
	if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
		logger.Infof("状态数据库 %s 不存在，使用空的内存状态", dbPath)
		return NewMemoryStore(), nil
	}

	snapshot, err := OpenBoltSnapshot(dbPath, logger)
	if err != nil {
		return nil, err
	}
	defer snapshot.Close()

	s, err := NewMemoryStoreFrom(snapshot)
	if err != nil {
		return nil, err
	}
	logger.Infof("已载入 %s 的状态快照", snapshot.GetDBPath())
	return s, nil
}

func (d *memData) clone() *memData {
	c := &memData{
		compliance: make(map[string]models.ComplianceRecord, len(d.compliance)),
		pending:    make(map[uint64]models.PendingTransfer, len(d.pending)),
		outbox:     make(map[uint64]*models.OutboxRecord, len(d.outbox)),
		nextSeq:    d.nextSeq,
	}
	if d.admin != nil {
		admin := *d.admin
		c.admin = &admin
	}
	if d.oracleKey != nil {
		key := models.OracleKey{
			PubKey:  append([]byte(nil), d.oracleKey.PubKey...),
			KeyType: d.oracleKey.KeyType,
		}
		c.oracleKey = &key
	}
	if d.counters != nil {
		counters := *d.counters
		c.counters = &counters
	}
	for k, v := range d.compliance {
		c.compliance[k] = v
	}
	for k, v := range d.pending {
		c.pending[k] = v
	}
	for k, v := range d.outbox {
		c.outbox[k] = v
	}
	return c
}

// View 只读访问
func (s *MemoryStore) View(fn func(state State) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memState{data: s.data, readOnly: true})
}

// Execute 在副本上执行变更，失败时丢弃副本
func (s *MemoryStore) Execute(operation, sender string, fn MutateFunc) (*models.OutboxRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	draft := s.data.clone()
	resp, err := fn(&memState{data: draft})
	if err != nil {
		return nil, err
	}
	if resp == nil {
		resp = &models.Response{}
	}

	record := &models.OutboxRecord{
		MessageID: uuid.NewString(),
		Operation: operation,
		Sender:    sender,
		CreatedAt: s.now().UTC(),
		Response:  *resp,
	}
	if hasContent(resp) {
		draft.nextSeq++
		record.Sequence = draft.nextSeq
		draft.outbox[record.Sequence] = record
	}

	s.data = draft
	return record, nil
}

// PendingOutbox 按序号升序读取待投递记录
func (s *MemoryStore) PendingOutbox(limit int) ([]*models.OutboxRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seqs := make([]uint64, 0, len(s.data.outbox))
	for seq := range s.data.outbox {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

	records := make([]*models.OutboxRecord, 0, len(seqs))
	for _, seq := range seqs {
		if limit > 0 && len(records) >= limit {
			break
		}
		records = append(records, s.data.outbox[seq])
	}
	return records, nil
}

// AckOutbox 删除已投递的记录
func (s *MemoryStore) AckOutbox(sequence uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	draft := s.data.clone()
	delete(draft.outbox, sequence)
	s.data = draft
	return nil
}

// OutboxBacklog 待投递记录数
func (s *MemoryStore) OutboxBacklog() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data.outbox), nil
}

// Close 内存存储无需释放资源
func (s *MemoryStore) Close() error {
	return nil
}

type memState struct {
	data     *memData
	readOnly bool
}

func (st *memState) writable() error {
	if st.readOnly {
		return apperrors.ErrStorage.WithDetail("只读事务不可写入").WithComponent("store")
	}
	return nil
}

func (st *memState) Admin() (string, bool, error) {
	if st.data.admin == nil {
		return "", false, nil
	}
	return *st.data.admin, true, nil
}

func (st *memState) SetAdmin(admin string) error {
	if err := st.writable(); err != nil {
		return err
	}
	st.data.admin = &admin
	return nil
}

func (st *memState) OracleKey() (*models.OracleKey, error) {
	if st.data.oracleKey == nil {
		return nil, nil
	}
	key := models.OracleKey{
		PubKey:  append([]byte(nil), st.data.oracleKey.PubKey...),
		KeyType: st.data.oracleKey.KeyType,
	}
	return &key, nil
}

func (st *memState) SetOracleKey(key models.OracleKey) error {
	if err := st.writable(); err != nil {
		return err
	}
	stored := models.OracleKey{
		PubKey:  append([]byte(nil), key.PubKey...),
		KeyType: key.KeyType,
	}
	st.data.oracleKey = &stored
	return nil
}

func (st *memState) ComplianceRecord(wallet string) (*models.ComplianceRecord, error) {
	record, ok := st.data.compliance[wallet]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

func (st *memState) ComplianceRecords() ([]models.ComplianceRecord, error) {
	wallets := make([]string, 0, len(st.data.compliance))
	for wallet := range st.data.compliance {
		wallets = append(wallets, wallet)
	}
	sort.Strings(wallets)

	records := make([]models.ComplianceRecord, 0, len(wallets))
	for _, wallet := range wallets {
		records = append(records, st.data.compliance[wallet])
	}
	return records, nil
}

func (st *memState) ReplaceCompliance(records map[string]models.ComplianceRecord) error {
	if err := st.writable(); err != nil {
		return err
	}
	replaced := make(map[string]models.ComplianceRecord, len(records))
	for wallet, record := range records {
		replaced[wallet] = record
	}
	st.data.compliance = replaced
	return nil
}

func (st *memState) PendingTransfer(id uint64) (*models.PendingTransfer, error) {
	transfer, ok := st.data.pending[id]
	if !ok {
		return nil, nil
	}
	return &transfer, nil
}

func (st *memState) PendingTransfers() ([]models.PendingTransfer, error) {
	ids := make([]uint64, 0, len(st.data.pending))
	for id := range st.data.pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	transfers := make([]models.PendingTransfer, 0, len(ids))
	for _, id := range ids {
		transfers = append(transfers, st.data.pending[id])
	}
	return transfers, nil
}

func (st *memState) SavePendingTransfer(transfer models.PendingTransfer) error {
	if err := st.writable(); err != nil {
		return err
	}
	st.data.pending[transfer.ID] = transfer
	return nil
}

func (st *memState) RemovePendingTransfer(id uint64) error {
	if err := st.writable(); err != nil {
		return err
	}
	delete(st.data.pending, id)
	return nil
}

func (st *memState) Counters() (*models.Counters, error) {
	if st.data.counters == nil {
		return nil, nil
	}
	counters := *st.data.counters
	return &counters, nil
}

func (st *memState) SetCounters(counters models.Counters) error {
	if err := st.writable(); err != nil {
		return err
	}
	st.data.counters = &counters
	return nil
}
