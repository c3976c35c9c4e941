package gateway

import (
	"context"

	"amlgate/internal/store"
	"amlgate/pkg/models"
)

// ComplianceRecords 按钱包升序列出合规记录
func (g *Gateway) ComplianceRecords(ctx context.Context) ([]models.ComplianceRecord, error) {
	var records []models.ComplianceRecord
	err := g.view(ctx, func(state store.State) error {
		var err error
		records, err = g.contract.ComplianceRecords(state)
		return err
	})
	return records, err
}

// CheckWallet 查询单个钱包的合规状态
func (g *Gateway) CheckWallet(ctx context.Context, wallet string) (*models.WalletCheck, error) {
	var check *models.WalletCheck
	err := g.view(ctx, func(state store.State) error {
		var err error
		check, err = g.contract.CheckWallet(state, wallet)
		return err
	})
	return check, err
}

// OracleKey 查询预言机公钥
func (g *Gateway) OracleKey(ctx context.Context) (*models.OracleKey, error) {
	var key *models.OracleKey
	err := g.view(ctx, func(state store.State) error {
		var err error
		key, err = g.contract.OracleKey(state)
		return err
	})
	return key, err
}

// Admin 查询管理员
func (g *Gateway) Admin(ctx context.Context) (string, error) {
	var admin string
	err := g.view(ctx, func(state store.State) error {
		var err error
		admin, err = g.contract.Admin(state)
		return err
	})
	return admin, err
}

// PendingRequest 查询待结算请求
func (g *Gateway) PendingRequest(ctx context.Context, id uint64) (*models.PendingTransfer, error) {
	var transfer *models.PendingTransfer
	err := g.view(ctx, func(state store.State) error {
		var err error
		transfer, err = g.contract.PendingRequest(state, id)
		return err
	})
	return transfer, err
}

// PendingRequests 列出全部待结算请求
func (g *Gateway) PendingRequests(ctx context.Context) ([]models.PendingTransfer, error) {
	var transfers []models.PendingTransfer
	err := g.view(ctx, func(state store.State) error {
		var err error
		transfers, err = g.contract.PendingRequests(state)
		return err
	})
	return transfers, err
}

// NextSettlementID 查询结算指针
func (g *Gateway) NextSettlementID(ctx context.Context) (uint64, error) {
	var id uint64
	err := g.view(ctx, func(state store.State) error {
		var err error
		id, err = g.contract.NextSettlementID(state)
		return err
	})
	return id, err
}

// NextRequestID 查询下一个请求ID
func (g *Gateway) NextRequestID(ctx context.Context) (uint64, error) {
	var id uint64
	err := g.view(ctx, func(state store.State) error {
		var err error
		id, err = g.contract.NextRequestID(state)
		return err
	})
	return id, err
}

// Status 合约状态概览
type Status struct {
	Initialized   bool              `json:"initialized"`
	Admin         string            `json:"admin,omitempty"`
	OracleKey     *models.OracleKey `json:"oracle_key,omitempty"`
	Counters      *models.Counters  `json:"counters,omitempty"`
	PendingCount  int               `json:"pending_count"`
	ComplianceLen int               `json:"compliance_records"`
	OutboxBacklog int               `json:"outbox_backlog"`
}

// Status 读取状态概览，未实例化时不返回错误
func (g *Gateway) Status(ctx context.Context) (*Status, error) {
	status := &Status{}
	err := g.view(ctx, func(state store.State) error {
		admin, ok, err := state.Admin()
		if err != nil {
			return err
		}
		status.Initialized = ok
		status.Admin = admin

		if status.OracleKey, err = state.OracleKey(); err != nil {
			return err
		}
		if status.Counters, err = state.Counters(); err != nil {
			return err
		}

		pending, err := state.PendingTransfers()
		if err != nil {
			return err
		}
		status.PendingCount = len(pending)

		records, err := state.ComplianceRecords()
		if err != nil {
			return err
		}
		status.ComplianceLen = len(records)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if status.OutboxBacklog, err = g.store.OutboxBacklog(); err != nil {
		return nil, err
	}
	return status, nil
}
