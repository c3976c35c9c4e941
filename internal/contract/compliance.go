package contract

import (
	"strconv"
	"strings"

	apperrors "amlgate/internal/errors"
	"amlgate/internal/store"
	"amlgate/pkg/models"

	"github.com/sirupsen/logrus"
)

// SubmitOracleDataset 验签通过后整体替换合规登记
func (c *Contract) SubmitOracleDataset(state store.State, sender string, msg SubmitOracleDatasetMsg) (*models.Response, error) {
	key, err := state.OracleKey()
	if err != nil {
		return nil, err
	}

	payload, err := DatasetPayload(msg.Entries)
	if err != nil {
		return nil, err
	}
	if err := requireValidSignature(c.verifier, key, payload, msg.Signature); err != nil {
		c.logger.WithField("sender", sender).Warn("预言机数据集签名无效")
		return nil, err
	}

	// 空钱包无法作为登记键，整份数据集拒绝
	for i, entry := range msg.Entries {
		if strings.TrimSpace(entry.Wallet) == "" {
			return nil, apperrors.ErrInvalidDataset.WithDetail("第 %d 条钱包地址为空", i)
		}
	}

	// 重复钱包以最后一条为准
	registry := make(map[string]models.ComplianceRecord, len(msg.Entries))
	for _, entry := range msg.Entries {
		registry[entry.Wallet] = entry
	}
	if err := state.ReplaceCompliance(registry); err != nil {
		return nil, err
	}

	hash := PayloadHash(payload)
	c.logger.WithFields(logrus.Fields{
		"sender":       sender,
		"entries":      len(registry),
		"payload_hash": hash,
	}).Info("合规登记已替换")

	resp := &models.Response{}
	resp.AddEvent(models.NewEvent(models.EventOracleDataUpdate).
		Add("action", models.EventOracleDataUpdate).
		Add("sender", sender).
		Add("entries", strconv.Itoa(len(registry))).
		Add("payload_hash", hash))
	return resp, nil
}

// ComplianceRecords 按钱包升序列出当前登记
func (c *Contract) ComplianceRecords(state store.State) ([]models.ComplianceRecord, error) {
	return state.ComplianceRecords()
}

// CheckWallet 查询单个钱包是否被标记
func (c *Contract) CheckWallet(state store.State, wallet string) (*models.WalletCheck, error) {
	record, err := state.ComplianceRecord(wallet)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return &models.WalletCheck{
			Wallet: wallet,
			Reason: models.ReasonNotSuspicious,
			Status: models.StatusOK,
		}, nil
	}
	return &models.WalletCheck{
		Wallet:    wallet,
		Flagged:   true,
		Reason:    record.Reason,
		RiskScore: record.RiskScore,
		Status:    models.StatusAMLFailed,
	}, nil
}
