package contract

import (
	"encoding/base64"

	apperrors "amlgate/internal/errors"
	"amlgate/internal/store"
	"amlgate/pkg/models"

	"github.com/sirupsen/logrus"
)

// RequestValidator 转账请求的地址与金额校验
type RequestValidator interface {
	ValidateRecipient(recipient string) error
	ValidateAmount(amount models.Coin) error
}

// InstantiateMsg 实例化参数，调用者成为管理员
type InstantiateMsg struct {
	OraclePubKey  []byte `json:"oracle_pubkey"`
	OracleKeyType string `json:"oracle_key_type"`
}

// RotateOracleKeyMsg 密钥轮换参数，NewKeyType 为空时保留原算法
type RotateOracleKeyMsg struct {
	NewPubKey  []byte  `json:"new_pubkey"`
	NewKeyType *string `json:"new_key_type,omitempty"`
}

// SubmitOracleDatasetMsg 预言机签名的合规数据集
type SubmitOracleDatasetMsg struct {
	Entries   []models.ComplianceEntry `json:"entries"`
	Signature []byte                   `json:"signature"`
}

// SubmitTransferRequestMsg 转账请求
type SubmitTransferRequestMsg struct {
	Recipient string      `json:"recipient"`
	Amount    models.Coin `json:"amount"`
}

// Contract 合规结算合约
//
// 所有命令都针对传入的 store.State 执行，不持有任何状态；
// 返回错误时调用方负责回滚整个事务。
type Contract struct {
	verifier  *Verifier
	validator RequestValidator
	logger    *logrus.Logger
}

// New 创建合约
func New(validator RequestValidator, logger *logrus.Logger) *Contract {
	return &Contract{
		verifier:  NewVerifier(logger),
		validator: validator,
		logger:    logger,
	}
}

// Verifier 返回签名验证器
func (c *Contract) Verifier() *Verifier {
	return c.verifier
}

// Instantiate 设置管理员、预言机公钥与计数器
func (c *Contract) Instantiate(state store.State, sender string, msg InstantiateMsg) (*models.Response, error) {
	keyType, err := NormalizeKeyType(msg.OracleKeyType)
	if err != nil {
		return nil, err
	}

	if _, exists, err := state.Admin(); err != nil {
		return nil, err
	} else if exists {
		return nil, apperrors.ErrAlreadyInitialized
	}

	if err := state.SetAdmin(sender); err != nil {
		return nil, err
	}
	if err := state.SetOracleKey(models.OracleKey{PubKey: msg.OraclePubKey, KeyType: keyType.String()}); err != nil {
		return nil, err
	}
	if err := state.SetCounters(models.InitialCounters()); err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"admin":    sender,
		"key_type": keyType,
	}).Info("合约已实例化")

	resp := &models.Response{}
	resp.AddEvent(models.NewEvent(models.EventInstantiate).
		Add("admin", sender).
		Add("oracle_pubkey", base64.StdEncoding.EncodeToString(msg.OraclePubKey)).
		Add("oracle_key_type", keyType.String()))
	return resp, nil
}

// RotateOracleKey 管理员轮换预言机公钥，类型无效时不做任何修改
func (c *Contract) RotateOracleKey(state store.State, sender string, msg RotateOracleKeyMsg) (*models.Response, KeyType, error) {
	admin, err := requireAdmin(state, sender)
	if err != nil {
		return nil, "", err
	}

	current, err := state.OracleKey()
	if err != nil {
		return nil, "", err
	}
	if current == nil {
		return nil, "", apperrors.ErrNotInitialized
	}

	updated := *current
	if msg.NewKeyType != nil {
		keyType, err := NormalizeKeyType(*msg.NewKeyType)
		if err != nil {
			return nil, "", err
		}
		updated.KeyType = keyType.String()
	}
	updated.PubKey = msg.NewPubKey

	if err := state.SetOracleKey(updated); err != nil {
		return nil, "", err
	}

	c.logger.WithFields(logrus.Fields{
		"admin":    admin,
		"key_type": updated.KeyType,
	}).Info("预言机公钥已轮换")

	resp := &models.Response{}
	resp.AddEvent(models.NewEvent(models.EventOracleKeyUpdate).
		Add("action", "oracle_update").
		Add("admin", admin).
		Add("new_pubkey", base64.StdEncoding.EncodeToString(updated.PubKey)).
		Add("new_key_type", updated.KeyType))
	return resp, KeyType(updated.KeyType), nil
}

// OracleKey 查询当前预言机公钥
func (c *Contract) OracleKey(state store.State) (*models.OracleKey, error) {
	key, err := state.OracleKey()
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, apperrors.ErrNotInitialized
	}
	return key, nil
}

// Admin 查询管理员
func (c *Contract) Admin(state store.State) (string, error) {
	admin, ok, err := state.Admin()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", apperrors.ErrNotInitialized
	}
	return admin, nil
}

func loadCounters(state store.State) (models.Counters, error) {
	counters, err := state.Counters()
	if err != nil {
		return models.Counters{}, err
	}
	if counters == nil {
		return models.Counters{}, apperrors.ErrNotInitialized
	}
	return *counters, nil
}
