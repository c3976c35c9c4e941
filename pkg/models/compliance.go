package models

import (
	"encoding/base64"
	"encoding/json"
)

// 钱包检查状态，沿用链上合约的返回文案
const (
	StatusAMLFailed     = "AML check failed"
	StatusOK            = "OK"
	ReasonNotSuspicious = "No suspicious activity"
)

// ComplianceRecord 合规登记记录（被标记的钱包）
type ComplianceRecord struct {
	Wallet    string  `json:"wallet"`
	Reason    string  `json:"reason"`
	RiskScore *uint64 `json:"risk_score,omitempty"`
}

// ComplianceEntry 预言机数据集条目，签名覆盖的就是条目列表的JSON编码
type ComplianceEntry = ComplianceRecord

// WalletCheck CheckWallet 查询结果
type WalletCheck struct {
	Wallet    string  `json:"wallet"`
	Flagged   bool    `json:"flagged"`
	Reason    string  `json:"reason"`
	RiskScore *uint64 `json:"risk_score,omitempty"`
	Status    string  `json:"status"`
}

// OracleKey 预言机公钥及算法标签
type OracleKey struct {
	PubKey  []byte `json:"pubkey"`
	KeyType string `json:"key_type"`
}

// MarshalJSON 公钥按base64编码
func (k OracleKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		PubKey  string `json:"pubkey"`
		KeyType string `json:"key_type"`
	}{
		PubKey:  base64.StdEncoding.EncodeToString(k.PubKey),
		KeyType: k.KeyType,
	})
}

// UnmarshalJSON 解析base64公钥
func (k *OracleKey) UnmarshalJSON(data []byte) error {
	var raw struct {
		PubKey  string `json:"pubkey"`
		KeyType string `json:"key_type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	pubkey, err := base64.StdEncoding.DecodeString(raw.PubKey)
	if err != nil {
		return err
	}
	k.PubKey = pubkey
	k.KeyType = raw.KeyType
	return nil
}

// Uint64Ptr 返回指针，便于构造可选风险分
func Uint64Ptr(v uint64) *uint64 {
	return &v
}
