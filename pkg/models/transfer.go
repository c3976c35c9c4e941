package models

// PendingTransfer 待结算转账请求
type PendingTransfer struct {
	ID        uint64 `json:"id"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Amount    Coin   `json:"amount"`
}

// Counters 两个计数器：index 为下一个待发放的请求ID，NextID 为结算指针
type Counters struct {
	Index  uint64 `json:"index"`
	NextID uint64 `json:"next_id"`
}

// InitialCounters 实例化时的计数器
func InitialCounters() Counters {
	return Counters{Index: 1, NextID: 1}
}

// Verdict 预言机对某个请求的裁决
type Verdict struct {
	RequestID uint64 `json:"request_id"`
	Approved  bool   `json:"approved"`
	Flagged   bool   `json:"flagged"`
	Reason    string `json:"reason"`
	RiskScore uint64 `json:"risk_score"`
}
