package oracle

import (
	"context"
	"math/big"
	"strconv"

	apperrors "amlgate/internal/errors"
	"amlgate/pkg/models"
)

// 裁决常量
const (
	ReasonLargeAmount  = "suspiciously large amount"
	LargeAmountRisk    = 100
	DefaultMaxAmount   = "10000"
	DefaultAmountDenom = "ustake"
)

// CheckRequest 待裁决的转账请求，来自 aml_check_requested 事件
type CheckRequest struct {
	ID        uint64
	Sender    string
	Recipient string
	Amount    models.Coin
}

// ParseCheckRequest 从审计事件解析请求
func ParseCheckRequest(attrs map[string]string) (CheckRequest, error) {
	id, err := strconv.ParseUint(attrs["index"], 10, 64)
	if err != nil {
		return CheckRequest{}, apperrors.ErrSerializationFailed.WithDetail("事件缺少有效的 index").WithCause(err)
	}

	amount, ok := new(big.Int).SetString(attrs["amount"], 10)
	if !ok {
		return CheckRequest{}, apperrors.ErrSerializationFailed.WithDetail("事件金额无效: %q", attrs["amount"])
	}

	return CheckRequest{
		ID:        id,
		Sender:    attrs["sender"],
		Recipient: attrs["recipient"],
		Amount:    models.Coin{Denom: attrs["denom"], Amount: amount},
	}, nil
}

// WalletLookup 合规登记查询
type WalletLookup interface {
	CheckWallet(ctx context.Context, wallet string) (*models.WalletCheck, error)
}

// Evaluator 预言机裁决规则
type Evaluator struct {
	maxAmount *big.Int
	denom     string
}

// NewEvaluator 创建裁决器，maxAmount 为十进制整数
func NewEvaluator(maxAmount, denom string) (*Evaluator, error) {
	if maxAmount == "" {
		maxAmount = DefaultMaxAmount
	}
	limit, ok := new(big.Int).SetString(maxAmount, 10)
	if !ok || limit.Sign() < 0 {
		return nil, apperrors.ErrConfigInvalid.WithDetail("oracle.max_amount 无效: %s", maxAmount)
	}
	if denom == "" {
		denom = DefaultAmountDenom
	}
	return &Evaluator{maxAmount: limit, denom: denom}, nil
}

// Evaluate 生成裁决：发送方或接收方被标记则拒绝；
// 指定币种金额超过上限则拒绝；其余批准。
func (e *Evaluator) Evaluate(ctx context.Context, req CheckRequest, lookup WalletLookup) (models.Verdict, error) {
	for _, wallet := range []string{req.Sender, req.Recipient} {
		check, err := lookup.CheckWallet(ctx, wallet)
		if err != nil {
			return models.Verdict{}, err
		}
		if check.Flagged {
			verdict := models.Verdict{
				RequestID: req.ID,
				Approved:  false,
				Flagged:   true,
				Reason:    check.Reason,
			}
			if check.RiskScore != nil {
				verdict.RiskScore = *check.RiskScore
			}
			return verdict, nil
		}
	}

	if req.Amount.Denom == e.denom && req.Amount.Amount != nil && req.Amount.Amount.Cmp(e.maxAmount) > 0 {
		return models.Verdict{
			RequestID: req.ID,
			Approved:  false,
			Reason:    ReasonLargeAmount,
			RiskScore: LargeAmountRisk,
		}, nil
	}

	return models.Verdict{RequestID: req.ID, Approved: true}, nil
}
