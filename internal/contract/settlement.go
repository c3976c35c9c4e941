package contract

import (
	"strconv"

	"amlgate/internal/logging"
	"amlgate/internal/store"
	"amlgate/pkg/models"
)

// SubmitOracleVerdict 根据预言机裁决结算请求
//
// 未知或已结算的ID只产生诊断事件并正常返回。结算指针 next_id
// 仅在请求ID恰好等于当前指针时前移。
func (c *Contract) SubmitOracleVerdict(state store.State, sender string, verdict models.Verdict) (*models.Response, error) {
	log := logging.NewSettlementLogger(c.logger, verdict.RequestID)
	resp := &models.Response{}

	transfer, err := state.PendingTransfer(verdict.RequestID)
	if err != nil {
		return nil, err
	}
	if transfer == nil {
		log.Warn("裁决对应的请求不存在，忽略")
		resp.AddEvent(models.NewEvent(models.EventVerdictUnmatched).
			Add("error", models.ErrNoSuchRequestIDText).
			Add("request_id", strconv.FormatUint(verdict.RequestID, 10)))
		return resp, nil
	}

	if err := state.RemovePendingTransfer(verdict.RequestID); err != nil {
		return nil, err
	}

	counters, err := loadCounters(state)
	if err != nil {
		return nil, err
	}
	if verdict.RequestID == counters.NextID {
		counters.NextID++
		if err := state.SetCounters(counters); err != nil {
			return nil, err
		}
	}

	eventType := models.EventDenied
	if verdict.Approved {
		eventType = models.EventApproved
		resp.AddMessage(models.BankSend{
			ToAddress: transfer.Recipient,
			Amount:    []models.Coin{transfer.Amount},
		})
	}

	resp.AddEvent(models.NewEvent(eventType).
		Add("request_id", strconv.FormatUint(verdict.RequestID, 10)).
		Add("sender", transfer.Sender).
		Add("recipient", transfer.Recipient).
		Add("amount", transfer.Amount.AmountString()).
		Add("denom", transfer.Amount.Denom).
		Add("flagged", strconv.FormatBool(verdict.Flagged)).
		Add("reason", verdict.Reason).
		Add("risk_score", strconv.FormatUint(verdict.RiskScore, 10)))

	log.WithField("approved", verdict.Approved).WithField("oracle", sender).Info("请求已结算")
	return resp, nil
}

// NextSettlementID 查询结算指针
func (c *Contract) NextSettlementID(state store.State) (uint64, error) {
	counters, err := loadCounters(state)
	if err != nil {
		return 0, err
	}
	return counters.NextID, nil
}
