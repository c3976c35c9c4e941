package contract

import (
	"strconv"

	apperrors "amlgate/internal/errors"
	"amlgate/internal/store"
	"amlgate/pkg/models"

	"github.com/sirupsen/logrus"
)

// SubmitTransferRequest 登记待结算转账并分配请求ID，不等待预言机
func (c *Contract) SubmitTransferRequest(state store.State, sender string, msg SubmitTransferRequestMsg) (*models.Response, uint64, error) {
	if err := c.validator.ValidateRecipient(msg.Recipient); err != nil {
		return nil, 0, err
	}
	if err := c.validator.ValidateAmount(msg.Amount); err != nil {
		return nil, 0, err
	}

	counters, err := loadCounters(state)
	if err != nil {
		return nil, 0, err
	}

	id := counters.Index
	transfer := models.PendingTransfer{
		ID:        id,
		Sender:    sender,
		Recipient: msg.Recipient,
		Amount:    msg.Amount,
	}
	if err := state.SavePendingTransfer(transfer); err != nil {
		return nil, 0, err
	}

	counters.Index = id + 1
	if err := state.SetCounters(counters); err != nil {
		return nil, 0, err
	}

	c.logger.WithFields(logrus.Fields{
		"request_id": id,
		"sender":     sender,
		"recipient":  msg.Recipient,
		"amount":     msg.Amount.String(),
	}).Info("转账请求已登记，等待预言机裁决")

	resp := &models.Response{}
	resp.AddEvent(models.NewEvent(models.EventCheckRequested).
		Add("index", strconv.FormatUint(id, 10)).
		Add("sender", sender).
		Add("recipient", msg.Recipient).
		Add("amount", msg.Amount.AmountString()).
		Add("denom", msg.Amount.Denom))
	return resp, id, nil
}

// PendingRequest 查询待结算请求
func (c *Contract) PendingRequest(state store.State, id uint64) (*models.PendingTransfer, error) {
	transfer, err := state.PendingTransfer(id)
	if err != nil {
		return nil, err
	}
	if transfer == nil {
		return nil, apperrors.ErrNotFound.WithContext("request_id", id)
	}
	return transfer, nil
}

// PendingRequests 按ID升序列出全部待结算请求
func (c *Contract) PendingRequests(state store.State) ([]models.PendingTransfer, error) {
	return state.PendingTransfers()
}

// NextRequestID 下一个将被分配的请求ID
func (c *Contract) NextRequestID(state store.State) (uint64, error) {
	counters, err := loadCounters(state)
	if err != nil {
		return 0, err
	}
	return counters.Index, nil
}
