package models

import (
	"time"
)

// 审计事件类型
const (
	EventInstantiate       = "instantiate"
	EventOracleKeyUpdate   = "oracle_admin_update"
	EventOracleDataUpdate  = "oracle_data_update"
	EventCheckRequested    = "aml_check_requested"
	EventApproved          = "aml_approved"
	EventDenied            = "aml_denied"
	EventVerdictUnmatched  = "aml_verdict_unmatched"
	ErrNoSuchRequestIDText = "no such request_id"
)

// Attribute 事件属性
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Event 审计事件
type Event struct {
	Type       string      `json:"type"`
	Attributes []Attribute `json:"attributes"`
}

// NewEvent 创建审计事件
func NewEvent(eventType string) *Event {
	return &Event{Type: eventType, Attributes: make([]Attribute, 0, 8)}
}

// Add 追加属性，返回自身便于链式调用
func (e *Event) Add(key, value string) *Event {
	e.Attributes = append(e.Attributes, Attribute{Key: key, Value: value})
	return e
}

// Get 按键读取属性
func (e Event) Get(key string) (string, bool) {
	for _, attr := range e.Attributes {
		if attr.Key == key {
			return attr.Value, true
		}
	}
	return "", false
}

// AttributeMap 属性转为map
func (e Event) AttributeMap() map[string]string {
	attrs := make(map[string]string, len(e.Attributes))
	for _, attr := range e.Attributes {
		attrs[attr.Key] = attr.Value
	}
	return attrs
}

// BankSend 资金划转指令，由宿主账本在状态转换结束时执行
type BankSend struct {
	ToAddress string `json:"to_address"`
	Amount    []Coin `json:"amount"`
}

// Response 一次状态变更的结果
type Response struct {
	Events   []Event    `json:"events"`
	Messages []BankSend `json:"messages,omitempty"`
}

// AddEvent 追加事件
func (r *Response) AddEvent(e *Event) *Response {
	r.Events = append(r.Events, *e)
	return r
}

// AddMessage 追加划转指令
func (r *Response) AddMessage(msg BankSend) *Response {
	r.Messages = append(r.Messages, msg)
	return r
}

// OutboxRecord 发件箱记录，与状态变更在同一事务内写入
type OutboxRecord struct {
	Sequence  uint64    `json:"sequence"`
	MessageID string    `json:"message_id"`
	Operation string    `json:"operation"`
	Sender    string    `json:"sender"`
	CreatedAt time.Time `json:"created_at"`
	Response  Response  `json:"response"`
}

// EventMessage 投递到审计主题的消息
type EventMessage struct {
	MessageID  string            `json:"message_id"`
	Sequence   uint64            `json:"sequence"`
	Index      int               `json:"index"`
	Operation  string            `json:"operation"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Timestamp  int64             `json:"timestamp"`
}

// InstructionMessage 投递到划转主题的消息
type InstructionMessage struct {
	MessageID string `json:"message_id"`
	Sequence  uint64 `json:"sequence"`
	Index     int    `json:"index"`
	ToAddress string `json:"to_address"`
	Amount    []Coin `json:"amount"`
	Timestamp int64  `json:"timestamp"`
}

// EventMessages 展开发件箱记录中的事件
func (r *OutboxRecord) EventMessages() []*EventMessage {
	msgs := make([]*EventMessage, 0, len(r.Response.Events))
	for i, e := range r.Response.Events {
		msgs = append(msgs, &EventMessage{
			MessageID:  r.MessageID,
			Sequence:   r.Sequence,
			Index:      i,
			Operation:  r.Operation,
			Type:       e.Type,
			Attributes: e.AttributeMap(),
			Timestamp:  r.CreatedAt.Unix(),
		})
	}
	return msgs
}

// InstructionMessages 展开发件箱记录中的划转指令
func (r *OutboxRecord) InstructionMessages() []*InstructionMessage {
	msgs := make([]*InstructionMessage, 0, len(r.Response.Messages))
	for i, m := range r.Response.Messages {
		msgs = append(msgs, &InstructionMessage{
			MessageID: r.MessageID,
			Sequence:  r.Sequence,
			Index:     i,
			ToAddress: m.ToAddress,
			Amount:    m.Amount,
			Timestamp: r.CreatedAt.Unix(),
		})
	}
	return msgs
}
