package api

import (
	"sync"

	"amlgate/pkg/models"
)

// DefaultFeedSize 事件流保留的最近事件数
const DefaultFeedSize = 1000

// EventFeed 最近审计事件的内存环形缓冲，供 /api/v1/events 查询
type EventFeed struct {
	events    []*models.EventMessage
	maxEvents int
	mu        sync.RWMutex
}

// NewEventFeed 创建事件流
func NewEventFeed(maxEvents int) *EventFeed {
	if maxEvents <= 0 {
		maxEvents = DefaultFeedSize
	}
	return &EventFeed{
		events:    make([]*models.EventMessage, 0, maxEvents),
		maxEvents: maxEvents,
	}
}

// Committed 实现 gateway.CommitListener
func (f *EventFeed) Committed(record *models.OutboxRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.events = append(f.events, record.EventMessages()...)
	if overflow := len(f.events) - f.maxEvents; overflow > 0 {
		f.events = append(f.events[:0:0], f.events[overflow:]...)
	}
}

// Page 分页查询，最新的事件在前；eventType 非空时按类型过滤
func (f *EventFeed) Page(eventType string, page, pageSize int) ([]*models.EventMessage, int) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	matched := make([]*models.EventMessage, 0, len(f.events))
	for i := len(f.events) - 1; i >= 0; i-- {
		if eventType == "" || f.events[i].Type == eventType {
			matched = append(matched, f.events[i])
		}
	}

	total := len(matched)
	start := (page - 1) * pageSize
	if start >= total {
		return []*models.EventMessage{}, total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return matched[start:end], total
}

// Len 当前缓存的事件数
func (f *EventFeed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.events)
}

// Clear 清空事件流
func (f *EventFeed) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = make([]*models.EventMessage, 0, f.maxEvents)
}
