package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"amlgate/internal/logging"
	"amlgate/internal/metrics"
	"amlgate/internal/output"
	"amlgate/internal/retry"
	"amlgate/internal/store"
	"amlgate/pkg/models"

	"github.com/sirupsen/logrus"
)

// 投递默认值
const (
	DefaultBatchSize = 100
	DefaultInterval  = time.Second
)

// Dispatcher 发件箱投递器
//
// 按序号顺序把已提交的响应写到输出端，全部写入成功后才确认删除记录。
// 某条记录重试后仍失败时停止本轮投递，保证后续记录不会越过它。
type Dispatcher struct {
	store     store.Store
	output    output.Output
	retrier   *retry.Retrier
	metrics   *metrics.Metrics
	logger    *logrus.Logger
	batchSize int

	notify chan struct{}
	mu     sync.Mutex // 串行化 Flush

	statsMu    sync.RWMutex
	dispatched uint64
	failures   uint64
	lastError  error
}

// Option 投递器选项
type Option func(*Dispatcher)

// WithBatchSize 设置每轮读取的记录数
func WithBatchSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.batchSize = n
		}
	}
}

// WithRetrier 设置重试器
func WithRetrier(r *retry.Retrier) Option {
	return func(d *Dispatcher) {
		if r != nil {
			d.retrier = r
		}
	}
}

// WithMetrics 设置指标
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// NewDispatcher 创建发件箱投递器
func NewDispatcher(st store.Store, out output.Output, logger *logrus.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:     st,
		output:    out,
		logger:    logger,
		batchSize: DefaultBatchSize,
		notify:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.retrier == nil {
		d.retrier = retry.NewRetrier(retry.DefaultRetryConfig, logger)
	}
	return d
}

// Notify 提示有新的发件箱记录，不阻塞
func (d *Dispatcher) Notify() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// Flush 投递当前所有待发记录，返回成功投递的记录数
func (d *Dispatcher) Flush(ctx context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delivered := 0
	for {
		records, err := d.store.PendingOutbox(d.batchSize)
		if err != nil {
			return delivered, err
		}
		if len(records) == 0 {
			break
		}

		for _, record := range records {
			if err := ctx.Err(); err != nil {
				return delivered, err
			}
			if err := d.deliver(ctx, record); err != nil {
				d.recordFailure(err)
				d.updateBacklog()
				return delivered, err
			}
			delivered++
		}

		if len(records) < d.batchSize {
			break
		}
	}

	d.updateBacklog()
	return delivered, nil
}

// deliver 写出一条记录的全部消息并确认
func (d *Dispatcher) deliver(ctx context.Context, record *models.OutboxRecord) error {
	log := logging.NewDispatchLogger(d.logger, record.Sequence, record.MessageID)

	err := d.retrier.Execute(ctx, fmt.Sprintf("dispatch#%d", record.Sequence), func() error {
		for _, event := range record.EventMessages() {
			if err := d.output.WriteEvent(event); err != nil {
				return err
			}
		}
		for _, instruction := range record.InstructionMessages() {
			if err := d.output.WriteInstruction(instruction); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.WithError(err).Error("发件箱记录投递失败")
		return err
	}

	if err := d.store.AckOutbox(record.Sequence); err != nil {
		log.WithError(err).Error("确认发件箱记录失败")
		return err
	}

	d.statsMu.Lock()
	d.dispatched++
	d.statsMu.Unlock()

	log.WithFields(logrus.Fields{
		"operation":    record.Operation,
		"events":       len(record.Response.Events),
		"instructions": len(record.Response.Messages),
	}).Debug("发件箱记录已投递")
	return nil
}

func (d *Dispatcher) recordFailure(err error) {
	d.statsMu.Lock()
	d.failures++
	d.lastError = err
	d.statsMu.Unlock()
	d.metrics.IncDispatchFailure()
}

func (d *Dispatcher) updateBacklog() {
	backlog, err := d.store.OutboxBacklog()
	if err != nil {
		d.logger.WithError(err).Warn("读取发件箱积压数失败")
		return
	}
	d.metrics.SetOutboxBacklog(backlog)
}

// Run 定时投递，直到 ctx 取消
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	d.logger.Infof("发件箱投递器已启动，间隔: %v", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := d.Flush(ctx); err != nil && ctx.Err() == nil {
			d.logger.WithError(err).Warn("本轮投递未完成，等待下一轮")
		}

		select {
		case <-ctx.Done():
			d.logger.Info("发件箱投递器已停止")
			return nil
		case <-ticker.C:
		case <-d.notify:
		}
	}
}

// Stats 投递统计
type Stats struct {
	Dispatched uint64 `json:"dispatched"`
	Failures   uint64 `json:"failures"`
	Backlog    int    `json:"backlog"`
	LastError  string `json:"last_error,omitempty"`
}

// GetStats 获取投递统计
func (d *Dispatcher) GetStats() Stats {
	d.statsMu.RLock()
	stats := Stats{Dispatched: d.dispatched, Failures: d.failures}
	if d.lastError != nil {
		stats.LastError = d.lastError.Error()
	}
	d.statsMu.RUnlock()

	if backlog, err := d.store.OutboxBacklog(); err == nil {
		stats.Backlog = backlog
	}
	return stats
}

// Committed 命令提交后立即唤醒投递循环
func (d *Dispatcher) Committed(*models.OutboxRecord) {
	d.Notify()
}
