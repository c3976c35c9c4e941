package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 结果标签取值
const (
	ResultAccepted = "accepted"
	ResultRejected = "rejected"

	OutcomeApproved  = "approved"
	OutcomeDenied    = "denied"
	OutcomeUnmatched = "unmatched"
)

// Metrics 网关的Prometheus指标
type Metrics struct {
	registry *prometheus.Registry

	TransferRequests prometheus.Counter
	Verdicts         *prometheus.CounterVec
	DatasetUpdates   *prometheus.CounterVec
	KeyRotations     *prometheus.CounterVec
	DispatchFailures prometheus.Counter
	OutboxBacklog    prometheus.Gauge
}

// New 创建指标集合，注册到独立的registry，便于测试中重复创建
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		TransferRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "amlgate_transfer_requests_total",
			Help: "Total transfer requests accepted into the pending ledger",
		}),

		Verdicts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "amlgate_verdicts_total",
			Help: "Oracle verdicts processed by outcome",
		}, []string{"outcome"}), // approved, denied, unmatched

		DatasetUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "amlgate_dataset_updates_total",
			Help: "Oracle dataset submissions by result",
		}, []string{"result"}),

		KeyRotations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "amlgate_key_rotations_total",
			Help: "Oracle key rotation attempts by result",
		}, []string{"result"}),

		DispatchFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "amlgate_dispatch_failures_total",
			Help: "Outbox records that could not be delivered after retries",
		}),

		OutboxBacklog: factory.NewGauge(prometheus.GaugeOpts{
			Name: "amlgate_outbox_backlog",
			Help: "Outbox records waiting for delivery",
		}),
	}
}

// Handler 返回 /metrics 使用的HTTP处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry 返回底层registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// IncTransferRequest 记录一笔挂起的转账请求
func (m *Metrics) IncTransferRequest() {
	if m != nil {
		m.TransferRequests.Inc()
	}
}

// IncVerdict 记录一次结算结果
func (m *Metrics) IncVerdict(outcome string) {
	if m != nil {
		m.Verdicts.WithLabelValues(outcome).Inc()
	}
}

// IncDatasetUpdate 记录一次数据集提交
func (m *Metrics) IncDatasetUpdate(accepted bool) {
	if m != nil {
		m.DatasetUpdates.WithLabelValues(result(accepted)).Inc()
	}
}

// IncKeyRotation 记录一次密钥轮换
func (m *Metrics) IncKeyRotation(accepted bool) {
	if m != nil {
		m.KeyRotations.WithLabelValues(result(accepted)).Inc()
	}
}

// IncDispatchFailure 记录一次投递失败
func (m *Metrics) IncDispatchFailure() {
	if m != nil {
		m.DispatchFailures.Inc()
	}
}

// SetOutboxBacklog 更新待投递记录数
func (m *Metrics) SetOutboxBacklog(n int) {
	if m != nil {
		m.OutboxBacklog.Set(float64(n))
	}
}

func result(accepted bool) string {
	if accepted {
		return ResultAccepted
	}
	return ResultRejected
}
