package gateway

import (
	"context"

	"amlgate/internal/contract"
	apperrors "amlgate/internal/errors"
	"amlgate/internal/logging"
	"amlgate/internal/metrics"
	"amlgate/internal/store"
	"amlgate/pkg/models"

	"github.com/sirupsen/logrus"
)

// 命令名称，写入发件箱记录与消息
const (
	OpInstantiate           = "instantiate"
	OpRotateOracleKey       = "rotate_oracle_key"
	OpSubmitOracleDataset   = "submit_oracle_dataset"
	OpSubmitTransferRequest = "submit_transfer_request"
	OpSubmitOracleVerdict   = "submit_oracle_verdict"
)

// CommitListener 命令提交后的回调，在事务提交之后调用
type CommitListener interface {
	Committed(record *models.OutboxRecord)
}

// Gateway 合约的宿主入口
//
// 每条命令在 store 的单个读写事务中执行，查询使用只读事务。
type Gateway struct {
	store        store.Store
	contract     *contract.Contract
	metrics      *metrics.Metrics
	errorHandler *apperrors.ErrorHandler
	listeners    []CommitListener
	logger       *logrus.Logger
}

// Option 网关选项
type Option func(*Gateway)

// WithMetrics 设置指标
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// WithListener 注册提交回调
func WithListener(l CommitListener) Option {
	return func(g *Gateway) {
		if l != nil {
			g.listeners = append(g.listeners, l)
		}
	}
}

// WithErrorHandler 设置错误处理器
func WithErrorHandler(h *apperrors.ErrorHandler) Option {
	return func(g *Gateway) {
		if h != nil {
			g.errorHandler = h
		}
	}
}

// New 创建网关
func New(st store.Store, c *contract.Contract, logger *logrus.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		store:    st,
		contract: c,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.errorHandler == nil {
		g.errorHandler = apperrors.NewErrorHandler(logger)
	}
	return g
}

// ErrorHandler 返回错误处理器
func (g *Gateway) ErrorHandler() *apperrors.ErrorHandler {
	return g.errorHandler
}

// Store 返回底层存储
func (g *Gateway) Store() store.Store {
	return g.store
}

// AddListener 在创建后注册提交回调，需在处理请求前调用
func (g *Gateway) AddListener(l CommitListener) {
	if l != nil {
		g.listeners = append(g.listeners, l)
	}
}

// execute 在事务中运行命令并通知回调
func (g *Gateway) execute(ctx context.Context, operation, sender string, fn store.MutateFunc) (*models.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var resp *models.Response
	record, err := g.store.Execute(operation, sender, func(state store.State) (*models.Response, error) {
		r, err := fn(state)
		resp = r
		return r, err
	})
	if err != nil {
		ge := g.errorHandler.HandleError(ctx, err)
		logging.NewOperationLogger(g.logger, operation, sender).
			WithField("error_code", ge.Code).
			Debug("命令被拒绝，状态未变更")
		return nil, err
	}

	if record != nil && record.Sequence != 0 {
		for _, l := range g.listeners {
			l.Committed(record)
		}
	}
	return resp, nil
}

// view 在只读事务中运行查询
func (g *Gateway) view(ctx context.Context, fn func(state store.State) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := g.store.View(fn); err != nil {
		if ge, ok := apperrors.AsGateError(err); !ok || ge.Type != apperrors.ErrorTypeNotFound {
			g.errorHandler.HandleError(ctx, err)
		}
		return err
	}
	return nil
}

// Instantiate 实例化合约
func (g *Gateway) Instantiate(ctx context.Context, sender string, msg contract.InstantiateMsg) (*models.Response, error) {
	return g.execute(ctx, OpInstantiate, sender, func(state store.State) (*models.Response, error) {
		return g.contract.Instantiate(state, sender, msg)
	})
}

// RotateOracleKey 轮换预言机公钥
func (g *Gateway) RotateOracleKey(ctx context.Context, sender string, msg contract.RotateOracleKeyMsg) (*models.Response, error) {
	resp, err := g.execute(ctx, OpRotateOracleKey, sender, func(state store.State) (*models.Response, error) {
		r, _, err := g.contract.RotateOracleKey(state, sender, msg)
		return r, err
	})
	g.metrics.IncKeyRotation(err == nil)
	return resp, err
}

// SubmitOracleDataset 整体替换合规数据集
func (g *Gateway) SubmitOracleDataset(ctx context.Context, sender string, msg contract.SubmitOracleDatasetMsg) (*models.Response, error) {
	resp, err := g.execute(ctx, OpSubmitOracleDataset, sender, func(state store.State) (*models.Response, error) {
		return g.contract.SubmitOracleDataset(state, sender, msg)
	})
	g.metrics.IncDatasetUpdate(err == nil)
	return resp, err
}

// SubmitTransferRequest 登记转账请求，返回分配的请求ID
func (g *Gateway) SubmitTransferRequest(ctx context.Context, sender string, msg contract.SubmitTransferRequestMsg) (*models.Response, uint64, error) {
	var id uint64
	resp, err := g.execute(ctx, OpSubmitTransferRequest, sender, func(state store.State) (*models.Response, error) {
		r, assigned, err := g.contract.SubmitTransferRequest(state, sender, msg)
		id = assigned
		return r, err
	})
	if err != nil {
		return nil, 0, err
	}
	g.metrics.IncTransferRequest()
	return resp, id, nil
}

// SubmitOracleVerdict 结算请求
func (g *Gateway) SubmitOracleVerdict(ctx context.Context, sender string, verdict models.Verdict) (*models.Response, error) {
	resp, err := g.execute(ctx, OpSubmitOracleVerdict, sender, func(state store.State) (*models.Response, error) {
		return g.contract.SubmitOracleVerdict(state, sender, verdict)
	})
	if err != nil {
		return nil, err
	}
	g.metrics.IncVerdict(verdictOutcome(resp))
	return resp, nil
}

func verdictOutcome(resp *models.Response) string {
	for _, e := range resp.Events {
		switch e.Type {
		case models.EventApproved:
			return metrics.OutcomeApproved
		case models.EventDenied:
			return metrics.OutcomeDenied
		}
	}
	return metrics.OutcomeUnmatched
}
