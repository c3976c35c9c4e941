package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	apperrors "amlgate/internal/errors"
	"amlgate/pkg/models"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// VerdictGateway 预言机工作者使用的网关能力
type VerdictGateway interface {
	WalletLookup
	SubmitOracleVerdict(ctx context.Context, sender string, verdict models.Verdict) (*models.Response, error)
}

// Worker 消费审计事件，对 aml_check_requested 作出裁决
type Worker struct {
	evaluator *Evaluator
	gateway   VerdictGateway
	sender    string
	logger    *logrus.Logger
}

// NewWorker 创建预言机工作者
func NewWorker(evaluator *Evaluator, gateway VerdictGateway, sender string, logger *logrus.Logger) *Worker {
	return &Worker{
		evaluator: evaluator,
		gateway:   gateway,
		sender:    sender,
		logger:    logger,
	}
}

// Handle 处理一条审计事件消息，非检查请求的事件直接忽略
func (w *Worker) Handle(ctx context.Context, value []byte) (*models.Verdict, error) {
	var event models.EventMessage
	if err := json.Unmarshal(value, &event); err != nil {
		return nil, apperrors.ErrSerializationFailed.WithDetail("审计事件解码失败").WithCause(err)
	}
	if event.Type != models.EventCheckRequested {
		return nil, nil
	}

	req, err := ParseCheckRequest(event.Attributes)
	if err != nil {
		return nil, err
	}

	verdict, err := w.evaluator.Evaluate(ctx, req, w.gateway)
	if err != nil {
		return nil, err
	}

	if _, err := w.gateway.SubmitOracleVerdict(ctx, w.sender, verdict); err != nil {
		return nil, err
	}

	w.logger.WithFields(logrus.Fields{
		"request_id": verdict.RequestID,
		"approved":   verdict.Approved,
		"reason":     verdict.Reason,
	}).Info("已提交预言机裁决")
	return &verdict, nil
}

// Setup 实现 sarama.ConsumerGroupHandler
func (w *Worker) Setup(session sarama.ConsumerGroupSession) error {
	w.logger.WithField("member", session.MemberID()).Info("预言机消费者加入消费组")
	return nil
}

// Cleanup 实现 sarama.ConsumerGroupHandler
func (w *Worker) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim 逐条处理分区消息
//
// 解码失败的消息跳过并提交位移；提交裁决失败时不提交位移，重平衡后重新消费。
// 重复裁决由结算的幂等性吸收。
func (w *Worker) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if _, err := w.Handle(ctx, msg.Value); err != nil {
				if errors.Is(err, apperrors.ErrSerializationFailed) {
					w.logger.WithError(err).WithField("offset", msg.Offset).Warn("跳过无法解析的事件")
					session.MarkMessage(msg, "")
					continue
				}
				w.logger.WithError(err).WithField("offset", msg.Offset).Error("处理检查请求失败")
				return err
			}
			session.MarkMessage(msg, "")
		case <-ctx.Done():
			return nil
		}
	}
}

// NewConsumerGroup 创建审计事件的消费组
func NewConsumerGroup(brokers []string, groupID string) (sarama.ConsumerGroup, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V2_8_0_0
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, apperrors.ErrKafkaProduceFailed.WithDetail("创建消费组失败").WithCause(err)
	}
	return group, nil
}

// Run 在消费组上持续消费，直到 ctx 取消
func (w *Worker) Run(ctx context.Context, group sarama.ConsumerGroup, topics []string) error {
	w.logger.Infof("预言机工作者已启动，主题: %v", topics)

	go func() {
		for err := range group.Errors() {
			w.logger.WithError(err).Warn("消费组错误")
		}
	}()

	for {
		if err := group.Consume(ctx, topics, w); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			w.logger.WithError(err).Error("消费审计事件失败")
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
		if ctx.Err() != nil {
			w.logger.Info("预言机工作者已停止")
			return nil
		}
	}
}
