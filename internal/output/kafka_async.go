package output

import (
	"encoding/json"
	"sync"
	"time"

	apperrors "amlgate/internal/errors"
	"amlgate/pkg/models"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// AsyncKafkaOutput 异步Kafka输出器
//
// 写入只保证进入生产者缓冲区，发送失败只计数和记录日志；
// 需要逐条确认的部署应使用同步输出器。
type AsyncKafkaOutput struct {
	logger      *logrus.Logger
	topics      map[string]string
	producer    sarama.AsyncProducer
	successChan <-chan *sarama.ProducerMessage
	errorChan   <-chan *sarama.ProducerError
	wg          sync.WaitGroup

	// closed 置位后不再向 Input 写入，发送与关闭在 closeMu 下互斥
	closeMu sync.Mutex
	closed  bool

	// 统计信息
	sentCount  int64
	errorCount int64
	mu         sync.RWMutex
}

// NewAsyncKafkaOutput 创建异步Kafka输出器
func NewAsyncKafkaOutput(brokers []string, topics map[string]string, logger *logrus.Logger) (*AsyncKafkaOutput, error) {
	logger.Infof("初始化异步Kafka输出器，brokers: %v", brokers)

	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Retry.Max = 3
	config.Producer.Timeout = 3 * time.Second
	config.Version = sarama.V2_8_0_0

	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Compression = sarama.CompressionSnappy
	config.ChannelBufferSize = 1000

	producer, err := sarama.NewAsyncProducer(brokers, config)
	if err != nil {
		return nil, apperrors.ErrKafkaProduceFailed.WithDetail("创建异步Kafka生产者失败").WithCause(err)
	}

	logger.Info("异步Kafka生产者已创建并启动")
	return NewAsyncKafkaOutputWithProducer(producer, topics, logger), nil
}

// NewAsyncKafkaOutputWithProducer 使用已有生产者创建异步输出器
func NewAsyncKafkaOutputWithProducer(producer sarama.AsyncProducer, topics map[string]string, logger *logrus.Logger) *AsyncKafkaOutput {
	k := &AsyncKafkaOutput{
		logger:      logger,
		topics:      topics,
		producer:    producer,
		successChan: producer.Successes(),
		errorChan:   producer.Errors(),
	}
	k.startBackgroundHandlers()
	return k
}

// startBackgroundHandlers 启动后台处理程序
func (k *AsyncKafkaOutput) startBackgroundHandlers() {
	k.wg.Add(2)
	go func() {
		defer k.wg.Done()
		k.handleSuccesses()
	}()
	go func() {
		defer k.wg.Done()
		k.handleErrors()
	}()
}

// handleSuccesses 处理成功发送的消息，通道关闭后退出
func (k *AsyncKafkaOutput) handleSuccesses() {
	for success := range k.successChan {
		k.mu.Lock()
		k.sentCount++
		k.mu.Unlock()

		k.logger.Debugf("消息成功发送到 topic %s, partition %d, offset %d",
			success.Topic, success.Partition, success.Offset)
	}
}

// handleErrors 处理发送失败的消息，通道关闭后退出
func (k *AsyncKafkaOutput) handleErrors() {
	for err := range k.errorChan {
		k.mu.Lock()
		k.errorCount++
		k.mu.Unlock()

		k.logger.Errorf("Kafka发送失败: topic=%s, error=%v", err.Msg.Topic, err.Err)
	}
}

func (k *AsyncKafkaOutput) topic(key, fallback string) string {
	if topic, exists := k.topics[key]; exists && topic != "" {
		return topic
	}
	return fallback
}

// sendToKafkaAsync 异步发送数据到Kafka
func (k *AsyncKafkaOutput) sendToKafkaAsync(topic, key string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return apperrors.ErrSerializationFailed.WithCause(err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(jsonData),
	}

	k.closeMu.Lock()
	defer k.closeMu.Unlock()
	if k.closed {
		return apperrors.ErrKafkaProduceFailed.WithDetail("生产者已关闭")
	}

	select {
	case k.producer.Input() <- msg:
		return nil
	default:
		return apperrors.ErrKafkaProduceFailed.WithDetail("生产者输入通道已满")
	}
}

// WriteEvent 异步写入审计事件
func (k *AsyncKafkaOutput) WriteEvent(event *models.EventMessage) error {
	if event == nil {
		return nil
	}
	return k.sendToKafkaAsync(k.topic(TopicEvents, DefaultEventsTopic), event.MessageID, event)
}

// WriteInstruction 异步写入划转指令
func (k *AsyncKafkaOutput) WriteInstruction(instruction *models.InstructionMessage) error {
	if instruction == nil {
		return nil
	}
	return k.sendToKafkaAsync(k.topic(TopicInstructions, DefaultInstructionsTopic), instruction.MessageID, instruction)
}

// GetStats 获取统计信息
func (k *AsyncKafkaOutput) GetStats() (int64, int64) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.sentCount, k.errorCount
}

// Close 关闭生产者，AsyncClose 会先发送缓冲区内的消息
func (k *AsyncKafkaOutput) Close() error {
	k.closeMu.Lock()
	if k.closed {
		k.closeMu.Unlock()
		return nil
	}
	k.closed = true
	k.closeMu.Unlock()

	k.logger.Info("关闭异步Kafka生产者...")
	k.producer.AsyncClose()
	k.wg.Wait()

	sent, errors := k.GetStats()
	k.logger.Infof("异步Kafka生产者已关闭，总计发送: %d，错误: %d", sent, errors)
	return nil
}
