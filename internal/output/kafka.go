package output

import (
	"encoding/json"
	"time"

	apperrors "amlgate/internal/errors"
	"amlgate/pkg/models"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// KafkaOutput 同步Kafka输出器，每条消息确认后才返回
type KafkaOutput struct {
	logger   *logrus.Logger
	topics   map[string]string
	producer sarama.SyncProducer
}

// NewKafkaOutput 创建Kafka输出器
func NewKafkaOutput(brokers []string, topics map[string]string, logger *logrus.Logger) (*KafkaOutput, error) {
	logger.Infof("初始化Kafka输出器，brokers: %v", brokers)
	logger.Infof("Kafka topics配置: %v", topics)

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Timeout = 5 * time.Second
	config.Version = sarama.V2_8_0_0

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, apperrors.ErrKafkaProduceFailed.WithDetail("创建Kafka生产者失败").WithCause(err)
	}

	logger.Info("Kafka生产者已创建")
	return NewKafkaOutputWithProducer(producer, topics, logger), nil
}

// NewKafkaOutputWithProducer 使用已有生产者创建输出器
func NewKafkaOutputWithProducer(producer sarama.SyncProducer, topics map[string]string, logger *logrus.Logger) *KafkaOutput {
	return &KafkaOutput{
		logger:   logger,
		topics:   topics,
		producer: producer,
	}
}

func (k *KafkaOutput) topic(key, fallback string) string {
	if topic, exists := k.topics[key]; exists && topic != "" {
		return topic
	}
	return fallback
}

// sendToKafka 发送数据到Kafka，同一发件箱记录的消息使用相同的键
func (k *KafkaOutput) sendToKafka(topic, key string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return apperrors.ErrSerializationFailed.WithCause(err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(jsonData),
	}

	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		return apperrors.ErrKafkaProduceFailed.WithContext("topic", topic).WithCause(err)
	}

	k.logger.Debugf("成功发送数据到Kafka topic '%s' (partition: %d, offset: %d)", topic, partition, offset)
	return nil
}

// WriteEvent 写入审计事件
func (k *KafkaOutput) WriteEvent(event *models.EventMessage) error {
	if event == nil {
		return nil
	}
	return k.sendToKafka(k.topic(TopicEvents, DefaultEventsTopic), event.MessageID, event)
}

// WriteInstruction 写入划转指令
func (k *KafkaOutput) WriteInstruction(instruction *models.InstructionMessage) error {
	if instruction == nil {
		return nil
	}
	return k.sendToKafka(k.topic(TopicInstructions, DefaultInstructionsTopic), instruction.MessageID, instruction)
}

// Close 关闭Kafka连接
func (k *KafkaOutput) Close() error {
	if k.producer != nil {
		return k.producer.Close()
	}
	return nil
}
