package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"amlgate/internal/config"
	"amlgate/pkg/models"

	"github.com/sirupsen/logrus"
)

// 主题键
const (
	TopicEvents       = "events"
	TopicInstructions = "instructions"

	DefaultEventsTopic       = "amlgate_audit_events"
	DefaultInstructionsTopic = "amlgate_fund_instructions"
)

// Output 审计事件与划转指令的输出接口
type Output interface {
	WriteEvent(event *models.EventMessage) error
	WriteInstruction(instruction *models.InstructionMessage) error
	Close() error
}

// NewOutput 按配置创建输出器
func NewOutput(cfg *config.OutputConfig, logger *logrus.Logger) (Output, error) {
	if cfg == nil {
		return nil, fmt.Errorf("缺少输出配置")
	}

	switch cfg.Format {
	case "kafka", "kafka_async":
		brokers := []string{"localhost:9092"}
		topics := map[string]string{
			TopicEvents:       DefaultEventsTopic,
			TopicInstructions: DefaultInstructionsTopic,
		}
		if cfg.Kafka != nil {
			if len(cfg.Kafka.Brokers) > 0 {
				brokers = cfg.Kafka.Brokers
			}
			for k, v := range cfg.Kafka.Topics {
				topics[k] = v
			}
		}

		if cfg.Format == "kafka_async" {
			return NewAsyncKafkaOutput(brokers, topics, logger)
		}
		return NewKafkaOutput(brokers, topics, logger)
	case "json":
		return NewFileOutput(cfg.Directory)
	default:
		return nil, fmt.Errorf("不支持的输出格式: %s", cfg.Format)
	}
}

// FileOutput JSON-lines 文件输出
type FileOutput struct {
	outputDir       string
	mu              sync.Mutex
	eventFile       *os.File
	instructionFile *os.File
}

// NewFileOutput 创建文件输出器
func NewFileOutput(outputPath string) (*FileOutput, error) {
	if err := os.MkdirAll(outputPath, 0755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")

	eventFile, err := os.Create(filepath.Join(outputPath, fmt.Sprintf("audit_events_%s.json", timestamp)))
	if err != nil {
		return nil, fmt.Errorf("创建审计事件文件失败: %w", err)
	}

	instructionFile, err := os.Create(filepath.Join(outputPath, fmt.Sprintf("fund_instructions_%s.json", timestamp)))
	if err != nil {
		eventFile.Close()
		return nil, fmt.Errorf("创建划转指令文件失败: %w", err)
	}

	return &FileOutput{
		outputDir:       outputPath,
		eventFile:       eventFile,
		instructionFile: instructionFile,
	}, nil
}

// writeLine 写入一行JSON并刷新到磁盘
func (o *FileOutput) writeLine(file *os.File, kind string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("序列化%s失败: %w", kind, err)
	}
	data = append(data, '\n')

	o.mu.Lock()
	defer o.mu.Unlock()

	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("写入%s文件失败: %w", kind, err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("刷新%s文件失败: %w", kind, err)
	}
	return nil
}

// WriteEvent 写入审计事件
func (o *FileOutput) WriteEvent(event *models.EventMessage) error {
	if event == nil {
		return nil
	}
	return o.writeLine(o.eventFile, "审计事件", event)
}

// WriteInstruction 写入划转指令
func (o *FileOutput) WriteInstruction(instruction *models.InstructionMessage) error {
	if instruction == nil {
		return nil
	}
	return o.writeLine(o.instructionFile, "划转指令", instruction)
}

// Close 关闭文件
func (o *FileOutput) Close() error {
	var errors []error

	if o.eventFile != nil {
		if err := o.eventFile.Close(); err != nil {
			errors = append(errors, fmt.Errorf("关闭审计事件文件失败: %w", err))
		}
	}
	if o.instructionFile != nil {
		if err := o.instructionFile.Close(); err != nil {
			errors = append(errors, fmt.Errorf("关闭划转指令文件失败: %w", err))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("关闭输出文件时发生错误: %v", errors)
	}
	return nil
}
