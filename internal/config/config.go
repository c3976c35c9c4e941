package config

import (
	"fmt"
	"strings"
	"time"

	"amlgate/internal/logging"

	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，如 AMLGATE_STORE_PATH
const EnvPrefix = "AMLGATE"

// Config 主配置
type Config struct {
	Store      *StoreConfig       `mapstructure:"store"`
	API        *APIConfig         `mapstructure:"api"`
	Validation *ValidationConfig  `mapstructure:"validation"`
	Output     *OutputConfig      `mapstructure:"output"`
	Dispatch   *DispatchConfig    `mapstructure:"dispatch"`
	Oracle     *OracleConfig      `mapstructure:"oracle"`
	Logging    *logging.LogConfig `mapstructure:"logging"`
}

// StoreConfig 状态存储配置
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// APIConfig HTTP服务配置
type APIConfig struct {
	Port int `mapstructure:"port"`
}

// ValidationConfig 输入校验配置
type ValidationConfig struct {
	AddressFormat string `mapstructure:"address_format"` // hex 或 plain
}

// KafkaConfig Kafka配置
type KafkaConfig struct {
	Brokers []string          `mapstructure:"brokers"`
	Topics  map[string]string `mapstructure:"topics"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	Format    string       `mapstructure:"format"`
	Directory string       `mapstructure:"directory"`
	Kafka     *KafkaConfig `mapstructure:"kafka"`
}

// DispatchConfig 发件箱投递配置
type DispatchConfig struct {
	Interval    string `mapstructure:"interval"`
	BatchSize   int    `mapstructure:"batch_size"`
	MaxAttempts int    `mapstructure:"max_attempts"`
}

// OracleConfig 预言机工具配置
type OracleConfig struct {
	PrivateKey      string `mapstructure:"private_key"`
	SourceDSN       string `mapstructure:"source_dsn"`
	PublishInterval string `mapstructure:"publish_interval"`
	MaxAmount       string `mapstructure:"max_amount"`
	MaxAmountDenom  string `mapstructure:"max_amount_denom"`
	ConsumerGroup   string `mapstructure:"consumer_group"`
	EnableWorker    bool   `mapstructure:"enable_worker"`
	Sender          string `mapstructure:"sender"`
}

// DispatchInterval 解析投递间隔
func (d *DispatchConfig) DispatchInterval() time.Duration {
	interval, err := time.ParseDuration(d.Interval)
	if err != nil {
		return time.Second
	}
	return interval
}

// PublishEvery 解析数据集发布间隔，0 表示不定时发布
func (o *OracleConfig) PublishEvery() time.Duration {
	if o.PublishInterval == "" {
		return 0
	}
	interval, err := time.ParseDuration(o.PublishInterval)
	if err != nil {
		return 0
	}
	return interval
}

// LoadConfig 加载配置：默认值 < YAML文件 < 环境变量
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults 把默认配置注册到viper，保证环境变量可以覆盖任意键
func setDefaults(v *viper.Viper) {
	d := GetDefaultConfig()

	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("api.port", d.API.Port)
	v.SetDefault("validation.address_format", d.Validation.AddressFormat)

	v.SetDefault("output.format", d.Output.Format)
	v.SetDefault("output.directory", d.Output.Directory)
	v.SetDefault("output.kafka.brokers", d.Output.Kafka.Brokers)
	v.SetDefault("output.kafka.topics", d.Output.Kafka.Topics)

	v.SetDefault("dispatch.interval", d.Dispatch.Interval)
	v.SetDefault("dispatch.batch_size", d.Dispatch.BatchSize)
	v.SetDefault("dispatch.max_attempts", d.Dispatch.MaxAttempts)

	v.SetDefault("oracle.private_key", d.Oracle.PrivateKey)
	v.SetDefault("oracle.source_dsn", d.Oracle.SourceDSN)
	v.SetDefault("oracle.publish_interval", d.Oracle.PublishInterval)
	v.SetDefault("oracle.max_amount", d.Oracle.MaxAmount)
	v.SetDefault("oracle.max_amount_denom", d.Oracle.MaxAmountDenom)
	v.SetDefault("oracle.consumer_group", d.Oracle.ConsumerGroup)
	v.SetDefault("oracle.enable_worker", d.Oracle.EnableWorker)
	v.SetDefault("oracle.sender", d.Oracle.Sender)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)
}

// GetDefaultConfig 获取默认配置
func GetDefaultConfig() *Config {
	return &Config{
		Store: &StoreConfig{
			Path: "./data/amlgate.db",
		},
		API: &APIConfig{
			Port: 8080,
		},
		Validation: &ValidationConfig{
			AddressFormat: "hex",
		},
		Output: &OutputConfig{
			Format:    "kafka",
			Directory: "./outputs",
			Kafka: &KafkaConfig{
				Brokers: []string{"localhost:9092"},
				Topics: map[string]string{
					"events":       "amlgate_audit_events",
					"instructions": "amlgate_fund_instructions",
				},
			},
		},
		Dispatch: &DispatchConfig{
			Interval:    "1s",
			BatchSize:   100,
			MaxAttempts: 5,
		},
		Oracle: &OracleConfig{
			PublishInterval: "",
			MaxAmount:       "10000",
			MaxAmountDenom:  "ustake",
			ConsumerGroup:   "amlgate-oracle",
			EnableWorker:    false,
		},
		Logging: logging.DefaultLogConfig(),
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Store == nil || c.Store.Path == "" {
		return fmt.Errorf("store.path 不能为空")
	}
	if c.API == nil || c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port 无效")
	}

	if c.Validation == nil {
		return fmt.Errorf("缺少 validation 配置")
	}
	switch c.Validation.AddressFormat {
	case "hex", "plain":
	default:
		return fmt.Errorf("不支持的地址格式: %s", c.Validation.AddressFormat)
	}

	if c.Output == nil {
		return fmt.Errorf("缺少 output 配置")
	}
	switch c.Output.Format {
	case "json":
		if c.Output.Directory == "" {
			return fmt.Errorf("output.directory 不能为空")
		}
	case "kafka", "kafka_async":
		if c.Output.Kafka == nil || len(c.Output.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka 输出需要至少一个 broker")
		}
		for _, key := range []string{"events", "instructions"} {
			if c.Output.Kafka.Topics[key] == "" {
				return fmt.Errorf("缺少 kafka 主题: %s", key)
			}
		}
	default:
		return fmt.Errorf("不支持的输出格式: %s", c.Output.Format)
	}

	if c.Dispatch == nil {
		return fmt.Errorf("缺少 dispatch 配置")
	}
	if _, err := time.ParseDuration(c.Dispatch.Interval); err != nil {
		return fmt.Errorf("dispatch.interval 无效: %w", err)
	}
	if c.Dispatch.BatchSize <= 0 {
		return fmt.Errorf("dispatch.batch_size 必须大于0")
	}
	if c.Dispatch.MaxAttempts <= 0 {
		return fmt.Errorf("dispatch.max_attempts 必须大于0")
	}

	if c.Oracle == nil {
		return fmt.Errorf("缺少 oracle 配置")
	}
	if c.Oracle.PublishInterval != "" {
		if _, err := time.ParseDuration(c.Oracle.PublishInterval); err != nil {
			return fmt.Errorf("oracle.publish_interval 无效: %w", err)
		}
	}

	return nil
}
