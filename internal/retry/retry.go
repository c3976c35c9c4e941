package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	apperrors "amlgate/internal/errors"

	"github.com/sirupsen/logrus"
)

// RetryConfig 重试配置
type RetryConfig struct {
	MaxAttempts         int           `json:"max_attempts"`
	InitialInterval     time.Duration `json:"initial_interval"`
	MaxInterval         time.Duration `json:"max_interval"`
	BackoffFactor       float64       `json:"backoff_factor"`
	RandomizationFactor float64       `json:"randomization_factor"`
	EnableJitter        bool          `json:"enable_jitter"`
}

// DefaultRetryConfig 默认重试配置，用于发件箱投递
var DefaultRetryConfig = &RetryConfig{
	MaxAttempts:         5,
	InitialInterval:     100 * time.Millisecond,
	MaxInterval:         10 * time.Second,
	BackoffFactor:       2.0,
	RandomizationFactor: 0.1,
	EnableJitter:        true,
}

// SourceRetryConfig 读取预言机数据源的重试配置
var SourceRetryConfig = &RetryConfig{
	MaxAttempts:         3,
	InitialInterval:     500 * time.Millisecond,
	MaxInterval:         5 * time.Second,
	BackoffFactor:       2.0,
	RandomizationFactor: 0.2,
	EnableJitter:        true,
}

// WithMaxAttempts 返回修改了最大尝试次数的配置副本
func (c RetryConfig) WithMaxAttempts(attempts int) *RetryConfig {
	if attempts > 0 {
		c.MaxAttempts = attempts
	}
	return &c
}

// transientErrors 网络层的临时错误片段
var transientErrors = []string{
	"connection refused",
	"connection reset",
	"i/o timeout",
	"timeout",
	"temporary failure",
	"broken pipe",
	"no such host",
	"network is unreachable",
	"out of brokers",
	"leader not available",
	"not leader for partition",
}

// IsRetryableError 判断错误是否值得重试
//
// 带错误码的错误以错误码的分类为准，其余错误按网络临时错误判断。
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if ge, ok := apperrors.AsGateError(err); ok {
		return ge.IsRetryable()
	}

	errStr := strings.ToLower(err.Error())
	for _, fragment := range transientErrors {
		if strings.Contains(errStr, fragment) {
			return true
		}
	}
	return false
}

// Retrier 重试器
type Retrier struct {
	config *RetryConfig
	logger *logrus.Logger
	rand   *rand.Rand
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRetrier 创建重试器
func NewRetrier(config *RetryConfig, logger *logrus.Logger) *Retrier {
	if config == nil {
		config = DefaultRetryConfig
	}
	if config.MaxAttempts <= 0 {
		config = config.WithMaxAttempts(1)
	}

	return &Retrier{
		config: config,
		logger: logger,
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:  sleepContext,
	}
}

// ExecuteFunc 执行函数类型
type ExecuteFunc func() error

// Execute 执行 fn，可重试的失败按指数退避重试
func (r *Retrier) Execute(ctx context.Context, operation string, fn ExecuteFunc) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			if attempt > 1 {
				r.logger.Debugf("操作 '%s' 在第 %d 次尝试后成功", operation, attempt)
			}
			return nil
		}

		if !IsRetryableError(err) {
			r.logger.Debugf("操作 '%s' 失败且不可重试: %v", operation, err)
			return err
		}

		if attempt >= r.config.MaxAttempts {
			r.logger.Errorf("操作 '%s' 在 %d 次尝试后最终失败: %v", operation, attempt, err)
			return fmt.Errorf("重试 %d 次后失败: %w", attempt, err)
		}

		delay := r.calculateDelay(attempt)
		r.logger.Warnf("操作 '%s' 第 %d 次失败: %v，%v 后重试", operation, attempt, err, delay)

		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// calculateDelay 计算第 attempt 次失败后的等待时间
func (r *Retrier) calculateDelay(attempt int) time.Duration {
	delay := float64(r.config.InitialInterval) * math.Pow(r.config.BackoffFactor, float64(attempt-1))
	if delay > float64(r.config.MaxInterval) {
		delay = float64(r.config.MaxInterval)
	}

	if r.config.EnableJitter {
		jitter := delay * r.config.RandomizationFactor
		delay = delay - jitter + r.rand.Float64()*jitter*2
		if delay < 0 {
			delay = float64(r.config.InitialInterval)
		}
	}

	return time.Duration(delay)
}

// GetConfig 获取重试配置
func (r *Retrier) GetConfig() *RetryConfig {
	return r.config
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
