package errors

import (
	"fmt"
	"time"
)

// ErrorType 错误类型
type ErrorType int

const (
	// 授权相关错误
	ErrorTypeAuthorization ErrorType = iota
	ErrorTypeSignature

	// 输入相关错误
	ErrorTypeKey
	ErrorTypeValidation
	ErrorTypeNotFound

	// 状态相关错误
	ErrorTypeState
	ErrorTypeStorage
	ErrorTypeSerialization

	// 系统相关错误
	ErrorTypeSystem
	ErrorTypeConfig

	// 外部服务错误
	ErrorTypeKafka
	ErrorTypeDatabase
	ErrorTypeNetwork
)

// ErrorSeverity 错误严重级别
type ErrorSeverity int

const (
	SeverityLow ErrorSeverity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// GateError 自定义错误类型
type GateError struct {
	Type      ErrorType              `json:"type"`
	Severity  ErrorSeverity          `json:"severity"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Detail    string                 `json:"detail,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"-"`
	Retryable bool                   `json:"retryable"`
	Component string                 `json:"component,omitempty"`
}

// Error 实现error接口
func (e *GateError) Error() string {
	msg := e.Message
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, msg)
}

// Unwrap 支持errors.Unwrap
func (e *GateError) Unwrap() error {
	return e.Cause
}

// Is 按错误码匹配，使预定义错误可以作为哨兵值
func (e *GateError) Is(target error) bool {
	t, ok := target.(*GateError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// IsRetryable 判断是否可重试
func (e *GateError) IsRetryable() bool {
	return e.Retryable
}

// clone 复制错误，预定义错误本身不会被修改
func (e *GateError) clone() *GateError {
	c := *e
	c.Timestamp = time.Now()
	if e.Context != nil {
		c.Context = make(map[string]interface{}, len(e.Context))
		for k, v := range e.Context {
			c.Context[k] = v
		}
	}
	return &c
}

// WithContext 添加上下文信息
func (e *GateError) WithContext(key string, value interface{}) *GateError {
	c := e.clone()
	if c.Context == nil {
		c.Context = make(map[string]interface{})
	}
	c.Context[key] = value
	return c
}

// WithDetail 添加详细说明
func (e *GateError) WithDetail(format string, args ...interface{}) *GateError {
	c := e.clone()
	c.Detail = fmt.Sprintf(format, args...)
	return c
}

// WithCause 附加底层错误
func (e *GateError) WithCause(err error) *GateError {
	c := e.clone()
	c.Cause = err
	return c
}

// WithComponent 标记产生错误的组件
func (e *GateError) WithComponent(component string) *GateError {
	c := e.clone()
	c.Component = component
	return c
}

// NewGateError 创建新的错误
func NewGateError(errorType ErrorType, severity ErrorSeverity, code, message string) *GateError {
	return &GateError{
		Type:      errorType,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Retryable: determineRetryable(errorType),
	}
}

// WrapError 包装现有错误
func WrapError(err error, errorType ErrorType, severity ErrorSeverity, code, message string) *GateError {
	e := NewGateError(errorType, severity, code, message)
	e.Cause = err
	return e
}

// determineRetryable 根据错误类型判断是否可重试
func determineRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeKafka, ErrorTypeDatabase:
		return true
	default:
		return false
	}
}

// 预定义错误
var (
	// 硬失败：整个操作中止，不产生任何状态变更
	ErrUnauthorized = NewGateError(
		ErrorTypeAuthorization,
		SeverityMedium,
		"UNAUTHORIZED",
		"调用者无权执行该操作",
	)

	ErrInvalidKeyType = NewGateError(
		ErrorTypeKey,
		SeverityMedium,
		"INVALID_KEY_TYPE",
		"无效的预言机密钥类型，仅支持 secp256k1 或 ed25519",
	)

	ErrSignatureInvalid = NewGateError(
		ErrorTypeSignature,
		SeverityHigh,
		"SIGNATURE_INVALID",
		"预言机数据集签名验证失败",
	)

	ErrInvalidRecipient = NewGateError(
		ErrorTypeValidation,
		SeverityLow,
		"INVALID_RECIPIENT",
		"收款地址无效",
	)

	ErrInvalidAmount = NewGateError(
		ErrorTypeValidation,
		SeverityLow,
		"INVALID_AMOUNT",
		"转账金额无效",
	)

	ErrInvalidDataset = NewGateError(
		ErrorTypeValidation,
		SeverityMedium,
		"INVALID_DATASET",
		"预言机数据集包含无效条目",
	)

	// 查询层面的未找到，结算中的未知请求只记录事件
	ErrNotFound = NewGateError(
		ErrorTypeNotFound,
		SeverityLow,
		"NOT_FOUND",
		"记录不存在",
	)

	ErrNotInitialized = NewGateError(
		ErrorTypeState,
		SeverityMedium,
		"NOT_INITIALIZED",
		"合约尚未实例化",
	)

	ErrAlreadyInitialized = NewGateError(
		ErrorTypeState,
		SeverityMedium,
		"ALREADY_INITIALIZED",
		"合约已经实例化",
	)

	// 系统错误
	ErrStorage = NewGateError(
		ErrorTypeStorage,
		SeverityHigh,
		"STORAGE_FAILED",
		"状态存储操作失败",
	)

	ErrSerializationFailed = NewGateError(
		ErrorTypeSerialization,
		SeverityMedium,
		"SERIALIZATION_FAILED",
		"数据序列化失败",
	)

	ErrConfigInvalid = NewGateError(
		ErrorTypeConfig,
		SeverityCritical,
		"CONFIG_INVALID",
		"配置无效",
	)

	// 外部服务错误
	ErrKafkaProduceFailed = NewGateError(
		ErrorTypeKafka,
		SeverityHigh,
		"KAFKA_PRODUCE_FAILED",
		"Kafka消息发送失败",
	)

	ErrDatabaseQueryFailed = NewGateError(
		ErrorTypeDatabase,
		SeverityHigh,
		"DATABASE_QUERY_FAILED",
		"数据库查询失败",
	)
)

// 错误类型字符串映射
var errorTypeNames = map[ErrorType]string{
	ErrorTypeAuthorization: "Authorization",
	ErrorTypeSignature:     "Signature",
	ErrorTypeKey:           "Key",
	ErrorTypeValidation:    "Validation",
	ErrorTypeNotFound:      "NotFound",
	ErrorTypeState:         "State",
	ErrorTypeStorage:       "Storage",
	ErrorTypeSerialization: "Serialization",
	ErrorTypeSystem:        "System",
	ErrorTypeConfig:        "Config",
	ErrorTypeKafka:         "Kafka",
	ErrorTypeDatabase:      "Database",
	ErrorTypeNetwork:       "Network",
}

// String 返回错误类型的字符串表示
func (et ErrorType) String() string {
	if name, exists := errorTypeNames[et]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", et)
}

// 严重级别字符串映射
var severityNames = map[ErrorSeverity]string{
	SeverityLow:      "Low",
	SeverityMedium:   "Medium",
	SeverityHigh:     "High",
	SeverityCritical: "Critical",
}

// String 返回严重级别的字符串表示
func (es ErrorSeverity) String() string {
	if name, exists := severityNames[es]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", es)
}

// AsGateError 提取错误链中的GateError
func AsGateError(err error) (*GateError, bool) {
	for err != nil {
		if ge, ok := err.(*GateError); ok {
			return ge, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

// ErrorStats 错误统计
type ErrorStats struct {
	TotalErrors      int            `json:"total_errors"`
	ErrorsByType     map[string]int `json:"errors_by_type"`
	ErrorsBySeverity map[string]int `json:"errors_by_severity"`
	ErrorsByCode     map[string]int `json:"errors_by_code"`
	RecentErrors     []*GateError   `json:"recent_errors"`
	LastError        *GateError     `json:"last_error"`
	LastErrorTime    time.Time      `json:"last_error_time"`
}

// NewErrorStats 创建错误统计
func NewErrorStats() *ErrorStats {
	return &ErrorStats{
		ErrorsByType:     make(map[string]int),
		ErrorsBySeverity: make(map[string]int),
		ErrorsByCode:     make(map[string]int),
		RecentErrors:     make([]*GateError, 0),
	}
}

// RecordError 记录错误
func (es *ErrorStats) RecordError(err *GateError) {
	es.TotalErrors++
	es.ErrorsByType[err.Type.String()]++
	es.ErrorsBySeverity[err.Severity.String()]++
	es.ErrorsByCode[err.Code]++

	es.LastError = err
	es.LastErrorTime = err.Timestamp

	// 保留最近100个错误
	es.RecentErrors = append(es.RecentErrors, err)
	if len(es.RecentErrors) > 100 {
		es.RecentErrors = es.RecentErrors[1:]
	}
}

// GetErrorRate 获取错误率（错误/小时）
func (es *ErrorStats) GetErrorRate(duration time.Duration) float64 {
	if duration <= 0 {
		return 0
	}

	cutoff := time.Now().Add(-duration)
	recentCount := 0

	for _, err := range es.RecentErrors {
		if err.Timestamp.After(cutoff) {
			recentCount++
		}
	}

	hours := duration.Hours()
	if hours == 0 {
		return float64(recentCount)
	}

	return float64(recentCount) / hours
}
