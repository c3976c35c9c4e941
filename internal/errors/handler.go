package errors

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrorHandler 错误处理器，统计并按严重级别记录日志
type ErrorHandler struct {
	logger *logrus.Logger
	stats  *ErrorStats
	mu     sync.RWMutex
}

// LoggingStrategy 日志记录策略
type LoggingStrategy struct {
	logger *logrus.Logger
}

// NewErrorHandler 创建错误处理器
func NewErrorHandler(logger *logrus.Logger) *ErrorHandler {
	return &ErrorHandler{
		logger: logger,
		stats:  NewErrorStats(),
	}
}

// HandleError 处理错误，返回归一化后的GateError
func (eh *ErrorHandler) HandleError(ctx context.Context, err error) *GateError {
	if err == nil {
		return nil
	}

	gateErr, ok := AsGateError(err)
	if !ok {
		// 包装普通错误
		gateErr = WrapError(err, ErrorTypeSystem, SeverityHigh, "UNKNOWN_ERROR", "未知错误")
	}

	// 预定义错误可能原样返回，统计使用处理时刻
	eh.mu.Lock()
	eh.stats.RecordError(gateErr.clone())
	eh.mu.Unlock()

	_ = (&LoggingStrategy{logger: eh.logger}).Handle(ctx, gateErr)

	return gateErr
}

// Handle 实现LoggingStrategy的处理方法
func (ls *LoggingStrategy) Handle(ctx context.Context, err *GateError) error {
	logEntry := ls.logger.WithFields(logrus.Fields{
		"error_type": err.Type.String(),
		"error_code": err.Code,
		"component":  err.Component,
		"retryable":  err.Retryable,
		"context":    err.Context,
	})

	// 根据严重级别选择日志级别，Critical 不使用 Fatal 以免中断服务
	switch err.Severity {
	case SeverityLow:
		logEntry.Debug(err.Error())
	case SeverityMedium:
		logEntry.Warn(err.Error())
	default:
		logEntry.Error(err.Error())
	}

	return err
}

// GetStats 获取错误统计信息的快照
func (eh *ErrorHandler) GetStats() ErrorStats {
	eh.mu.RLock()
	defer eh.mu.RUnlock()

	snapshot := *eh.stats
	snapshot.ErrorsByType = copyCounts(eh.stats.ErrorsByType)
	snapshot.ErrorsBySeverity = copyCounts(eh.stats.ErrorsBySeverity)
	snapshot.ErrorsByCode = copyCounts(eh.stats.ErrorsByCode)
	snapshot.RecentErrors = append([]*GateError(nil), eh.stats.RecentErrors...)
	return snapshot
}

func copyCounts(src map[string]int) map[string]int {
	dst := make(map[string]int, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
