package api

import (
	"net/http"

	apperrors "amlgate/internal/errors"

	"github.com/gin-gonic/gin"
)

// statusFor 把错误码映射为HTTP状态码
func statusFor(err error) int {
	ge, ok := apperrors.AsGateError(err)
	if !ok {
		return http.StatusInternalServerError
	}

	switch ge.Type {
	case apperrors.ErrorTypeAuthorization:
		return http.StatusForbidden
	case apperrors.ErrorTypeValidation, apperrors.ErrorTypeKey, apperrors.ErrorTypeSignature:
		return http.StatusBadRequest
	case apperrors.ErrorTypeNotFound:
		return http.StatusNotFound
	case apperrors.ErrorTypeState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError 输出错误响应
func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	body := gin.H{"message": err.Error()}
	if ge, ok := apperrors.AsGateError(err); ok {
		body["error"] = ge.Code
		if ge.Detail != "" {
			body["detail"] = ge.Detail
		}
	} else {
		body["error"] = "INTERNAL_ERROR"
	}
	c.JSON(status, body)
}

// badRequest 请求体或参数无法解析
func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "BAD_REQUEST",
		"message": err.Error(),
	})
}
