package node

import (
	"context"
	"errors"
	"strings"
)

// ErrEmptyOutput 模型返回空内容
var ErrEmptyOutput = errors.New("empty llm response")

func IsResponseFormatUnsupportedError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "response_format"):
		return true
	case strings.Contains(msg, "json_schema"):
		return true
	case strings.Contains(msg, "unknown parameter") && strings.Contains(msg, "response"):
		return true
	case strings.Contains(msg, "invalid") && strings.Contains(msg, "response"):
		return true
	case strings.Contains(msg, "response_schema"):
		return true
	default:
		return false
	}
}

// IsCancellation 调用方上下文已结束（取消或整体截止），区别于单次调用超时
func IsCancellation(ctx context.Context) bool {
	return ctx != nil && ctx.Err() != nil
}

// IsTimeout 单次调用超时
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
