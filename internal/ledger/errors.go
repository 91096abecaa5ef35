package ledger

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass 提交错误分类
type ErrorClass int8

const (
	// ErrorClassUnknown 无法判断，按可重试处理
	ErrorClassUnknown ErrorClass = 0
	// ErrorClassTransient 暂时性错误，重试可能成功
	ErrorClassTransient ErrorClass = 1
	// ErrorClassPermanent 永久性错误，重试注定失败
	ErrorClassPermanent ErrorClass = 2
)

// String 返回分类名称
func (c ErrorClass) String() string {
	switch c {
	case ErrorClassTransient:
		return "transient"
	case ErrorClassPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// ClassifiedError 携带分类信息的提交错误
type ClassifiedError struct {
	Class ErrorClass
	Err   error
}

// Error 实现 error 接口
func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

// Unwrap 返回底层错误
func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// permanentPatterns 永久性错误的特征子串
var permanentPatterns = []string{
	"insufficient funds",
	"execution reverted",
	"accesscontrolunauthorizedaccount",
	"invalid address",
	"gas required exceeds allowance",
}

// transientPatterns 暂时性错误的特征子串
var transientPatterns = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"deadline exceeded",
	"temporarily unavailable",
	"too many requests",
	"nonce too low",
	"replacement transaction underpriced",
	"eof",
	"no healthy rpc",
}

// Classify 按错误信息特征对提交错误分类
func Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified
	}

	msg := strings.ToLower(err.Error())

	for _, pattern := range permanentPatterns {
		if strings.Contains(msg, pattern) {
			return &ClassifiedError{Class: ErrorClassPermanent, Err: err}
		}
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return &ClassifiedError{Class: ErrorClassTransient, Err: err}
		}
	}

	return &ClassifiedError{Class: ErrorClassUnknown, Err: err}
}

// IsPermanent 判断错误是否为永久性错误
func IsPermanent(err error) bool {
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Class == ErrorClassPermanent
	}
	return false
}

// IsTransient 判断错误是否为暂时性错误
func IsTransient(err error) bool {
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Class == ErrorClassTransient
	}
	return false
}
