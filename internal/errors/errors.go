// Package errors 定义服务内统一的错误码，每个错误码自带严重程度、
// 是否可重试以及是否需要告警的默认值。
package errors

import (
	stdErrors "errors"
	"fmt"
	"sync"
)

// Code 表示一类失败。
type Code string

// Severity 决定告警路由与审计日志级别。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodeQueueFailure          Code = "QUEUE_FAILURE"
	CodeSnapshotUnavailable   Code = "SNAPSHOT_UNAVAILABLE"
	CodeUnitLoadFailed        Code = "UNIT_LOAD_FAILED"
	CodeUnitTeardownFailed    Code = "UNIT_TEARDOWN_FAILED"
	CodeImportDenied          Code = "IMPORT_DENIED"
	CodeTimeout               Code = "TIMEOUT"
)

// Attributes 是错误码的默认行为。
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
	Alert     bool
}

var (
	codesMu sync.RWMutex
	codes   = map[Code]Attributes{
		CodeUnknown:               {Message: "unknown error", Severity: SeverityCritical, Alert: true},
		CodeInvalidArgument:       {Message: "invalid argument", Severity: SeverityInfo},
		CodeNotFound:              {Message: "resource not found", Severity: SeverityInfo},
		CodeInitializationFailure: {Message: "component not initialised", Severity: SeverityWarning, Retryable: true, Alert: true},
		CodeStorageFailure:        {Message: "storage failure", Severity: SeverityCritical, Retryable: true, Alert: true},
		CodeQueueFailure:          {Message: "queue failure", Severity: SeverityCritical, Retryable: true, Alert: true},
		CodeSnapshotUnavailable:   {Message: "plugin snapshot unavailable", Severity: SeverityCritical, Retryable: true, Alert: true},
		CodeUnitLoadFailed:        {Message: "plugin unit failed to load", Severity: SeverityWarning, Alert: true},
		CodeUnitTeardownFailed:    {Message: "plugin unit teardown failed", Severity: SeverityInfo},
		CodeImportDenied:          {Message: "plugin import denied", Severity: SeverityWarning, Alert: true},
		CodeTimeout:               {Message: "operation timed out", Severity: SeverityWarning, Retryable: true, Alert: true},
	}
)

// Register 登记或覆盖错误码的默认行为，由各包在 init 中调用。
func Register(code Code, attr Attributes) {
	codesMu.Lock()
	codes[code] = attr
	codesMu.Unlock()
}

func attributesOf(code Code) Attributes {
	codesMu.RLock()
	defer codesMu.RUnlock()
	if attr, ok := codes[code]; ok {
		return attr
	}
	return codes[CodeUnknown]
}

// Error 是带错误码的错误类型。
type Error struct {
	code     Code
	message  string
	cause    error
	metadata map[string]string

	// 为 nil 时使用错误码的默认值。
	retryable *bool
	alert     *bool
}

// Option 在构造时调整 Error。
type Option func(*Error)

// WithMetadata 附加一个键值对。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = map[string]string{}
		}
		e.metadata[key] = value
	}
}

// WithRetryable 覆盖错误码的可重试默认值。
func WithRetryable(v bool) Option {
	return func(e *Error) { e.retryable = &v }
}

// WithAlert 覆盖错误码的告警默认值。
func WithAlert(v bool) Option {
	return func(e *Error) { e.alert = &v }
}

// New 创建 Error；message 为空时使用登记的默认描述。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = attributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 创建以 cause 为底层错误的 Error。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause == nil {
		return fmt.Sprintf("[%s] %s", e.code, e.message)
	}
	return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 在 target 为同一错误码的 *Error 时返回 true。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e != nil && t != nil && e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Metadata 返回附加信息的副本。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	out := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		out[k] = v
	}
	return out
}

// Retryable 表示操作是否值得重试。
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	if e.retryable != nil {
		return *e.retryable
	}
	return attributesOf(e.code).Retryable
}

// ShouldAlert 表示是否需要告警。
func (e *Error) ShouldAlert() bool {
	if e == nil {
		return false
	}
	if e.alert != nil {
		return *e.alert
	}
	return attributesOf(e.code).Alert
}

// Severity 返回错误码登记的严重程度。
func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	return attributesOf(e.code).Severity
}

// From 从 err 的错误链中取出 *Error。
func From(err error) (*Error, bool) {
	var target *Error
	if err != nil && stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回 err 的错误码，无法识别时为 CodeUnknown。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// RetryableError 判断 err 是否可重试。
func RetryableError(err error) bool {
	e, ok := From(err)
	return ok && e.Retryable()
}

// ShouldAlert 判断 err 是否需要告警。
func ShouldAlert(err error) bool {
	e, ok := From(err)
	return ok && e.ShouldAlert()
}

// SeverityOf 返回 err 的严重程度。
func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return e.Severity()
	}
	return attributesOf(CodeUnknown).Severity
}
