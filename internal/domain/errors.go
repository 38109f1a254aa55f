package domain

import "errors"

var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
	// ErrTaskCompleted 任务已完成，重复完成被拒绝
	ErrTaskCompleted = errors.New("task already completed")
)

// ValidationError 输入校验失败（必填项缺失等），发生在任何状态变更之前
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Invalid 构造 ValidationError
func Invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation 是否为校验错误
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
