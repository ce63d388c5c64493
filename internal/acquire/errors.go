package acquire

import "errors"

var (
	// ErrIdentityNotFound 表示目标 Identity 不存在或在登记前被移除。
	ErrIdentityNotFound = errors.New("media identity not found")
	// ErrAcquisitionFailed 表示后端在质量回退后仍未产出数据。
	ErrAcquisitionFailed = errors.New("acquisition failed")
	// ErrStorageWriteFailed 表示落盘或登记失败。
	ErrStorageWriteFailed = errors.New("storage write failed")
)

// ValidationError 是调用方输入不合法，Message 原样返回给调用方。
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(msg string) error {
	return &ValidationError{Message: msg}
}
