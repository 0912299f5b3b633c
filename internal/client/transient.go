package client

import "errors"

// TransientError 标记可重试的外部错误 (网络/超时/5xx)。
// 调用方据此决定有界退避重试；非 Transient 的错误一律不重试。
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient external error: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient 包装一个可重试错误
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient 判断错误是否可重试
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
