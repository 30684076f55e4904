package domain

import (
	"errors"
	"fmt"
)

// Коды ошибок стабильны: клиенты опираются на них при обработке ответов.
const (
	CodeParamsError   = 40000
	CodeForbidden     = 40300
	CodeNotFound      = 40400
	CodeConflict      = 40900
	CodeQuotaExceeded = 40910
	CodeSystemError   = 50000
	CodeUpstreamError = 50200
)

// Error представляет бизнес-ошибку с кодом и сообщением для пользователя
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

func NewError(code int, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func ErrParams(format string, args ...interface{}) *Error {
	return NewError(CodeParamsError, format, args...)
}

func ErrForbidden(format string, args ...interface{}) *Error {
	return NewError(CodeForbidden, format, args...)
}

func ErrNotFound(format string, args ...interface{}) *Error {
	return NewError(CodeNotFound, format, args...)
}

func ErrConflict(format string, args ...interface{}) *Error {
	return NewError(CodeConflict, format, args...)
}

func ErrQuotaExceeded(format string, args ...interface{}) *Error {
	return NewError(CodeQuotaExceeded, format, args...)
}

func ErrSystem(format string, args ...interface{}) *Error {
	return NewError(CodeSystemError, format, args...)
}

func ErrUpstream(format string, args ...interface{}) *Error {
	return NewError(CodeUpstreamError, format, args...)
}

// CodeOf извлекает код из цепочки ошибок. Для неизвестных ошибок
// возвращается CodeSystemError.
func CodeOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeSystemError
}

// IsCode проверяет, что ошибка несет указанный код
func IsCode(err error, code int) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
