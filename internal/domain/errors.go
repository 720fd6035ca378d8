package domain

import (
	"errors"
	"fmt"
)

// Error codes.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeStorage    = "STORAGE_ERROR"
	CodeNotFound   = "NOT_FOUND"
	CodeForbidden  = "FORBIDDEN"
	CodeDelivery   = "DELIVERY_ERROR"
	CodeInternal   = "INTERNAL_ERROR"
)

// AppError is the base domain error type.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// Standard domain error constructors.

func ErrValidation(msg string) *AppError {
	return &AppError{Code: CodeValidation, Message: msg}
}

// ErrStorage wraps a connectivity or constraint failure of the record store.
// op names the store operation, never the personal payload.
func ErrStorage(op string, cause error) *AppError {
	return &AppError{Code: CodeStorage, Message: op, Cause: cause}
}

func ErrNotFound(entity, id string) *AppError {
	return &AppError{Code: CodeNotFound, Message: fmt.Sprintf("%s %s not found", entity, id)}
}

func ErrForbidden(msg string) *AppError {
	return &AppError{Code: CodeForbidden, Message: msg}
}

// ErrDelivery reports an outbound message that could not reach its recipient.
func ErrDelivery(recipient int64, cause error) *AppError {
	return &AppError{Code: CodeDelivery, Message: fmt.Sprintf("deliver to %d", recipient), Cause: cause}
}

// ErrRecipientBlocked reports a chat that refuses messages from the bot.
func ErrRecipientBlocked(recipient int64, cause error) *AppError {
	return &AppError{Code: CodeForbidden, Message: fmt.Sprintf("chat %d blocked the bot", recipient), Cause: cause}
}

func ErrInternal(msg string, cause error) *AppError {
	return &AppError{Code: CodeInternal, Message: msg, Cause: cause}
}

// HasCode reports whether err is an AppError carrying code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsValidation is shorthand for HasCode(err, CodeValidation).
func IsValidation(err error) bool { return HasCode(err, CodeValidation) }

// IsStorage is shorthand for HasCode(err, CodeStorage).
func IsStorage(err error) bool { return HasCode(err, CodeStorage) }
