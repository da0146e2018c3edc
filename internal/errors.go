package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "VALIDATION_ERROR"
	ErrorTypeNotFound     ErrorType = "NOT_FOUND"
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"
	ErrorTypeCodec        ErrorType = "CODEC_ERROR"
	ErrorTypeGateway      ErrorType = "GATEWAY_ERROR"
	ErrorTypeInternal     ErrorType = "INTERNAL_ERROR"
)

type ErrorCode string

const (
	ErrCodeValidationFailed  ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidAmount     ErrorCode = "INVALID_AMOUNT"
	ErrCodeAmountTooHigh     ErrorCode = "AMOUNT_TOO_HIGH"
	ErrCodeInvalidContactNo  ErrorCode = "INVALID_CONTACT_NO"
	ErrCodeInvalidEmail      ErrorCode = "INVALID_EMAIL"
	ErrCodeMissingReference  ErrorCode = "MISSING_REFERENCE"
	ErrCodeInvalidCallback   ErrorCode = "INVALID_CALLBACK"
	ErrCodeInvalidRequest    ErrorCode = "INVALID_REQUEST"
	ErrCodeTransactionAbsent ErrorCode = "TRANSACTION_NOT_FOUND"

	ErrCodeInvalidKey         ErrorCode = "INVALID_KEY"
	ErrCodeEncryptFailed      ErrorCode = "ENCRYPT_FAILED"
	ErrCodeDecryptFailed      ErrorCode = "DECRYPT_FAILED"
	ErrCodeMalformedPayload   ErrorCode = "MALFORMED_PAYLOAD"
	ErrCodeGatewayRejected    ErrorCode = "GATEWAY_REJECTED"
	ErrCodeGatewayUnreachable ErrorCode = "GATEWAY_UNREACHABLE"

	ErrCodeInvalidCredentials ErrorCode = "INVALID_CREDENTIALS"
	ErrCodeInvalidToken       ErrorCode = "INVALID_TOKEN"
	ErrCodeTokenExpired       ErrorCode = "TOKEN_EXPIRED"
)

// defaultStatus is the HTTP status an error of each type maps to unless the
// constructor says otherwise.
var defaultStatus = map[ErrorType]int{
	ErrorTypeValidation:   http.StatusBadRequest,
	ErrorTypeNotFound:     http.StatusNotFound,
	ErrorTypeUnauthorized: http.StatusUnauthorized,
	ErrorTypeCodec:        http.StatusBadGateway,
	ErrorTypeGateway:      http.StatusBadGateway,
	ErrorTypeInternal:     http.StatusInternalServerError,
}

type AppError struct {
	Type       ErrorType   `json:"type"`
	Code       ErrorCode   `json:"code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
	StatusCode int         `json:"-"`
	Cause      error       `json:"-"`
}

func newAppError(t ErrorType, code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Type:       t,
		Code:       code,
		Message:    message,
		StatusCode: defaultStatus[t],
		Cause:      cause,
	}
}

func (e *AppError) Error() string {
	if msgs := e.fieldMessages(); len(msgs) > 0 {
		return msgs[0]
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// GetDetailedMessage joins every field message, falling back to Message.
func (e *AppError) GetDetailedMessage() string {
	if msgs := e.fieldMessages(); len(msgs) > 0 {
		return strings.Join(msgs, "; ")
	}
	return e.Message
}

func (e *AppError) fieldMessages() []string {
	details, ok := e.Details.(ValidationErrors)
	if !ok {
		return nil
	}
	msgs := make([]string, 0, len(details.Errors))
	for _, fe := range details.Errors {
		msgs = append(msgs, fe.Message)
	}
	return msgs
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

// WithStatus returns a copy carrying a different HTTP status. The receiver is
// left untouched so shared sentinels stay safe.
func (e *AppError) WithStatus(status int) *AppError {
	cp := *e
	cp.StatusCode = status
	return &cp
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func NewValidationError(message string, code ErrorCode) *AppError {
	return newAppError(ErrorTypeValidation, code, message, nil)
}

func NewValidationFieldError(field, message string, code ErrorCode) *AppError {
	return newAppError(ErrorTypeValidation, ErrCodeValidationFailed, "Validation failed", nil).
		WithDetails(ValidationErrors{Errors: []ValidationError{{Field: field, Message: message, Code: string(code)}}})
}

func NewNotFoundError(message string, code ErrorCode) *AppError {
	return newAppError(ErrorTypeNotFound, code, message, nil)
}

func NewUnauthorizedError(message string, code ErrorCode) *AppError {
	return newAppError(ErrorTypeUnauthorized, code, message, nil)
}

// NewCodecError reports a payload that could not be encrypted, decrypted or
// parsed. Codec failures are never retried.
func NewCodecError(message string, code ErrorCode, cause error) *AppError {
	return newAppError(ErrorTypeCodec, code, message, cause)
}

// NewGatewayError reports a failed call to the payment gateway. status is the
// gateway's HTTP status when it answered with an error status, zero otherwise.
func NewGatewayError(message string, status int, cause error) *AppError {
	if status < http.StatusBadRequest {
		return newAppError(ErrorTypeGateway, ErrCodeGatewayUnreachable, message, cause)
	}
	return newAppError(ErrorTypeGateway, ErrCodeGatewayRejected, message, cause).WithStatus(status)
}

func NewInternalError(message string, cause error) *AppError {
	return newAppError(ErrorTypeInternal, "INTERNAL_ERROR", message, cause)
}

var (
	ErrTransactionNotFound = NewNotFoundError("Transaction not found", ErrCodeTransactionAbsent)
	ErrMissingReference    = NewValidationError("Customer reference number is required", ErrCodeMissingReference)
	ErrInvalidCallback     = NewValidationError("Invalid callback data", ErrCodeInvalidCallback)

	ErrInvalidCredentials = NewUnauthorizedError("Invalid username or password", ErrCodeInvalidCredentials)
	ErrInvalidToken       = NewUnauthorizedError("Invalid token", ErrCodeInvalidToken)
	ErrTokenExpired       = NewUnauthorizedError("Token has expired", ErrCodeTokenExpired)
)

func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func isType(err error, t ErrorType) bool {
	appErr, ok := IsAppError(err)
	return ok && appErr.Type == t
}

func IsCodecError(err error) bool      { return isType(err, ErrorTypeCodec) }
func IsGatewayError(err error) bool    { return isType(err, ErrorTypeGateway) }
func IsNotFound(err error) bool        { return isType(err, ErrorTypeNotFound) }
func IsValidationError(err error) bool { return isType(err, ErrorTypeValidation) }

// IsRetryable reports whether a gateway call that failed with err may succeed
// when repeated: the gateway was unreachable or answered with a 5xx. Codec
// failures and 4xx rejections are final, as is anything that is not an
// AppError.
func IsRetryable(err error) bool {
	appErr, ok := IsAppError(err)
	if !ok || appErr.Type != ErrorTypeGateway {
		return false
	}
	return appErr.Code == ErrCodeGatewayUnreachable || appErr.StatusCode >= http.StatusInternalServerError
}

type Response struct {
	Error *AppError `json:"error"`
}

func (e *AppError) ToHTTPResponse() (int, interface{}) {
	return e.StatusCode, Response{Error: e}
}

func (e *AppError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    ErrorType   `json:"type"`
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Details interface{} `json:"details,omitempty"`
	}{
		Type:    e.Type,
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	})
}
