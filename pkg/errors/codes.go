package errors

import (
	"net/http"
	"strings"
)

// ErrorCode is a string representation of a specific error condition.
// Codes are prefixed with the module that raises them.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Sentinel codes outside any module.
const (
	CodeOK      ErrorCode = "OK"
	CodeUnknown ErrorCode = "UNKNOWN"
)

// Common Error Codes
const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeNotFound           ErrorCode = "COMMON_003"
	ErrCodeConflict           ErrorCode = "COMMON_004"
	ErrCodeTooManyRequests    ErrorCode = "COMMON_005"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_006"
	ErrCodeTimeout            ErrorCode = "COMMON_007"
	ErrCodeValidation         ErrorCode = "COMMON_008"
	ErrCodeSerialization      ErrorCode = "COMMON_009"
	ErrCodeNotImplemented     ErrorCode = "COMMON_010"
)

// Configuration Error Codes
const (
	ErrCodeConfigLoad    ErrorCode = "CONFIG_001"
	ErrCodeConfigInvalid ErrorCode = "CONFIG_002"
)

// Rule Store Error Codes
const (
	ErrCodeRulesSourceUnavailable ErrorCode = "RULES_001"
	ErrCodeRulesMalformed         ErrorCode = "RULES_002"
	ErrCodeRulesReloadFailed      ErrorCode = "RULES_003"
	ErrCodeRuleNotFound           ErrorCode = "RULES_004"
	ErrCodeHintsMalformed         ErrorCode = "RULES_005"
)

// Recognizer Error Codes
const (
	ErrCodeRecognizerFailure ErrorCode = "RECOG_001"
	ErrCodeCandidatesFailed  ErrorCode = "RECOG_002"
	ErrCodeConceptNotFound   ErrorCode = "RECOG_003"
)

// Extraction Error Codes
const (
	ErrCodeEmptyText      ErrorCode = "EXTRACT_001"
	ErrCodeInvalidRequest ErrorCode = "EXTRACT_002"
	ErrCodeBatchTooLarge  ErrorCode = "EXTRACT_003"
)

// Infrastructure Error Codes
const (
	ErrCodeDatabaseError  ErrorCode = "INFRA_001"
	ErrCodeCacheError     ErrorCode = "INFRA_002"
	ErrCodeStorageError   ErrorCode = "INFRA_003"
	ErrCodeMessagingError ErrorCode = "INFRA_004"
)

// ErrorCodeHTTPStatus maps ErrorCodes to HTTP status codes.
var ErrorCodeHTTPStatus = map[ErrorCode]int{
	CodeOK:                    http.StatusOK,
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeBadRequest:         http.StatusBadRequest,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeConflict:           http.StatusConflict,
	ErrCodeTooManyRequests:    http.StatusTooManyRequests,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,
	ErrCodeTimeout:            http.StatusGatewayTimeout,
	ErrCodeValidation:         http.StatusUnprocessableEntity,
	ErrCodeSerialization:      http.StatusInternalServerError,
	ErrCodeNotImplemented:     http.StatusNotImplemented,

	ErrCodeConfigLoad:    http.StatusInternalServerError,
	ErrCodeConfigInvalid: http.StatusInternalServerError,

	ErrCodeRulesSourceUnavailable: http.StatusServiceUnavailable,
	ErrCodeRulesMalformed:         http.StatusInternalServerError,
	ErrCodeRulesReloadFailed:      http.StatusInternalServerError,
	ErrCodeRuleNotFound:           http.StatusNotFound,
	ErrCodeHintsMalformed:         http.StatusInternalServerError,

	ErrCodeRecognizerFailure: http.StatusBadGateway,
	ErrCodeCandidatesFailed:  http.StatusBadGateway,
	ErrCodeConceptNotFound:   http.StatusNotFound,

	ErrCodeEmptyText:      http.StatusBadRequest,
	ErrCodeInvalidRequest: http.StatusBadRequest,
	ErrCodeBatchTooLarge:  http.StatusRequestEntityTooLarge,

	ErrCodeDatabaseError:  http.StatusInternalServerError,
	ErrCodeCacheError:     http.StatusInternalServerError,
	ErrCodeStorageError:   http.StatusInternalServerError,
	ErrCodeMessagingError: http.StatusInternalServerError,
}

// ErrorCodeMessage maps ErrorCodes to default messages.
var ErrorCodeMessage = map[ErrorCode]string{
	ErrCodeInternal:           "internal server error",
	ErrCodeBadRequest:         "bad request",
	ErrCodeNotFound:           "resource not found",
	ErrCodeConflict:           "resource conflict",
	ErrCodeTooManyRequests:    "too many requests",
	ErrCodeServiceUnavailable: "service unavailable",
	ErrCodeTimeout:            "request timeout",
	ErrCodeValidation:         "validation failed",
	ErrCodeSerialization:      "serialization failed",
	ErrCodeNotImplemented:     "not implemented",

	ErrCodeConfigLoad:    "failed to load configuration",
	ErrCodeConfigInvalid: "invalid configuration",

	ErrCodeRulesSourceUnavailable: "rule source unavailable",
	ErrCodeRulesMalformed:         "malformed rule table",
	ErrCodeRulesReloadFailed:      "rule reload failed",
	ErrCodeRuleNotFound:           "no rule for concept",
	ErrCodeHintsMalformed:         "malformed combined hint definitions",

	ErrCodeRecognizerFailure: "recognizer failure",
	ErrCodeCandidatesFailed:  "candidate generation failed",
	ErrCodeConceptNotFound:   "concept not found",

	ErrCodeEmptyText:      "text must not be empty",
	ErrCodeInvalidRequest: "invalid extraction request",
	ErrCodeBatchTooLarge:  "batch exceeds the configured maximum",

	ErrCodeDatabaseError:  "database error",
	ErrCodeCacheError:     "cache error",
	ErrCodeStorageError:   "object storage error",
	ErrCodeMessagingError: "messaging error",
}

// HTTPStatusForCode returns the HTTP status code for an ErrorCode.
func HTTPStatusForCode(code ErrorCode) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DefaultMessageForCode returns the default message for an ErrorCode.
func DefaultMessageForCode(code ErrorCode) string {
	if msg, ok := ErrorCodeMessage[code]; ok {
		return msg
	}
	return "unknown error"
}

// IsClientError returns true if the ErrorCode corresponds to a 4xx HTTP status.
func IsClientError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 400 && status < 500
}

// IsServerError returns true if the ErrorCode corresponds to a 5xx HTTP status.
func IsServerError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 500 && status < 600
}

// ModuleForCode returns the module prefix of an ErrorCode.
func ModuleForCode(code ErrorCode) string {
	parts := strings.SplitN(string(code), "_", 2)
	if len(parts) == 2 && parts[0] != "" {
		return parts[0]
	}
	return "UNKNOWN"
}
