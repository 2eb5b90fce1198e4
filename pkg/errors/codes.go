package errors

import (
	"net/http"
	"strings"
)

// ErrorCode is a string representation of a specific error condition.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common Error Codes
const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeNotFound           ErrorCode = "COMMON_003"
	ErrCodeConflict           ErrorCode = "COMMON_004"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_005"
	ErrCodeTimeout            ErrorCode = "COMMON_006"
	ErrCodeSerialization      ErrorCode = "COMMON_007"
	ErrCodeDatabaseError      ErrorCode = "COMMON_008"
	ErrCodeCacheError         ErrorCode = "COMMON_009"
	ErrCodeStorageError       ErrorCode = "COMMON_010"
	ErrCodeMessagingError     ErrorCode = "COMMON_011"
	ErrCodeUnauthorized       ErrorCode = "COMMON_012"
	ErrCodeForbidden          ErrorCode = "COMMON_013"
)

// Molecule Module Error Codes
const (
	ErrCodeMoleculeParse             ErrorCode = "MOL_001"
	ErrCodeMoleculeValence           ErrorCode = "MOL_002"
	ErrCodeMoleculeEmbedFailure      ErrorCode = "MOL_003"
	ErrCodeMoleculeContractViolation ErrorCode = "MOL_004"
	ErrCodeMoleculeInvalidFormat     ErrorCode = "MOL_005"
	ErrCodeMoleculeRecordNotFound    ErrorCode = "MOL_006"
)

// Short aliases used across the codebase.
const (
	CodeOK      ErrorCode = "OK"
	CodeUnknown ErrorCode = "UNKNOWN"

	CodeInternal      = ErrCodeInternal
	CodeInvalidParam  = ErrCodeBadRequest
	CodeNotFound      = ErrCodeNotFound
	CodeConflict      = ErrCodeConflict
	CodeUnavailable   = ErrCodeServiceUnavailable
	CodeSerialization = ErrCodeSerialization
	CodeDatabase      = ErrCodeDatabaseError
	CodeCache         = ErrCodeCacheError
	CodeStorage       = ErrCodeStorageError
	CodeMessaging     = ErrCodeMessagingError
	CodeUnauthorized  = ErrCodeUnauthorized
	CodeForbidden     = ErrCodeForbidden

	CodeParse             = ErrCodeMoleculeParse
	CodeValence           = ErrCodeMoleculeValence
	CodeEmbedFailure      = ErrCodeMoleculeEmbedFailure
	CodeContractViolation = ErrCodeMoleculeContractViolation
	CodeInvalidFormat     = ErrCodeMoleculeInvalidFormat
	CodeRecordNotFound    = ErrCodeMoleculeRecordNotFound
)

// ErrorCodeHTTPStatus maps codes to HTTP status codes.
var ErrorCodeHTTPStatus = map[ErrorCode]int{
	CodeOK:                    http.StatusOK,
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeBadRequest:         http.StatusBadRequest,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeConflict:           http.StatusConflict,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,
	ErrCodeTimeout:            http.StatusGatewayTimeout,
	ErrCodeSerialization:      http.StatusInternalServerError,
	ErrCodeDatabaseError:      http.StatusInternalServerError,
	ErrCodeCacheError:         http.StatusInternalServerError,
	ErrCodeStorageError:       http.StatusBadGateway,
	ErrCodeMessagingError:     http.StatusBadGateway,
	ErrCodeUnauthorized:       http.StatusUnauthorized,
	ErrCodeForbidden:          http.StatusForbidden,

	ErrCodeMoleculeParse:             http.StatusBadRequest,
	ErrCodeMoleculeValence:           http.StatusUnprocessableEntity,
	ErrCodeMoleculeEmbedFailure:      http.StatusUnprocessableEntity,
	ErrCodeMoleculeContractViolation: http.StatusInternalServerError,
	ErrCodeMoleculeInvalidFormat:     http.StatusBadRequest,
	ErrCodeMoleculeRecordNotFound:    http.StatusNotFound,
}

// ErrorCodeMessage maps codes to default messages.
var ErrorCodeMessage = map[ErrorCode]string{
	ErrCodeInternal:           "internal server error",
	ErrCodeBadRequest:         "bad request",
	ErrCodeNotFound:           "resource not found",
	ErrCodeConflict:           "resource conflict",
	ErrCodeServiceUnavailable: "service unavailable",
	ErrCodeTimeout:            "request timeout",
	ErrCodeSerialization:      "serialization error",
	ErrCodeDatabaseError:      "database error",
	ErrCodeCacheError:         "cache error",
	ErrCodeStorageError:       "object storage error",
	ErrCodeMessagingError:     "messaging error",
	ErrCodeUnauthorized:       "authentication required",
	ErrCodeForbidden:          "permission denied",

	ErrCodeMoleculeParse:             "malformed molecular notation",
	ErrCodeMoleculeValence:           "chemically invalid valence",
	ErrCodeMoleculeEmbedFailure:      "no valid conformation found",
	ErrCodeMoleculeContractViolation: "molecule handle contract violation",
	ErrCodeMoleculeInvalidFormat:     "invalid molecule block format",
	ErrCodeMoleculeRecordNotFound:    "molecule record not found",
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

// IsRecoverable reports whether a caller may retry with different input or
// options. Contract violations and infrastructure failures are not.
func IsRecoverable(code ErrorCode) bool {
	switch code {
	case CodeParse, CodeValence, CodeEmbedFailure, CodeInvalidFormat:
		return true
	}
	return false
}

// ModuleForCode returns the module prefix of an ErrorCode.
func ModuleForCode(code ErrorCode) string {
	parts := strings.Split(string(code), "_")
	if len(parts) > 0 && parts[0] != "" {
		return parts[0]
	}
	return "UNKNOWN"
}
