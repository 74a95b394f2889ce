// Package errors provides the standardized error taxonomy for the vendor
// onboarding service: validation, not-found, and transient infrastructure
// failures, each mapped to an HTTP status and a retryability flag.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeNotFound         ErrorCode = "NOT_FOUND"

	ErrCodeNoEmailOnFile   ErrorCode = "NO_EMAIL_ON_FILE"
	ErrCodeMailSendFailed  ErrorCode = "MAIL_SEND_FAILED"
	ErrCodeLinkAlreadyUsed ErrorCode = "LINK_ALREADY_USED"
	ErrCodeLinkExpired     ErrorCode = "LINK_EXPIRED"

	ErrCodeStoreWriteFailed   ErrorCode = "STORE_WRITE_FAILED"
	ErrCodeStoreQueryFailed   ErrorCode = "STORE_QUERY_FAILED"
	ErrCodeMailboxUnavailable ErrorCode = "MAILBOX_UNAVAILABLE"
	ErrCodeSpreadsheetInvalid ErrorCode = "SPREADSHEET_INVALID"
	ErrCodeJobQueueFull       ErrorCode = "JOB_QUEUE_FULL"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Retryable bool      `json:"retryable"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// HTTPStatus maps an error code to the status an API handler should return.
func (e *StandardError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeValidationFailed, ErrCodeNoEmailOnFile, ErrCodeLinkAlreadyUsed,
		ErrCodeLinkExpired, ErrCodeSpreadsheetInvalid:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeJobQueueFull:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func newError(code ErrorCode, message, details string, retryable bool) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
	}
}

// NewValidationError creates a non-retryable client error.
func NewValidationError(message string) *StandardError {
	return newError(ErrCodeValidationFailed, message, "", false)
}

// NewNotFoundError creates a non-retryable lookup error.
func NewNotFoundError(what string) *StandardError {
	return newError(ErrCodeNotFound, fmt.Sprintf("%s not found", what), "", false)
}

// NewNoEmailError marks a vendor with no email on file.
func NewNoEmailError(companyID string) *StandardError {
	return newError(ErrCodeNoEmailOnFile, "No email provided", fmt.Sprintf("companyId: %s", companyID), false)
}

// NewMailSendError wraps a mail transport failure. Recorded per vendor,
// never aborts a batch.
func NewMailSendError(err error) *StandardError {
	return newError(ErrCodeMailSendFailed, "Failed to send email", err.Error(), true)
}

// NewLinkUsedError rejects a submission on an already-consumed link.
func NewLinkUsedError() *StandardError {
	return newError(ErrCodeLinkAlreadyUsed, "Payment proof has already been submitted or link has been used", "", false)
}

// NewLinkExpiredError rejects a submission on a stale link.
func NewLinkExpiredError() *StandardError {
	return newError(ErrCodeLinkExpired, "Submission link has expired", "", false)
}

// NewStoreWriteError wraps a record-store write failure after retries are
// exhausted. Side effects already committed (a mail already sent) are not
// rolled back.
func NewStoreWriteError(err error) *StandardError {
	return newError(ErrCodeStoreWriteFailed, "Failed to update company data", err.Error(), true)
}

// NewStoreQueryError wraps a record-store read failure.
func NewStoreQueryError(err error) *StandardError {
	return newError(ErrCodeStoreQueryFailed, "Record store query failed", err.Error(), true)
}

// NewMailboxError wraps a mailbox connectivity failure; it drives the
// watcher's reconnect state machine.
func NewMailboxError(err error) *StandardError {
	return newError(ErrCodeMailboxUnavailable, "Mailbox connection failed", err.Error(), true)
}

// NewSpreadsheetError rejects an unusable upload.
func NewSpreadsheetError(message string) *StandardError {
	return newError(ErrCodeSpreadsheetInvalid, message, "", false)
}

// NewJobQueueFullError means the batch runner cannot accept more work.
func NewJobQueueFullError() *StandardError {
	return newError(ErrCodeJobQueueFull, "A batch send is already queued", "", true)
}

// AsStandard extracts a *StandardError from err, or wraps err as an
// internal store failure when it is something else.
func AsStandard(err error) *StandardError {
	var se *StandardError
	if errors.As(err, &se) {
		return se
	}
	return newError(ErrCodeStoreQueryFailed, err.Error(), "", false)
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	var se *StandardError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}
