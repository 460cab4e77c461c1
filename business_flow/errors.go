// Package businessflow contains the core business logic: attribution, approvals, conversations and analytics
package businessflow

import (
	"errors"
	"fmt"
)

// Business flow error constants
var (
	// Tracking errors
	ErrTrackingCodeNotFound = errors.New("tracking code not found")
	ErrOfferMissing         = errors.New("offer missing for tracked application")

	// Application errors
	ErrApplicationNotFound     = errors.New("application not found")
	ErrApplicationAccessDenied = errors.New("application access denied")
	ErrApplicationNotPending   = errors.New("application is not pending")
	ErrApprovalInProgress      = errors.New("application approval already in progress")
	ErrOfferNotFound           = errors.New("offer not found")

	// Conversation errors
	ErrConversationNotFound     = errors.New("conversation not found")
	ErrConversationAccessDenied = errors.New("conversation access denied")
	ErrSenderMismatch           = errors.New("sender does not match authenticated user")
	ErrEmptyMessage             = errors.New("message content is empty")
	ErrMessageTooLong           = errors.New("message content is too long")

	// Filter errors
	ErrInvalidDate           = errors.New("invalid date")
	ErrStartDateAfterEndDate = errors.New("start date cannot be after end date")
	ErrDateRangeTooLarge     = errors.New("date range is too large")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

func IsTrackingCodeNotFound(err error) bool {
	return errors.Is(err, ErrTrackingCodeNotFound)
}

func IsOfferMissing(err error) bool {
	return errors.Is(err, ErrOfferMissing)
}

func IsApplicationNotFound(err error) bool {
	return errors.Is(err, ErrApplicationNotFound)
}

func IsApplicationAccessDenied(err error) bool {
	return errors.Is(err, ErrApplicationAccessDenied)
}

func IsApplicationNotPending(err error) bool {
	return errors.Is(err, ErrApplicationNotPending)
}

func IsApprovalInProgress(err error) bool {
	return errors.Is(err, ErrApprovalInProgress)
}

func IsOfferNotFound(err error) bool {
	return errors.Is(err, ErrOfferNotFound)
}

func IsConversationNotFound(err error) bool {
	return errors.Is(err, ErrConversationNotFound)
}

func IsConversationAccessDenied(err error) bool {
	return errors.Is(err, ErrConversationAccessDenied)
}

func IsSenderMismatch(err error) bool {
	return errors.Is(err, ErrSenderMismatch)
}

func IsEmptyMessage(err error) bool {
	return errors.Is(err, ErrEmptyMessage)
}

func IsMessageTooLong(err error) bool {
	return errors.Is(err, ErrMessageTooLong)
}

func IsInvalidDate(err error) bool {
	return errors.Is(err, ErrInvalidDate)
}

func IsStartDateAfterEndDate(err error) bool {
	return errors.Is(err, ErrStartDateAfterEndDate)
}

func IsDateRangeTooLarge(err error) bool {
	return errors.Is(err, ErrDateRangeTooLarge)
}
