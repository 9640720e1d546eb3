package common

import (
	"errors"
	"fmt"
)

// ErrValidation matches every *ValidationError through errors.Is.
var ErrValidation = errors.New("validation failed")

// Code classifies why an input was refused.
type Code string

const (
	CodeMissingField        Code = "missing_field"
	CodeInvalidAmount       Code = "invalid_amount"
	CodeInvalidFormat       Code = "invalid_format"
	CodeBelowMinimum        Code = "below_minimum"
	CodeInsufficientPoints  Code = "insufficient_points"
	CodeNotFound            Code = "not_found"
	CodeEarlyWithdrawal     Code = "early_withdrawal"
	CodeNotEligible         Code = "not_eligible"
	CodeAlreadySettled      Code = "already_settled"
	CodeDuplicateSubmission Code = "duplicate_submission"
)

// ValidationError is a recoverable input failure. It carries the offending
// field so callers can render the message next to it.
type ValidationError struct {
	Field   string `json:"field,omitempty"`
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Field, e.Code, e.Message)
}

// Is lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid builds a ValidationError with a formatted message.
func Invalid(field string, code Code, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsValidation extracts a *ValidationError from err.
func AsValidation(err error) (*ValidationError, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}

// CheckAmount enforces 0 < amount <= available.
func CheckAmount(field string, amount, available int64) error {
	if amount <= 0 {
		return Invalid(field, CodeInvalidAmount, "amount must be greater than zero")
	}
	if amount > available {
		return Invalid(field, CodeInsufficientPoints, "requested %d points but only %d are available", amount, available)
	}
	return nil
}
