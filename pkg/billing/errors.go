package billing

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Stable machine-readable error codes. These are part of the package's
// contract: callers and upstream systems match on codes, not messages.
const (
	CodeSubscriptionNotFound         = "SUBSCRIPTION_NOT_FOUND"
	CodeInvalidStatusTransition      = "SUBSCRIPTION_INVALID_STATUS_TRANSITION"
	CodeFrequencyUnsupported         = "SUBSCRIPTION_FREQUENCY_UNSUPPORTED"
	CodeTrialDaysInvalid             = "SUBSCRIPTION_TRIAL_DAYS_INVALID"
	CodeTrialNotAllowedForFreePlan   = "SUBSCRIPTION_TRIAL_NOT_ALLOWED_FOR_FREE_PLAN"
	CodePendingToActiveRequiresTrial = "SUBSCRIPTION_PENDING_TO_ACTIVE_REQUIRES_TRIAL"
	CodeInvalidDate                  = "SUBSCRIPTION_INVALID_DATE"
)

// Error is a billing domain error carrying a stable code and structured
// context about the operation that raised it (subscription id, offending
// values). Match with errors.Is against the package sentinels; codes compare
// equal regardless of attached context.
type Error struct {
	Code    string
	Message string
	Meta    map[string]any
}

func (e *Error) Error() string {
	if len(e.Meta) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}

	keys := make([]string, 0, len(e.Meta))
	for k := range e.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%s=%v", k, e.Meta[k])
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, b.String())
}

// Is matches another *Error by code, so errors.Is(err, ErrSubscriptionNotFound)
// holds for any contextualized copy of the sentinel.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// With returns a copy of the error with the given context attached.
// The receiver is never mutated; sentinels stay clean.
func (e *Error) With(meta map[string]any) *Error {
	merged := make(map[string]any, len(e.Meta)+len(meta))
	for k, v := range e.Meta {
		merged[k] = v
	}
	for k, v := range meta {
		merged[k] = v
	}
	return &Error{Code: e.Code, Message: e.Message, Meta: merged}
}

var (
	ErrSubscriptionNotFound         = &Error{Code: CodeSubscriptionNotFound, Message: "subscription not found"}
	ErrInvalidStatusTransition      = &Error{Code: CodeInvalidStatusTransition, Message: "status transition not allowed"}
	ErrFrequencyUnsupported         = &Error{Code: CodeFrequencyUnsupported, Message: "unsupported billing frequency"}
	ErrTrialDaysInvalid             = &Error{Code: CodeTrialDaysInvalid, Message: "trial days must be positive"}
	ErrTrialNotAllowedForFreePlan   = &Error{Code: CodeTrialNotAllowedForFreePlan, Message: "free-tier plans cannot start a trial"}
	ErrPendingToActiveRequiresTrial = &Error{Code: CodePendingToActiveRequiresTrial, Message: "paid plan with trial days must go through trial before activation"}
	ErrInvalidDate                  = &Error{Code: CodeInvalidDate, Message: "invalid date"}
)

// ErrorCode extracts the domain error code from an error chain.
// Returns an empty string for non-domain errors.
func ErrorCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
