package auth

import (
	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidCredentials   = "INVALID_CREDENTIALS"
	TextCodeNotAuthenticated     = "NOT_AUTHENTICATED"
	TextCodeSessionExpired       = "SESSION_EXPIRED"
	TextCodeForbidden            = "FORBIDDEN"
	TextCodeInvalidRole          = "INVALID_ROLE"
	TextCodeStationRequired      = "STATION_REQUIRED"
	TextCodeDuplicateGrant       = "DUPLICATE_ROLE_GRANT"
	TextCodeRequestResolved      = "REGISTRATION_ALREADY_RESOLVED"
	TextCodeInvalidTransition    = "INVALID_REGISTRATION_TRANSITION"
	TextCodeAlreadyCountersigned = "PROMOTION_ALREADY_COUNTERSIGNED"
	TextCodePromotionPending     = "PROMOTION_PENDING"
	TextCodeNotPromotionRequest  = "NOT_A_PROMOTION_REQUEST"
	TextCodeSelfCountersign      = "SELF_COUNTERSIGN"
	TextCodeApprovalFailed       = "STATION_APPROVAL_FAILED"
	TextCodeSignupDisabled       = "SIGNUP_DISABLED"
	TextCodeRegistrationDisabled = "STATION_REGISTRATION_DISABLED"
	TextCodeReasonRequired       = "REJECTION_REASON_REQUIRED"
	TextCodeBadPayload           = "BAD_PAYLOAD"
)

// ErrInvalidCredentials is returned by providers for bad email/password pairs
var ErrInvalidCredentials = goerrors.New("the credentials provided are invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrNotAuthenticated is returned when an operation needs a live session
var ErrNotAuthenticated = goerrors.New("no active session", goerrors.CategoryAuth).
	WithTextCode(TextCodeNotAuthenticated).
	WithCode(goerrors.CodeUnauthorized)

// ErrSessionExpired is returned for sessions past their expiry
var ErrSessionExpired = goerrors.New("session has expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeSessionExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrForbidden is returned when the acting principal lacks the capability
var ErrForbidden = goerrors.New("insufficient permission for this action", goerrors.CategoryAuthz).
	WithTextCode(TextCodeForbidden).
	WithCode(goerrors.CodeForbidden)

// ErrInvalidRole is returned for role names outside the closed role set
var ErrInvalidRole = goerrors.New("unknown role", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidRole).
	WithCode(goerrors.CodeBadRequest)

// ErrStationRequired is returned when a station-scoped role is granted without a station
var ErrStationRequired = goerrors.New("station-scoped roles require a station id", goerrors.CategoryValidation).
	WithTextCode(TextCodeStationRequired).
	WithCode(goerrors.CodeBadRequest)

// ErrDuplicateGrant is returned when an identical grant already exists
var ErrDuplicateGrant = goerrors.New("role is already granted", goerrors.CategoryConflict).
	WithTextCode(TextCodeDuplicateGrant).
	WithCode(goerrors.CodeConflict)

// ErrRequestResolved is returned for a second approve/reject of a terminal request
var ErrRequestResolved = goerrors.New("registration request is no longer pending", goerrors.CategoryValidation).
	WithTextCode(TextCodeRequestResolved).
	WithCode(goerrors.CodeConflict)

// ErrInvalidTransition is returned when a status change is not in the transition table
var ErrInvalidTransition = goerrors.New("invalid registration state transition", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// ErrAlreadyCountersigned is returned when a promotion was already finalized
var ErrAlreadyCountersigned = goerrors.New("promotion has already been countersigned", goerrors.CategoryValidation).
	WithTextCode(TextCodeAlreadyCountersigned).
	WithCode(goerrors.CodeConflict)

// ErrPromotionPending is returned when station_admin is assigned while a
// promotion request for the same user and station awaits countersignature.
// The grant_id metadata names the request to countersign.
var ErrPromotionPending = goerrors.New("a station_admin promotion request is awaiting countersignature", goerrors.CategoryConflict).
	WithTextCode(TextCodePromotionPending).
	WithCode(goerrors.CodeConflict)

// ErrNotPromotionRequest is returned when a grant is not a station_admin promotion
var ErrNotPromotionRequest = goerrors.New("grant is not a station_admin promotion request", goerrors.CategoryValidation).
	WithTextCode(TextCodeNotPromotionRequest).
	WithCode(goerrors.CodeBadRequest)

// ErrSelfCountersign is returned when a principal tries to finalize their own promotion
var ErrSelfCountersign = goerrors.New("a promotion cannot be countersigned by its subject", goerrors.CategoryValidation).
	WithTextCode(TextCodeSelfCountersign).
	WithCode(goerrors.CodeForbidden)

// ErrRejectionReasonRequired is returned when a registration is rejected without a reason
var ErrRejectionReasonRequired = goerrors.New("a rejection reason is required", goerrors.CategoryValidation).
	WithTextCode(TextCodeReasonRequired).
	WithCode(goerrors.CodeBadRequest)

// ErrSignupDisabled is returned when self-service signup is turned off
var ErrSignupDisabled = goerrors.New("self-service signup is disabled", goerrors.CategoryAuthz).
	WithTextCode(TextCodeSignupDisabled).
	WithCode(goerrors.CodeForbidden)

// ErrRegistrationDisabled is returned when station registration is turned off
var ErrRegistrationDisabled = goerrors.New("station registration is disabled", goerrors.CategoryAuthz).
	WithTextCode(TextCodeRegistrationDisabled).
	WithCode(goerrors.CodeForbidden)

// ErrBadPayload is returned when a request body cannot be decoded
var ErrBadPayload = goerrors.New("request body could not be parsed", goerrors.CategoryBadInput).
	WithTextCode(TextCodeBadPayload).
	WithCode(goerrors.CodeBadRequest)

// ErrRegistrationNotFound is returned for unknown registration request ids
var ErrRegistrationNotFound = goerrors.New("registration request not found", goerrors.CategoryNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrGrantNotFound is returned for unknown role grant ids
var ErrGrantNotFound = goerrors.New("role grant not found", goerrors.CategoryNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrStationNotFound is returned for unknown station ids
var ErrStationNotFound = goerrors.New("station not found", goerrors.CategoryNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrProfileNotFound is returned when a profile was not created yet
var ErrProfileNotFound = goerrors.New("profile not found", goerrors.CategoryNotFound).
	WithCode(goerrors.CodeNotFound)

// IsValidationError reports precondition violations: rejected before any store mutation.
func IsValidationError(err error) bool {
	return hasCategory(err, goerrors.CategoryValidation)
}

// IsIdentityError reports bad credentials or expired sessions.
func IsIdentityError(err error) bool {
	return hasCategory(err, goerrors.CategoryAuth)
}

// IsAuthzError reports capability violations of the acting principal.
func IsAuthzError(err error) bool {
	return hasCategory(err, goerrors.CategoryAuthz)
}

// IsWorkflowError reports a multi-step workflow that failed partway and was compensated.
func IsWorkflowError(err error) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.Category == goerrors.CategoryOperation && richErr.TextCode == TextCodeApprovalFailed
}

// IsNotFound reports lookups of unknown records.
func IsNotFound(err error) bool {
	return hasCategory(err, goerrors.CategoryNotFound)
}

func hasCategory(err error, category goerrors.Category) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.Category == category
}

// detailedError carries a copy of a sentinel with request specific metadata.
// errors.Is still matches the sentinel and goerrors.As yields the copy.
type detailedError struct {
	detail   *goerrors.Error
	sentinel *goerrors.Error
}

func (e *detailedError) Error() string { return e.detail.Error() }

func (e *detailedError) Unwrap() []error { return []error{e.detail, e.sentinel} }

func withDetails(sentinel *goerrors.Error, metadata map[string]any) error {
	return &detailedError{
		detail:   sentinel.Clone().WithMetadata(metadata),
		sentinel: sentinel,
	}
}
