package authcore

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by Engine operations matches exactly one
// of these with errors.Is.
var (
	// ErrAuthentication covers missing, invalid or expired credentials and
	// locked or disabled principals.
	ErrAuthentication = errors.New("authentication failed")
	// ErrAuthorization covers insufficient roles and missing tenant scope.
	ErrAuthorization = errors.New("not authorized")
	// ErrValidation covers rejected input such as a password policy violation.
	ErrValidation = errors.New("validation failed")
	// ErrRateLimited is returned when an actor exceeds its budget.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrConfiguration is returned by Config.Validate and Builder.Build.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrUnavailable is returned when a backing store fails on a path that
	// must fail closed.
	ErrUnavailable = errors.New("backend unavailable")
)

var (
	// ErrNotFound is returned by stores for a missing record.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned by stores for a uniqueness violation.
	ErrConflict = errors.New("record already exists")
)

// Reason codes carried by *Error and recorded as the audit reason.
const (
	ReasonInvalidCredentials   = "invalid_credentials"
	ReasonUnknownPrincipal     = "unknown_principal"
	ReasonAccountLocked        = "account_locked"
	ReasonAccountDisabled      = "account_disabled"
	ReasonNoCredential         = "no_credential"
	ReasonInvalidCarrier       = "invalid_carrier"
	ReasonSessionNotFound      = "session_not_found"
	ReasonSessionExpired       = "session_expired"
	ReasonSecondFactorRequired = "second_factor_required"
	ReasonTOTPNotConfigured    = "totp_not_configured"
	ReasonTOTPNotConfirmed     = "totp_not_confirmed"
	ReasonTOTPAlreadyConfirmed = "totp_already_confirmed"
	ReasonTOTPInvalid          = "totp_invalid"
	ReasonTOTPReplay           = "totp_replay"
	ReasonBackupCodeInvalid    = "backup_code_invalid"
	ReasonForbidden            = "forbidden"
	ReasonTenantRequired       = "tenant_required"
	ReasonRateLimited          = "rate_limited"
	ReasonUnavailable          = "unavailable"
	ReasonCancelled            = "cancelled"
	ReasonInvalidConfig        = "invalid_config"
	ReasonInternal             = "internal"
)

// Error is the concrete error returned by Engine operations.
type Error struct {
	Kind   error
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Reason)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Is matches another *Error with the same kind and reason, so wrapped
// failures still compare equal to the exported values below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Reason == e.Reason
}

func newError(kind error, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: cause}
}

// Well-known failures, comparable with errors.Is.
var (
	ErrInvalidCredentials   = newError(ErrAuthentication, ReasonInvalidCredentials, nil)
	ErrAccountLocked        = newError(ErrAuthentication, ReasonAccountLocked, nil)
	ErrAccountDisabled      = newError(ErrAuthentication, ReasonAccountDisabled, nil)
	ErrNoCredential         = newError(ErrAuthentication, ReasonNoCredential, nil)
	ErrSessionNotFound      = newError(ErrAuthentication, ReasonSessionNotFound, nil)
	ErrSessionExpired       = newError(ErrAuthentication, ReasonSessionExpired, nil)
	ErrSecondFactorRequired = newError(ErrAuthentication, ReasonSecondFactorRequired, nil)
	ErrTOTPNotConfigured    = newError(ErrValidation, ReasonTOTPNotConfigured, nil)
	ErrTOTPNotConfirmed     = newError(ErrAuthentication, ReasonTOTPNotConfirmed, nil)
	ErrTOTPAlreadyConfirmed = newError(ErrValidation, ReasonTOTPAlreadyConfirmed, nil)
	ErrTOTPInvalid          = newError(ErrAuthentication, ReasonTOTPInvalid, nil)
	ErrTOTPReplay           = newError(ErrAuthentication, ReasonTOTPReplay, nil)
	ErrBackupCodeInvalid    = newError(ErrAuthentication, ReasonBackupCodeInvalid, nil)
	ErrForbidden            = newError(ErrAuthorization, ReasonForbidden, nil)
	ErrTenantRequired       = newError(ErrAuthorization, ReasonTenantRequired, nil)
)

// ReasonOf returns the machine-readable reason of err, or "" when err is not
// an *Error.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// KindOf returns the kind sentinel matching err, or nil.
func KindOf(err error) error {
	for _, k := range []error{ErrAuthentication, ErrAuthorization, ErrValidation, ErrRateLimited, ErrConfiguration, ErrUnavailable} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

func unavailable(cause error) *Error {
	return newError(ErrUnavailable, ReasonUnavailable, cause)
}

func configError(format string, args ...any) *Error {
	return newError(ErrConfiguration, ReasonInvalidConfig, fmt.Errorf(format, args...))
}
