package pool

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoAccountsConfigured is returned when the pool is empty. The
	// operator has to add an account; waiting does not help.
	ErrNoAccountsConfigured = errors.New("no accounts configured")

	// ErrStateMismatch is returned when an OAuth callback carries a
	// state token we never issued (or one that already expired).
	ErrStateMismatch = errors.New("oauth state mismatch")

	// ErrAccountNotFound is returned for operations on an unknown email.
	ErrAccountNotFound = errors.New("account not found")
)

// ExhaustedError is returned when every account in the pool is either
// invalid or cooled down for the requested model. Callers may use it to
// drive a model-level fallback.
type ExhaustedError struct {
	Model    string
	Accounts int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d accounts exhausted for model %s", e.Accounts, e.Model)
}

// CredentialInvalidError signals that the provider rejected an
// account's refresh token permanently. The account is flagged invalid
// and never retried until the operator re-authenticates it.
type CredentialInvalidError struct {
	Email  string
	Reason string
}

func (e *CredentialInvalidError) Error() string {
	return fmt.Sprintf("credential invalid for %s: %s", e.Email, e.Reason)
}

// OAuthExchangeError wraps a failed authorization-code exchange during
// the add-account flow. The pool is left unchanged.
type OAuthExchangeError struct {
	Err error
}

func (e *OAuthExchangeError) Error() string {
	return fmt.Sprintf("oauth exchange failed: %v", e.Err)
}

func (e *OAuthExchangeError) Unwrap() error { return e.Err }

// FailureKind classifies an upstream failure reported back to the pool.
type FailureKind int

const (
	FailureRateLimited FailureKind = iota
	FailureQuotaExhausted
	FailureCredentialInvalid
)

func (k FailureKind) String() string {
	switch k {
	case FailureRateLimited:
		return "rate_limited"
	case FailureQuotaExhausted:
		return "quota_exhausted"
	case FailureCredentialInvalid:
		return "credential_invalid"
	default:
		return "unknown"
	}
}

// Failure describes one upstream failure for ReportFailure.
// RetryAfter is only meaningful for FailureRateLimited; zero means the
// upstream gave no hint and the default cooldown applies.
type Failure struct {
	Kind       FailureKind
	RetryAfter time.Duration
	Reason     string
}
