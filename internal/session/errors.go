package session

import "errors"

var (
	ErrNotFound                  = errors.New("not found")
	ErrParse                     = errors.New("unable to parse")
	ErrMissingMFAToken           = errors.New("missing mfa token")
	ErrSTSFailure                = errors.New("sts failure")
	ErrSAMLFailure               = errors.New("saml failure")
	ErrExecuteFailure            = errors.New("execute failure")
	ErrLoginInterrupted          = errors.New("login interrupted")
	ErrLoginTimeout              = errors.New("login timeout")
	ErrConflictingPendingSession = errors.New("conflicting pending session on profile")
	ErrChainedCycle              = errors.New("chained session parent cycle")
	ErrSessionNotActive          = errors.New("session is not active")
	ErrProfileProtected          = errors.New("profile is protected")
	ErrUnknownSessionType        = errors.New("unknown session type")
)
