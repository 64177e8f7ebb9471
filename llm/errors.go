package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/BaSui01/sciflow/types"
)

// ErrorKind classifies an upstream call failure for the purposes of
// credential health tracking and retry policy.
type ErrorKind string

const (
	KindRateLimited    ErrorKind = "rate_limited"
	KindQuotaExhausted ErrorKind = "quota_exhausted"
	KindUnauthorized   ErrorKind = "unauthorized"
	KindTimeout        ErrorKind = "timeout"
	KindOther          ErrorKind = "other"
)

// CredentialKinds are the kinds that disable the credential that was
// used for the failing call.
func (k ErrorKind) Credential() bool {
	switch k {
	case KindRateLimited, KindQuotaExhausted, KindUnauthorized:
		return true
	}
	return false
}

// Transient reports whether the failure is worth an in-place retry with
// the same credential.
func (k ErrorKind) Transient() bool {
	return k == KindTimeout || k == KindOther
}

// Classify maps an error from a Completer to an ErrorKind. Structured
// *types.Error codes take precedence; message heuristics cover
// providers that surface raw upstream text.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindOther
	}

	switch types.GetErrorCode(err) {
	case types.ErrRateLimited:
		return KindRateLimited
	case types.ErrQuotaExceeded:
		return KindQuotaExhausted
	case types.ErrUnauthorized:
		return KindUnauthorized
	case types.ErrUpstreamTimeout:
		return KindTimeout
	case types.ErrUpstreamError:
		return KindOther
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		return KindRateLimited
	case strings.Contains(msg, "quota") || strings.Contains(msg, "budget") || strings.Contains(msg, "insufficient"):
		return KindQuotaExhausted
	case strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "authentication"):
		return KindUnauthorized
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return KindTimeout
	}
	return KindOther
}
