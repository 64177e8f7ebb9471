package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/sciflow/types"
)

func TestClassify_StructuredCodes(t *testing.T) {
	cases := []struct {
		code types.ErrorCode
		want ErrorKind
	}{
		{types.ErrRateLimited, KindRateLimited},
		{types.ErrQuotaExceeded, KindQuotaExhausted},
		{types.ErrUnauthorized, KindUnauthorized},
		{types.ErrUpstreamTimeout, KindTimeout},
		{types.ErrUpstreamError, KindOther},
	}
	for _, tc := range cases {
		t.Run(string(tc.code), func(t *testing.T) {
			err := types.NewError(tc.code, "upstream said no")
			assert.Equal(t, tc.want, Classify(err))
			// Wrapping must not hide the code.
			assert.Equal(t, tc.want, Classify(fmt.Errorf("call failed: %w", err)))
		})
	}
}

func TestClassify_MessageHeuristics(t *testing.T) {
	cases := []struct {
		msg  string
		want ErrorKind
	}{
		{"Rate limit exceeded, retry after 20s", KindRateLimited},
		{"HTTP 429 from upstream", KindRateLimited},
		{"You exceeded your current quota", KindQuotaExhausted},
		{"monthly budget reached", KindQuotaExhausted},
		{"401 Unauthorized", KindUnauthorized},
		{"authentication failed for key", KindUnauthorized},
		{"request timeout after 60s", KindTimeout},
		{"context deadline exceeded", KindTimeout},
		{"connection reset by peer", KindOther},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(errors.New(tc.msg)), tc.msg)
	}
}

func TestClassify_ContextDeadline(t *testing.T) {
	assert.Equal(t, KindTimeout, Classify(fmt.Errorf("llm call: %w", context.DeadlineExceeded)))
}

func TestErrorKind_Categories(t *testing.T) {
	assert.True(t, KindRateLimited.Credential())
	assert.True(t, KindQuotaExhausted.Credential())
	assert.True(t, KindUnauthorized.Credential())
	assert.False(t, KindTimeout.Credential())
	assert.False(t, KindOther.Credential())

	assert.True(t, KindTimeout.Transient())
	assert.True(t, KindOther.Transient())
	assert.False(t, KindRateLimited.Transient())
}
