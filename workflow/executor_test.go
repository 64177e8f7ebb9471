package workflow

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/sciflow/llm"
	"github.com/BaSui01/sciflow/llm/retry"
	"github.com/BaSui01/sciflow/types"
)

// recordingCompleter replays one scripted outcome per call and records
// the credential used for each.
type recordingCompleter struct {
	mu          sync.Mutex
	outcomes    []error // nil means success
	credentials []string
	calls       int
}

func (c *recordingCompleter) Complete(_ context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.calls
	c.calls++
	c.credentials = append(c.credentials, req.Credential)
	if i < len(c.outcomes) && c.outcomes[i] != nil {
		return nil, c.outcomes[i]
	}
	return &llm.CompletionResponse{Text: "response"}, nil
}

func fastBackoff() *retry.Policy {
	return &retry.Policy{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   1.0,
	}
}

func newTestExecutor(t *testing.T, completer llm.Completer, keys ...string) (*StageExecutor, *llm.CredentialPool) {
	t.Helper()
	pool := llm.NewCredentialPool(keys, zaptest.NewLogger(t))
	exec := NewStageExecutor(completer, pool, ExecutorConfig{
		Model:       "test-model",
		MaxAttempts: 3,
		CallTimeout: time.Second,
		Backoff:     fastBackoff(),
	}, nil, zaptest.NewLogger(t))
	return exec, pool
}

func TestExecutorCall_Success(t *testing.T) {
	completer := &recordingCompleter{}
	exec, _ := newTestExecutor(t, completer, "key-a")

	text, err := exec.Call(context.Background(), "system", "user")
	require.NoError(t, err)
	assert.Equal(t, "response", text)
	assert.Equal(t, []string{"key-a"}, completer.credentials)
}

func TestExecutorCall_RotatesCredentialWithoutBurningAttempts(t *testing.T) {
	rateLimited := types.NewError(types.ErrRateLimited, "429 from upstream")
	quota := types.NewError(types.ErrQuotaExceeded, "quota spent")
	completer := &recordingCompleter{outcomes: []error{rateLimited, quota, nil}}
	exec, pool := newTestExecutor(t, completer, "key-a", "key-b", "key-c")

	text, err := exec.Call(context.Background(), "system", "user")
	require.NoError(t, err)
	assert.Equal(t, "response", text)
	assert.Equal(t, []string{"key-a", "key-b", "key-c"}, completer.credentials)
	assert.Equal(t, 1, pool.AvailableCount())
}

func TestExecutorCall_TransientFailureRetriesWithoutDisabling(t *testing.T) {
	timeout := types.NewError(types.ErrUpstreamTimeout, "gateway timeout").WithRetryable(true)
	completer := &recordingCompleter{outcomes: []error{timeout, nil}}
	exec, pool := newTestExecutor(t, completer, "key-a")

	text, err := exec.Call(context.Background(), "system", "user")
	require.NoError(t, err)
	assert.Equal(t, "response", text)
	// In-place retry does not disable the credential.
	assert.Equal(t, []string{"key-a", "key-a"}, completer.credentials)
	assert.Equal(t, 1, pool.AvailableCount())
}

func TestExecutorCall_AccumulatesRetriesIntoContextCounter(t *testing.T) {
	upstream := types.NewError(types.ErrUpstreamError, "500").WithRetryable(true)
	completer := &recordingCompleter{outcomes: []error{upstream, upstream, nil}}
	exec, _ := newTestExecutor(t, completer, "key-a")

	var retries atomic.Int64
	ctx := WithRetryCounter(context.Background(), &retries)
	_, err := exec.Call(ctx, "system", "user")
	require.NoError(t, err)
	assert.EqualValues(t, 2, retries.Load())

	// Credential rotation is not a retry.
	rateLimited := types.NewError(types.ErrRateLimited, "429 from upstream")
	completer = &recordingCompleter{outcomes: []error{rateLimited, nil}}
	exec, _ = newTestExecutor(t, completer, "key-a", "key-b")
	retries.Store(0)
	_, err = exec.Call(WithRetryCounter(context.Background(), &retries), "system", "user")
	require.NoError(t, err)
	assert.EqualValues(t, 0, retries.Load())
}

func TestExecutorCall_RetriesExhausted(t *testing.T) {
	upstream := types.NewError(types.ErrUpstreamError, "500").WithRetryable(true)
	completer := &recordingCompleter{outcomes: []error{upstream, upstream, upstream, upstream}}
	exec, _ := newTestExecutor(t, completer, "key-a")

	_, err := exec.Call(context.Background(), "system", "user")
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrRetriesExhausted))
	assert.Equal(t, 3, completer.calls)
}

func TestExecutorCall_PoolExhaustedSurfacesImmediately(t *testing.T) {
	unauthorized := types.NewError(types.ErrUnauthorized, "bad key")
	completer := &recordingCompleter{outcomes: []error{unauthorized, unauthorized}}
	exec, pool := newTestExecutor(t, completer, "key-a", "key-b")

	_, err := exec.Call(context.Background(), "system", "user")
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrPoolExhausted))
	assert.Equal(t, 0, pool.AvailableCount())
	assert.Equal(t, 2, completer.calls)
}

func TestExecutorCall_EmptyPool(t *testing.T) {
	completer := &recordingCompleter{}
	exec, _ := newTestExecutor(t, completer)

	_, err := exec.Call(context.Background(), "system", "user")
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrPoolExhausted))
	assert.Equal(t, 0, completer.calls)
}

func TestExecutorCall_CancelledContext(t *testing.T) {
	completer := &recordingCompleter{}
	exec, _ := newTestExecutor(t, completer, "key-a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := exec.Call(ctx, "system", "user")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, completer.calls)
}

func TestExecutorForStage_SharesCallPath(t *testing.T) {
	completer := &recordingCompleter{}
	exec, _ := newTestExecutor(t, completer, "key-a")

	caller := exec.ForStage(StageSynthesis)
	text, err := caller.Call(context.Background(), "system", "user")
	require.NoError(t, err)
	assert.Equal(t, "response", text)
}
