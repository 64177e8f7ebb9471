package workflow

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/sciflow/internal/metrics"
	"github.com/BaSui01/sciflow/llm"
	"github.com/BaSui01/sciflow/llm/retry"
	"github.com/BaSui01/sciflow/types"
)

// ExecutorConfig tunes the per-call behavior shared by every stage.
type ExecutorConfig struct {
	// Model is passed through to the completion transport.
	Model string
	// MaxAttempts bounds in-place retries of transient failures per
	// call. Zero means 3. Credential rotation does not consume
	// attempts; it is bounded by pool exhaustion instead.
	MaxAttempts int
	// CallTimeout caps a single outbound call. Zero means 60s. An
	// in-flight call is allowed to run to this deadline rather than
	// being force-killed on cancellation.
	CallTimeout time.Duration
	// RatePerSecond throttles outbound calls across the process.
	// Zero disables throttling.
	RatePerSecond float64
	// Backoff shapes the delay between transient retries. Nil means
	// the default policy.
	Backoff *retry.Policy
}

func (c ExecutorConfig) withDefaults() ExecutorConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 60 * time.Second
	}
	if c.Backoff == nil {
		c.Backoff = retry.DefaultPolicy()
	}
	return c
}

// StageExecutor wraps every outbound model call: it draws a credential
// from the pool, throttles, times out, classifies failures, and either
// rotates credentials or backs off and retries in place. It implements
// llm.Caller so retrieval, graph extraction, and agents all share one
// call path.
type StageExecutor struct {
	completer llm.Completer
	pool      *llm.CredentialPool
	limiter   *rate.Limiter
	cfg       ExecutorConfig
	tracer    trace.Tracer
	metrics   *metrics.Collector
	logger    *zap.Logger
}

func NewStageExecutor(completer llm.Completer, pool *llm.CredentialPool, cfg ExecutorConfig, collector *metrics.Collector, logger *zap.Logger) *StageExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	return &StageExecutor{
		completer: completer,
		pool:      pool,
		limiter:   limiter,
		cfg:       cfg,
		tracer:    otel.Tracer("sciflow/workflow"),
		metrics:   collector,
		logger:    logger.With(zap.String("component", "stage_executor")),
	}
}

type retryCounterKey struct{}

// WithRetryCounter returns a context under which every transient
// retry made by the executor is added to n. The engine tags each
// run's context so retries are attributed to the run that made them.
func WithRetryCounter(ctx context.Context, n *atomic.Int64) context.Context {
	return context.WithValue(ctx, retryCounterKey{}, n)
}

func countRetry(ctx context.Context) {
	if n, ok := ctx.Value(retryCounterKey{}).(*atomic.Int64); ok {
		n.Add(1)
	}
}

// Call satisfies llm.Caller with a generic stage label.
func (e *StageExecutor) Call(ctx context.Context, system, user string) (string, error) {
	return e.call(ctx, "adhoc", system, user)
}

// ForStage binds the executor to a stage label for tracing and
// metrics. Stage handlers receive the bound caller, never the executor
// itself.
func (e *StageExecutor) ForStage(stage Stage) llm.Caller {
	name := string(stage)
	return llm.CallerFunc(func(ctx context.Context, system, user string) (string, error) {
		return e.call(ctx, name, system, user)
	})
}

func (e *StageExecutor) call(ctx context.Context, stage, system, user string) (string, error) {
	ctx, span := e.tracer.Start(ctx, "stage.call",
		trace.WithAttributes(attribute.String("stage", stage)))
	defer span.End()

	start := time.Now()
	text, err := e.callWithRetry(ctx, stage, system, user)
	e.metrics.ObserveStageCall(stage, err == nil, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetStatus(codes.Ok, "")
	return text, nil
}

func (e *StageExecutor) callWithRetry(ctx context.Context, stage, system, user string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < e.cfg.MaxAttempts; {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return "", err
			}
		}

		cred, err := e.pool.Current()
		if err != nil {
			// Pool exhaustion surfaces immediately, no spinning.
			e.metrics.IncPoolExhausted()
			return "", err
		}

		text, callErr := e.invoke(ctx, cred.Value(), system, user)
		if callErr == nil {
			e.pool.MarkSucceeded(cred)
			return text, nil
		}
		lastErr = callErr
		kind := llm.Classify(callErr)

		if kind.Credential() {
			// Failover: disable this credential and move straight to
			// the next one without burning a retry attempt.
			e.pool.MarkFailed(cred, kind, callErr)
			e.metrics.IncRotation(stage)
			e.logger.Warn("credential rotated",
				zap.String("stage", stage),
				zap.String("kind", string(kind)),
				zap.Error(callErr))
			continue
		}

		attempt++
		if attempt >= e.cfg.MaxAttempts {
			break
		}
		e.metrics.IncRetry(stage)
		countRetry(ctx)
		e.logger.Warn("transient call failure, backing off",
			zap.String("stage", stage),
			zap.Int("attempt", attempt),
			zap.Error(callErr))
		if err := e.cfg.Backoff.Sleep(ctx, attempt); err != nil {
			return "", err
		}
	}
	return "", types.NewError(types.ErrRetriesExhausted, "stage call failed after all attempts").
		WithStage(stage).
		WithCause(lastErr)
}

func (e *StageExecutor) invoke(ctx context.Context, credential, system, user string) (string, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.CallTimeout)
	defer cancel()

	resp, err := e.completer.Complete(callCtx, &llm.CompletionRequest{
		Credential: credential,
		Model:      e.cfg.Model,
		System:     system,
		Messages:   []llm.Message{{Role: llm.RoleUser, Content: user}},
		Timeout:    e.cfg.CallTimeout,
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}
