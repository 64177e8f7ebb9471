package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/sciflow/agents"
	"github.com/BaSui01/sciflow/docstore"
	"github.com/BaSui01/sciflow/graph"
	"github.com/BaSui01/sciflow/internal/metrics"
	"github.com/BaSui01/sciflow/llm"
	"github.com/BaSui01/sciflow/retrieval"
	"github.com/BaSui01/sciflow/types"
)

// EngineConfig tunes the workflow engine.
type EngineConfig struct {
	// MaxDomainAgents bounds the routing fan-out. Values above 3 are
	// clamped to 3.
	MaxDomainAgents int
	// MaxCheckpointRejections bounds consecutive rejections of one
	// checkpoint before the run fails. Zero means 3.
	MaxCheckpointRejections int
	// GraphStrategy and GraphMaxSteps shape path sampling.
	GraphStrategy Strategy
	GraphMaxSteps int
	// GraphSeed makes random-walk sampling reproducible when nonzero.
	GraphSeed int64
	// Retrieval configures the retrieve-reflect loop shared by the
	// knowledge-graph, novelty, and support-review stages.
	Retrieval retrieval.Config
}

// Strategy aliases the graph sampling strategy for configuration.
type Strategy = graph.Strategy

func (c EngineConfig) withDefaults() EngineConfig {
	if c.MaxDomainAgents <= 0 || c.MaxDomainAgents > 3 {
		c.MaxDomainAgents = 3
	}
	if c.MaxCheckpointRejections <= 0 {
		c.MaxCheckpointRejections = 3
	}
	if c.GraphMaxSteps <= 0 {
		c.GraphMaxSteps = 10
	}
	if c.GraphStrategy == "" {
		c.GraphStrategy = graph.StrategyRandom
	}
	return c
}

// AgentFactory builds the domain agent for a routed field.
type AgentFactory func(field agents.Field, caller llm.Caller) agents.DomainAgent

// Engine is the top-level state machine. It owns run lifecycle
// (start, suspend at checkpoints, resume, cancel) and drives every
// stage through the StageExecutor. State is persisted at each stage
// boundary so suspension is durable.
type Engine struct {
	executor *StageExecutor
	docs     docstore.DocumentStore
	store    RunStore
	router   *agents.Router
	factory  AgentFactory
	tools    []agents.SearchTool
	cfg      EngineConfig
	metrics  *metrics.Collector
	logger   *zap.Logger
	clock    func() time.Time

	retrievalOpts []retrieval.Option

	mu   sync.Mutex
	runs map[string]*activeRun
	wg   sync.WaitGroup
}

type activeRun struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// EngineOption configures optional engine collaborators.
type EngineOption func(*Engine)

// WithAgentFactory replaces the stock search-agent factory.
func WithAgentFactory(f AgentFactory) EngineOption {
	return func(e *Engine) { e.factory = f }
}

// WithSearchTools registers document search tools shared by all
// domain agents.
func WithSearchTools(tools ...agents.SearchTool) EngineOption {
	return func(e *Engine) { e.tools = tools }
}

// WithMetrics wires the Prometheus collector.
func WithMetrics(c *metrics.Collector) EngineOption {
	return func(e *Engine) { e.metrics = c }
}

// WithClock overrides time for tests.
func WithClock(clock func() time.Time) EngineOption {
	return func(e *Engine) { e.clock = clock }
}

// WithRetrievalOptions forwards options (judgment cache, token
// counter) to the per-run retrieval engines.
func WithRetrievalOptions(opts ...retrieval.Option) EngineOption {
	return func(e *Engine) { e.retrievalOpts = opts }
}

func NewEngine(executor *StageExecutor, docs docstore.DocumentStore, store RunStore, cfg EngineConfig, logger *zap.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		executor: executor,
		docs:     docs,
		store:    store,
		cfg:      cfg.withDefaults(),
		logger:   logger.With(zap.String("component", "workflow")),
		clock:    time.Now,
		runs:     make(map[string]*activeRun),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.router = agents.NewRouter(executor.ForStage(StageRouting), logger)
	if e.factory == nil {
		e.factory = func(field agents.Field, caller llm.Caller) agents.DomainAgent {
			return agents.NewSearchAgent(field, caller, e.tools, agents.SearchAgentConfig{}, logger)
		}
	}
	return e
}

// Start creates a run and begins executing it in the background. The
// returned run ID is the handle for CurrentState, Resume and Cancel.
func (e *Engine) Start(ctx context.Context, query string, mode Mode) (string, error) {
	if query == "" {
		return "", types.NewError(types.ErrInternalError, "empty query")
	}
	if !mode.Valid() {
		return "", types.NewError(types.ErrInternalError, fmt.Sprintf("unknown mode %q", mode))
	}
	state := NewPipelineState(uuid.NewString(), query, mode, e.clock())
	if err := e.store.Save(ctx, state); err != nil {
		return "", err
	}
	e.launch(state)
	return state.RunID, nil
}

// Resume delivers a review decision for the named pending checkpoint.
// On approval, optional edits replace the checkpoint payload before
// the run continues. On rejection, edits are treated as reviewer
// feedback and the producing stage re-executes with that feedback in
// its instruction context; the third consecutive rejection fails the
// run.
func (e *Engine) Resume(ctx context.Context, runID string, checkpoint Stage, approve bool, edits json.RawMessage) error {
	state, err := e.store.Load(ctx, runID)
	if err != nil {
		return err
	}
	state.ensureMaps()
	if state.PendingCheckpoint == nil || state.Status != StatusSuspended {
		return types.NewError(types.ErrInvalidTransition, "run is not suspended at a checkpoint")
	}
	if state.PendingCheckpoint.Name != checkpoint {
		return types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("pending checkpoint is %q, not %q", state.PendingCheckpoint.Name, checkpoint))
	}

	now := e.clock()
	if approve {
		if len(edits) > 0 {
			if err := e.applyEdits(state, checkpoint, edits); err != nil {
				return err
			}
		}
		state.Approvals[checkpoint] = true
		state.Rejections[checkpoint] = 0
		delete(state.ReviewNotes, checkpoint)
		state.PendingCheckpoint = nil
		// The producing stage already ran; advance past it.
		next, err := NextStage(checkpoint, state.Mode)
		if err != nil {
			return err
		}
		state.Stage = next
		state.Status = StatusRunning
		state.UpdatedAt = now
		if err := e.store.Save(ctx, state); err != nil {
			return err
		}
		e.launch(state)
		return nil
	}

	state.Rejections[checkpoint]++
	if state.Rejections[checkpoint] >= e.cfg.MaxCheckpointRejections {
		state.Status = StatusFailed
		state.Stage = StageError
		state.FailedStage = checkpoint
		state.PendingCheckpoint = nil
		state.RecordError(checkpoint,
			fmt.Sprintf("checkpoint rejected %d times", state.Rejections[checkpoint]), now)
		e.metrics.IncRunFinished(string(StatusFailed))
		return e.store.Save(ctx, state)
	}
	if len(edits) > 0 {
		state.ReviewNotes[checkpoint] = string(edits)
	} else {
		state.ReviewNotes[checkpoint] = "The previous output was rejected by the reviewer. Produce a substantially improved version."
	}
	state.PendingCheckpoint = nil
	state.Stage = checkpoint // re-enter the producing stage
	state.Status = StatusRunning
	state.UpdatedAt = now
	if err := e.store.Save(ctx, state); err != nil {
		return err
	}
	e.launch(state)
	return nil
}

// Cancel stops a run at its next stage boundary. An in-flight model
// call is left to finish or time out on its own.
func (e *Engine) Cancel(ctx context.Context, runID string) error {
	e.mu.Lock()
	run, ok := e.runs[runID]
	e.mu.Unlock()
	if ok {
		run.cancel()
		<-run.done
		return nil
	}
	// Not active in this process: mark the stored state directly.
	state, err := e.store.Load(ctx, runID)
	if err != nil {
		return err
	}
	if state.Status.Terminal() {
		return nil
	}
	state.Status = StatusCancelled
	state.PendingCheckpoint = nil
	state.UpdatedAt = e.clock()
	return e.store.Save(ctx, state)
}

// CurrentState returns a read-only snapshot of the run.
func (e *Engine) CurrentState(ctx context.Context, runID string) (*PipelineState, error) {
	state, err := e.store.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	return state.Clone()
}

// Wait blocks until every background run goroutine has exited. Used
// by tests and on shutdown.
func (e *Engine) Wait() { e.wg.Wait() }

func (e *Engine) launch(state *PipelineState) {
	ctx, cancel := context.WithCancel(context.Background())
	run := &activeRun{cancel: cancel, done: make(chan struct{})}
	e.mu.Lock()
	e.runs[state.RunID] = run
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(run.done)
		defer func() {
			e.mu.Lock()
			delete(e.runs, state.RunID)
			e.mu.Unlock()
			cancel()
		}()
		e.step(ctx, state)
	}()
}

// step drives the run until it completes, fails, suspends at a
// checkpoint, or is cancelled. Cancellation is checked only at stage
// boundaries.
func (e *Engine) step(ctx context.Context, state *PipelineState) {
	logger := e.logger.With(zap.String("run_id", state.RunID))
	start := e.clock()

	// Transient retries made during this run's stage calls accumulate
	// here and fold into the persisted state at each boundary. Seeding
	// from the state keeps the count across suspend and resume.
	var retries atomic.Int64
	retries.Store(int64(state.RetryCount))
	ctx = WithRetryCounter(ctx, &retries)

	for {
		if ctx.Err() != nil {
			state.Status = StatusCancelled
			state.UpdatedAt = e.clock()
			e.persist(state, logger)
			e.metrics.IncRunFinished(string(StatusCancelled))
			logger.Info("run cancelled", zap.String("stage", string(state.Stage)))
			return
		}
		if state.Stage == StageComplete {
			state.Status = StatusCompleted
			state.Stats.Documents, state.Stats.AvgConfidence = summarizeResults(state.DomainResults)
			state.Stats.Elapsed += e.clock().Sub(start)
			state.UpdatedAt = e.clock()
			e.persist(state, logger)
			e.metrics.IncRunFinished(string(StatusCompleted))
			logger.Info("run completed", zap.Int("stages", state.Stats.StagesExecuted))
			return
		}

		stage := state.Stage
		logger.Info("executing stage", zap.String("stage", string(stage)))
		err := e.runStage(ctx, state, stage)
		state.RetryCount = int(retries.Load())
		if err != nil {
			state.Status = StatusFailed
			state.FailedStage = stage
			state.Stage = StageError
			state.RecordError(stage, err.Error(), e.clock())
			state.Stats.Elapsed += e.clock().Sub(start)
			e.persist(state, logger)
			e.metrics.IncRunFinished(string(StatusFailed))
			logger.Error("run failed", zap.String("stage", string(stage)), zap.Error(err))
			return
		}
		state.Stats.StagesExecuted++
		state.UpdatedAt = e.clock()

		if IsCheckpoint(stage, state.Mode) && !state.Approvals[stage] {
			payload := e.checkpointPayload(state, stage)
			state.PendingCheckpoint = &Checkpoint{
				Name:      stage,
				Payload:   payload,
				CreatedAt: e.clock(),
			}
			state.Status = StatusSuspended
			state.Stats.Elapsed += e.clock().Sub(start)
			e.persist(state, logger)
			logger.Info("run suspended at checkpoint", zap.String("checkpoint", string(stage)))
			return
		}

		next, err := NextStage(stage, state.Mode)
		if err != nil {
			state.Status = StatusFailed
			state.FailedStage = stage
			state.Stage = StageError
			state.RecordError(stage, err.Error(), e.clock())
			e.persist(state, logger)
			e.metrics.IncRunFinished(string(StatusFailed))
			return
		}
		state.Stage = next
		e.persist(state, logger)
	}
}

func (e *Engine) persist(state *PipelineState, logger *zap.Logger) {
	// Persistence runs on a background context: a cancelled run still
	// gets its final state written.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.store.Save(ctx, state); err != nil {
		logger.Error("state persistence failed", zap.Error(err))
	}
}

func (e *Engine) applyEdits(state *PipelineState, checkpoint Stage, edits json.RawMessage) error {
	switch checkpoint {
	case StageOntology:
		var payload OntologyPayload
		if err := json.Unmarshal(edits, &payload); err != nil {
			return types.NewError(types.ErrMalformedOutput, "ontology edits do not match the payload shape").WithCause(err)
		}
		state.Ontology = &payload
	case StageHypothesis:
		var text string
		if err := json.Unmarshal(edits, &text); err != nil {
			return types.NewError(types.ErrMalformedOutput, "hypothesis edits must be a JSON string").WithCause(err)
		}
		state.Hypothesis = text
	case StageCritique:
		var text string
		if err := json.Unmarshal(edits, &text); err != nil {
			return types.NewError(types.ErrMalformedOutput, "critique edits must be a JSON string").WithCause(err)
		}
		state.Critique = text
	default:
		return types.NewError(types.ErrInvalidTransition, fmt.Sprintf("stage %q has no checkpoint", checkpoint))
	}
	state.PendingCheckpoint.Payload = append(json.RawMessage(nil), edits...)
	state.RecordOutput(checkpoint, json.RawMessage(edits), e.clock())
	return nil
}

func (e *Engine) checkpointPayload(state *PipelineState, stage Stage) json.RawMessage {
	var v any
	switch stage {
	case StageOntology:
		v = state.Ontology
	case StageHypothesis:
		v = state.Hypothesis
	case StageCritique:
		v = state.Critique
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`null`)
	}
	return raw
}

// newRetriever builds the retrieval engine bound to a stage's caller.
func (e *Engine) newRetriever(stage Stage) *retrieval.Engine {
	return retrieval.NewEngine(e.docs, e.executor.ForStage(stage), e.cfg.Retrieval, e.logger, e.retrievalOpts...)
}

// summarizeResults totals the documents collected across domain agents and
// averages the confidence of the agents that produced a result.
func summarizeResults(results []agents.ResearchResult) (docs int, avg float64) {
	var sum float64
	var n int
	for _, r := range results {
		docs += len(r.Documents)
		if r.Err == "" {
			sum += r.Confidence
			n++
		}
	}
	if n > 0 {
		avg = sum / float64(n)
	}
	return docs, avg
}
