package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/sciflow/docstore"
	"github.com/BaSui01/sciflow/llm"
	"github.com/BaSui01/sciflow/types"
)

const judgeSystemPrompt = `You are a research quality assessor. Evaluate whether the retrieved documents are sufficient to answer the research query.

Consider relevance, completeness, source quality, and recency.

Respond with exactly one line:
- "sufficient" if the documents adequately address the query
- "insufficient" if more or different documents are needed
- "refine: <reformulated query>" if a different query would retrieve better documents`

// Config tunes the retrieve-reflect-retry loop.
type Config struct {
	MaxAttempts   int     // retrieval rounds before degrading (default 3)
	TopK          int     // documents requested per round
	MinDocuments  int     // document count that saturates the count factor
	MinConfidence float64 // floor below which callers flag the result
	CountWeight   float64
	ScoreWeight   float64
	RecencyWeight float64
	RecencyWindow time.Duration // age at which recency decays to zero
}

// DefaultConfig returns the standard retrieval configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   3,
		TopK:          10,
		MinDocuments:  2,
		MinConfidence: 0.6,
		CountWeight:   0.4,
		ScoreWeight:   0.4,
		RecencyWeight: 0.2,
		RecencyWindow: 5 * 365 * 24 * time.Hour,
	}
}

// Result is the outcome of a retrieval cycle.
type Result struct {
	Documents  []types.Document `json:"documents"`
	Confidence float64          `json:"confidence"`
	Sufficient bool             `json:"sufficient"`
	Rounds     int              `json:"rounds"`
	FinalQuery string           `json:"final_query"`
	Context    string           `json:"context,omitempty"`
	Errors     []string         `json:"errors,omitempty"`
}

// Engine implements the retrieve-reflect-retry loop over a document
// store, judging sufficiency through an LLM call on each round. It
// degrades rather than fails: the loop always ends within MaxAttempts
// rounds, returning whatever was last retrieved.
type Engine struct {
	store   docstore.DocumentStore
	caller  llm.Caller
	cache   *JudgmentCache
	counter TokenCounter
	cfg     Config
	clock   func() time.Time
	logger  *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithJudgmentCache adds a cache for sufficiency verdicts.
func WithJudgmentCache(cache *JudgmentCache) Option {
	return func(e *Engine) { e.cache = cache }
}

// WithTokenCounter overrides the token counter used for context assembly.
func WithTokenCounter(counter TokenCounter) Option {
	return func(e *Engine) { e.counter = counter }
}

// WithClock overrides time for recency scoring in tests.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// NewEngine creates a retrieval engine.
func NewEngine(store docstore.DocumentStore, caller llm.Caller, cfg Config, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 10
	}
	if cfg.MinDocuments <= 0 {
		cfg.MinDocuments = 2
	}
	if cfg.CountWeight+cfg.ScoreWeight+cfg.RecencyWeight == 0 {
		d := DefaultConfig()
		cfg.CountWeight, cfg.ScoreWeight, cfg.RecencyWeight = d.CountWeight, d.ScoreWeight, d.RecencyWeight
	}
	if cfg.RecencyWindow <= 0 {
		cfg.RecencyWindow = DefaultConfig().RecencyWindow
	}
	e := &Engine{
		store:  store,
		caller: caller,
		cfg:    cfg,
		clock:  time.Now,
		logger: logger.With(zap.String("component", "retrieval")),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.counter == nil {
		e.counter = NewTokenCounter("", logger)
	}
	return e
}

// Retrieve runs up to MaxAttempts rounds of query → judge → reformulate
// and returns the accepted (or degraded) document set with a confidence
// in [0,1]. Judge failures are recorded and treated as insufficient.
func (e *Engine) Retrieve(ctx context.Context, query string) (*Result, error) {
	result := &Result{FinalQuery: query}
	currentQuery := query

	var lastDocs []types.Document
	var lastScores []docstore.ScoredDocument

	for round := 1; round <= e.cfg.MaxAttempts; round++ {
		result.Rounds = round

		scored, err := e.store.Query(ctx, currentQuery, e.cfg.TopK)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("round %d: query store: %v", round, err))
			continue
		}
		if len(scored) == 0 {
			e.logger.Debug("empty retrieval round",
				zap.Int("round", round),
				zap.String("query", currentQuery),
			)
			continue
		}

		lastScores = scored
		lastDocs = documentsOf(scored)

		verdict, err := e.judge(ctx, currentQuery, scored)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("round %d: judge: %v", round, err))
			continue
		}

		switch verdict.Kind {
		case VerdictSufficient:
			result.Documents = lastDocs
			result.Confidence = e.confidence(lastScores)
			result.Sufficient = true
			result.FinalQuery = currentQuery
			result.Context = e.BuildContext(lastDocs, 0)
			return result, nil
		case VerdictRefine:
			e.logger.Debug("query refined",
				zap.String("from", currentQuery),
				zap.String("to", verdict.Query),
			)
			currentQuery = verdict.Query
		case VerdictInsufficient:
			// Retry the same query next round.
		}
	}

	// Attempts exhausted: degrade rather than fail. Confidence is
	// capped at 0.5 so downstream stages can tell this apart from an
	// accepted result.
	result.Documents = lastDocs
	result.Confidence = min(e.confidence(lastScores), 0.5)
	result.FinalQuery = currentQuery
	result.Context = e.BuildContext(lastDocs, 0)
	e.logger.Info("retrieval degraded after max attempts",
		zap.Int("rounds", result.Rounds),
		zap.Int("documents", len(result.Documents)),
		zap.Float64("confidence", result.Confidence),
	)
	return result, nil
}

func (e *Engine) judge(ctx context.Context, query string, scored []docstore.ScoredDocument) (Verdict, error) {
	if e.cache != nil {
		if verdict, ok := e.cache.Get(ctx, query, scored); ok {
			return verdict, nil
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Research Query: %s\n\nRetrieved Documents:\n", query)
	limit := min(len(scored), 5)
	for i, sd := range scored[:limit] {
		fmt.Fprintf(&b, "\nDocument %d (similarity %.2f): %s\n%s\n",
			i+1, sd.Score, sd.Document.Title, sd.Document.Excerpt(500))
	}

	raw, err := e.caller.Call(ctx, judgeSystemPrompt, b.String())
	if err != nil {
		return Verdict{}, err
	}
	verdict := ParseVerdict(raw)
	if e.cache != nil {
		e.cache.Put(ctx, query, scored, verdict)
	}
	return verdict, nil
}

// confidence is monotonic in document count, average similarity, and
// recency, and bounded to [0,1].
func (e *Engine) confidence(scored []docstore.ScoredDocument) float64 {
	if len(scored) == 0 {
		return 0
	}

	countFactor := min(float64(len(scored))/float64(e.cfg.MinDocuments), 1.0)

	var scoreSum, recencySum float64
	now := e.clock()
	for _, sd := range scored {
		scoreSum += clamp01(sd.Score)
		recencySum += e.recency(now, sd.Document.PublishedAt)
	}
	avgScore := scoreSum / float64(len(scored))
	avgRecency := recencySum / float64(len(scored))

	c := e.cfg.CountWeight*countFactor + e.cfg.ScoreWeight*avgScore + e.cfg.RecencyWeight*avgRecency
	return clamp01(c)
}

func (e *Engine) recency(now time.Time, published *time.Time) float64 {
	if published == nil {
		return 0.5 // unknown dates count as neutral
	}
	age := now.Sub(*published)
	if age <= 0 {
		return 1
	}
	if age >= e.cfg.RecencyWindow {
		return 0
	}
	return 1 - float64(age)/float64(e.cfg.RecencyWindow)
}

func documentsOf(scored []docstore.ScoredDocument) []types.Document {
	docs := make([]types.Document, len(scored))
	for i, sd := range scored {
		docs[i] = sd.Document
	}
	return docs
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
