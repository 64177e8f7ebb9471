package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/sciflow/agents"
	"github.com/BaSui01/sciflow/graph"
	"github.com/BaSui01/sciflow/retrieval"
	"github.com/BaSui01/sciflow/types"
)

// recordRetrieval folds a retrieval result into the run: round errors
// and counters, plus a recorded error when the accepted confidence
// falls below the configured floor.
func (e *Engine) recordRetrieval(state *PipelineState, stage Stage, res *retrieval.Result) {
	for _, msg := range res.Errors {
		state.RecordError(stage, msg, e.clock())
	}
	state.Stats.RetrievalRounds += res.Rounds
	e.metrics.ObserveRetrievalRounds(res.Rounds)
	if floor := e.cfg.Retrieval.MinConfidence; floor > 0 && res.Confidence < floor {
		state.RecordError(stage,
			fmt.Sprintf("retrieval confidence %.2f below floor %.2f", res.Confidence, floor), e.clock())
	}
}

// runStage executes one stage against the state. A returned error is
// fatal for the run; recoverable failures are recorded in the state's
// error list and execution continues with a degraded result.
func (e *Engine) runStage(ctx context.Context, state *PipelineState, stage Stage) error {
	switch stage {
	case StageInit:
		return e.stageInit(state)
	case StageRouting:
		return e.stageRouting(ctx, state)
	case StageDomainResearch:
		return e.stageDomainResearch(ctx, state)
	case StageKnowledgeGraph:
		return e.stageKnowledgeGraph(ctx, state)
	case StageOntology:
		return e.stageOntology(ctx, state)
	case StageHypothesis:
		return e.stageHypothesis(ctx, state)
	case StageExpansion:
		return e.stageExpansion(ctx, state)
	case StageCritique:
		return e.stageCritique(ctx, state)
	case StagePlanning:
		return e.stagePlanning(ctx, state)
	case StageNoveltyCheck:
		return e.stageNoveltyCheck(ctx, state)
	case StageSupportReview:
		return e.stageSupportReview(ctx, state)
	case StageSynthesis:
		return e.stageSynthesis(ctx, state)
	default:
		return types.NewError(types.ErrInvalidTransition, fmt.Sprintf("no handler for stage %q", stage))
	}
}

func (e *Engine) stageInit(state *PipelineState) error {
	state.RecordOutput(StageInit, map[string]string{
		"query": state.Query,
		"mode":  string(state.Mode),
	}, e.clock())
	return nil
}

func (e *Engine) stageRouting(ctx context.Context, state *PipelineState) error {
	fields := e.router.Route(ctx, state.Query, e.cfg.MaxDomainAgents)
	state.Fields = fields
	state.RecordOutput(StageRouting, fields, e.clock())
	return nil
}

// stageDomainResearch fans out one task per routed field and joins on
// all of them. Results land in field-order slots so completion order
// never changes the recorded order. Individual agent failures degrade
// the stage; the stage itself fails only when the pool is exhausted or
// no agent produced anything.
func (e *Engine) stageDomainResearch(ctx context.Context, state *PipelineState) error {
	caller := e.executor.ForStage(StageDomainResearch)
	results := make([]agents.ResearchResult, len(state.Fields))
	errs := make([]error, len(state.Fields))

	g, gctx := errgroup.WithContext(ctx)
	for i, field := range state.Fields {
		i := i
		agent := e.factory(field, caller)
		g.Go(func() error {
			res, err := agent.Research(gctx, state.Query)
			if err != nil {
				errs[i] = err
				results[i] = agents.ResearchResult{
					AgentID: agent.ID(),
					Field:   agent.Field(),
					Err:     err.Error(),
				}
				// Pool exhaustion aborts the whole fan-out; anything
				// else stays an individual failure.
				if types.HasCode(err, types.ErrPoolExhausted) {
					return err
				}
				return nil
			}
			results[i] = *res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		state.DomainResults = results
		return err
	}

	failed := 0
	for i, err := range errs {
		if err != nil {
			failed++
			state.RecordError(StageDomainResearch,
				fmt.Sprintf("agent %s: %v", results[i].AgentID, err), e.clock())
		}
	}
	state.DomainResults = results
	if failed == len(results) && len(results) > 0 {
		return types.NewError(types.ErrRetriesExhausted, "every domain agent failed").
			WithStage(string(StageDomainResearch))
	}

	// Single post-fan-in ingestion into the document store; the agent
	// tasks themselves never touch shared stores.
	for _, res := range results {
		for _, doc := range res.Documents {
			if _, err := e.docs.Add(ctx, doc); err != nil {
				state.RecordError(StageDomainResearch,
					fmt.Sprintf("document %s not stored: %v", doc.ID, err), e.clock())
			}
		}
	}
	state.RecordOutput(StageDomainResearch, results, e.clock())
	return nil
}

// stageKnowledgeGraph retrieves supporting literature, builds the
// run's concept graph from it, and samples a path as context for the
// hypothesis chain.
func (e *Engine) stageKnowledgeGraph(ctx context.Context, state *PipelineState) error {
	res, err := e.newRetriever(StageKnowledgeGraph).Retrieve(ctx, state.Query)
	if err != nil {
		return err
	}
	e.recordRetrieval(state, StageKnowledgeGraph, res)

	docs := res.Documents
	for _, dr := range state.DomainResults {
		docs = append(docs, dr.Documents...)
	}

	extractor := graph.NewExtractor(e.executor.ForStage(StageKnowledgeGraph), e.logger)
	svc := graph.NewService(extractor, graph.ServiceConfig{
		PathStrategy: e.cfg.GraphStrategy,
		MaxSteps:     e.cfg.GraphMaxSteps,
		Seed:         e.cfg.GraphSeed,
	}, e.logger)

	stats, err := svc.Ingest(ctx, docs)
	if err != nil {
		return err
	}
	if stats.FallbackDocuments > 0 {
		state.RecordError(StageKnowledgeGraph,
			fmt.Sprintf("%d documents used heuristic concept extraction", stats.FallbackDocuments), e.clock())
	}
	path := svc.SamplePath(state.Query, e.cfg.GraphStrategy, e.cfg.GraphMaxSteps)
	state.GraphContext = &path
	state.Stats.GraphNodes = stats.NodesTotal
	state.Stats.GraphEdges = stats.EdgesTotal
	e.metrics.SetGraphSize(stats.NodesTotal, stats.EdgesTotal)

	state.RecordOutput(StageKnowledgeGraph, map[string]any{
		"ingest": stats,
		"path":   path,
	}, e.clock())
	return nil
}

func (e *Engine) stageOntology(ctx context.Context, state *PipelineState) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Query: %s\n\n", state.Query)
	sb.WriteString(e.domainDigest(state))
	if state.GraphContext != nil && state.GraphContext.Summary != "" {
		fmt.Fprintf(&sb, "\nConcept-graph path:\n%s\n", state.GraphContext.Summary)
	}
	e.appendReviewNotes(&sb, state, StageOntology)

	raw, err := e.executor.ForStage(StageOntology).Call(ctx, ontologySystemPrompt, sb.String())
	if err != nil {
		return err
	}
	payload, ok := parseOntology(raw)
	if !ok {
		// One re-prompt with the shape restated, then degrade to the
		// raw text rather than failing the stage.
		raw2, err2 := e.executor.ForStage(StageOntology).Call(ctx, ontologySystemPrompt,
			sb.String()+"\n\nYour previous answer was not valid JSON in the required shape. Respond with only the JSON object.")
		if err2 == nil {
			payload, ok = parseOntology(raw2)
		}
		if !ok {
			state.RecordError(StageOntology, "ontology output failed schema validation, keeping raw text", e.clock())
			payload = &OntologyPayload{Hypothesis: strings.TrimSpace(raw)}
		}
	}
	state.Ontology = payload
	state.RecordOutput(StageOntology, payload, e.clock())
	return nil
}

func (e *Engine) stageHypothesis(ctx context.Context, state *PipelineState) error {
	scaffold, _ := json.MarshalIndent(state.Ontology, "", "  ")
	var sb strings.Builder
	fmt.Fprintf(&sb, "Query: %s\n\nResearch scaffold:\n%s\n", state.Query, scaffold)
	e.appendReviewNotes(&sb, state, StageHypothesis)

	text, err := e.executor.ForStage(StageHypothesis).Call(ctx, hypothesisSystemPrompt, sb.String())
	if err != nil {
		return err
	}
	state.Hypothesis = strings.TrimSpace(text)
	state.RecordOutput(StageHypothesis, state.Hypothesis, e.clock())
	return nil
}

func (e *Engine) stageExpansion(ctx context.Context, state *PipelineState) error {
	user := fmt.Sprintf("Query: %s\n\nHypothesis:\n%s", state.Query, state.Hypothesis)
	text, err := e.executor.ForStage(StageExpansion).Call(ctx, expansionSystemPrompt, user)
	if err != nil {
		return err
	}
	state.ExpandedHypothesis = strings.TrimSpace(text)
	state.RecordOutput(StageExpansion, state.ExpandedHypothesis, e.clock())
	return nil
}

func (e *Engine) stageCritique(ctx context.Context, state *PipelineState) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Query: %s\n\nExpanded hypothesis:\n%s\n", state.Query, state.ExpandedHypothesis)
	e.appendReviewNotes(&sb, state, StageCritique)

	text, err := e.executor.ForStage(StageCritique).Call(ctx, critiqueSystemPrompt, sb.String())
	if err != nil {
		return err
	}
	state.Critique = strings.TrimSpace(text)
	state.RecordOutput(StageCritique, state.Critique, e.clock())
	return nil
}

func (e *Engine) stagePlanning(ctx context.Context, state *PipelineState) error {
	user := fmt.Sprintf("Hypothesis:\n%s\n\nCritique:\n%s", state.ExpandedHypothesis, state.Critique)
	text, err := e.executor.ForStage(StagePlanning).Call(ctx, planningSystemPrompt, user)
	if err != nil {
		return err
	}
	state.Plan = strings.TrimSpace(text)
	state.RecordOutput(StagePlanning, state.Plan, e.clock())
	return nil
}

// stageNoveltyCheck retrieves prior work for the hypothesis and asks
// for a scored comparison. A malformed score degrades to a neutral
// report instead of failing the run this late.
func (e *Engine) stageNoveltyCheck(ctx context.Context, state *PipelineState) error {
	res, err := e.newRetriever(StageNoveltyCheck).Retrieve(ctx, state.Hypothesis)
	if err != nil {
		return err
	}
	e.recordRetrieval(state, StageNoveltyCheck, res)

	user := fmt.Sprintf("Hypothesis:\n%s\n\nPrior work:\n%s", state.Hypothesis, res.Context)
	raw, err := e.executor.ForStage(StageNoveltyCheck).Call(ctx, noveltySystemPrompt, user)
	if err != nil {
		return err
	}
	report := parseNovelty(raw)
	if report == nil {
		state.RecordError(StageNoveltyCheck, "novelty output failed schema validation, using neutral score", e.clock())
		report = &NoveltyReport{Score: 0.5, Assessment: strings.TrimSpace(raw)}
	}
	state.Novelty = report
	state.RecordOutput(StageNoveltyCheck, report, e.clock())
	return nil
}

func (e *Engine) stageSupportReview(ctx context.Context, state *PipelineState) error {
	res, err := e.newRetriever(StageSupportReview).Retrieve(ctx, state.Query)
	if err != nil {
		return err
	}
	e.recordRetrieval(state, StageSupportReview, res)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Query: %s\n\n", state.Query)
	sb.WriteString(e.domainDigest(state))
	if res.Context != "" {
		fmt.Fprintf(&sb, "\nSupporting documents (confidence %.2f):\n%s\n", res.Confidence, res.Context)
	}
	text, err := e.executor.ForStage(StageSupportReview).Call(ctx, supportReviewSystemPrompt, sb.String())
	if err != nil {
		return err
	}
	state.SupportSummary = strings.TrimSpace(text)
	state.RecordOutput(StageSupportReview, state.SupportSummary, e.clock())
	return nil
}

func (e *Engine) stageSynthesis(ctx context.Context, state *PipelineState) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Query: %s\n\n", state.Query)
	sb.WriteString(e.domainDigest(state))
	if state.Hypothesis != "" {
		fmt.Fprintf(&sb, "\nHypothesis:\n%s\n", state.Hypothesis)
	}
	if state.Plan != "" {
		fmt.Fprintf(&sb, "\nResearch plan:\n%s\n", state.Plan)
	}
	if state.Novelty != nil {
		fmt.Fprintf(&sb, "\nNovelty: %.2f. %s\n", state.Novelty.Score, state.Novelty.Assessment)
	}
	if state.SupportSummary != "" {
		fmt.Fprintf(&sb, "\nSupport review:\n%s\n", state.SupportSummary)
	}

	text, err := e.executor.ForStage(StageSynthesis).Call(ctx, synthesisSystemPrompt, sb.String())
	if err != nil {
		return err
	}
	state.Synthesis = strings.TrimSpace(text)
	state.RecordOutput(StageSynthesis, state.Synthesis, e.clock())
	return nil
}

func (e *Engine) domainDigest(state *PipelineState) string {
	if len(state.DomainResults) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Domain findings:\n")
	for _, r := range state.DomainResults {
		if r.Err != "" {
			fmt.Fprintf(&sb, "- [%s] unavailable: %s\n", r.Field, r.Err)
			continue
		}
		fmt.Fprintf(&sb, "- [%s] (confidence %.2f) %s\n", r.Field, r.Confidence, r.Summary)
		for _, ins := range r.Insights {
			fmt.Fprintf(&sb, "    * %s\n", ins)
		}
	}
	return sb.String()
}

func (e *Engine) appendReviewNotes(sb *strings.Builder, state *PipelineState, stage Stage) {
	if notes, ok := state.ReviewNotes[stage]; ok && notes != "" {
		fmt.Fprintf(sb, "\nReviewer feedback on your previous attempt:\n%s\n", notes)
		e.logger.Info("re-running stage with reviewer feedback",
			zap.String("run_id", state.RunID),
			zap.String("stage", string(stage)))
	}
}

func parseOntology(raw string) (*OntologyPayload, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, false
	}
	var payload OntologyPayload
	if err := json.Unmarshal([]byte(raw[start:end+1]), &payload); err != nil {
		return nil, false
	}
	if strings.TrimSpace(payload.Hypothesis) == "" {
		return nil, false
	}
	return &payload, true
}

func parseNovelty(raw string) *NoveltyReport {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil
	}
	var report NoveltyReport
	if err := json.Unmarshal([]byte(raw[start:end+1]), &report); err != nil {
		return nil
	}
	if strings.TrimSpace(report.Assessment) == "" {
		return nil
	}
	if report.Score < 0 {
		report.Score = 0
	}
	if report.Score > 1 {
		report.Score = 1
	}
	return &report
}
