package workflow

import (
	"encoding/json"
	"time"

	"github.com/BaSui01/sciflow/agents"
	"github.com/BaSui01/sciflow/graph"
)

// Mode selects the pipeline shape.
type Mode string

const (
	// ModeStructured is the linear pipeline: route, research,
	// review, synthesize.
	ModeStructured Mode = "structured"
	// ModeAutomated adds the hypothesis-generation chain with human
	// checkpoints between domain research and the common tail.
	ModeAutomated Mode = "automated"
)

func (m Mode) Valid() bool { return m == ModeStructured || m == ModeAutomated }

// Stage names one unit of work in the pipeline.
type Stage string

const (
	StageInit           Stage = "init"
	StageRouting        Stage = "routing"
	StageDomainResearch Stage = "domain_research"
	StageKnowledgeGraph Stage = "knowledge_graph"
	StageOntology       Stage = "ontology"
	StageHypothesis     Stage = "hypothesis"
	StageExpansion      Stage = "expansion"
	StageCritique       Stage = "critique"
	StagePlanning       Stage = "planning"
	StageNoveltyCheck   Stage = "novelty_check"
	StageSupportReview  Stage = "support_review"
	StageSynthesis      Stage = "synthesis"
	StageComplete       Stage = "complete"
	StageError          Stage = "error"
)

// Status is the run lifecycle state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSuspended Status = "suspended"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the run can make no further progress.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted || s == StatusFailed
}

// RunError records a recovered or fatal failure with its origin.
type RunError struct {
	Stage   Stage     `json:"stage"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Checkpoint is the review surface for a paused run. Payload holds the
// producing stage's structured output; reviewers may replace it via
// resume edits before the pipeline continues.
type Checkpoint struct {
	Name      Stage           `json:"name"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// OntologyPayload is the structured output of the ontology stage and
// the scaffold every later automated stage elaborates on.
type OntologyPayload struct {
	Hypothesis           string   `json:"hypothesis"`
	Outcome              string   `json:"outcome"`
	Mechanisms           string   `json:"mechanisms"`
	DesignPrinciples     []string `json:"design_principles"`
	UnexpectedProperties string   `json:"unexpected_properties"`
	Comparison           string   `json:"comparison"`
	Novelty              string   `json:"novelty"`
}

// NoveltyReport scores the final hypothesis against retrieved prior
// work.
type NoveltyReport struct {
	Score      float64  `json:"score"`
	Assessment string   `json:"assessment"`
	PriorWork  []string `json:"prior_work,omitempty"`
}

// RunStats aggregates per-run counters for the caller.
type RunStats struct {
	StagesExecuted  int           `json:"stages_executed"`
	Documents       int           `json:"documents"`
	AvgConfidence   float64       `json:"avg_confidence"`
	RetrievalRounds int           `json:"retrieval_rounds"`
	GraphNodes      int           `json:"graph_nodes"`
	GraphEdges      int           `json:"graph_edges"`
	Elapsed         time.Duration `json:"elapsed"`
}

// PipelineState is the single mutable object threaded through a run.
// It must round-trip through JSON unchanged so a suspended run can be
// reloaded after process restart.
type PipelineState struct {
	RunID string `json:"run_id"`
	Query string `json:"query"`
	Mode  Mode   `json:"mode"`

	Stage  Stage  `json:"stage"`
	Status Status `json:"status"`

	// StageOutputs is append-only: finished stages record a raw JSON
	// snapshot of their result keyed by stage name.
	StageOutputs map[Stage]json.RawMessage `json:"stage_outputs"`

	Fields        []agents.Field          `json:"fields,omitempty"`
	DomainResults []agents.ResearchResult `json:"domain_results,omitempty"`

	GraphContext *graph.SampledPath `json:"graph_context,omitempty"`

	Hypothesis         string           `json:"hypothesis,omitempty"`
	ExpandedHypothesis string           `json:"expanded_hypothesis,omitempty"`
	Critique           string           `json:"critique,omitempty"`
	Plan               string           `json:"plan,omitempty"`
	Ontology           *OntologyPayload `json:"ontology,omitempty"`
	Novelty            *NoveltyReport   `json:"novelty,omitempty"`
	SupportSummary     string           `json:"support_summary,omitempty"`
	Synthesis          string           `json:"synthesis,omitempty"`

	// PendingCheckpoint is non-nil exactly while the run is suspended
	// awaiting review.
	PendingCheckpoint *Checkpoint    `json:"pending_checkpoint,omitempty"`
	Approvals         map[Stage]bool `json:"approvals,omitempty"`
	Rejections        map[Stage]int  `json:"rejections,omitempty"`
	// ReviewNotes carries rejection feedback back into the producing
	// stage's next attempt.
	ReviewNotes map[Stage]string `json:"review_notes,omitempty"`

	RetryCount  int        `json:"retry_count"`
	Errors      []RunError `json:"errors,omitempty"`
	FailedStage Stage      `json:"failed_stage,omitempty"`

	Stats     RunStats  `json:"stats"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewPipelineState seeds a run at the init stage.
func NewPipelineState(runID, query string, mode Mode, now time.Time) *PipelineState {
	return &PipelineState{
		RunID:        runID,
		Query:        query,
		Mode:         mode,
		Stage:        StageInit,
		Status:       StatusRunning,
		StageOutputs: make(map[Stage]json.RawMessage),
		Approvals:    make(map[Stage]bool),
		Rejections:   make(map[Stage]int),
		ReviewNotes:  make(map[Stage]string),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// ensureMaps re-initializes the map fields that a JSON round trip
// drops when empty. States loaded from a store must pass through here
// before being mutated.
func (s *PipelineState) ensureMaps() {
	if s.StageOutputs == nil {
		s.StageOutputs = make(map[Stage]json.RawMessage)
	}
	if s.Approvals == nil {
		s.Approvals = make(map[Stage]bool)
	}
	if s.Rejections == nil {
		s.Rejections = make(map[Stage]int)
	}
	if s.ReviewNotes == nil {
		s.ReviewNotes = make(map[Stage]string)
	}
}

// RecordOutput snapshots a finished stage's result. Marshal failures
// are recorded as stage errors rather than dropped.
func (s *PipelineState) RecordOutput(stage Stage, v any, now time.Time) {
	raw, err := json.Marshal(v)
	if err != nil {
		s.RecordError(stage, "stage output not serializable: "+err.Error(), now)
		return
	}
	s.StageOutputs[stage] = raw
	s.UpdatedAt = now
}

// RecordError appends a recovered failure for later inspection.
func (s *PipelineState) RecordError(stage Stage, msg string, now time.Time) {
	s.Errors = append(s.Errors, RunError{Stage: stage, Message: msg, At: now})
	s.UpdatedAt = now
}

// Clone returns a deep copy through the JSON round trip, used for the
// read-only view handed to callers.
func (s *PipelineState) Clone() (*PipelineState, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var out PipelineState
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	out.ensureMaps()
	return &out, nil
}
