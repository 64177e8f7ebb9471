package workflow

import (
	"fmt"

	"github.com/BaSui01/sciflow/types"
)

type transitionKey struct {
	stage Stage
	mode  Mode
}

// transitions is the complete stage graph. Mode-conditional edges are
// keyed per mode; edges valid in both modes appear twice so every
// lookup is a single map hit.
var transitions = map[transitionKey]Stage{
	{StageInit, ModeStructured}: StageRouting,
	{StageInit, ModeAutomated}:  StageRouting,

	{StageRouting, ModeStructured}: StageDomainResearch,
	{StageRouting, ModeAutomated}:  StageDomainResearch,

	// Structured skips the hypothesis chain entirely.
	{StageDomainResearch, ModeStructured}: StageSupportReview,
	{StageDomainResearch, ModeAutomated}:  StageKnowledgeGraph,

	{StageKnowledgeGraph, ModeAutomated}: StageOntology,
	{StageOntology, ModeAutomated}:       StageHypothesis,
	{StageHypothesis, ModeAutomated}:     StageExpansion,
	{StageExpansion, ModeAutomated}:      StageCritique,
	{StageCritique, ModeAutomated}:       StagePlanning,
	{StagePlanning, ModeAutomated}:       StageNoveltyCheck,
	{StageNoveltyCheck, ModeAutomated}:   StageSupportReview,

	{StageSupportReview, ModeStructured}: StageSynthesis,
	{StageSupportReview, ModeAutomated}:  StageSynthesis,

	{StageSynthesis, ModeStructured}: StageComplete,
	{StageSynthesis, ModeAutomated}:  StageComplete,
}

// checkpointStages pause the automated pipeline for review after the
// named stage produces its output.
var checkpointStages = map[Stage]bool{
	StageOntology:   true,
	StageHypothesis: true,
	StageCritique:   true,
}

// NextStage resolves the transition table. Unknown pairs are a
// programming error surfaced as an invalid-transition failure.
func NextStage(current Stage, mode Mode) (Stage, error) {
	next, ok := transitions[transitionKey{current, mode}]
	if !ok {
		return "", types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("no transition from stage %q in %s mode", current, mode))
	}
	return next, nil
}

// IsCheckpoint reports whether the stage requires review approval in
// the given mode. Structured runs never pause.
func IsCheckpoint(stage Stage, mode Mode) bool {
	return mode == ModeAutomated && checkpointStages[stage]
}
