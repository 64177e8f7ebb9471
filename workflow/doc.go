// Package workflow contains the pipeline state machine: the run
// state, the stage transition table, the credential-rotating stage
// executor, and the engine that drives a run from init to complete
// with durable checkpoint suspension along the way.
package workflow
