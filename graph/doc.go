// Package graph builds the per-run concept graph from retrieved
// documents and samples connected paths through it as structured
// context for hypothesis generation.
package graph
