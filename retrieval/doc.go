// Package retrieval implements the retrieve-reflect-retry loop: query
// the document store, judge sufficiency with an LLM, reformulate and
// repeat, degrading to a capped-confidence result instead of failing.
package retrieval
