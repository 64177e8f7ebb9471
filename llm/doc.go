// Package llm defines the completion boundary to language-model
// providers, classification of their failures, and the credential pool
// that keeps the pipeline alive when individual API keys degrade.
package llm
