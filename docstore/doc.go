// Package docstore provides the similarity-searchable document store
// consumed by the retrieval engine. The in-memory implementation works
// with or without an embedding model.
package docstore
