package types

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Document is an immutable text document (typically a paper abstract)
// owned by the document store. Other components hold references only.
type Document struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Text        string     `json:"text"`
	Source      string     `json:"source"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Score       float64    `json:"score"`
}

// NewDocument creates a document with a generated ID.
func NewDocument(title, text, source string) Document {
	return Document{
		ID:     uuid.NewString(),
		Title:  title,
		Text:   text,
		Source: source,
	}
}

// Content returns title and text joined for extraction and scoring.
func (d Document) Content() string {
	if d.Title == "" {
		return d.Text
	}
	if d.Text == "" {
		return d.Title
	}
	return d.Title + "\n" + d.Text
}

// Excerpt returns the first n characters of the document text,
// cut at a word boundary where possible.
func (d Document) Excerpt(n int) string {
	text := d.Text
	if len(text) <= n {
		return text
	}
	cut := text[:n]
	if idx := strings.LastIndexByte(cut, ' '); idx > n/2 {
		cut = cut[:idx]
	}
	return cut + "..."
}
