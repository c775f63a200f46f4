package models

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Document is a crawled article. The URL identifies it.
type Document struct {
	Title     string     `json:"title"`
	URL       string     `json:"url"`
	Content   string     `json:"content"`
	Date      *time.Time `json:"date,omitempty"`
	Thumbnail *string    `json:"thumbnail,omitempty"`
	SubTitle  *string    `json:"subTitle,omitempty"`
}

// UnmarshalJSON accepts any date ParseDate understands. An unrecognised
// date leaves Date nil rather than rejecting the document.
func (d *Document) UnmarshalJSON(data []byte) error {
	type plain Document
	var aux struct {
		plain
		Date json.RawMessage `json:"date"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	*d = Document(aux.plain)
	d.Date = parseJSONDate(aux.Date)
	return nil
}

// EmbeddedDocument is a Document paired with the vector computed from it.
type EmbeddedDocument struct {
	Document
	Embedding []float64 `json:"embedding"`
}

// UnmarshalJSON is needed because Document's decoder would otherwise be
// promoted and drop the embedding.
func (d *EmbeddedDocument) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &d.Document); err != nil {
		return err
	}

	var aux struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	d.Embedding = aux.Embedding
	return nil
}

// Strip drops the embedding.
func (d EmbeddedDocument) Strip() Document {
	return d.Document
}

func StripAll(docs []EmbeddedDocument) []Document {
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.Strip())
	}
	return out
}

// EmbeddingText is the text a document is vectorized from at build time.
// The title is included so it contributes to the semantic signature.
func EmbeddingText(doc Document) string {
	return doc.Title + "\n\n" + doc.Content
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDate reads RFC3339, a bare date or datetime, or unix milliseconds.
// Anything else yields nil.
func ParseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}

	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		t := time.UnixMilli(ms).UTC()
		return &t
	}
	return nil
}

func parseJSONDate(raw json.RawMessage) *time.Time {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return ParseDate(s)
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if ms, err := n.Int64(); err == nil {
			t := time.UnixMilli(ms).UTC()
			return &t
		}
		if f, err := n.Float64(); err == nil {
			t := time.UnixMilli(int64(f)).UTC()
			return &t
		}
	}
	return nil
}
