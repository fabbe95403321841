package assembler

import (
	"fmt"
	"sort"
	"strings"

	"pixie-engine/internal/docstore"
)

// QueryType drives which fields survive projection.
type QueryType string

const (
	QueryList    QueryType = "list"
	QueryDetail  QueryType = "detail"
	QueryDefault QueryType = "default"
)

// NoContext is returned instead of an empty structural payload when nothing
// relevant was retrieved. An empty shell wastes prompt tokens for no signal.
const NoContext = "No relevant context was found for this query."

// minimalFields lists the projection subset per kind for list-style queries.
// The first entries double as the minimum-field invariant: they are always
// kept, for every query type, so filtering never produces an incoherent item.
var minimalFields = map[string][]string{
	docstore.KindTask:  {"title", "status", "priority"},
	docstore.KindEvent: {"title", "start", "location"},
	docstore.KindNote:  {"title"},
}

// internalKeys are stripped for default-type queries. They identify or
// timestamp the record rather than describe it.
var internalKeys = map[string]bool{
	"id":          true,
	"document_id": true,
	"version":     true,
	"created_at":  true,
	"updated_at":  true,
}

// ScoredDocument pairs a retrieved document with its search similarity.
type ScoredDocument struct {
	Doc   docstore.Document
	Score float64
}

// Payload is the assembled context block handed to the model prompt.
type Payload struct {
	Text          string
	ItemCount     int
	TokenEstimate int
	Truncated     bool
}

// EstimateTokens approximates the token count of a string. Four characters
// per token is close enough for budget enforcement without a tokenizer.
func EstimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// ClassifyQuery maps a query (and an optional caller hint) to a query type.
func ClassifyQuery(query, hint string) QueryType {
	switch QueryType(hint) {
	case QueryList, QueryDetail, QueryDefault:
		return QueryType(hint)
	}
	lower := strings.ToLower(query)
	for _, kw := range []string{"list", "show all", "what are my", "everything"} {
		if strings.Contains(lower, kw) {
			return QueryList
		}
	}
	for _, kw := range []string{"detail", "describe", "tell me about", "more about"} {
		if strings.Contains(lower, kw) {
			return QueryDetail
		}
	}
	return QueryDefault
}

// Assembler builds deterministic, budget-bounded context payloads from
// retrieved documents.
type Assembler struct {
	maxItems int
}

func New(maxItems int) *Assembler {
	if maxItems < 1 {
		maxItems = 10
	}
	return &Assembler{maxItems: maxItems}
}

// Assemble projects, orders and truncates the retrieved documents into a
// single context block that fits the token budget. Identical inputs always
// produce an identical payload.
func (a *Assembler) Assemble(docs []ScoredDocument, queryType QueryType, tokenBudget int) Payload {
	if len(docs) == 0 {
		return Payload{Text: NoContext, TokenEstimate: EstimateTokens(NoContext)}
	}

	ordered := make([]ScoredDocument, len(docs))
	copy(ordered, docs)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i].Doc, ordered[j].Doc
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID < b.ID
	})

	truncated := false
	if len(ordered) > a.maxItems {
		ordered = ordered[:a.maxItems]
		truncated = true
	}

	header := "Relevant context:\n"
	used := EstimateTokens(header)
	var sb strings.Builder
	sb.WriteString(header)
	count := 0

	for _, sd := range ordered {
		item := renderItem(sd.Doc, queryType)
		cost := EstimateTokens(item)
		if used+cost > tokenBudget {
			truncated = true
			break
		}
		sb.WriteString(item)
		used += cost
		count++
	}

	if count == 0 {
		return Payload{Text: NoContext, TokenEstimate: EstimateTokens(NoContext), Truncated: truncated}
	}
	return Payload{
		Text:          sb.String(),
		ItemCount:     count,
		TokenEstimate: used,
		Truncated:     truncated,
	}
}

func renderItem(doc docstore.Document, queryType QueryType) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "- [%s] %s", doc.Kind, title(doc))

	switch queryType {
	case QueryList:
		writeFields(&sb, doc.Metadata, minimalFields[doc.Kind])
	case QueryDetail:
		keys := sortedKeys(doc.Metadata)
		writeFields(&sb, doc.Metadata, keys)
		if doc.Content != "" {
			fmt.Fprintf(&sb, "\n  %s", strings.TrimSpace(doc.Content))
		}
	default:
		keys := make([]string, 0, len(doc.Metadata))
		for _, k := range sortedKeys(doc.Metadata) {
			if !internalKeys[k] {
				keys = append(keys, k)
			}
		}
		writeFields(&sb, doc.Metadata, keys)
		if doc.Content != "" {
			fmt.Fprintf(&sb, "\n  %s", strings.TrimSpace(doc.Content))
		}
	}

	ensureMinimum(&sb, doc)
	sb.WriteString("\n")
	return sb.String()
}

// title picks a display title from metadata, falling back to the first line
// of content.
func title(doc docstore.Document) string {
	if t := doc.Metadata["title"]; t != "" {
		return t
	}
	line, _, _ := strings.Cut(strings.TrimSpace(doc.Content), "\n")
	if line == "" {
		return "(untitled)"
	}
	return line
}

// writeFields appends the named metadata fields in the given order, skipping
// absent ones and the title (already rendered).
func writeFields(sb *strings.Builder, meta map[string]string, keys []string) {
	for _, k := range keys {
		if k == "title" {
			continue
		}
		if v, ok := meta[k]; ok && v != "" {
			fmt.Fprintf(sb, " (%s: %s)", k, v)
		}
	}
}

// ensureMinimum appends any required field that the projection left out, so a
// task always shows its status and an event its start time.
func ensureMinimum(sb *strings.Builder, doc docstore.Document) {
	var required []string
	switch doc.Kind {
	case docstore.KindTask:
		required = []string{"status"}
	case docstore.KindEvent:
		required = []string{"start"}
	}
	rendered := sb.String()
	for _, k := range required {
		v := doc.Metadata[k]
		if v == "" {
			continue
		}
		if !strings.Contains(rendered, fmt.Sprintf("(%s: %s)", k, v)) {
			fmt.Fprintf(sb, " (%s: %s)", k, v)
		}
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
