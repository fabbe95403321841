package assembler

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"pixie-engine/internal/docstore"
)

func taskDoc(id, title, status string, updated time.Time) ScoredDocument {
	return ScoredDocument{
		Doc: docstore.Document{
			ID:        id,
			OwnerID:   "u1",
			Kind:      docstore.KindTask,
			Content:   "Longer body text for " + title,
			Metadata:  map[string]string{"title": title, "status": status, "priority": "high", "created_at": "2026-01-01"},
			UpdatedAt: updated,
		},
		Score: 0.9,
	}
}

func TestClassifyQuery(t *testing.T) {
	tests := []struct {
		name  string
		query string
		hint  string
		want  QueryType
	}{
		{"hint wins", "tell me about the launch", "list", QueryList},
		{"list keyword", "list my open tasks", "", QueryList},
		{"detail keyword", "tell me about the launch event", "", QueryDetail},
		{"default otherwise", "did the deploy finish", "", QueryDefault},
		{"unknown hint ignored", "did the deploy finish", "verbose", QueryDefault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyQuery(tt.query, tt.hint); got != tt.want {
				t.Errorf("ClassifyQuery() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAssemble_EmptyInputReturnsNoContext(t *testing.T) {
	a := New(10)
	got := a.Assemble(nil, QueryDefault, 1000)
	if got.Text != NoContext {
		t.Errorf("Assemble() text = %q, want no-context sentinel", got.Text)
	}
	if got.ItemCount != 0 || got.Truncated {
		t.Errorf("Assemble() = %+v, want zero items and no truncation", got)
	}
}

func TestAssemble_ListProjectionKeepsMinimalFields(t *testing.T) {
	a := New(10)
	now := time.Now()
	got := a.Assemble([]ScoredDocument{taskDoc("t1", "Fix auth bug", "open", now)}, QueryList, 1000)

	if !strings.Contains(got.Text, "Fix auth bug") {
		t.Errorf("Assemble() missing title: %q", got.Text)
	}
	if !strings.Contains(got.Text, "(status: open)") {
		t.Errorf("Assemble() missing status: %q", got.Text)
	}
	if strings.Contains(got.Text, "Longer body text") {
		t.Errorf("Assemble() list projection leaked content: %q", got.Text)
	}
	if strings.Contains(got.Text, "created_at") {
		t.Errorf("Assemble() list projection leaked internal field: %q", got.Text)
	}
}

func TestAssemble_DefaultProjectionStripsInternalFields(t *testing.T) {
	a := New(10)
	got := a.Assemble([]ScoredDocument{taskDoc("t1", "Fix auth bug", "open", time.Now())}, QueryDefault, 1000)

	if strings.Contains(got.Text, "created_at") {
		t.Errorf("Assemble() leaked internal timestamp: %q", got.Text)
	}
	if !strings.Contains(got.Text, "Longer body text") {
		t.Errorf("Assemble() default projection dropped content: %q", got.Text)
	}
	// Minimum-field invariant: a task keeps its status under every projection.
	if !strings.Contains(got.Text, "(status: open)") {
		t.Errorf("Assemble() dropped required status field: %q", got.Text)
	}
}

func TestAssemble_DetailProjectionKeepsEverythingDescriptive(t *testing.T) {
	a := New(10)
	got := a.Assemble([]ScoredDocument{taskDoc("t1", "Fix auth bug", "open", time.Now())}, QueryDetail, 1000)

	for _, want := range []string{"Fix auth bug", "(status: open)", "(priority: high)", "Longer body text"} {
		if !strings.Contains(got.Text, want) {
			t.Errorf("Assemble() detail projection missing %q: %q", want, got.Text)
		}
	}
}

func TestAssemble_TruncatesToMostRecentItems(t *testing.T) {
	a := New(3)
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	var docs []ScoredDocument
	for i := 0; i < 6; i++ {
		docs = append(docs, taskDoc(
			fmt.Sprintf("t%d", i),
			fmt.Sprintf("Task %d", i),
			"open",
			base.Add(time.Duration(i)*time.Hour),
		))
	}

	got := a.Assemble(docs, QueryList, 10000)
	if !got.Truncated {
		t.Fatal("Assemble() truncated = false, want true")
	}
	if got.ItemCount != 3 {
		t.Errorf("Assemble() items = %d, want 3", got.ItemCount)
	}
	// The most recent three survive.
	for _, want := range []string{"Task 5", "Task 4", "Task 3"} {
		if !strings.Contains(got.Text, want) {
			t.Errorf("Assemble() missing recent item %q", want)
		}
	}
	if strings.Contains(got.Text, "Task 0") {
		t.Error("Assemble() kept oldest item past the cap")
	}
}

func TestAssemble_NeverExceedsTokenBudget(t *testing.T) {
	a := New(10)
	var docs []ScoredDocument
	for i := 0; i < 8; i++ {
		docs = append(docs, taskDoc(fmt.Sprintf("t%d", i), strings.Repeat("x", 200), "open", time.Now()))
	}

	budget := 120
	got := a.Assemble(docs, QueryDetail, budget)
	if got.TokenEstimate > budget {
		t.Errorf("Assemble() estimate = %d, exceeds budget %d", got.TokenEstimate, budget)
	}
	if EstimateTokens(got.Text) > budget {
		t.Errorf("Assemble() actual payload tokens = %d, exceeds budget %d", EstimateTokens(got.Text), budget)
	}
	if !got.Truncated {
		t.Error("Assemble() truncated = false, want true when budget forces dropping items")
	}
}

func TestAssemble_DeterministicForIdenticalInput(t *testing.T) {
	a := New(10)
	ts := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	docs := []ScoredDocument{
		taskDoc("b", "Beta", "open", ts),
		taskDoc("a", "Alpha", "done", ts),
	}

	first := a.Assemble(docs, QueryDefault, 1000)
	for i := 0; i < 5; i++ {
		again := a.Assemble(docs, QueryDefault, 1000)
		if again.Text != first.Text {
			t.Fatalf("Assemble() output varies between runs:\n%q\n%q", first.Text, again.Text)
		}
	}
	// Equal timestamps order by document id.
	if strings.Index(first.Text, "Alpha") > strings.Index(first.Text, "Beta") {
		t.Errorf("Assemble() tie-break ordering wrong: %q", first.Text)
	}
}
