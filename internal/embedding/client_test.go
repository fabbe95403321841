package embedding

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"
)

func init() {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// countingProvider returns a fixed vector per text and counts calls.
type countingProvider struct {
	calls     int
	textsSeen [][]string
	vec       func(text string) []float32
}

func (p *countingProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.calls++
	p.textsSeen = append(p.textsSeen, texts)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.vec(t)
	}
	return out, nil
}

func fixedVec(_ string) []float32 {
	return []float32{0.1, 0.2, 0.3}
}

func newTestClient(p ProviderClient, batchSize int) *Client {
	return NewClient(p, NewMemoryCache(), 3, batchSize, time.Hour, 1000)
}

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Hello World", "hello world"},
		{"  spaced\t\nout  ", "spaced out"},
		{"same", "same"},
	}
	for _, tt := range tests {
		if got := NormalizeText(tt.in); got != tt.want {
			t.Errorf("NormalizeText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestContentHash_NormalizedInputsShareKey(t *testing.T) {
	if ContentHash("Fix Auth Bug") != ContentHash("fix  auth   bug") {
		t.Error("normalized-equal texts should share a content hash")
	}
	if ContentHash("fix auth bug") == ContentHash("fix other bug") {
		t.Error("different texts should not share a content hash")
	}
}

func TestEmbed_SecondCallIsCacheHit(t *testing.T) {
	provider := &countingProvider{vec: fixedVec}
	client := newTestClient(provider, 100)
	ctx := context.Background()

	first, err := client.Embed(ctx, "what is on my calendar")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	second, err := client.Embed(ctx, "What is on my  calendar")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}

	if provider.calls != 1 {
		t.Errorf("provider calls = %d, want exactly 1 (second call must hit cache)", provider.calls)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("vectors differ at %d: %v vs %v", i, first[i], second[i])
		}
	}
}

func TestEmbedBatch_PartitionsHitsAndMisses(t *testing.T) {
	provider := &countingProvider{vec: fixedVec}
	client := newTestClient(provider, 100)
	ctx := context.Background()

	if _, err := client.Embed(ctx, "cached text"); err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	provider.calls = 0
	provider.textsSeen = nil

	vecs, err := client.EmbedBatch(ctx, []string{"cached text", "new text one", "new text two"})
	if err != nil {
		t.Fatalf("EmbedBatch() error = %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("got %d vectors, want 3", len(vecs))
	}
	for i, v := range vecs {
		if v == nil {
			t.Errorf("vector %d is nil", i)
		}
	}
	if provider.calls != 1 {
		t.Errorf("provider calls = %d, want 1", provider.calls)
	}
	if len(provider.textsSeen) != 1 || len(provider.textsSeen[0]) != 2 {
		t.Errorf("provider saw %v, want one call with the 2 misses", provider.textsSeen)
	}
}

func TestEmbedBatch_BoundedBatchSize(t *testing.T) {
	provider := &countingProvider{vec: fixedVec}
	client := newTestClient(provider, 2)
	ctx := context.Background()

	texts := []string{"a", "b", "c", "d", "e"}
	if _, err := client.EmbedBatch(ctx, texts); err != nil {
		t.Fatalf("EmbedBatch() error = %v", err)
	}
	// 5 misses with batch size 2 -> 3 provider calls.
	if provider.calls != 3 {
		t.Errorf("provider calls = %d, want 3", provider.calls)
	}
}

func TestEmbed_RejectsNonFiniteVectors(t *testing.T) {
	tests := []struct {
		name string
		vec  []float32
	}{
		{name: "NaN", vec: []float32{0.1, float32(math.NaN()), 0.3}},
		{name: "Inf", vec: []float32{float32(math.Inf(1)), 0.2, 0.3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &countingProvider{vec: func(string) []float32 { return tt.vec }}
			cache := NewMemoryCache()
			client := NewClient(provider, cache, 3, 100, time.Hour, 1000)
			ctx := context.Background()

			_, err := client.Embed(ctx, "bad vector text")
			if err == nil {
				t.Fatal("Embed() expected error for non-finite vector")
			}

			// The bad result must not have been cached.
			if _, ok, _ := cache.Get(ctx, ContentHash("bad vector text")); ok {
				t.Error("invalid embedding was cached")
			}
		})
	}
}

func TestEmbed_RejectsWrongDimension(t *testing.T) {
	provider := &countingProvider{vec: func(string) []float32 { return []float32{1, 2} }}
	client := newTestClient(provider, 100)

	if _, err := client.Embed(context.Background(), "short vector"); err == nil {
		t.Fatal("Embed() expected error for wrong dimension")
	}
}

func TestMemoryCache_TTL(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()

	if err := cache.Set(ctx, "k", []float32{1}, -time.Second); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, ok, _ := cache.Get(ctx, "k"); ok {
		t.Error("expired entry served from cache")
	}
}
