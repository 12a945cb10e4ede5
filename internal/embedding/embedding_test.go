package embedding

import (
	"context"
	"errors"
	"math"
	"testing"
)

func TestHashModel_Deterministic(t *testing.T) {
	m := NewHashModel()
	ctx := context.Background()

	v1, err := m.Encode(ctx, "hello world")
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	v2, err := m.Encode(ctx, "hello world")
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	if len(v1) != Dimensions {
		t.Fatalf("len(v1) = %d, want %d", len(v1), Dimensions)
	}
	for i := range v1 {
		if v1[i] != v2[i] {
			t.Fatalf("encoding not referentially transparent at index %d: %v != %v", i, v1[i], v2[i])
		}
	}
}

func TestHashModel_DifferentInputsDiffer(t *testing.T) {
	m := NewHashModel()
	ctx := context.Background()

	v1, _ := m.Encode(ctx, "alpha")
	v2, _ := m.Encode(ctx, "beta")

	if CosineSimilarity(v1, v1) < 0.999 {
		t.Fatalf("self-similarity should be ~1.0, got %v", CosineSimilarity(v1, v1))
	}
	if CosineSimilarity(v1, v2) >= 0.999 {
		t.Fatalf("distinct inputs should not be identical vectors")
	}
}

func TestHashModel_UnitNorm(t *testing.T) {
	m := NewHashModel()
	v, _ := m.Encode(context.Background(), "normalize me")

	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSquares)
	if math.Abs(norm-1.0) > 1e-6 {
		t.Errorf("norm = %v, want ~1.0", norm)
	}
}

func TestCosineSimilarity_MismatchedLengths(t *testing.T) {
	if got := CosineSimilarity([]float32{1, 2}, []float32{1}); got != 0 {
		t.Errorf("CosineSimilarity() = %v, want 0", got)
	}
}

type countingModel struct {
	calls int
	vec   []float32
	err   error
}

func (c *countingModel) Encode(_ context.Context, _ string) ([]float32, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.vec, nil
}

func TestCachedModel_HitsAvoidUnderlyingCall(t *testing.T) {
	underlying := &countingModel{vec: []float32{0.1, 0.2, 0.3}}
	cached, err := NewCachedModel(underlying, 10)
	if err != nil {
		t.Fatalf("NewCachedModel() error = %v", err)
	}

	ctx := context.Background()
	if _, err := cached.Encode(ctx, "same text"); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if _, err := cached.Encode(ctx, "same text"); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if _, err := cached.Encode(ctx, "different text"); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	if underlying.calls != 2 {
		t.Errorf("underlying.calls = %d, want 2 (one per distinct text)", underlying.calls)
	}
	if cached.Len() != 2 {
		t.Errorf("cached.Len() = %d, want 2", cached.Len())
	}
}

func TestCachedModel_PropagatesUnderlyingError(t *testing.T) {
	wantErr := errors.New("model unavailable")
	underlying := &countingModel{err: wantErr}
	cached, err := NewCachedModel(underlying, 10)
	if err != nil {
		t.Fatalf("NewCachedModel() error = %v", err)
	}

	_, err = cached.Encode(context.Background(), "text")
	if !errors.Is(err, wantErr) {
		t.Errorf("Encode() error = %v, want %v", err, wantErr)
	}
	if cached.Len() != 0 {
		t.Errorf("cached.Len() = %d, want 0 on error (nothing should be cached)", cached.Len())
	}
}

func TestCachedModel_DefaultCapacity(t *testing.T) {
	cached, err := NewCachedModel(NewHashModel(), 0)
	if err != nil {
		t.Fatalf("NewCachedModel() error = %v", err)
	}
	if _, err := cached.Encode(context.Background(), "x"); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
}
