package vector

import (
	"context"
	"math"
	"testing"

	"github.com/sweetpotato0/esg-rag/rag/document"
	"github.com/sweetpotato0/esg-rag/rag/searchfilter"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1}, []float32{1, 2}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CosineSimilarity(tt.a, tt.b); math.Abs(float64(got-tt.want)) > 1e-6 {
				t.Errorf("CosineSimilarity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	if math.Abs(float64(v[0]-0.6)) > 1e-6 || math.Abs(float64(v[1]-0.8)) > 1e-6 {
		t.Errorf("Normalize = %v", v)
	}
	if got := Normalize([]float32{0, 0}); got[0] != 0 || got[1] != 0 {
		t.Errorf("Normalize(zero) = %v", got)
	}
}

func TestLiteral(t *testing.T) {
	if got := Literal([]float32{0.5, -1, 2}); got != "[0.5,-1,2]" {
		t.Errorf("Literal = %q", got)
	}
	if got := Literal(nil); got != "[]" {
		t.Errorf("Literal(nil) = %q", got)
	}
}

func TestStoreFunc(t *testing.T) {
	var gotK int
	var store Store = StoreFunc(func(_ context.Context, q string, k int, _ searchfilter.Filter) ([]document.Passage, error) {
		gotK = k
		return []document.Passage{{Content: q}}, nil
	})
	out, err := store.Search(context.Background(), "台積電", 5, searchfilter.Filter{})
	if err != nil || len(out) != 1 || out[0].Content != "台積電" || gotK != 5 {
		t.Errorf("Search = %v, %v (k=%d)", out, err, gotK)
	}
}
