package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func embeddingServer(t *testing.T, vectors [][]float64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			http.NotFound(w, r)
			return
		}
		var req embeddingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := embeddingsResponse{}
		for i := range req.Input {
			resp.Data = append(resp.Data, embeddingData{Embedding: vectors[i%len(vectors)]})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestEmbedTexts_Normalizes(t *testing.T) {
	vec := make([]float64, 4)
	vec[0] = 3
	vec[1] = 4
	srv := embeddingServer(t, [][]float64{vec})
	defer srv.Close()

	c := NewClient(srv.URL, "key", "model", 4)
	got, err := c.EmbedTexts(context.Background(), []string{"hello"})
	if err != nil {
		t.Fatalf("EmbedTexts() error = %v", err)
	}
	if len(got) != 1 || len(got[0]) != 4 {
		t.Fatalf("unexpected shape: %v", got)
	}

	var l2 float64
	for _, v := range got[0] {
		l2 += float64(v) * float64(v)
	}
	if math.Abs(math.Sqrt(l2)-1.0) > 1e-5 {
		t.Errorf("vector not L2-normalized, norm = %f", math.Sqrt(l2))
	}
}

func TestEmbedTexts_RejectsZeroVector(t *testing.T) {
	srv := embeddingServer(t, [][]float64{make([]float64, 4)})
	defer srv.Close()

	c := NewClient(srv.URL, "key", "model", 4)
	_, err := c.EmbedTexts(context.Background(), []string{"hello"})
	if !errors.Is(err, ErrEmbeddingInvalid) {
		t.Errorf("EmbedTexts() error = %v, want ErrEmbeddingInvalid", err)
	}
}

func TestEmbedTexts_RejectsWrongDimension(t *testing.T) {
	srv := embeddingServer(t, [][]float64{{1, 2}})
	defer srv.Close()

	c := NewClient(srv.URL, "key", "model", 4)
	_, err := c.EmbedTexts(context.Background(), []string{"hello"})
	if !errors.Is(err, ErrEmbeddingInvalid) {
		t.Errorf("EmbedTexts() error = %v, want ErrEmbeddingInvalid", err)
	}
}

func TestEmbedTexts_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(embeddingsResponse{
			Data: []embeddingData{{Embedding: []float64{1, 0, 0, 0}}},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", "model", 4)
	_, err := c.EmbedTexts(context.Background(), []string{"a", "b"})
	if !errors.Is(err, ErrEmbeddingInvalid) {
		t.Errorf("EmbedTexts() error = %v, want ErrEmbeddingInvalid", err)
	}
}

func TestEmbedTexts_EmptyInput(t *testing.T) {
	c := NewClient("http://unused", "key", "model", 4)
	if _, err := c.EmbedTexts(context.Background(), nil); err == nil {
		t.Error("EmbedTexts() with no texts should fail")
	}
}

func TestEmbedTexts_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", "model", 4)
	if _, err := c.EmbedTexts(context.Background(), []string{"x"}); err == nil {
		t.Error("EmbedTexts() should surface non-2xx responses")
	}
}
