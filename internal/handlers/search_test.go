package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/mock/gomock"

	"movesia/internal/vectorstore"
	"movesia/internal/vectorstore/mocks"
)

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = []float32{1, 0, 0, 0}
	}
	return vecs, nil
}

func TestSearchHandler(t *testing.T) {
	ctrl := gomock.NewController(t)
	vectors := mocks.NewMockVectorIndex(ctrl)

	vectors.EXPECT().
		Search(gomock.Any(), gomock.Any(), 3, map[string]string{"kind": "Script"}, gomock.Nil()).
		Return([]vectorstore.ScoredPoint{
			{ID: "p1", Score: 0.92, Payload: map[string]any{"rel_path": "Assets/S.cs", "range": "1-80"}},
		}, nil)

	h := NewSearchHandler(&fakeEmbedder{}, vectors)

	req := httptest.NewRequest(http.MethodGet, "/api/search?q=player+movement&k=3&kind=Script", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Assets/S.cs") {
		t.Errorf("response missing hit payload: %s", rec.Body.String())
	}
}

func TestSearchHandler_RequiresQuery(t *testing.T) {
	ctrl := gomock.NewController(t)
	h := NewSearchHandler(&fakeEmbedder{}, mocks.NewMockVectorIndex(ctrl))

	req := httptest.NewRequest(http.MethodGet, "/api/search", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSearchHandler_RejectsBadK(t *testing.T) {
	ctrl := gomock.NewController(t)
	h := NewSearchHandler(&fakeEmbedder{}, mocks.NewMockVectorIndex(ctrl))

	req := httptest.NewRequest(http.MethodGet, "/api/search?q=x&k=-1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
