// Package embedder is the stateless batch embedding client. Vectors come
// back L2-normalized at the declared dimension; zero vectors are rejected.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
)

// DefaultDim is the system's default embedding dimension.
const DefaultDim = 384

// zeroVectorEpsilon is the L1 norm below which a vector counts as zero.
const zeroVectorEpsilon = 1e-8

// ErrEmbeddingInvalid is returned on shape mismatch or an effectively zero
// vector. Such a batch never reaches the vector store.
var ErrEmbeddingInvalid = errors.New("invalid embedding")

// Client calls an OpenAI-compatible embeddings endpoint.
type Client struct {
	BaseURL string
	APIKey  string
	Model   string
	dim     int
	client  *http.Client
}

// NewClient creates an embeddings client with the declared vector dimension.
func NewClient(baseURL, apiKey, model string, dim int) *Client {
	if dim <= 0 {
		dim = DefaultDim
	}
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		dim:     dim,
		client:  http.DefaultClient,
	}
}

// Dim returns the declared embedding dimension.
func (c *Client) Dim() int {
	return c.dim
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingData struct {
	Embedding []float64 `json:"embedding"`
}

type embeddingsResponse struct {
	Data []embeddingData `json:"data"`
}

// EmbedTexts generates one vector per input text. Every vector is validated
// against the declared dimension, L2-normalized, and rejected if its L1 norm
// is effectively zero. Safe to call concurrently.
func (c *Client) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("empty input array")
	}

	body, err := json.Marshal(embeddingsRequest{Model: c.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/v1/embeddings", c.BaseURL), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.APIKey))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("bad status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed embeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d",
			ErrEmbeddingInvalid, len(texts), len(parsed.Data))
	}

	result := make([][]float32, len(parsed.Data))
	for i, data := range parsed.Data {
		if len(data.Embedding) != c.dim {
			return nil, fmt.Errorf("%w: embedding %d has size %d, expected %d",
				ErrEmbeddingInvalid, i, len(data.Embedding), c.dim)
		}

		var l1, l2 float64
		for _, v := range data.Embedding {
			l1 += math.Abs(v)
			l2 += v * v
		}
		if l1 < zeroVectorEpsilon {
			return nil, fmt.Errorf("%w: embedding %d is effectively zero", ErrEmbeddingInvalid, i)
		}

		norm := math.Sqrt(l2)
		vec := make([]float32, len(data.Embedding))
		for j, v := range data.Embedding {
			vec[j] = float32(v / norm)
		}
		result[i] = vec
	}

	return result, nil
}
