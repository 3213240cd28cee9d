package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("embeddings: empty input")
	// ErrEmbeddingFailed indicates the remote server rejected the request.
	ErrEmbeddingFailed = errors.New("embeddings: generation failed")
)

// TEIProvider generates embeddings against a text-embeddings-inference
// server over HTTP.
type TEIProvider struct {
	baseURL   string
	model     string
	dimension int
	client    *http.Client
}

// NewTEIProvider builds a client for the TEI server at baseURL.
func NewTEIProvider(baseURL, model string) (*TEIProvider, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("embeddings: tei base url required")
	}
	if model == "" {
		model = "BAAI/bge-small-en-v1.5"
	}
	return &TEIProvider{
		baseURL:   baseURL,
		model:     model,
		dimension: modelDimension(model),
		client:    &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type teiRequest struct {
	Inputs   any  `json:"inputs"`
	Truncate bool `json:"truncate"`
}

// EmbedDocuments embeds a batch of passages.
func (p *TEIProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	var embeddings [][]float32
	if err := p.post(ctx, teiRequest{Inputs: texts, Truncate: true}, &embeddings); err != nil {
		return nil, err
	}
	if len(embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrEmbeddingFailed, len(embeddings), len(texts))
	}
	return embeddings, nil
}

// EmbedQuery embeds a single query string.
func (p *TEIProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}

	var embeddings [][]float32
	if err := p.post(ctx, teiRequest{Inputs: []string{text}, Truncate: true}, &embeddings); err != nil {
		return nil, err
	}
	if len(embeddings) != 1 {
		return nil, fmt.Errorf("%w: expected a single embedding, got %d", ErrEmbeddingFailed, len(embeddings))
	}
	return embeddings[0], nil
}

func (p *TEIProvider) post(ctx context.Context, req teiRequest, out *[][]float32) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("embeddings: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("embeddings: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: status %d: %s", ErrEmbeddingFailed, resp.StatusCode, msg)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("embeddings: decode response: %w", err)
	}
	return nil
}

func (p *TEIProvider) Dimension() int {
	return p.dimension
}

func (p *TEIProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
