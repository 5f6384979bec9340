package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"recommender/internal/retry"
)

const (
	DefaultOllamaURL   = "http://localhost:11434"
	DefaultOllamaModel = "nomic-embed-text"

	maxResponseBytes = 16 << 20
)

// OllamaEmbedder calls Ollama's /api/embeddings endpoint and extracts the
// vector from the raw reply with ParseVector.
type OllamaEmbedder struct {
	endpoint string
	model    string
	client   *retryablehttp.Client
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// NewOllamaEmbedder builds an embedder against baseURL. Transport errors and
// 5xx replies are retried up to retries times with capped exponential backoff.
func NewOllamaEmbedder(baseURL, model string, retries int, log *slog.Logger) (*OllamaEmbedder, error) {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	if retries < 0 {
		retries = 0
	}

	cli := retryablehttp.NewClient()
	cli.RetryMax = retries
	cli.RetryWaitMin = 250 * time.Millisecond
	cli.RetryWaitMax = 5 * time.Second
	cli.Backoff = func(min, max time.Duration, attemptNum int, _ *http.Response) time.Duration {
		return retry.CappedBackoff(attemptNum, min, max)
	}
	cli.Logger = nil
	if log != nil {
		cli.Logger = log
	}

	return &OllamaEmbedder{
		endpoint: strings.TrimRight(baseURL, "/") + "/api/embeddings",
		model:    model,
		client:   cli,
	}, nil
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	body, err := json.Marshal(ollamaRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrProvider, err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrProvider, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProvider, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrProvider, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: ollama returned %d: %s", ErrProvider, resp.StatusCode, truncate(string(raw), 200))
	}
	return ParseVector(string(raw))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
