package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ErrCircuitOpen is returned when the circuit breaker is open and requests
// to the embedding service are being rejected to prevent cascading failures.
var ErrCircuitOpen = errors.New("embedding circuit breaker is open")

// OllamaConfig holds Ollama embedding client configuration.
type OllamaConfig struct {
	// BaseURL is the base URL for the Ollama API (default: http://localhost:11434)
	BaseURL string

	// Model is the embedding model name (default: nomic-embed-text)
	Model string

	// Dimension is the vector dimension the model produces (default: 384)
	Dimension int

	// Timeout is the per-request timeout (default: 5s)
	Timeout time.Duration

	// RequestsPerSecond throttles embedding calls so bulk backfills do not
	// saturate the service (default: 10). Zero or negative disables limiting.
	RequestsPerSecond float64

	// Burst is the rate limiter burst size (default: 5).
	Burst int
}

// OllamaEmbedder generates embeddings via the Ollama HTTP API. The embedding
// service is the one potentially slow, externally-owned dependency in the
// system, so every call goes through a circuit breaker and a rate limiter.
type OllamaEmbedder struct {
	baseURL   string
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker
	limiter   *rate.Limiter
	model     string
	dimension int
	timeout   time.Duration
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// The embeddings field is a 2D array; we always use the first (and only) row.
type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaEmbedder creates an Ollama embedding client with the given
// configuration, applying defaults for unset fields.
func NewOllamaEmbedder(config OllamaConfig) *OllamaEmbedder {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.Model == "" {
		config.Model = "nomic-embed-text"
	}
	if config.Dimension <= 0 {
		config.Dimension = DefaultDimension
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}
	if config.Burst <= 0 {
		config.Burst = 5
	}

	var limiter *rate.Limiter
	if config.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "OllamaEmbedder",
		MaxRequests: 2,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	return &OllamaEmbedder{
		baseURL:   config.BaseURL,
		client:    &http.Client{Timeout: config.Timeout},
		breaker:   breaker,
		limiter:   limiter,
		model:     config.Model,
		dimension: config.Dimension,
		timeout:   config.Timeout,
	}
}

// Embed generates an embedding for the given text. The call is throttled by
// the rate limiter and wrapped with circuit breaker protection.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, errors.New("embed: text is required")
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("embed: rate limit wait: %w", err)
		}
	}

	result, err := e.breaker.Execute(func() (interface{}, error) {
		return e.embed(ctx, text)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		return nil, err
	}

	return result.([]float32), nil
}

// embed is the internal implementation without circuit breaker wrapping.
func (e *OllamaEmbedder) embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	reqBody := embedRequest{Model: e.model, Input: text}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", e.baseURL+"/api/embed", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(body))
	}

	var respData embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(respData.Embeddings) == 0 || len(respData.Embeddings[0]) == 0 {
		return nil, errors.New("ollama returned empty embedding vector")
	}

	vector := respData.Embeddings[0]
	if len(vector) != e.dimension {
		return nil, fmt.Errorf("ollama returned %d-dimension vector, expected %d", len(vector), e.dimension)
	}

	return vector, nil
}

// HealthCheck verifies that Ollama is reachable. It bypasses the circuit
// breaker since it is itself a health probe.
func (e *OllamaEmbedder) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", e.baseURL+"/api/version", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("health check returned status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// Model returns the configured model name.
func (e *OllamaEmbedder) Model() string {
	return e.model
}

// Dimension returns the configured vector dimension.
func (e *OllamaEmbedder) Dimension() int {
	return e.dimension
}

// BreakerState returns the circuit breaker state for maintenance surfaces.
func (e *OllamaEmbedder) BreakerState() string {
	switch e.breaker.State() {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var _ Embedder = (*OllamaEmbedder)(nil)
