package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// HTTPConfig configures an HTTPEmbedder.
type HTTPConfig struct {
	Endpoint    string        // base URL of the embedding service, e.g. http://localhost:8088
	Model       string        // model identifier sent with every request
	Dimensions  int           // 0 = auto-detect from the first embedding
	BatchSize   int           // texts per POST /embed request
	Normalize   bool          // L2-normalize vectors before returning them
	WarmTimeout time.Duration // timeout once the service has answered recently
	ColdTimeout time.Duration // timeout for the first call, or after ModelUnloadThreshold idle
	MaxRetries  int           // DownloadWithRetry attempts per batch
	PoolSize    int           // max idle/open connections to the embedding service

	SkipHealthCheck bool // tests set this to avoid a real GET /health round trip
}

type embedRequest struct {
	Model string   `json:"model"`
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Dimensions int         `json:"dimensions"`
}

type healthResponse struct {
	Status string `json:"status"`
}

// HTTPEmbedder calls a remote embedding service over POST /embed and GET
// /health: a model-agnostic HTTP contract the build and query pipelines
// depend on. It selects a warm or cold timeout based on recent call
// history and retries failed batches with exponential backoff.
type HTTPEmbedder struct {
	client *http.Client
	cfg    HTTPConfig

	mu       sync.RWMutex
	closed   bool
	lastCall time.Time
}

var _ Embedder = (*HTTPEmbedder)(nil)

// NewHTTPEmbedder connects to an embedding service, probing GET /health
// and (if Dimensions is unset) auto-detecting vector width from a dummy
// embedding call.
func NewHTTPEmbedder(ctx context.Context, cfg HTTPConfig) (*HTTPEmbedder, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("embed: endpoint is required")
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.Model == "" {
		cfg.Model = "default"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.WarmTimeout <= 0 {
		cfg.WarmTimeout = DefaultWarmTimeout
	}
	if cfg.ColdTimeout <= 0 {
		cfg.ColdTimeout = DefaultColdTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 8
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.PoolSize,
		MaxIdleConnsPerHost: cfg.PoolSize,
		MaxConnsPerHost:     cfg.PoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}

	e := &HTTPEmbedder{
		client: &http.Client{Transport: transport},
		cfg:    cfg,
	}

	if cfg.SkipHealthCheck {
		if e.cfg.Dimensions == 0 {
			e.cfg.Dimensions = DefaultDimensions
		}
		return e, nil
	}

	checkCtx, cancel := context.WithTimeout(ctx, cfg.ColdTimeout)
	defer cancel()

	if err := e.healthCheck(checkCtx); err != nil {
		transport.CloseIdleConnections()
		return nil, fmt.Errorf("embed: health check failed: %w", err)
	}

	if cfg.Dimensions == 0 {
		vecs, err := e.doEmbed(checkCtx, []string{"dimension probe"})
		if err != nil {
			transport.CloseIdleConnections()
			return nil, fmt.Errorf("embed: dimension probe failed: %w", err)
		}
		if len(vecs) == 0 || len(vecs[0]) == 0 {
			transport.CloseIdleConnections()
			return nil, fmt.Errorf("embed: dimension probe returned empty vector")
		}
		e.cfg.Dimensions = len(vecs[0])
	}

	return e, nil
}

func (e *HTTPEmbedder) healthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.Endpoint+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", e.cfg.Endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	var h healthResponse
	_ = json.NewDecoder(resp.Body).Decode(&h) // status body is informational only
	return nil
}

// Embed generates an embedding for a single text.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return make([]float32, e.cfg.Dimensions), nil
	}
	vecs, err := e.embedWithRetry(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embed: no embedding returned")
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts, chunked by BatchSize.
func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	type indexed struct {
		idx  int
		text string
	}
	var nonEmpty []indexed
	results := make([][]float32, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			results[i] = make([]float32, e.cfg.Dimensions)
		} else {
			nonEmpty = append(nonEmpty, indexed{i, t})
		}
	}
	if len(nonEmpty) == 0 {
		return results, nil
	}

	for start := 0; start < len(nonEmpty); start += e.cfg.BatchSize {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		end := min(start+e.cfg.BatchSize, len(nonEmpty))
		batch := nonEmpty[start:end]
		batchTexts := make([]string, len(batch))
		for i, it := range batch {
			batchTexts[i] = it.text
		}
		vecs, err := e.embedWithRetry(ctx, batchTexts)
		if err != nil {
			return nil, fmt.Errorf("embed: batch [%d:%d] failed: %w", start, end, err)
		}
		for i, v := range vecs {
			results[batch[i].idx] = v
		}
	}
	return results, nil
}

// timeout picks warm vs cold timeout based on how long it's been since the
// last successful call.
func (e *HTTPEmbedder) timeout() time.Duration {
	e.mu.RLock()
	last := e.lastCall
	e.mu.RUnlock()
	if last.IsZero() || time.Since(last) > ModelUnloadThreshold {
		return e.cfg.ColdTimeout
	}
	return e.cfg.WarmTimeout
}

// embedWithRetry wraps doEmbed in the shared exponential-backoff retry loop.
func (e *HTTPEmbedder) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embed: embedder is closed")
	}

	retryCfg := RetryConfig{
		MaxRetries:   e.cfg.MaxRetries - 1,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     3200 * time.Millisecond,
		Multiplier:   2.0,
	}

	var vecs [][]float32
	err := DownloadWithRetry(ctx, retryCfg, func() error {
		timeoutCtx, cancel := context.WithTimeout(ctx, e.timeout())
		defer cancel()
		v, err := e.doEmbed(timeoutCtx, texts)
		if err != nil {
			slog.Debug("embed_attempt_failed", slog.String("error", err.Error()), slog.Int("texts", len(texts)))
			return err
		}
		vecs = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.lastCall = time.Now()
	e.mu.Unlock()

	if e.cfg.Normalize {
		for i, v := range vecs {
			vecs[i] = normalizeVector(v)
		}
	}
	return vecs, nil
}

func (e *HTTPEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := embedRequest{Model: e.cfg.Model, Texts: texts}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Endpoint+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s/embed: %w", e.cfg.Endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embed request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(result.Embeddings))
	}
	return result.Embeddings, nil
}

// Dimensions returns the embedding width.
func (e *HTTPEmbedder) Dimensions() int { return e.cfg.Dimensions }

// ModelName returns the configured model identifier.
func (e *HTTPEmbedder) ModelName() string { return e.cfg.Model }

// Available reports whether the service currently answers /health.
func (e *HTTPEmbedder) Available(ctx context.Context) bool {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return e.healthCheck(checkCtx) == nil
}

// Close shuts down idle connections.
func (e *HTTPEmbedder) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	if t, ok := e.client.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
	return nil
}
