package embedder

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"time"
)

// Provider configuration
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderLocal  = "local"

	// Default models
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultOllamaModel = "nomic-embed-text"

	// Dimensions
	OpenAIDimension = 1536
	OllamaDimension = 768
	LocalDimension  = 384

	// Per-chunk character budgets
	OpenAIMaxChunkSize = 8000
	OllamaMaxChunkSize = 6000
	LocalMaxChunkSize  = 2000

	// Batch limits
	MaxBatchSize = 100
)

// Environment variables consulted by the providers
const (
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	EnvOllamaHost   = "OLLAMA_HOST"
)

// DefaultOllamaHost is used when OLLAMA_HOST is unset.
const DefaultOllamaHost = "http://localhost:11434"

// OpenAIProvider implements Provider using the OpenAI embeddings API
type OpenAIProvider struct {
	apiKey     string
	model      string
	httpClient *http.Client
	cache      *Cache
}

// NewOpenAIProvider creates a new OpenAI embedder
func NewOpenAIProvider(apiKey string, cache *Cache) (*OpenAIProvider, error) {
	if apiKey == "" {
		apiKey = os.Getenv(EnvOpenAIAPIKey)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvOpenAIAPIKey)
	}

	return &OpenAIProvider{
		apiKey: apiKey,
		model:  DefaultOpenAIModel,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		cache: cache,
	}, nil
}

func (o *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ValidateBatch(texts); err != nil {
		return nil, err
	}
	if len(texts) > MaxBatchSize {
		return nil, fmt.Errorf("%w: max %d texts allowed", ErrBatchTooLarge, MaxBatchSize)
	}

	vectors, missing := collectCached(o.cache, o.EmbeddingID(), texts)
	if len(missing) == 0 {
		return vectors, nil
	}

	fetched, err := fetchWithRetry(ctx, func() ([][]float32, error) {
		return o.callAPI(ctx, gather(texts, missing))
	})
	if err != nil {
		return nil, fmt.Errorf("%w after %d attempts: %v", ErrProviderFailed, apiAttempts, err)
	}
	if len(fetched) != len(missing) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrProviderFailed, len(fetched), len(missing))
	}

	fillCached(o.cache, o.EmbeddingID(), texts, vectors, missing, fetched)
	return vectors, nil
}

func (o *OpenAIProvider) callAPI(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := map[string]interface{}{
		"input": texts,
		"model": o.model,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", "https://api.openai.com/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("api error %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	vectors := make([][]float32, len(apiResp.Data))
	for _, data := range apiResp.Data {
		if data.Index < 0 || data.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range", data.Index)
		}
		vectors[data.Index] = data.Embedding
	}
	return vectors, nil
}

func (o *OpenAIProvider) EmbeddingID() string {
	return ProviderOpenAI + "/" + o.model
}

func (o *OpenAIProvider) MaxChunkSize() int {
	return OpenAIMaxChunkSize
}

func (o *OpenAIProvider) Dimensions() int {
	return OpenAIDimension
}

func (o *OpenAIProvider) Close() error {
	o.httpClient.CloseIdleConnections()
	return nil
}

// OllamaProvider implements Provider against a local Ollama server
type OllamaProvider struct {
	host       string
	model      string
	httpClient *http.Client
	cache      *Cache
}

// NewOllamaProvider creates an embedder backed by a local Ollama server
func NewOllamaProvider(host string, cache *Cache) (*OllamaProvider, error) {
	if host == "" {
		host = os.Getenv(EnvOllamaHost)
	}
	if host == "" {
		host = DefaultOllamaHost
	}

	return &OllamaProvider{
		host:  host,
		model: DefaultOllamaModel,
		httpClient: &http.Client{
			Timeout: 120 * time.Second, // first call may load the model
		},
		cache: cache,
	}, nil
}

func (l *OllamaProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ValidateBatch(texts); err != nil {
		return nil, err
	}
	if len(texts) > MaxBatchSize {
		return nil, fmt.Errorf("%w: max %d texts allowed", ErrBatchTooLarge, MaxBatchSize)
	}

	vectors, missing := collectCached(l.cache, l.EmbeddingID(), texts)
	if len(missing) == 0 {
		return vectors, nil
	}

	fetched, err := fetchWithRetry(ctx, func() ([][]float32, error) {
		return l.callAPI(ctx, gather(texts, missing))
	})
	if err != nil {
		return nil, fmt.Errorf("%w after %d attempts: %v", ErrProviderFailed, apiAttempts, err)
	}
	if len(fetched) != len(missing) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrProviderFailed, len(fetched), len(missing))
	}

	fillCached(l.cache, l.EmbeddingID(), texts, vectors, missing, fetched)
	return vectors, nil
}

func (l *OllamaProvider) callAPI(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := map[string]interface{}{
		"model": l.model,
		"input": texts,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", l.host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("api error %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var apiResp struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return apiResp.Embeddings, nil
}

func (l *OllamaProvider) EmbeddingID() string {
	return ProviderOllama + "/" + l.model
}

func (l *OllamaProvider) MaxChunkSize() int {
	return OllamaMaxChunkSize
}

func (l *OllamaProvider) Dimensions() int {
	return OllamaDimension
}

func (l *OllamaProvider) Close() error {
	l.httpClient.CloseIdleConnections()
	return nil
}

// LocalProvider produces deterministic hash-derived vectors without any
// model. Useful for tests and for environments with no provider configured.
type LocalProvider struct {
	model string
	cache *Cache
}

// NewLocalProvider creates a deterministic local embedder
func NewLocalProvider(cache *Cache) (*LocalProvider, error) {
	return &LocalProvider{
		model: "local-embeddings",
		cache: cache,
	}, nil
}

func (l *LocalProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ValidateBatch(texts); err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		hash := ComputeHash(text)
		if l.cache != nil {
			if v, ok := l.cache.Get(l.EmbeddingID(), hash); ok {
				vectors[i] = v
				continue
			}
		}

		vector := make([]float32, LocalDimension)
		textHash := sha256.Sum256([]byte(text))
		for j := 0; j < LocalDimension && j < len(textHash); j++ {
			vector[j] = float32(textHash[j]) / 255.0
		}
		vectors[i] = NormalizeVector(vector)

		if l.cache != nil {
			l.cache.Set(l.EmbeddingID(), hash, vectors[i])
		}
	}
	return vectors, nil
}

func (l *LocalProvider) EmbeddingID() string {
	return ProviderLocal + "/" + l.model
}

func (l *LocalProvider) MaxChunkSize() int {
	return LocalMaxChunkSize
}

func (l *LocalProvider) Dimensions() int {
	return LocalDimension
}

func (l *LocalProvider) Close() error {
	return nil
}

// collectCached resolves cache hits, returning the partially filled vector
// slice and the indices still missing.
func collectCached(cache *Cache, embeddingID string, texts []string) ([][]float32, []int) {
	vectors := make([][]float32, len(texts))
	var missing []int
	for i, text := range texts {
		if cache != nil {
			if v, ok := cache.Get(embeddingID, ComputeHash(text)); ok {
				vectors[i] = v
				continue
			}
		}
		missing = append(missing, i)
	}
	return vectors, missing
}

// gather selects texts at the given indices.
func gather(texts []string, indices []int) []string {
	out := make([]string, len(indices))
	for i, idx := range indices {
		out[i] = texts[idx]
	}
	return out
}

// fillCached writes fetched vectors into their slots and caches them.
func fillCached(cache *Cache, embeddingID string, texts []string, vectors [][]float32, missing []int, fetched [][]float32) {
	for i, idx := range missing {
		vectors[idx] = fetched[i]
		if cache != nil {
			cache.Set(embeddingID, ComputeHash(texts[idx]), fetched[i])
		}
	}
}

// NormalizeVector normalizes a vector to unit length (for cosine similarity)
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val * val)
	}

	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}

	return result
}
