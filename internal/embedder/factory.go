package embedder

import (
	"fmt"
	"os"
	"strings"
)

// Environment variables consulted by NewFromEnv.
const (
	EnvProvider     = "DOCDEX_EMBEDDING_PROVIDER"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	EnvOllamaHost   = "OLLAMA_HOST"
	EnvOllamaModel  = "DOCDEX_OLLAMA_MODEL"
)

// Config holds embedder configuration
type Config struct {
	Provider  string
	APIKey    string
	BaseURL   string
	Model     string
	CacheSize int
}

// NewFromEnv creates an embedder based on environment variables.
// Priority:
//  1. DOCDEX_EMBEDDING_PROVIDER (ollama, openai, local)
//  2. OPENAI_API_KEY set: openai; OLLAMA_HOST set: ollama
//  3. Default to the deterministic local provider
func NewFromEnv() (Embedder, error) {
	provider := strings.ToLower(os.Getenv(EnvProvider))
	openaiKey := os.Getenv(EnvOpenAIAPIKey)
	ollamaHost := os.Getenv(EnvOllamaHost)

	cache := NewCache(10000)

	if provider != "" {
		switch provider {
		case ProviderOllama:
			return NewOllamaProvider(ollamaHost, os.Getenv(EnvOllamaModel), cache)
		case ProviderOpenAI:
			return NewOpenAIProvider(openaiKey, "", cache)
		case ProviderLocal:
			return NewLocalProvider(cache)
		default:
			return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, provider)
		}
	}

	if openaiKey != "" {
		return NewOpenAIProvider(openaiKey, "", cache)
	}
	if ollamaHost != "" {
		return NewOllamaProvider(ollamaHost, os.Getenv(EnvOllamaModel), cache)
	}

	return NewLocalProvider(cache)
}

// New creates an embedder with explicit configuration
func New(cfg Config) (Embedder, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	switch strings.ToLower(cfg.Provider) {
	case ProviderOllama:
		return NewOllamaProvider(cfg.BaseURL, cfg.Model, cache)
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg.APIKey, cfg.Model, cache)
	case ProviderLocal:
		return NewLocalProvider(cache)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}

// DetectProvider returns the provider NewFromEnv would pick right now.
func DetectProvider() string {
	if provider := os.Getenv(EnvProvider); provider != "" {
		return strings.ToLower(provider)
	}
	if os.Getenv(EnvOpenAIAPIKey) != "" {
		return ProviderOpenAI
	}
	if os.Getenv(EnvOllamaHost) != "" {
		return ProviderOllama
	}
	return ProviderLocal
}
