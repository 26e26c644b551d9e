package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// httpProvider implements Provider against an OpenAI-compatible REST
// API (used for both the "cloud" and "openai_compatible" variants,
// and for a local server such as Ollama's OpenAI-compatible endpoint).
// One hand-rolled HTTP client covers every vendor exposing this shape
// rather than depending on a vendor SDK.
type httpProvider struct {
	name       string
	baseURL    string
	apiKey     string
	nativeDim  int
	embedModel string
	chatModel  string
	httpClient *http.Client
}

// HTTPConfig configures an OpenAI-compatible provider.
type HTTPConfig struct {
	Name       string
	BaseURL    string
	APIKeyEnv  string
	NativeDim  int
	EmbedModel string
	ChatModel  string
	Timeout    time.Duration
}

func NewHTTPProvider(cfg HTTPConfig) Provider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.NativeDim <= 0 {
		cfg.NativeDim = 1536
	}
	return &httpProvider{
		name:       cfg.Name,
		baseURL:    cfg.BaseURL,
		apiKey:     os.Getenv(cfg.APIKeyEnv),
		nativeDim:  cfg.NativeDim,
		embedModel: cfg.EmbedModel,
		chatModel:  cfg.ChatModel,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (p *httpProvider) Name() string         { return p.name }
func (p *httpProvider) NativeDimension() int { return p.nativeDim }

func (p *httpProvider) Available(ctx context.Context) bool {
	return p.baseURL != "" && (p.apiKey != "" || p.name == "local")
}

func (p *httpProvider) WarmUp(ctx context.Context) error {
	if !p.Available(ctx) {
		return fmt.Errorf("%w: %s not configured", ErrProviderUnavailable, p.name)
	}
	return nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (p *httpProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: p.embedModel, Input: texts})
	if err != nil {
		return nil, err
	}
	var resp embedResponse
	if err := p.post(ctx, "/embeddings", body, &resp); err != nil {
		return nil, err
	}
	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (p *httpProvider) Chat(ctx context.Context, messages []Message, model string) (string, error) {
	if model == "" {
		model = p.chatModel
	}
	body, err := json.Marshal(chatRequest{Model: model, Messages: messages})
	if err != nil {
		return "", err
	}
	var resp chatResponse
	if err := p.post(ctx, "/chat/completions", body, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty response from %s", ErrProviderUnavailable, p.name)
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *httpProvider) post(ctx context.Context, path string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s request: %v", ErrProviderUnavailable, p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: %s returned %d: %s", ErrProviderUnavailable, p.name, resp.StatusCode, data)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func init() {
	RegisterFactory("cloud", func(variant string) (Provider, error) {
		return NewHTTPProvider(HTTPConfig{
			Name:       "cloud",
			BaseURL:    "https://api.openai.com/v1",
			APIKeyEnv:  "AGENTMCP_PROVIDER_API_KEY",
			NativeDim:  1536,
			EmbedModel: "text-embedding-3-small",
			ChatModel:  "gpt-4o-mini",
		}), nil
	})
	RegisterFactory("openai_compatible", func(variant string) (Provider, error) {
		baseURL := os.Getenv("AGENTMCP_PROVIDER_BASE_URL")
		if baseURL == "" {
			return nil, fmt.Errorf("openai_compatible provider requires AGENTMCP_PROVIDER_BASE_URL")
		}
		return NewHTTPProvider(HTTPConfig{
			Name:       "openai_compatible",
			BaseURL:    baseURL,
			APIKeyEnv:  "AGENTMCP_PROVIDER_API_KEY",
			NativeDim:  1536,
			EmbedModel: os.Getenv("AGENTMCP_PROVIDER_EMBED_MODEL"),
			ChatModel:  os.Getenv("AGENTMCP_PROVIDER_CHAT_MODEL"),
		}), nil
	})
	RegisterFactory("local", func(variant string) (Provider, error) {
		baseURL := os.Getenv("AGENTMCP_LOCAL_BASE_URL")
		if baseURL == "" {
			baseURL = "http://localhost:11434/v1"
		}
		return NewHTTPProvider(HTTPConfig{
			Name:       "local",
			BaseURL:    baseURL,
			APIKeyEnv:  "AGENTMCP_LOCAL_API_KEY",
			NativeDim:  768,
			EmbedModel: envOr("AGENTMCP_LOCAL_EMBED_MODEL", "nomic-embed-text"),
			ChatModel:  envOr("AGENTMCP_LOCAL_CHAT_MODEL", "llama3"),
		}), nil
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
