package agent

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

// Generation modes. The mode is fixed at construction time; the
// orchestrator only ever sees the Generator interface.
const (
	ModeStub   = "local_stub"
	ModeOllama = "ollama"
	ModeRemote = "remote"
)

// Generator is the external text-generation capability: given a system
// and a user instruction it produces text, possibly JSON-encoded. Nothing
// above this interface knows which backend is answering.
type Generator interface {
	Generate(ctx context.Context, system, user string, maxTokens int, temperature float64) (string, error)
}

// NewGenerator selects a backend by mode, falling back to the deployment
// default (LLM_MODE) when the request named none. Unknown modes get the
// offline stub so a misconfigured deployment still answers.
func NewGenerator(mode string) Generator {
	if mode == "" {
		mode = os.Getenv("LLM_MODE")
	}
	switch mode {
	case ModeOllama:
		return NewOllamaGenerator(os.Getenv("LLM_URL"), os.Getenv("LLM_MODEL"))
	case ModeRemote:
		return NewRemoteGenerator(os.Getenv("REMOTE_LLM_URL"))
	default:
		return NewStubGenerator()
	}
}

// OllamaGenerator calls an Ollama generate endpoint.
type OllamaGenerator struct {
	apiURL string
	model  string
	client *http.Client
}

type generateRequest struct {
	Model   string         `json:"model"`
	System  string         `json:"system"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
}

func NewOllamaGenerator(apiURL, model string) *OllamaGenerator {
	return &OllamaGenerator{
		apiURL: apiURL,
		model:  model,
		client: &http.Client{Timeout: 300 * time.Second},
	}
}

func (g *OllamaGenerator) Generate(ctx context.Context, system, user string, maxTokens int, temperature float64) (string, error) {
	reqBody, err := json.Marshal(generateRequest{
		Model:  g.model,
		System: system,
		Prompt: user,
		Stream: false,
		Options: map[string]any{
			"temperature": temperature,
			"num_predict": maxTokens,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiURL, bytes.NewBuffer(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to call LLM: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("LLM API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var genResp generateResponse
	if err := json.Unmarshal(body, &genResp); err == nil && genResp.Response != "" {
		return genResp.Response, nil
	}

	// streamed body: one JSON object per line, concatenate the pieces
	var output string
	decoder := json.NewDecoder(bytes.NewReader(body))
	for decoder.More() {
		var chunk generateResponse
		if err := decoder.Decode(&chunk); err != nil {
			break
		}
		output += chunk.Response
	}
	if output == "" {
		return "", fmt.Errorf("empty LLM response")
	}
	return output, nil
}

// RemoteGenerator calls a generic hosted generate endpoint (a tunneled
// GPU notebook, for example) that accepts a single combined prompt.
type RemoteGenerator struct {
	apiURL string
	client *http.Client
}

type remoteRequest struct {
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

func NewRemoteGenerator(apiURL string) *RemoteGenerator {
	return &RemoteGenerator{
		apiURL: apiURL,
		client: &http.Client{Timeout: 120 * time.Second},
	}
}

func (g *RemoteGenerator) Generate(ctx context.Context, system, user string, maxTokens int, temperature float64) (string, error) {
	reqBody, err := json.Marshal(remoteRequest{
		Prompt:      system + "\n\n" + user,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiURL, bytes.NewBuffer(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to call remote LLM: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("remote LLM error: status %d, body: %s", resp.StatusCode, string(body))
	}

	// the endpoint answers either {"response": ...}, {"generated_text": ...}
	// or raw text
	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return string(body), nil
	}
	if s, ok := data["response"].(string); ok && s != "" {
		return s, nil
	}
	if s, ok := data["generated_text"].(string); ok && s != "" {
		return s, nil
	}
	return string(body), nil
}
