package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// GenerationConfig carries the sampling knobs of one LLM call.
type GenerationConfig struct {
	Temperature       float64
	TopP              float64
	TopK              int
	RepetitionPenalty float64
	NoRepeatNgramSize int
	MaxNewTokens      int
}

type LLMConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	// ExtendedSampling sends top_k, repetition_penalty and no_repeat_ngram_size,
	// which only some OpenAI-compatible servers accept.
	ExtendedSampling bool
	Timeout          time.Duration
}

// LLMClient talks to an OpenAI-compatible completions endpoint.
type LLMClient struct {
	httpClient *http.Client
	cfg        LLMConfig
}

func NewLLMClient(cfg LLMConfig) *LLMClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &LLMClient{
		httpClient: &http.Client{Timeout: timeout},
		cfg:        cfg,
	}
}

func (c *LLMClient) Model() string { return c.cfg.Model }

// Generate sends a raw prompt and returns the trimmed completion text.
func (c *LLMClient) Generate(ctx context.Context, prompt string, gen GenerationConfig) (string, error) {
	reqBody := map[string]interface{}{
		"model":       c.cfg.Model,
		"prompt":      prompt,
		"max_tokens":  gen.MaxNewTokens,
		"temperature": gen.Temperature,
		"stream":      false,
		"stop":        []string{"<|im_end|>"},
	}
	if gen.TopP > 0 {
		reqBody["top_p"] = gen.TopP
	}
	if c.cfg.ExtendedSampling {
		if gen.TopK > 0 {
			reqBody["top_k"] = gen.TopK
		}
		if gen.RepetitionPenalty > 0 {
			reqBody["repetition_penalty"] = gen.RepetitionPenalty
		}
		if gen.NoRepeatNgramSize > 0 {
			reqBody["no_repeat_ngram_size"] = gen.NoRepeatNgramSize
		}
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal llm request failed: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("build llm request failed: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read llm response failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("llm response status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed struct {
		Choices []struct {
			Text string `json:"text"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("parse llm json failed: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("empty llm choices")
	}
	return strings.TrimSpace(parsed.Choices[0].Text), nil
}

// Ping checks that the server is up and serves the configured model.
func (c *LLMClient) Ping(ctx context.Context) error {
	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build llm ping failed: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("llm ping failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read llm ping failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("llm ping status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("parse llm models failed: %w", err)
	}
	for _, m := range parsed.Data {
		if m.ID == c.cfg.Model {
			return nil
		}
	}
	return fmt.Errorf("llm model %q not served", c.cfg.Model)
}

func (c *LLMClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
}
