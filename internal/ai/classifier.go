// Package ai wraps the OpenAI-compatible chat endpoint behind the
// domain.Classifier capability: prompt rendering, bounded retries, JSON
// repair and schema normalization.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tigerliu/idlewatch/internal/domain"
)

// FailureThreshold is the consecutive-failure count that trips a run.
const FailureThreshold = 3

const maxImageAttachments = 9

// Config controls the classifier client.
type Config struct {
	APIKey               string
	BaseURL              string
	Model                string
	MaxTokensParamName   string // "max_tokens" or "max_completion_tokens"
	MaxTokensLimit       int
	VisionEnabled        bool
	EnableThinking       bool
	EnableResponseFormat bool
	DebugMode            bool
	ProxyURL             string
	Timeout              time.Duration
	RequestLogDir        string
}

func (c *Config) applyDefaults() {
	if c.MaxTokensParamName == "" {
		c.MaxTokensParamName = "max_tokens"
	}
	if c.MaxTokensLimit <= 0 || c.MaxTokensLimit > 20000 {
		c.MaxTokensLimit = 20000
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
}

// Client implements domain.Classifier over an OpenAI-compatible API.
type Client struct {
	cfg      Config
	http     *resty.Client
	logger   *zap.Logger
	clock    domain.Clock
	failures atomic.Int32
}

// New builds a classifier client.
func New(cfg Config, clock domain.Clock, logger *zap.Logger) *Client {
	cfg.applyDefaults()
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetAuthToken(cfg.APIKey).
		SetHeader("Content-Type", "application/json")
	if cfg.ProxyURL != "" {
		httpClient.SetProxy(cfg.ProxyURL)
	}
	return &Client{cfg: cfg, http: httpClient, logger: logger, clock: clock}
}

// ConsecutiveFailures reports how many calls in a row have failed.
func (c *Client) ConsecutiveFailures() int {
	return int(c.failures.Load())
}

// ResetFailures clears the consecutive-failure counter. Called at the start
// of every run so one task's bad streak never bleeds into the next.
func (c *Client) ResetFailures() {
	c.failures.Store(0)
}

// chat wire types

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Classify renders the record and prompt into a chat request and returns the
// validated analysis. Up to three attempts are made with decreasing
// temperature; every failure path increments the consecutive-failure counter
// exactly once, every success resets it.
func (c *Client) Classify(ctx context.Context, record *domain.FinalRecord, prompt string, imageURLs []string) (*domain.AIAnalysis, error) {
	analysis, err := c.classify(ctx, record, prompt, imageURLs)
	if err != nil {
		c.failures.Add(1)
		return nil, err
	}
	c.failures.Store(0)
	return analysis, nil
}

func (c *Client) classify(ctx context.Context, record *domain.FinalRecord, prompt string, imageURLs []string) (*domain.AIAnalysis, error) {
	recordJSON, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal record for prompt: %w", err)
	}

	temperatures := []float64{0.1, 0.05, 0.05}
	var lastErr error
	var lastContent string
	for attempt, temp := range temperatures {
		payload := c.buildPayload(prompt, string(recordJSON), imageURLs, temp)
		c.logPayload(payload)

		content, err := c.call(ctx, payload)
		if err != nil {
			lastErr = err
			c.logger.Warn("classifier call failed",
				zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}
		lastContent = content
		analysis, err := Normalize([]byte(ExtractJSON(content)))
		if err != nil {
			lastErr = err
			c.logger.Warn("classifier output invalid",
				zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}
		return analysis, nil
	}
	if lastContent != "" {
		// Propagate the last raw response so the record can carry the error.
		return nil, fmt.Errorf("classifier output unusable after retries: %w (last response: %.200s)", lastErr, lastContent)
	}
	return nil, fmt.Errorf("classifier call failed after retries: %w", lastErr)
}

func (c *Client) buildPayload(prompt, recordJSON string, imageURLs []string, temperature float64) map[string]any {
	userText := "以下是商品的完整抓取信息：\n" + recordJSON
	var userContent any = userText

	if c.cfg.VisionEnabled && len(imageURLs) > 0 {
		if len(imageURLs) > maxImageAttachments {
			imageURLs = imageURLs[:maxImageAttachments]
		}
		parts := []contentPart{{Type: "text", Text: userText}}
		for _, u := range imageURLs {
			parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: u}})
		}
		userContent = parts
	} else if len(imageURLs) > 0 {
		// Without vision the images are referenced textually only.
		refs, _ := json.Marshal(truncate(imageURLs, maxImageAttachments))
		userContent = userText + "\n商品图片链接：" + string(refs)
	}

	payload := map[string]any{
		"model": c.cfg.Model,
		"messages": []chatMessage{
			{Role: "system", Content: prompt},
			{Role: "user", Content: userContent},
		},
		"temperature":            temperature,
		c.cfg.MaxTokensParamName: c.cfg.MaxTokensLimit,
	}
	if c.cfg.EnableResponseFormat {
		payload["response_format"] = map[string]string{"type": "json_object"}
	}
	if c.cfg.EnableThinking {
		payload["enable_thinking"] = true
	}
	return payload
}

func truncate(urls []string, n int) []string {
	if len(urls) > n {
		return urls[:n]
	}
	return urls
}

// logPayload writes the request body to a timestamped file before the call
// so failed requests remain inspectable.
func (c *Client) logPayload(payload map[string]any) {
	if c.cfg.RequestLogDir == "" {
		return
	}
	if err := os.MkdirAll(c.cfg.RequestLogDir, 0o750); err != nil {
		c.logger.Warn("cannot create ai request log dir", zap.Error(err))
		return
	}
	name := fmt.Sprintf("%s_%s.json",
		c.clock.Now().Format("20060102_150405"), uuid.NewString()[:8])
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(filepath.Join(c.cfg.RequestLogDir, name), data, 0o640); err != nil {
		c.logger.Warn("cannot write ai request log", zap.Error(err))
	}
}

func (c *Client) call(ctx context.Context, payload map[string]any) (string, error) {
	var parsed chatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&parsed).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("chat request: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("chat request status %d: %.200s", resp.StatusCode(), resp.String())
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("chat api error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat response has no choices")
	}
	content := parsed.Choices[0].Message.Content
	if c.cfg.DebugMode {
		c.logger.Debug("classifier raw response", zap.String("content", content))
	}
	return content, nil
}
