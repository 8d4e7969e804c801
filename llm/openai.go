package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/use-agent/leadharvest/config"
	"github.com/use-agent/leadharvest/models"
)

// VisionClient describes page screenshots through an OpenAI-compatible
// chat completions endpoint. It uses net/http directly.
type VisionClient struct {
	httpClient *http.Client
	cfg        config.VisionConfig
}

// NewVisionClient creates a client from the vision settings. Pass a nil
// httpClient to get one bounded by cfg.Timeout.
func NewVisionClient(cfg config.VisionConfig, httpClient *http.Client) *VisionClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &VisionClient{httpClient: httpClient, cfg: cfg}
}

// Enabled reports whether an API key is configured.
func (c *VisionClient) Enabled() bool {
	return c != nil && c.cfg.Enabled()
}

// chatRequest is the OpenAI chat completion request body.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// chatResponse is the minimal OpenAI chat completion response we need.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// chatErrorResponse captures an API error from the provider.
type chatErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

const describePrompt = `This is a screenshot of a company's website. Describe, in the page's own language, ` +
	`everything it shows about the business: name, what it sells or does, services, locations, ` +
	`contact details, opening hours and any visible slogans or claims. Transcribe readable text ` +
	`where useful. Do not invent information that is not visible. Reply with plain text only.`

// Describe sends a PNG screenshot and returns the model's description of
// the page at pageURL.
func (c *VisionClient) Describe(ctx context.Context, png []byte, pageURL string) (string, error) {
	if !c.Enabled() {
		return "", models.NewHarvestError(models.ErrCodeLLMFailure, "vision fallback is not configured", nil)
	}
	if len(png) == 0 {
		return "", models.NewHarvestError(models.ErrCodeVisionUnsupported, "empty screenshot", nil)
	}

	reqBody := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: describePrompt + "\nURL: " + pageURL},
				{Type: "image_url", ImageURL: &imageURL{
					URL:    "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
					Detail: "high",
				}},
			},
		}},
		Temperature: 0,
		MaxTokens:   c.cfg.MaxTokens,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", models.NewHarvestError(models.ErrCodeLLMFailure, "vision request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", models.NewHarvestError(models.ErrCodeLLMFailure, "failed to read vision response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", classifyLLMError(resp.StatusCode, respBody)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", models.NewHarvestError(models.ErrCodeLLMFailure, "failed to parse vision response", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", models.NewHarvestError(models.ErrCodeLLMFailure, "vision model returned no choices", nil)
	}

	desc := strings.TrimSpace(chatResp.Choices[0].Message.Content)
	if desc == "" {
		return "", models.NewHarvestError(models.ErrCodeLLMFailure, "vision model returned an empty description", nil)
	}
	return desc, nil
}

// classifyLLMError maps HTTP status codes to error codes. A 400 that talks
// about the image means the input itself was rejected.
func classifyLLMError(statusCode int, body []byte) *models.HarvestError {
	var errResp chatErrorResponse
	msg := "vision API error"
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		msg = errResp.Error.Message
	}

	lower := strings.ToLower(msg + " " + errResp.Error.Code)
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return models.NewHarvestError(models.ErrCodeLLMAuthFailure, msg, nil)
	case statusCode == http.StatusTooManyRequests:
		return models.NewHarvestError(models.ErrCodeLLMRateLimited, msg, nil)
	case statusCode == http.StatusBadRequest && (strings.Contains(lower, "image") || strings.Contains(lower, "unsupported")):
		return models.NewHarvestError(models.ErrCodeVisionUnsupported, msg, nil)
	default:
		return models.NewHarvestError(models.ErrCodeLLMFailure, fmt.Sprintf("vision API returned %d: %s", statusCode, msg), nil)
	}
}
