package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"azo/internal/models"

	"github.com/h2non/filetype"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	moderationModel = "gemini-3-flash-preview"
	imageModel      = "gemini-3-pro-image-preview"

	// sentinelReason is returned verbatim whenever the moderation call
	// fails at the transport level.
	sentinelReason = "AI Moderation service unavailable."
)

var (
	// ErrAPIKey marks failures the caller should answer by prompting for
	// credential reselection rather than a generic retry message.
	ErrAPIKey = errors.New("api key rejected")

	ErrNoImage = errors.New("no image data in response")
)

// Client is the boundary to the external generative service. It owns no
// state and no retry policy; tests replace it entirely.
type Client interface {
	// Moderate audits a transcript for the reported user. It never fails:
	// any transport or parse error maps to a sentinel ERROR verdict.
	Moderate(ctx context.Context, transcript []models.Message, reportedUser string) models.ModerationResult

	// GenerateImage returns raw image bytes and their mime type.
	GenerateImage(ctx context.Context, prompt string, ratio models.AspectRatio, size models.ImageSize) ([]byte, string, error)
}

type Config struct {
	APIKey  string
	BaseURL string
	// HTTPClient defaults to http.DefaultClient; no timeout is enforced
	// here beyond the transport's own.
	HTTPClient *http.Client
}

// GeminiClient talks to the Gemini REST API.
type GeminiClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewGeminiClient(config Config) *GeminiClient {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	client := config.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &GeminiClient{
		apiKey:  config.APIKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// Request/response wire types, trimmed to the fields this service uses.

type generateContentRequest struct {
	Contents         []requestContent  `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type requestContent struct {
	Parts []requestPart `json:"parts"`
}

type requestPart struct {
	Text string `json:"text"`
}

type generationConfig struct {
	ResponseMimeType string          `json:"responseMimeType,omitempty"`
	ResponseSchema   json.RawMessage `json:"responseSchema,omitempty"`
	ImageConfig      *imageConfig    `json:"imageConfig,omitempty"`
}

type imageConfig struct {
	AspectRatio string `json:"aspectRatio"`
	ImageSize   string `json:"imageSize"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content struct {
			Parts []responsePart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

type responsePart struct {
	Text       string `json:"text"`
	InlineData *struct {
		MimeType string `json:"mimeType"`
		Data     string `json:"data"`
	} `json:"inlineData,omitempty"`
}

var moderationSchema = json.RawMessage(`{
	"type": "OBJECT",
	"properties": {
		"verdict": {"type": "STRING", "description": "SAFE or UNSAFE"},
		"reason": {"type": "STRING", "description": "Explanation for the verdict"}
	},
	"required": ["verdict", "reason"]
}`)

func (g *GeminiClient) Moderate(ctx context.Context, transcript []models.Message, reportedUser string) models.ModerationResult {
	var lines []string
	for _, msg := range transcript {
		if msg.Type != models.MessageTypeText {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", msg.SenderName, msg.Text))
	}

	prompt := fmt.Sprintf(`Analyze the following chat transcript. The user %q has been reported for misconduct.
Decide if the behavior of %q is harmful, toxic, or violates community standards.
Provide a verdict (SAFE or UNSAFE) and a brief reason.

Transcript:
%s`, reportedUser, reportedUser, strings.Join(lines, "\n"))

	req := generateContentRequest{
		Contents: []requestContent{{Parts: []requestPart{{Text: prompt}}}},
		GenerationConfig: &generationConfig{
			ResponseMimeType: "application/json",
			ResponseSchema:   moderationSchema,
		},
	}

	resp, err := g.generateContent(ctx, moderationModel, req)
	if err != nil {
		slog.Error("moderation call failed", "error", err)
		return models.ModerationResult{Verdict: "ERROR", Reason: sentinelReason}
	}

	text := firstText(resp)
	var result models.ModerationResult
	if err := json.Unmarshal([]byte(text), &result); err != nil || result.Verdict == "" {
		slog.Error("moderation response unparseable", "error", err, "text", text)
		return models.ModerationResult{Verdict: "ERROR", Reason: "Failed to parse"}
	}
	return result
}

func (g *GeminiClient) GenerateImage(ctx context.Context, prompt string, ratio models.AspectRatio, size models.ImageSize) ([]byte, string, error) {
	req := generateContentRequest{
		Contents: []requestContent{{Parts: []requestPart{{Text: prompt}}}},
		GenerationConfig: &generationConfig{
			ImageConfig: &imageConfig{
				AspectRatio: string(ratio),
				ImageSize:   string(size),
			},
		},
	}

	resp, err := g.generateContent(ctx, imageModel, req)
	if err != nil {
		return nil, "", err
	}

	for _, candidate := range resp.Candidates {
		for _, part := range candidate.Content.Parts {
			if part.InlineData == nil {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return nil, "", fmt.Errorf("failed to decode image data: %w", err)
			}
			return data, sniffMime(data, part.InlineData.MimeType), nil
		}
	}
	return nil, "", ErrNoImage
}

func (g *GeminiClient) generateContent(ctx context.Context, model string, req generateContentRequest) (*generateContentResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("generative service call failed: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		if isAPIKeyFailure(httpResp.StatusCode, respBody) {
			return nil, fmt.Errorf("%w: status %d", ErrAPIKey, httpResp.StatusCode)
		}
		return nil, fmt.Errorf("generative service returned status %d: %s", httpResp.StatusCode, respBody)
	}

	var resp generateContentResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &resp, nil
}

func firstText(resp *generateContentResponse) string {
	for _, candidate := range resp.Candidates {
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				return part.Text
			}
		}
	}
	return ""
}

// isAPIKeyFailure distinguishes credential problems so the caller can ask the
// user to reselect a key.
func isAPIKeyFailure(status int, body []byte) bool {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return true
	}
	text := string(body)
	return strings.Contains(text, "API_KEY_INVALID") ||
		strings.Contains(text, "API key") ||
		strings.Contains(text, "Requested entity was not found")
}

// sniffMime derives the mime type from the image bytes, falling back to the
// type declared in the response.
func sniffMime(data []byte, declared string) string {
	if kind, err := filetype.Match(data); err == nil && kind != filetype.Unknown {
		return kind.MIME.Value
	}
	if declared != "" {
		return declared
	}
	return "image/png"
}
