package classifier

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/apex/log"

	"cleanmadurai/models"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// maxPhotoBytes caps how much of a photo we inline into the request.
const maxPhotoBytes = 5 * 1024 * 1024

type contentPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generateRequest struct {
	Contents []struct {
		Parts []contentPart `json:"parts"`
	} `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type generationConfig struct {
	ResponseMimeType string `json:"responseMimeType"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

type priorityResponse struct {
	Priority string `json:"priority"`
}

// Client classifies complaint severity by delegating to the Gemini API.
// Every failure mode degrades to PriorityMedium; Classify never fails.
type Client struct {
	apiKey      string
	model       string
	baseURL     string
	httpClient  *http.Client
	photoClient *http.Client
}

// NewClient creates a new Gemini classifier client. An empty apiKey is
// allowed; the client then always falls back to medium.
func NewClient(apiKey, model string, timeout time.Duration) *Client {
	return &Client{
		apiKey:      apiKey,
		model:       model,
		baseURL:     geminiBaseURL,
		httpClient:  &http.Client{Timeout: timeout},
		photoClient: &http.Client{Timeout: timeout},
	}
}

// Classify assigns one of the four priority levels to a complaint. The photo
// is optional; a failed photo fetch degrades to text-only classification. A
// failed or unparseable model call degrades to medium. Exactly one model call
// is attempted per invocation.
func (c *Client) Classify(ctx context.Context, category, description, photoURL string) models.Priority {
	if c.apiKey == "" {
		log.Warn("Gemini API key missing, defaulting to medium priority")
		return models.PriorityMedium
	}

	parts := []contentPart{{Text: buildPrompt(category, description)}}

	if photoURL != "" {
		if data, mimeType, err := c.fetchPhoto(ctx, photoURL); err != nil {
			log.Warnf("Photo fetch failed, classifying text-only: %v", err)
		} else {
			parts = append(parts, contentPart{InlineData: &inlineData{
				MimeType: mimeType,
				Data:     base64.StdEncoding.EncodeToString(data),
			}})
		}
	}

	text, err := c.generateContent(ctx, parts, "application/json")
	if err != nil {
		log.Errorf("Gemini triage failed, defaulting to medium: %v", err)
		return models.PriorityMedium
	}

	priority, ok := ParsePriority(text)
	if !ok {
		log.Warnf("Unexpected triage response %q, defaulting to medium", text)
		return models.PriorityMedium
	}
	return priority
}

// ParsePriority extracts a priority level from the model response. It accepts
// either a {"priority": "..."} JSON object or a bare level word; anything
// else is rejected.
func ParsePriority(text string) (models.Priority, bool) {
	trimmed := strings.TrimSpace(text)

	var parsed priorityResponse
	if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil && parsed.Priority != "" {
		trimmed = parsed.Priority
	}

	p := models.Priority(strings.ToLower(strings.TrimSpace(trimmed)))
	if models.IsValidPriority(p) {
		return p, true
	}
	return "", false
}

func buildPrompt(category, description string) string {
	if strings.TrimSpace(description) == "" {
		description = "No description provided."
	}

	var b strings.Builder
	b.WriteString("You are an AI civic triage assistant for Madurai City Corporation.\n")
	b.WriteString("Evaluate the following cleanliness/waste complaint and assign ONE priority level.\n\n")
	fmt.Fprintf(&b, "Issue Category: %s\n", category)
	fmt.Fprintf(&b, "User Description: %s\n\n", description)
	b.WriteString("Rules for Priority:\n")
	b.WriteString("- 'critical' if it poses immediate severe health/safety risks (e.g., large animal carcass, massive sewage overflow on main road).\n")
	b.WriteString("- 'high' if it heavily impacts public spaces (e.g., overflowing bin in a market, large bulk waste blocking paths).\n")
	b.WriteString("- 'medium' for standard miss occurrences (e.g., missed door-to-door collection, dirty public toilet).\n")
	b.WriteString("- 'low' for minor, non-urgent issues.\n\n")
	b.WriteString(`Return a strict JSON object with a single field "priority" which must be exactly one of: "critical", "high", "medium", "low".`)
	b.WriteString("\nOutput nothing but valid JSON. Example: {\"priority\": \"high\"}")
	return b.String()
}

func (c *Client) fetchPhoto(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create photo request: %w", err)
	}

	resp, err := c.photoClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch photo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("photo fetch returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read photo body: %w", err)
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return data, mimeType, nil
}

// GenerateText runs a plain-text generation for prompt. Unlike Classify it
// surfaces failures, since callers of free-form generation have no safe
// default to fall back on.
func (c *Client) GenerateText(ctx context.Context, prompt string) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("Gemini API key missing")
	}
	return c.generateContent(ctx, []contentPart{{Text: prompt}}, "")
}

func (c *Client) generateContent(ctx context.Context, parts []contentPart, responseMimeType string) (string, error) {
	var reqBody generateRequest
	reqBody.Contents = make([]struct {
		Parts []contentPart `json:"parts"`
	}, 1)
	reqBody.Contents[0].Parts = parts
	if responseMimeType != "" {
		reqBody.GenerationConfig = &generationConfig{ResponseMimeType: responseMimeType}
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("Gemini API error (status %d): %s", resp.StatusCode, string(body))
	}

	var genResp generateResponse
	if err := json.Unmarshal(body, &genResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	if len(genResp.Candidates) == 0 || len(genResp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}
	return genResp.Candidates[0].Content.Parts[0].Text, nil
}
