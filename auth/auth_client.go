package auth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Client validates bearer tokens against the corporation's auth service.
// Token issuance and user management live there; this service only asks
// "who is this".
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type validateTokenRequest struct {
	Token string `json:"token"`
}

type validateTokenResponse struct {
	Valid  bool   `json:"valid"`
	UserID string `json:"user_id,omitempty"`
	Error  string `json:"error,omitempty"`
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// ValidateToken returns the user id the token belongs to.
func (c *Client) ValidateToken(token string) (string, error) {
	jsonBody, err := json.Marshal(validateTokenRequest{Token: token})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	url := fmt.Sprintf("%s/api/v3/validate-token", c.baseURL)
	req, err := http.NewRequest("POST", url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make request to auth service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Printf("Auth service returned status %d: %s", resp.StatusCode, string(body))
		return "", fmt.Errorf("auth service returned status %d", resp.StatusCode)
	}

	var tokenResp validateTokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if !tokenResp.Valid {
		return "", fmt.Errorf("invalid token: %s", tokenResp.Error)
	}
	return tokenResp.UserID, nil
}
