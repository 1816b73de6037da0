package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/apex/log"

	"cleanmadurai/models"
)

const graphAPIBaseURL = "https://graph.facebook.com/v17.0"

// templateName must be a pre-approved template in the Meta dashboard.
const templateName = "new_dispatch_alert"

type templateParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type templateComponent struct {
	Type       string              `json:"type"`
	Parameters []templateParameter `json:"parameters"`
}

type messagePayload struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Template         struct {
		Name     string              `json:"name"`
		Language struct {
			Code string `json:"code"`
		} `json:"language"`
		Components []templateComponent `json:"components"`
	} `json:"template"`
}

// WhatsAppClient sends dispatch alerts through the Meta WhatsApp Cloud API.
type WhatsAppClient struct {
	token      string
	phoneID    string
	baseURL    string
	httpClient *http.Client
}

// NewWhatsAppClient creates a WhatsApp notification client. With empty
// credentials the client is disabled: sends become logged no-ops.
func NewWhatsAppClient(token, phoneID string) *WhatsAppClient {
	return &WhatsAppClient{
		token:   token,
		phoneID: phoneID,
		baseURL: graphAPIBaseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SendDispatchAlert sends the dispatch template message to the responder.
// Fire-and-forget from the caller's point of view: any error here never
// affects the assignment.
func (c *WhatsAppClient) SendDispatchAlert(ctx context.Context, phone string, complaint *models.Complaint, responderName string) error {
	if c.token == "" || c.phoneID == "" {
		log.Debugf("WhatsApp credentials missing, skipping alert for %s", complaint.TrackingID)
		return nil
	}
	if phone == "" {
		return fmt.Errorf("responder has no phone number")
	}

	priority := "PENDING"
	if complaint.Priority != nil {
		priority = strings.ToUpper(string(*complaint.Priority))
	}

	payload := messagePayload{
		MessagingProduct: "whatsapp",
		// Meta requires numbers without '+'.
		To:   strings.TrimPrefix(phone, "+"),
		Type: "template",
	}
	payload.Template.Name = templateName
	payload.Template.Language.Code = "en_US"
	payload.Template.Components = []templateComponent{
		{
			Type: "body",
			Parameters: []templateParameter{
				{Type: "text", Text: complaint.TrackingID},
				{Type: "text", Text: strings.ReplaceAll(complaint.Type, "_", " ")},
				{Type: "text", Text: priority},
			},
		},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal WhatsApp payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create WhatsApp request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send WhatsApp request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("WhatsApp API error (status %d): %s", resp.StatusCode, string(body))
	}

	log.Infof("WhatsApp dispatch alert sent to %s for %s", phone, complaint.TrackingID)
	return nil
}
