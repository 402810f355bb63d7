package providerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"log/slog"

	"github.com/varnercrm/engagement-platform/internal/engagement"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultUserAgent = "crm-engagement-worker/0.1"
)

// Config controls how the provider client behaves.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
	UserAgent  string
}

// Client wraps the messaging provider's REST endpoints used by the engagement
// dispatcher: direct sends, template sends, the generic fallback, and the
// conversation history used to cold-start engagement records.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	userAgent  string
}

// New creates a configured Client with sane defaults. All requests carry the
// configured timeout so a slow provider fails fast instead of hanging callers.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("providerclient: API key is required")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("providerclient: base URL is required")
	}
	baseURL = strings.TrimRight(baseURL, "/")
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
		userAgent:  userAgent,
	}, nil
}

var (
	_ engagement.DirectSender   = (*Client)(nil)
	_ engagement.HistoryFetcher = (*Client)(nil)
)

type sendMessageRequest struct {
	Text        string                  `json:"text"`
	Attachments []engagement.Attachment `json:"attachments,omitempty"`
	AIEnabled   bool                    `json:"ai_enabled,omitempty"`
}

// SendText delivers a free-form message to a conversation.
func (c *Client) SendText(ctx context.Context, conversationID, text string, attachments []engagement.Attachment, aiEnabled bool) (*engagement.SendResponse, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, errors.New("providerclient: conversationID required")
	}
	path := fmt.Sprintf("/conversations/%s/messages", url.PathEscape(conversationID))
	req := sendMessageRequest{Text: text, Attachments: attachments, AIEnabled: aiEnabled}
	return c.postSend(ctx, "direct send", path, req, false)
}

// SendTemplate delivers a template payload through the dedicated template
// endpoint.
func (c *Client) SendTemplate(ctx context.Context, conversationID string, payload engagement.TemplatePayload) (*engagement.SendResponse, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, errors.New("providerclient: conversationID required")
	}
	path := fmt.Sprintf("/conversations/%s/template-messages", url.PathEscape(conversationID))
	return c.postSend(ctx, "template send", path, payload, true)
}

// SendTemplateGeneric posts the same template payload to the plain message
// endpoint. The payload's fallback flag tells the provider to treat it as a
// template despite the generic route.
func (c *Client) SendTemplateGeneric(ctx context.Context, conversationID string, payload engagement.TemplatePayload) (*engagement.SendResponse, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, errors.New("providerclient: conversationID required")
	}
	path := fmt.Sprintf("/conversations/%s/messages", url.PathEscape(conversationID))
	return c.postSend(ctx, "generic template send", path, payload, false)
}

type historyResponse struct {
	Messages []engagement.HistoryMessage `json:"messages"`
}

// FetchMessages returns the conversation transcript, oldest first.
func (c *Client) FetchMessages(ctx context.Context, conversationID string) ([]engagement.HistoryMessage, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, errors.New("providerclient: conversationID required")
	}
	path := fmt.Sprintf("/conversations/%s/messages", url.PathEscape(conversationID))
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &engagement.TransportError{Op: "fetch history", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError("fetch history", resp, "")
	}
	var out historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("providerclient: decode history: %w", err)
	}
	return out.Messages, nil
}

func (c *Client) postSend(ctx context.Context, op, path string, body any, templateEndpoint bool) (*engagement.SendResponse, error) {
	templateName := ""
	if templateEndpoint {
		if p, ok := body.(engagement.TemplatePayload); ok {
			templateName = p.TemplateName
		}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("providerclient: encode %s: %w", op, err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &engagement.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.statusError(op, resp, templateName)
	}
	var out engagement.SendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("providerclient: decode %s response: %w", op, err)
	}
	return &out, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("providerclient: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("User-Agent", c.userAgent)
	return req, nil
}

// statusError maps provider status codes onto the engagement error taxonomy.
// A non-empty templateName marks the call as a dedicated template-endpoint
// send, where remaining 4xx codes mean the template itself was refused.
func (c *Client) statusError(op string, resp *http.Response, templateName string) error {
	detail := readErrorDetail(resp.Body)
	status := resp.StatusCode
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s: %s", engagement.ErrAuthRequired, op, detail)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", engagement.ErrConversationNotFound, detail)
	case status >= 500:
		return &engagement.TransportError{Op: op, Err: fmt.Errorf("provider returned %d: %s", status, detail)}
	case templateName != "":
		return &engagement.TemplateRejectedError{Template: templateName, Err: fmt.Errorf("provider returned %d: %s", status, detail)}
	default:
		return fmt.Errorf("providerclient: %s failed with status %d: %s", op, status, detail)
	}
}

func readErrorDetail(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 2048))
	if err != nil || len(data) == 0 {
		return "no detail"
	}
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return strings.TrimSpace(string(data))
}
