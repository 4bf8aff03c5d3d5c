package feishu

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// =============================================================================
// WebhookClient posts messages to a custom group bot
// =============================================================================

// WebhookClient is a custom bot client. Secret is optional; when set every message is signed.
type WebhookClient struct {
	url        string
	secret     string
	httpClient *http.Client
	now        func() time.Time
}

// NewWebhookClient creates a bot client for the given webhook URL.
func NewWebhookClient(url, secret string) *WebhookClient {
	return &WebhookClient{
		url:    url,
		secret: secret,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		now: time.Now,
	}
}

// Sign computes the bot signature: HMAC-SHA256 keyed by "timestamp\nsecret" over an empty
// message, base64 encoded.
func Sign(timestamp int64, secret string) string {
	key := strconv.FormatInt(timestamp, 10) + "\n" + secret
	mac := hmac.New(sha256.New, []byte(key))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// SendCard posts an interactive card.
func (c *WebhookClient) SendCard(ctx context.Context, card InteractiveCard) error {
	return c.send(ctx, WebhookMessage{MsgType: "interactive", Card: &card})
}

// SendText posts a plain text message.
func (c *WebhookClient) SendText(ctx context.Context, text string) error {
	return c.send(ctx, WebhookMessage{MsgType: "text", Content: &TextContent{Text: text}})
}

func (c *WebhookClient) send(ctx context.Context, msg WebhookMessage) error {
	if c.secret != "" {
		ts := c.now().Unix()
		msg.Timestamp = strconv.FormatInt(ts, 10)
		msg.Sign = Sign(ts, c.secret)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode webhook message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read webhook response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("webhook http %d: %s", resp.StatusCode, respBody)
	}

	var base BaseResponse
	if err := json.Unmarshal(respBody, &base); err != nil {
		return fmt.Errorf("decode webhook response: %w", err)
	}
	if code, m, failed := base.failed(); failed {
		return fmt.Errorf("webhook error[%d]: %s", code, m)
	}
	return nil
}
