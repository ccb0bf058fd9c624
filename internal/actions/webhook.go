package actions

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/circuitbreaker"
)

const ActionCallWebhook = "call_webhook"

const defaultWebhookTimeout = 30 * time.Second

// StatusError is returned for a non-2xx webhook response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook responded with status %d", e.StatusCode)
}

// WebhookHandler POSTs the execution payload to config["url"], signed with
// HMAC-SHA256 over config["secret"].
type WebhookHandler struct {
	client  *http.Client
	breaker *circuitbreaker.Breaker // optional, nil = disabled
	clock   func() time.Time
}

func NewWebhookHandler() *WebhookHandler {
	return &WebhookHandler{
		client: &http.Client{},
		clock:  time.Now,
	}
}

// WithCircuitBreaker guards every target URL with cb.
func (h *WebhookHandler) WithCircuitBreaker(cb *circuitbreaker.Breaker) *WebhookHandler {
	h.breaker = cb
	return h
}

// Handle posts the payload.
// Headers: X-Automation-Execution-ID, X-Automation-Attempt, X-Automation-Signature
func (h *WebhookHandler) Handle(ctx context.Context, actionType string, config map[string]any, ac ActionContext) error {
	url := stringConfig(config, "url")
	if url == "" {
		return fmt.Errorf("%s: config.url is required", actionType)
	}

	if h.breaker != nil {
		if err := h.breaker.Allow(url); err != nil {
			return fmt.Errorf("%s %s: %w", actionType, url, err)
		}
	}

	body, err := json.Marshal(newPayload(actionType, config, ac, h.clock()))
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	timeout := durationSeconds(config, "timeout_seconds")
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctxTimeout, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Automation-Execution-ID", ac.ExecutionID.String())
	req.Header.Set("X-Automation-Attempt", fmt.Sprintf("%d", ac.Attempt))
	req.Header.Set("X-Automation-Signature", computeSignature(stringConfig(config, "secret"), body))

	resp, err := h.client.Do(req)
	if err != nil {
		h.recordFailure(url)
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			h.recordFailure(url)
		}
		return &StatusError{StatusCode: resp.StatusCode}
	}

	if h.breaker != nil {
		h.breaker.RecordSuccess(url)
	}
	return nil
}

func (h *WebhookHandler) recordFailure(url string) {
	if h.breaker != nil {
		h.breaker.RecordFailure(url)
	}
}

func computeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is for receivers to verify incoming webhooks.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := computeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
