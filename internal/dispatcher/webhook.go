package dispatcher

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

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/cahoots-org/contex/internal/apperrors"
	"github.com/cahoots-org/contex/internal/model"
)

// SignatureHeader carries the HMAC-SHA256 signature of the request body,
// formatted as "sha256=<hex>", set only when the registration has a secret.
const SignatureHeader = "X-Contex-Signature"

// EventHeader names the event type for webhook consumers that want to
// dispatch on it without parsing the body first.
const EventHeader = "X-Contex-Event"

// DeliveryHeader carries a per-attempt-group UUID so receivers can dedupe
// retried deliveries of the same logical update.
const DeliveryHeader = "X-Contex-Delivery"

// DefaultMaxAttempts is the webhook retry budget (spec §6).
const DefaultMaxAttempts = 5

// WebhookDeliverer POSTs matched updates to an agent's registered URL,
// signing the body with the agent's webhook secret and retrying
// transient failures with exponential backoff behind a per-destination
// circuit breaker.
type WebhookDeliverer struct {
	client      *http.Client
	breakers    *circuitRegistry
	limiters    *limiterRegistry
	maxAttempts int
}

// NewWebhookDeliverer constructs a WebhookDeliverer. maxAttempts <= 0
// uses DefaultMaxAttempts. A zero-value rateCfg uses DefaultRateLimitConfig.
func NewWebhookDeliverer(client *http.Client, circuitCfg CircuitConfig, rateCfg RateLimitConfig, maxAttempts int) *WebhookDeliverer {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &WebhookDeliverer{
		client:      client,
		breakers:    newCircuitRegistry(circuitCfg),
		limiters:    newLimiterRegistry(rateCfg),
		maxAttempts: maxAttempts,
	}
}

// Deliver implements Deliverer.
func (w *WebhookDeliverer) Deliver(ctx context.Context, reg model.Registration, payload model.UpdatePayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return apperrors.Permanent("webhook.marshal", err)
	}
	signature := ""
	if reg.WebhookSecret != "" {
		signature = sign(reg.WebhookSecret, body)
	}
	deliveryID := uuid.NewString()
	cb := w.breakers.get(reg.WebhookURL)

	var lastErr error
	attempt := 0
	// base=1s, factor=2, jitter=±20%, cap=60s, per spec §4.5.
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 1 * time.Second
	policy.Multiplier = 2
	policy.RandomizationFactor = 0.2
	policy.MaxInterval = 60 * time.Second
	policy.MaxElapsedTime = 0

	limiter := w.limiters.get(reg.WebhookURL)

	operation := func() error {
		attempt++
		if err := limiter.Wait(ctx); err != nil {
			return backoff.Permanent(apperrors.Cancelled("webhook.ratelimit", err))
		}
		_, err := cb.Execute(func() (interface{}, error) {
			return nil, w.send(ctx, reg.WebhookURL, payload.Type, signature, deliveryID, body)
		})
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return backoff.Permanent(err)
		}
		if isPermanentHTTPError(err) {
			return backoff.Permanent(err)
		}
		lastErr = err
		return err
	}

	retryPolicy := backoff.WithMaxRetries(policy, uint64(w.maxAttempts-1))
	if err := backoff.Retry(operation, backoff.WithContext(retryPolicy, ctx)); err != nil {
		if lastErr == nil {
			lastErr = err
		}
		return apperrors.Delivery(reg.WebhookURL, lastErr)
	}
	return nil
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (w *WebhookDeliverer) send(ctx context.Context, url, eventType, signature, deliveryID string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &permanentHTTPError{err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	req.Header.Set(EventHeader, eventType)
	req.Header.Set(DeliveryHeader, deliveryID)

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	httpErr := fmt.Errorf("webhook destination returned status %d", resp.StatusCode)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
		return &permanentHTTPError{err: httpErr}
	}
	return httpErr
}

// permanentHTTPError marks a 4xx (other than 408/429) as non-retryable.
type permanentHTTPError struct{ err error }

func (e *permanentHTTPError) Error() string { return e.err.Error() }
func (e *permanentHTTPError) Unwrap() error { return e.err }

func isPermanentHTTPError(err error) bool {
	if err == nil {
		return false
	}
	_, ok := err.(*permanentHTTPError)
	return ok
}
