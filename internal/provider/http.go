package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gigline/internal/domain"
)

// HTTP talks JSON to a processor that honours the Idempotency-Key header.
type HTTP struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewHTTP(baseURL, apiKey string, timeout time.Duration) *HTTP {
	return &HTTP{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: timeout},
	}
}

type processorResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	DeclineReason string `json:"decline_reason,omitempty"`
}

func (h *HTTP) Authorize(ctx context.Context, req AuthorizeRequest) (AuthorizeResult, error) {
	var resp processorResponse
	if err := h.post(ctx, "/authorizations", req.IdempotencyKey, req, &resp); err != nil {
		return AuthorizeResult{}, err
	}
	status, ok := domain.ParsePaymentStatus(resp.Status)
	if !ok || (status != domain.PaymentAuthorized && status != domain.PaymentRequiresAction) {
		return AuthorizeResult{}, fmt.Errorf("provider returned unexpected status %q", resp.Status)
	}
	return AuthorizeResult{Ref: resp.ID, Status: status}, nil
}

func (h *HTTP) Capture(ctx context.Context, ref string, amountCents int64, idempotencyKey string) error {
	return h.post(ctx, "/authorizations/"+url.PathEscape(ref)+"/capture", idempotencyKey, map[string]int64{"amount_cents": amountCents}, nil)
}

func (h *HTTP) Refund(ctx context.Context, ref string, amountCents int64, idempotencyKey string) error {
	return h.post(ctx, "/authorizations/"+url.PathEscape(ref)+"/refund", idempotencyKey, map[string]int64{"amount_cents": amountCents}, nil)
}

func (h *HTTP) post(ctx context.Context, path, idempotencyKey string, body any, out *processorResponse) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)
	if h.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.APIKey)
	}
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("provider request %s: %w", path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("provider response %s: %w", path, err)
	}
	var parsed processorResponse
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &parsed)
	}
	switch {
	case resp.StatusCode == http.StatusPaymentRequired || strings.EqualFold(parsed.Status, "declined"):
		reason := parsed.DeclineReason
		if reason == "" {
			reason = "declined by provider"
		}
		return DeclineError{Reason: reason}
	case resp.StatusCode >= 400:
		return fmt.Errorf("provider %s returned %d", path, resp.StatusCode)
	}
	if out != nil {
		*out = parsed
	}
	return nil
}
