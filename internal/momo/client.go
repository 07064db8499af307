// Package momo integrates MTN Mobile Money collections and disbursements.
//
// Collections charge a farmer's MoMo account when a transaction is
// processed; disbursements pay a transporter out of their wallet. Both
// products use short-lived OAuth tokens obtained with basic auth against
// the product token endpoint, cached until shortly before expiry.
package momo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/isoko-rw/isoko/internal/payment"
)

const (
	productCollection   = "collection"
	productDisbursement = "disbursement"

	// Tokens are refreshed this long before their reported expiry so an
	// in-flight request never carries a token that dies mid-call.
	tokenRefreshMargin = 60 * time.Second
)

// Config holds the MoMo API credentials and environment.
type Config struct {
	BaseURL         string
	SubscriptionKey string // collection product key
	DisbursementKey string // disbursement product key
	APIUser         string
	APIKey          string
	TargetEnv       string // "sandbox" or "mtnrwanda"
	CallbackURL     string
}

// Client talks to the MTN MoMo Open API.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger

	mu     sync.Mutex
	tokens map[string]cachedToken
}

type cachedToken struct {
	value   string
	expires time.Time
}

// NewClient creates a MoMo client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		logger: logger,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		tokens: make(map[string]cachedToken),
	}
}

var _ payment.CollectionProvider = (*Client)(nil)

// InitiateCollection submits a request-to-pay against the payer's MoMo
// account. MoMo collections are asynchronous, so the returned status is
// always PENDING; callers poll CollectionStatus or wait for the callback.
func (c *Client) InitiateCollection(ctx context.Context, amount, currency, payerHandle, reference string) (string, payment.ProviderStatus, error) {
	msisdn, err := NormalizeMSISDN(payerHandle)
	if err != nil {
		return "", "", err
	}

	referenceID := uuid.NewString()
	body := map[string]any{
		"amount":     amount,
		"currency":   currency,
		"externalId": reference,
		"payer": map[string]string{
			"partyIdType": "MSISDN",
			"partyId":     msisdn,
		},
		"payerMessage": "Isoko order payment",
		"payeeNote":    reference,
	}

	err = c.send(ctx, productCollection, http.MethodPost, "/collection/v1_0/requesttopay", referenceID, body, nil)
	if err != nil {
		return "", "", fmt.Errorf("requesttopay: %w", err)
	}

	c.logger.Info("momo collection initiated",
		"reference_id", referenceID, "external_id", reference, "amount", amount)
	return referenceID, payment.ProviderPending, nil
}

// CollectionStatus polls the outcome of a request-to-pay.
func (c *Client) CollectionStatus(ctx context.Context, providerRef string) (payment.ProviderStatus, error) {
	var result struct {
		Status string `json:"status"`
		Reason any    `json:"reason"`
	}
	err := c.send(ctx, productCollection, http.MethodGet,
		"/collection/v1_0/requesttopay/"+providerRef, "", nil, &result)
	if err != nil {
		return "", fmt.Errorf("requesttopay status: %w", err)
	}
	return mapStatus(result.Status), nil
}

// InitiatePayout transfers money to the payee's MoMo account through the
// disbursement product. It satisfies the wallet payout provider contract.
func (c *Client) InitiatePayout(ctx context.Context, amount, currency, payeeHandle, reference string) (string, error) {
	msisdn, err := NormalizeMSISDN(payeeHandle)
	if err != nil {
		return "", err
	}

	referenceID := uuid.NewString()
	body := map[string]any{
		"amount":     amount,
		"currency":   currency,
		"externalId": reference,
		"payee": map[string]string{
			"partyIdType": "MSISDN",
			"partyId":     msisdn,
		},
		"payerMessage": "Isoko wallet withdrawal",
		"payeeNote":    reference,
	}

	err = c.send(ctx, productDisbursement, http.MethodPost, "/disbursement/v1_0/transfer", referenceID, body, nil)
	if err != nil {
		return "", fmt.Errorf("transfer: %w", err)
	}

	c.logger.Info("momo payout initiated",
		"reference_id", referenceID, "external_id", reference, "amount", amount)
	return referenceID, nil
}

// send performs an authenticated product API call. A non-empty referenceID
// is sent as X-Reference-Id, the idempotency key MoMo requires on writes.
func (c *Client) send(ctx context.Context, product, method, path, referenceID string, body any, out any) error {
	token, err := c.token(ctx, product)
	if err != nil {
		return err
	}

	var payload io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		payload = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, payload)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Target-Environment", c.cfg.TargetEnv)
	req.Header.Set("Ocp-Apim-Subscription-Key", c.subscriptionKey(product))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if referenceID != "" {
		req.Header.Set("X-Reference-Id", referenceID)
	}
	if c.cfg.CallbackURL != "" && method == http.MethodPost {
		req.Header.Set("X-Callback-Url", c.cfg.CallbackURL)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("momo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("momo API returned status %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode momo response: %w", err)
		}
	}
	return nil
}

// token returns a cached product token, fetching a fresh one when the
// cached token is missing or close to expiry.
func (c *Client) token(ctx context.Context, product string) (string, error) {
	c.mu.Lock()
	cached, ok := c.tokens[product]
	c.mu.Unlock()
	if ok && time.Until(cached.expires) > tokenRefreshMargin {
		return cached.value, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/"+product+"/token/", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.SetBasicAuth(c.cfg.APIUser, c.cfg.APIKey)
	req.Header.Set("Ocp-Apim-Subscription-Key", c.subscriptionKey(product))

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if result.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned an empty token")
	}

	c.mu.Lock()
	c.tokens[product] = cachedToken{
		value:   result.AccessToken,
		expires: time.Now().Add(time.Duration(result.ExpiresIn) * time.Second),
	}
	c.mu.Unlock()

	return result.AccessToken, nil
}

func (c *Client) subscriptionKey(product string) string {
	if product == productDisbursement && c.cfg.DisbursementKey != "" {
		return c.cfg.DisbursementKey
	}
	return c.cfg.SubscriptionKey
}

func mapStatus(s string) payment.ProviderStatus {
	switch s {
	case "SUCCESSFUL":
		return payment.ProviderSucceeded
	case "FAILED", "REJECTED", "EXPIRED", "TIMEOUT":
		return payment.ProviderFailed
	default:
		return payment.ProviderPending
	}
}
