package momo

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"wekapay-settlement/pkg/config"
	"wekapay-settlement/pkg/provider"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("momo", fx.Provide(NewClient))

// Charge/payout statuses as reported by the aggregator.
const (
	StatusPending = "pending"
	StatusPaid    = "paid"
	StatusFailed  = "failed"
)

// Tanzanian mobile subscriber number, local or E.164 form.
var msisdnPattern = regexp.MustCompile(`^(?:\+?255|0)[67]\d{8}$`)

func ValidMSISDN(phone string) bool {
	return msisdnPattern.MatchString(phone)
}

// classifier maps the aggregator's documented error codes; substring
// fallbacks only catch responses that omit a code.
var classifier = provider.Classifier{
	Provider: "momo",
	Codes: provider.CodeTable{
		"INSUFFICIENT_FUNDS":  provider.ClassInsufficientFunds,
		"LOW_LIQUIDITY":       provider.ClassInsufficientFunds,
		"SUBSCRIBER_BARRED":   provider.ClassRestrictedAccount,
		"ACCOUNT_RESTRICTED":  provider.ClassRestrictedAccount,
		"RATE_LIMIT_EXCEEDED": provider.ClassRateLimited,
		"SERVICE_UNAVAILABLE": provider.ClassTransient,
		"GATEWAY_TIMEOUT":     provider.ClassTransient,
		"INVALID_MSISDN":      provider.ClassPermanent,
	},
	Fallbacks: []provider.Fallback{
		{Substring: "insufficient", Class: provider.ClassInsufficientFunds},
		{Substring: "barred", Class: provider.ClassRestrictedAccount},
		{Substring: "restricted", Class: provider.ClassRestrictedAccount},
		{Substring: "timeout", Class: provider.ClassTransient},
		{Substring: "try again", Class: provider.ClassTransient},
	},
}

type Client struct {
	baseURL       string
	apiKey        string
	webhookSecret []byte
	http          *http.Client
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL:       cfg.Momo.BaseURL,
		apiKey:        cfg.Momo.APIKey,
		webhookSecret: []byte(cfg.Momo.WebhookSecret),
		http:          &http.Client{Timeout: cfg.Momo.Timeout},
	}
}

type chargeRequest struct {
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Msisdn    string `json:"msisdn"`
	Reference string `json:"reference"`
}

type chargeResponse struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

// StatusResult is one observation of a charge or payout. CompletedAt is the
// only trusted proof of completion.
type StatusResult struct {
	Status        string     `json:"status"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
}

type errorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// InitiateCharge pushes an STK/USSD charge to the payer's phone and returns
// the aggregator's reference for the attempt.
func (c *Client) InitiateCharge(ctx context.Context, amount int64, phone, reference string) (string, error) {
	body := chargeRequest{Amount: amount, Currency: "TZS", Msisdn: phone, Reference: reference}

	var resp chargeResponse
	if err := c.do(ctx, http.MethodPost, "/v1/charges", body, &resp); err != nil {
		return "", err
	}

	return resp.Reference, nil
}

// Status polls the aggregator for the current state of a charge.
func (c *Client) Status(ctx context.Context, providerRef string) (*StatusResult, error) {
	var resp StatusResult
	if err := c.do(ctx, http.MethodGet, "/v1/charges/"+providerRef, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Payout disburses to a mobile-money subscriber. Used by the withdrawal path.
func (c *Client) Payout(ctx context.Context, amount int64, phone, reference string) (string, error) {
	body := chargeRequest{Amount: amount, Currency: "TZS", Msisdn: phone, Reference: reference}

	var resp chargeResponse
	if err := c.do(ctx, http.MethodPost, "/v1/payouts", body, &resp); err != nil {
		return "", err
	}

	return resp.Reference, nil
}

// VerifySignature checks the HMAC-SHA256 hex signature the aggregator sends
// with every webhook. Constant-time compare.
func (c *Client) VerifySignature(body []byte, signature string) bool {
	if signature == "" || len(c.webhookSecret) == 0 {
		return false
	}

	mac := hmac.New(sha256.New, c.webhookSecret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var reqBody io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return classifier.Transport(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return classifier.Transport(err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var errResp errorResponse
		_ = json.Unmarshal(raw, &errResp)
		classified := classifier.Classify(resp.StatusCode, errResp.ErrorCode, errResp.Message)
		zap.L().Warn("momo request failed",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("class", string(classified.Class)),
			zap.String("code", classified.Code),
		)
		return classified
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}
