package tokenwallet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"wekapay-settlement/pkg/config"
	"wekapay-settlement/pkg/provider"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("tokenwallet", fx.Provide(NewClient))

const codeUserExists = "USER_ALREADY_EXISTS"

var classifier = provider.Classifier{
	Provider: "tokenwallet",
	Codes: provider.CodeTable{
		codeUserExists:        provider.ClassPermanent,
		"INSUFFICIENT_TOKENS": provider.ClassInsufficientFunds,
		"WALLET_FROZEN":       provider.ClassRestrictedAccount,
		"RATE_LIMITED":        provider.ClassRateLimited,
		"NODE_UNAVAILABLE":    provider.ClassTransient,
	},
	Fallbacks: []provider.Fallback{
		{Substring: "insufficient", Class: provider.ClassInsufficientFunds},
		{Substring: "frozen", Class: provider.ClassRestrictedAccount},
		{Substring: "timeout", Class: provider.ClassTransient},
	},
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL: cfg.TokenWallet.BaseURL,
		token:   cfg.TokenWallet.BearerToken,
		http:    &http.Client{Timeout: cfg.TokenWallet.Timeout},
	}
}

// User is a custodial wallet account held by the token wallet service.
type User struct {
	WalletUserID string `json:"wallet_user_id"`
	Address      string `json:"address"`
}

type Balance struct {
	BalanceMinorUnits int64  `json:"balance_minor_units"`
	Address           string `json:"address"`
}

// Transfer is the result of a deposit, withdrawal or transfer call.
type Transfer struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type createUserRequest struct {
	ExternalID string `json:"external_id"`
	Email      string `json:"email"`
}

type movementRequest struct {
	WalletUserID string `json:"wallet_user_id"`
	Amount       int64  `json:"amount"`
	Reference    string `json:"reference"`
	ToUserID     string `json:"to_user_id,omitempty"`
}

// CreateUser provisions a wallet for an internal account. A second call for
// the same external ID resolves to the existing wallet rather than failing.
func (c *Client) CreateUser(ctx context.Context, externalID, email string) (*User, error) {
	var user User
	err := c.do(ctx, http.MethodPost, "/v1/users", createUserRequest{ExternalID: externalID, Email: email}, &user)
	if err == nil {
		return &user, nil
	}

	var pe *provider.Error
	if errors.As(err, &pe) && pe.Code == codeUserExists {
		return c.GetUserByExternalID(ctx, externalID)
	}

	return nil, err
}

func (c *Client) GetUserByExternalID(ctx context.Context, externalID string) (*User, error) {
	var user User
	if err := c.do(ctx, http.MethodGet, "/v1/users/external/"+externalID, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *Client) GetBalance(ctx context.Context, walletUserID string) (*Balance, error) {
	var balance Balance
	if err := c.do(ctx, http.MethodGet, "/v1/users/"+walletUserID+"/balance", nil, &balance); err != nil {
		return nil, err
	}
	return &balance, nil
}

func (c *Client) Deposit(ctx context.Context, walletUserID string, amount int64, reference string) (*Transfer, error) {
	var tr Transfer
	req := movementRequest{WalletUserID: walletUserID, Amount: amount, Reference: reference}
	if err := c.do(ctx, http.MethodPost, "/v1/deposits", req, &tr); err != nil {
		return nil, err
	}
	return &tr, nil
}

func (c *Client) Withdraw(ctx context.Context, walletUserID string, amount int64, reference string) (*Transfer, error) {
	var tr Transfer
	req := movementRequest{WalletUserID: walletUserID, Amount: amount, Reference: reference}
	if err := c.do(ctx, http.MethodPost, "/v1/withdrawals", req, &tr); err != nil {
		return nil, err
	}
	return &tr, nil
}

func (c *Client) TransferTokens(ctx context.Context, fromUserID, toUserID string, amount int64, reference string) (*Transfer, error) {
	var tr Transfer
	req := movementRequest{WalletUserID: fromUserID, ToUserID: toUserID, Amount: amount, Reference: reference}
	if err := c.do(ctx, http.MethodPost, "/v1/transfers", req, &tr); err != nil {
		return nil, err
	}
	return &tr, nil
}

type errorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
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
	req.Header.Set("Authorization", "Bearer "+c.token)
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
		zap.L().Warn("tokenwallet request failed",
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
