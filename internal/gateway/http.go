package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	pathPaymentSessions = "/v1/payment-sessions"
	pathPayouts         = "/v1/payouts"
	codeOK              = "00"
)

// HTTPConfig holds the provider endpoint and credentials.
type HTTPConfig struct {
	BaseURL      string
	ClientKey    string
	ClientSecret string
	CallbackURL  string
}

// HTTPClient is the JSON-over-HTTPS provider client.
type HTTPClient struct {
	cfg  HTTPConfig
	http *http.Client
	now  func() time.Time
}

// NewHTTPClient builds a client; a nil http.Client uses http.DefaultClient.
func NewHTTPClient(cfg HTTPConfig, client *http.Client) *HTTPClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPClient{cfg: cfg, http: client, now: time.Now}
}

type envelope struct {
	Code string          `json:"code"`
	Desc string          `json:"desc"`
	Data json.RawMessage `json:"data"`
}

// StatusError is returned for non-success provider answers.
type StatusError struct {
	HTTPStatus int
	Code       string
	Desc       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway: http %d code %s: %s", e.HTTPStatus, e.Code, e.Desc)
}

// sign computes HMAC-SHA512 over METHOD:PATH:BODY_HASH:TIMESTAMP, base64 encoded.
func sign(method, path string, body []byte, timestamp, secret string) string {
	bodyHash := sha256.Sum256(body)
	stringToSign := method + ":" + path + ":" + strings.ToLower(hex.EncodeToString(bodyHash[:])) + ":" + timestamp
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(stringToSign))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (c *HTTPClient) do(ctx context.Context, method, path string, payload any, idempotencyKey string, out any) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return Permanent(fmt.Errorf("gateway: encode request: %w", err))
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.BaseURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return Permanent(err)
	}
	timestamp := c.now().UTC().Format(time.RFC3339)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Client-Key", c.cfg.ClientKey)
	req.Header.Set("X-Timestamp", timestamp)
	req.Header.Set("X-Request-ID", uuid.NewString())
	req.Header.Set("X-Signature", sign(method, path, body, timestamp, c.cfg.ClientSecret))
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		serr := &StatusError{HTTPStatus: resp.StatusCode, Desc: "unreadable response"}
		if resp.StatusCode >= 500 {
			return serr
		}
		return Permanent(serr)
	}
	if resp.StatusCode == http.StatusNotFound {
		return Permanent(fmt.Errorf("%w: %s", ErrSessionNotFound, env.Desc))
	}
	if resp.StatusCode >= 300 || env.Code != codeOK {
		serr := &StatusError{HTTPStatus: resp.StatusCode, Code: env.Code, Desc: env.Desc}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return serr
		}
		return Permanent(serr)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return Permanent(fmt.Errorf("gateway: decode data: %w", err))
		}
	}
	return nil
}

type paymentSessionBody struct {
	Amount      string            `json:"amount"`
	Currency    string            `json:"currency"`
	Description string            `json:"description"`
	ReturnURL   string            `json:"returnUrl,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type sessionData struct {
	SessionID   string `json:"sessionId"`
	CheckoutURL string `json:"checkoutUrl"`
	Status      string `json:"status"`
}

func (c *HTTPClient) CreatePaymentSession(ctx context.Context, r PaymentSessionRequest) (PaymentSession, error) {
	if r.IdempotencyKey == "" {
		return PaymentSession{}, Permanent(ErrMissingIdempotencyKey)
	}
	var data sessionData
	err := c.do(ctx, http.MethodPost, pathPaymentSessions, paymentSessionBody{
		Amount:      r.Amount.String(),
		Currency:    r.Currency,
		Description: r.Description,
		ReturnURL:   c.cfg.CallbackURL,
		Metadata:    r.Metadata,
	}, r.IdempotencyKey, &data)
	if err != nil {
		return PaymentSession{}, err
	}
	return PaymentSession{SessionID: data.SessionID, CheckoutURL: data.CheckoutURL}, nil
}

type payoutBody struct {
	Amount            string            `json:"amount"`
	Currency          string            `json:"currency"`
	AccountNumber     string            `json:"accountNumber"`
	AccountHolderName string            `json:"accountHolderName"`
	BankCode          string            `json:"bankCode"`
	Description       string            `json:"description"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

func (c *HTTPClient) CreatePayoutSession(ctx context.Context, r PayoutRequest) (string, error) {
	if r.IdempotencyKey == "" {
		return "", Permanent(ErrMissingIdempotencyKey)
	}
	var data sessionData
	err := c.do(ctx, http.MethodPost, pathPayouts, payoutBody{
		Amount:            r.Amount.String(),
		Currency:          r.Currency,
		AccountNumber:     r.AccountNumber,
		AccountHolderName: r.AccountHolderName,
		BankCode:          r.BankCode,
		Description:       r.Description,
		Metadata:          r.Metadata,
	}, r.IdempotencyKey, &data)
	if err != nil {
		return "", err
	}
	return data.SessionID, nil
}

func (c *HTTPClient) GetPaymentSession(ctx context.Context, sessionID string) (SessionInfo, error) {
	var data sessionData
	if err := c.do(ctx, http.MethodGet, pathPaymentSessions+"/"+url.PathEscape(sessionID), nil, "", &data); err != nil {
		return SessionInfo{}, err
	}
	return SessionInfo{CheckoutURL: data.CheckoutURL, Status: SessionStatus(strings.ToUpper(data.Status))}, nil
}
