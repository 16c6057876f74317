// Package gateway is a thin client for the M-Pesa Daraja STK push API.
//
// Every call ends in a definite Result. Provider failures, transport errors,
// timeouts and missing configuration are reported through Result.Error and
// never returned as Go errors, so callers can always record the outcome.
package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/matthewbaird/rentals/internal/config"
)

const (
	SandboxURL    = "https://sandbox.safaricom.co.ke"
	ProductionURL = "https://api.safaricom.co.ke"

	tokenPath = "/oauth/v1/generate?grant_type=client_credentials"
	pushPath  = "/mpesa/stkpush/v1/processrequest"

	// TimestampLayout is the provider's YYYYMMDDHHmmss timestamp format.
	TimestampLayout = "20060102150405"

	tokenAttempts = 3
)

// PushRequest asks the provider to prompt a phone for payment.
type PushRequest struct {
	PhoneNumber      string // normalised 2547XXXXXXXX
	AmountCents      int64  // must be whole shillings
	AccountReference string
	Description      string
}

// Result is the definite outcome of a push request.
type Result struct {
	OK                  bool   `json:"ok"`
	MerchantRequestID   string `json:"merchant_request_id,omitempty"`
	CheckoutRequestID   string `json:"checkout_request_id,omitempty"`
	ResponseCode        string `json:"response_code,omitempty"`
	ResponseDescription string `json:"response_description,omitempty"`
	CustomerMessage     string `json:"customer_message,omitempty"`
	Error               string `json:"error,omitempty"`
}

func failure(format string, args ...any) Result {
	return Result{Error: fmt.Sprintf(format, args...)}
}

// Pusher starts STK push payments. *Client implements it.
type Pusher interface {
	STKPush(ctx context.Context, req PushRequest) Result
}

// Client talks to Daraja. It holds no per-request state.
type Client struct {
	cfg    config.GatewayConfig
	http   *http.Client
	loc    *time.Location
	now    func() time.Time
	log    zerolog.Logger
	tracer trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithClock overrides the time source used for request timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithLocation sets the zone request timestamps are expressed in.
func WithLocation(loc *time.Location) Option {
	return func(c *Client) { c.loc = loc }
}

// New creates a Client. The configured timeout bounds each HTTP round trip;
// callers bound the whole push with their context.
func New(cfg config.GatewayConfig, logger zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout()},
		loc:    time.UTC,
		now:    time.Now,
		log:    logger.With().Str("component", "gateway").Logger(),
		tracer: otel.Tracer("github.com/matthewbaird/rentals/internal/gateway"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) baseURL() string {
	if c.cfg.BaseURL != "" {
		return strings.TrimRight(c.cfg.BaseURL, "/")
	}
	if c.cfg.Environment == "production" {
		return ProductionURL
	}
	return SandboxURL
}

// missingConfig lists the unset settings a push needs.
func (c *Client) missingConfig() []string {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"shortcode", c.cfg.Shortcode},
		{"passkey", c.cfg.Passkey},
		{"consumer key", c.cfg.ConsumerKey},
		{"consumer secret", c.cfg.ConsumerSecret},
		{"callback url", c.cfg.CallbackURL},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// Password derives the request password base64(shortcode + passkey + timestamp).
func Password(shortcode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortcode + passkey + timestamp))
}

// STKPush obtains a bearer token and submits the push request.
func (c *Client) STKPush(ctx context.Context, req PushRequest) Result {
	ctx, span := c.tracer.Start(ctx, "gateway.STKPush", trace.WithAttributes(
		attribute.String("mpesa.environment", c.cfg.Environment),
		attribute.Int64("mpesa.amount_cents", req.AmountCents),
	))
	defer span.End()

	res := c.push(ctx, req)
	if res.OK {
		span.SetAttributes(attribute.String("mpesa.checkout_request_id", res.CheckoutRequestID))
		span.SetStatus(codes.Ok, "")
		c.log.Info().Str("checkout_request_id", res.CheckoutRequestID).Msg("stk push accepted")
	} else {
		span.SetStatus(codes.Error, res.Error)
		c.log.Warn().Str("error", res.Error).Msg("stk push failed")
	}
	return res
}

func (c *Client) push(ctx context.Context, req PushRequest) Result {
	if missing := c.missingConfig(); len(missing) > 0 {
		return failure("payment gateway not configured: missing %s", strings.Join(missing, ", "))
	}
	if req.AmountCents <= 0 || req.AmountCents%100 != 0 {
		return failure("amount must be a positive whole number of shillings")
	}
	if req.PhoneNumber == "" {
		return failure("phone number is required")
	}

	token, err := c.token(ctx)
	if err != nil {
		return failure("obtaining access token: %v", err)
	}

	ts := c.now().In(c.loc).Format(TimestampLayout)
	body := map[string]any{
		"BusinessShortCode": c.cfg.Shortcode,
		"Password":          Password(c.cfg.Shortcode, c.cfg.Passkey, ts),
		"Timestamp":         ts,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            req.AmountCents / 100,
		"PartyA":            req.PhoneNumber,
		"PartyB":            c.cfg.Shortcode,
		"PhoneNumber":       req.PhoneNumber,
		"CallBackURL":       c.cfg.CallbackURL,
		"AccountReference":  truncate(req.AccountReference, 12),
		"TransactionDesc":   truncate(req.Description, 13),
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return failure("encoding push request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL()+pushPath, bytes.NewReader(payload))
	if err != nil {
		return failure("building push request: %v", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return failure("push request: %v", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return failure("reading push response: %v", err)
	}

	var out struct {
		MerchantRequestID   string `json:"MerchantRequestID"`
		CheckoutRequestID   string `json:"CheckoutRequestID"`
		ResponseCode        string `json:"ResponseCode"`
		ResponseDescription string `json:"ResponseDescription"`
		CustomerMessage     string `json:"CustomerMessage"`
		ErrorCode           string `json:"errorCode"`
		ErrorMessage        string `json:"errorMessage"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return failure("push response %d: %s", resp.StatusCode, snippet(raw))
	}
	if resp.StatusCode/100 != 2 {
		msg := out.ErrorMessage
		if msg == "" {
			msg = snippet(raw)
		}
		return failure("push rejected (%d): %s", resp.StatusCode, msg)
	}
	if out.ResponseCode != "0" || out.CheckoutRequestID == "" {
		return Result{
			ResponseCode:        out.ResponseCode,
			ResponseDescription: out.ResponseDescription,
			Error:               fmt.Sprintf("push not accepted: %s", out.ResponseDescription),
		}
	}
	return Result{
		OK:                  true,
		MerchantRequestID:   out.MerchantRequestID,
		CheckoutRequestID:   out.CheckoutRequestID,
		ResponseCode:        out.ResponseCode,
		ResponseDescription: out.ResponseDescription,
		CustomerMessage:     out.CustomerMessage,
	}
}

var errServer = errors.New("server error")

// token performs the client-credentials exchange. Transport errors and 5xx
// responses are retried with exponential backoff within ctx; 4xx responses
// are final.
func (c *Client) token(ctx context.Context) (string, error) {
	ctx, span := c.tracer.Start(ctx, "gateway.token")
	defer span.End()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second

	token, err := backoff.Retry(ctx, func() (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL()+tokenPath, nil)
		if err != nil {
			return "", backoff.Permanent(err)
		}
		req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)
		resp, err := c.http.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		switch {
		case resp.StatusCode >= 500:
			return "", fmt.Errorf("%w: status %d", errServer, resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return "", backoff.Permanent(fmt.Errorf("status %d: %s", resp.StatusCode, snippet(raw)))
		}
		var out struct {
			AccessToken string `json:"access_token"`
		}
		if err := json.Unmarshal(raw, &out); err != nil || out.AccessToken == "" {
			return "", backoff.Permanent(errors.New("no access token in response"))
		}
		return out.AccessToken, nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(tokenAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.log.Debug().Err(err).Dur("retry_in", next).Msg("token request failed")
		}),
	)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return token, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
