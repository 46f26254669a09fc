// Package kotak implements the broker.Client interface against the
// Kotak Neo REST API. Authentication is the two step TOTP flow: a TOTP
// login that yields a view token and session id, then an MPIN validate
// that upgrades it to a trade token.
package kotak

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/tidwall/gjson"

	"killswitch/internal/account"
	"killswitch/internal/broker"
	"killswitch/internal/logger"
)

const (
	defaultBaseURL = "https://gw-napi.kotaksecurities.com"

	pathTOTPLogin    = "/login/1.0/login/v6/totp/login"
	pathTOTPValidate = "/login/1.0/login/v6/totp/validate"
	pathPositions    = "/Orders/2.6/quick/user/positions"
	pathOrderReport  = "/Orders/2.6/quick/user/orders"
	pathQuotes       = "/Quotes/2.0/quotes"
	pathPlaceOrder   = "/Orders/2.0/quick/order/rule/ms/place"

	requestTimeout = 15 * time.Second
)

// Credentials holds the broker secrets for one account.
type Credentials struct {
	ConsumerKey  string
	UCC          string
	MobileNumber string
	MPIN         string
	TOTPSecret   string
}

// Client is a broker.Client backed by the Kotak Neo HTTP API. Safe for
// concurrent use; session tokens are swapped atomically under a mutex.
type Client struct {
	baseURL string
	creds   Credentials
	httpc   *http.Client

	mu    sync.RWMutex
	token string
	sid   string
	auth  bool
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL overrides the production gateway, used by tests.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient swaps the underlying transport.
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) { c.httpc = httpc }
}

func NewClient(creds Credentials, opts ...Option) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		creds:   creds,
		httpc:   &http.Client{Timeout: requestTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login runs totp login followed by mpin validate. Any previous session
// is discarded first so a re-auth after token expiry starts clean.
func (c *Client) Login(ctx context.Context) error {
	c.mu.Lock()
	c.token, c.sid, c.auth = "", "", false
	c.mu.Unlock()

	code, err := totp.GenerateCode(c.creds.TOTPSecret, time.Now())
	if err != nil {
		return fmt.Errorf("generate totp: %w", err)
	}

	loginBody := map[string]string{
		"mobileNumber": c.creds.MobileNumber,
		"ucc":          c.creds.UCC,
		"totp":         code,
	}
	raw, err := c.post(ctx, pathTOTPLogin, loginBody, false)
	if err != nil {
		return fmt.Errorf("totp login: %w", err)
	}
	viewToken := gjson.GetBytes(raw, "data.token").String()
	sid := gjson.GetBytes(raw, "data.sid").String()
	if viewToken == "" || sid == "" {
		return fmt.Errorf("totp login: missing token in response: %s", truncate(raw))
	}

	c.mu.Lock()
	c.token, c.sid = viewToken, sid
	c.mu.Unlock()

	raw, err = c.post(ctx, pathTOTPValidate, map[string]string{"mpin": c.creds.MPIN}, true)
	if err != nil {
		return fmt.Errorf("totp validate: %w", err)
	}
	tradeToken := gjson.GetBytes(raw, "data.token").String()
	if tradeToken == "" {
		return fmt.Errorf("totp validate: missing trade token: %s", truncate(raw))
	}
	if s := gjson.GetBytes(raw, "data.sid").String(); s != "" {
		sid = s
	}

	c.mu.Lock()
	c.token, c.sid, c.auth = tradeToken, sid, true
	c.mu.Unlock()

	logger.Infof("[kotak] session established ucc=%s", c.creds.UCC)
	return nil
}

func (c *Client) Positions(ctx context.Context) ([]account.Position, error) {
	raw, err := c.get(ctx, pathPositions)
	if err != nil {
		return nil, err
	}
	return parsePositions(raw)
}

func (c *Client) Orders(ctx context.Context) ([]account.Order, error) {
	raw, err := c.get(ctx, pathOrderReport)
	if err != nil {
		return nil, err
	}
	return parseOrders(raw)
}

// QuoteLTP posts the instrument list and returns token -> LTP. Responses
// carry the payload under "message" on current gateways and under "data"
// on older ones; both shapes are accepted.
func (c *Client) QuoteLTP(ctx context.Context, instruments []broker.Instrument) (map[string]float64, error) {
	if len(instruments) == 0 {
		return map[string]float64{}, nil
	}
	type quoteToken struct {
		InstrumentToken string `json:"instrument_token"`
		ExchangeSegment string `json:"exchange_segment"`
	}
	payload := struct {
		Tokens    []quoteToken `json:"instrument_tokens"`
		QuoteType string       `json:"quote_type"`
	}{QuoteType: "LTP"}
	for _, in := range instruments {
		if in.Token == "" || in.Segment == "" {
			continue
		}
		payload.Tokens = append(payload.Tokens, quoteToken{in.Token, in.Segment})
	}
	if len(payload.Tokens) == 0 {
		return map[string]float64{}, nil
	}

	raw, err := c.post(ctx, pathQuotes, payload, true)
	if err != nil {
		return nil, err
	}
	return parseQuotes(raw)
}

func (c *Client) PlaceExit(ctx context.Context, order broker.ExitOrder) (string, error) {
	product := order.Product
	if product == "" {
		product = "NRML"
	}
	body := map[string]string{
		"es": order.Segment,
		"pr": "0",
		"pt": "MKT",
		"qt": fmt.Sprintf("%d", order.Quantity),
		"rt": "DAY",
		"ts": order.Symbol,
		"tt": string(order.Side),
		"pc": product,
		"am": "NO",
	}
	raw, err := c.post(ctx, pathPlaceOrder, body, true)
	if err != nil {
		return "", err
	}
	if stat := gjson.GetBytes(raw, "stat").String(); stat != "" && !strings.EqualFold(stat, "Ok") {
		return "", fmt.Errorf("place order rejected: %s", truncate(raw))
	}
	return gjson.GetBytes(raw, "nOrdNo").String(), nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, nil, true)
}

func (c *Client) post(ctx context.Context, path string, body any, authed bool) ([]byte, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, buf, authed)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, authed bool) ([]byte, error) {
	var token, sid string
	if authed {
		c.mu.RLock()
		token, sid = c.token, c.sid
		ok := c.auth || path == pathTOTPValidate
		c.mu.RUnlock()
		if token == "" || !ok {
			return nil, broker.ErrNotAuthenticated
		}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("neo-fin-key", "neotradeapi")
	if c.creds.ConsumerKey != "" {
		req.Header.Set("accessToken", c.creds.ConsumerKey)
	}
	if authed {
		req.Header.Set("Auth", token)
		req.Header.Set("Sid", sid)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kotak %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("kotak %s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		c.mu.Lock()
		c.auth = false
		c.mu.Unlock()
		return nil, fmt.Errorf("kotak %s %s: status %d: %w", method, path, resp.StatusCode, broker.ErrNotAuthenticated)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("kotak %s %s: status %d: %s", method, path, resp.StatusCode, truncate(raw))
	}
	if e := gjson.GetBytes(raw, "error"); e.Exists() && e.String() != "" {
		return nil, fmt.Errorf("kotak %s %s: api error: %s", method, path, e.String())
	}
	return raw, nil
}

func truncate(raw []byte) string {
	const max = 256
	if len(raw) <= max {
		return string(raw)
	}
	return string(raw[:max]) + "..."
}
