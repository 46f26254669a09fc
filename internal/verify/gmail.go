// Package verify polls the account's mailbox for broker emails: the OTP
// mailed during the kill flow and the confirmation mail that proves the
// kill actually took effect. It speaks the Gmail REST API directly with
// a refresh-token OAuth exchange, no SDK.
package verify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"killswitch/internal/logger"
)

const (
	tokenURL     = "https://oauth2.googleapis.com/token"
	gmailBaseURL = "https://gmail.googleapis.com/gmail/v1/users/me"

	otpPollInterval = 3 * time.Second
	// An OTP mail older than this belongs to a previous attempt.
	otpMaxAge = 2 * time.Minute
)

var otpPattern = regexp.MustCompile(`\b(\d{4,6})\b`)

// Message is one matched mailbox entry.
type Message struct {
	ID         string
	Snippet    string
	ReceivedAt time.Time
}

// Gmail is an authenticated mailbox poller for one account.
type Gmail struct {
	clientID     string
	clientSecret string
	refreshToken string
	baseURL      string
	httpc        *http.Client

	mu          sync.Mutex
	accessToken string
	expiry      time.Time
}

// NewGmail builds a poller from the account's mail credentials. Required
// keys: client_id, client_secret, refresh_token.
func NewGmail(creds map[string]string) (*Gmail, error) {
	g := &Gmail{
		clientID:     creds["client_id"],
		clientSecret: creds["client_secret"],
		refreshToken: creds["refresh_token"],
		baseURL:      gmailBaseURL,
		httpc:        &http.Client{Timeout: 15 * time.Second},
	}
	if g.clientID == "" || g.clientSecret == "" || g.refreshToken == "" {
		return nil, fmt.Errorf("gmail credentials missing client_id/client_secret/refresh_token")
	}
	return g, nil
}

// WithBaseURL points the poller at a test server.
func (g *Gmail) WithBaseURL(base string) *Gmail {
	g.baseURL = strings.TrimRight(base, "/")
	return g
}

// WaitForOTP polls for the newest broker OTP mail received after since
// and extracts the 4-6 digit code from its snippet. Per-poll errors are
// retried until ctx expires.
func (g *Gmail) WaitForOTP(ctx context.Context, since time.Time) (string, error) {
	query := `subject:OTP newer_than:1d`
	for {
		msg, err := g.latest(ctx, query)
		if err != nil {
			if ctx.Err() != nil {
				return "", fmt.Errorf("otp poll: %w", ctx.Err())
			}
			logger.Warnf("[gmail] otp poll failed, retrying: %v", err)
		} else if msg != nil && msg.ReceivedAt.After(since) && time.Since(msg.ReceivedAt) < otpMaxAge {
			if m := otpPattern.FindStringSubmatch(msg.Snippet); m != nil {
				return m[1], nil
			}
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("otp poll: %w", ctx.Err())
		case <-time.After(otpPollInterval):
		}
	}
}

// WaitForConfirmation polls for a mail from sender whose subject contains
// the given fragment, received after since. Returns nil when found; the
// ctx deadline is the verification timeout.
func (g *Gmail) WaitForConfirmation(ctx context.Context, since time.Time, sender, subjectContains string, pollEvery time.Duration) error {
	if pollEvery <= 0 {
		pollEvery = 20 * time.Second
	}
	var parts []string
	if sender != "" {
		parts = append(parts, "from:"+sender)
	}
	if subjectContains != "" {
		parts = append(parts, fmt.Sprintf("subject:(%s)", subjectContains))
	}
	parts = append(parts, "newer_than:1d")
	query := strings.Join(parts, " ")

	for {
		msg, err := g.latest(ctx, query)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warnf("[gmail] confirmation poll failed, retrying: %v", err)
		} else if msg != nil && msg.ReceivedAt.After(since) {
			logger.Infof("[gmail] confirmation mail found (%s)", msg.ID)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollEvery):
		}
	}
}

// latest returns the newest message matching query, or nil when the
// mailbox has none.
func (g *Gmail) latest(ctx context.Context, query string) (*Message, error) {
	token, err := g.token(ctx)
	if err != nil {
		return nil, err
	}
	listURL := fmt.Sprintf("%s/messages?q=%s&maxResults=1", g.baseURL, url.QueryEscape(query))
	raw, err := g.get(ctx, listURL, token)
	if err != nil {
		return nil, err
	}
	id := gjson.GetBytes(raw, "messages.0.id").String()
	if id == "" {
		return nil, nil
	}
	raw, err = g.get(ctx, fmt.Sprintf("%s/messages/%s?format=minimal", g.baseURL, id), token)
	if err != nil {
		return nil, err
	}
	internalMS := gjson.GetBytes(raw, "internalDate").Int()
	return &Message{
		ID:         id,
		Snippet:    gjson.GetBytes(raw, "snippet").String(),
		ReceivedAt: time.UnixMilli(internalMS),
	}, nil
}

func (g *Gmail) get(ctx context.Context, rawURL, token string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := g.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		g.mu.Lock()
		g.accessToken, g.expiry = "", time.Time{}
		g.mu.Unlock()
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("gmail status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// token returns a cached access token, exchanging the refresh token when
// expired.
func (g *Gmail) token(ctx context.Context) (string, error) {
	g.mu.Lock()
	if g.accessToken != "" && time.Until(g.expiry) > time.Minute {
		token := g.accessToken
		g.mu.Unlock()
		return token, nil
	}
	g.mu.Unlock()

	form := url.Values{
		"client_id":     {g.clientID},
		"client_secret": {g.clientSecret},
		"refresh_token": {g.refreshToken},
		"grant_type":    {"refresh_token"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := g.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("oauth refresh: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("oauth refresh status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	access := gjson.GetBytes(body, "access_token").String()
	if access == "" {
		return "", fmt.Errorf("oauth refresh: empty access_token")
	}
	ttl := gjson.GetBytes(body, "expires_in").Int()
	if ttl <= 0 {
		ttl = 3600
	}
	g.mu.Lock()
	g.accessToken = access
	g.expiry = time.Now().Add(time.Duration(ttl) * time.Second)
	g.mu.Unlock()
	return access, nil
}
