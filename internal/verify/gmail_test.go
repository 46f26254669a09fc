package verify

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mailServer struct {
	mu        sync.Mutex
	messageID string
	snippet   string
	received  time.Time
	lastQuery string
}

func (m *mailServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.lastQuery = r.URL.Query().Get("q")
		id := m.messageID
		m.mu.Unlock()
		if id == "" {
			fmt.Fprint(w, `{"resultSizeEstimate":0}`)
			return
		}
		fmt.Fprintf(w, `{"messages":[{"id":"%s"}]}`, id)
	})
	mux.HandleFunc("/messages/", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()
		fmt.Fprintf(w, `{"id":"%s","snippet":"%s","internalDate":"%d"}`,
			m.messageID, m.snippet, m.received.UnixMilli())
	})
	return mux
}

func newTestGmail(t *testing.T, srv *mailServer) *Gmail {
	t.Helper()
	ts := httptest.NewServer(srv.handler())
	t.Cleanup(ts.Close)

	g, err := NewGmail(map[string]string{
		"client_id": "id", "client_secret": "secret", "refresh_token": "refresh",
	})
	require.NoError(t, err)
	g.WithBaseURL(ts.URL)
	// Pre-seed the token cache so no OAuth exchange happens in tests.
	g.accessToken = "test-token"
	g.expiry = time.Now().Add(time.Hour)
	return g
}

func TestNewGmailRequiresCredentials(t *testing.T) {
	_, err := NewGmail(map[string]string{"client_id": "id"})
	assert.Error(t, err)
}

func TestWaitForOTPExtractsCode(t *testing.T) {
	srv := &mailServer{
		messageID: "m1",
		snippet:   "Your OTP for login is 482913. Do not share it.",
		received:  time.Now(),
	}
	g := newTestGmail(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	code, err := g.WaitForOTP(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "482913", code)
}

func TestWaitForOTPIgnoresStaleMail(t *testing.T) {
	srv := &mailServer{
		messageID: "m1",
		snippet:   "Your OTP is 111222",
		received:  time.Now().Add(-10 * time.Minute), // previous attempt
	}
	g := newTestGmail(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := g.WaitForOTP(ctx, time.Now().Add(-time.Hour))
	assert.Error(t, err)
}

func TestWaitForConfirmationFindsMail(t *testing.T) {
	srv := &mailServer{
		messageID: "m2",
		snippet:   "Your trading account has been deactivated.",
		received:  time.Now(),
	}
	g := newTestGmail(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := g.WaitForConfirmation(ctx, time.Now().Add(-time.Minute), "service@broker.com", "account deactivated", time.Second)
	require.NoError(t, err)

	srv.mu.Lock()
	query := srv.lastQuery
	srv.mu.Unlock()
	assert.Contains(t, query, "from:service@broker.com")
	assert.Contains(t, query, "subject:(account deactivated)")
}

func TestWaitForConfirmationTimesOutOnOldMail(t *testing.T) {
	srv := &mailServer{
		messageID: "m3",
		snippet:   "deactivated",
		received:  time.Now().Add(-time.Hour),
	}
	g := newTestGmail(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := g.WaitForConfirmation(ctx, time.Now(), "", "deactivated", 10*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLatestEmptyMailbox(t *testing.T) {
	g := newTestGmail(t, &mailServer{})
	msg, err := g.latest(context.Background(), "subject:OTP")
	require.NoError(t, err)
	assert.Nil(t, msg)
}
