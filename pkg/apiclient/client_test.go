package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyuze/fyuze/pkg/session"
)

type stubRefresher struct {
	calls atomic.Int32
	next  func(n int32) (*session.Payload, error)
}

func (s *stubRefresher) Refresh(_ context.Context, _ string) (*session.Payload, error) {
	n := s.calls.Add(1)
	return s.next(n)
}

func rotating() func(n int32) (*session.Payload, error) {
	return func(n int32) (*session.Payload, error) {
		return &session.Payload{
			AccessToken:  "a" + string(rune('1'+n)),
			RefreshToken: "r" + string(rune('1'+n)),
			ExpiresAt:    time.Now().Add(time.Hour).Unix(),
			User:         &session.User{ID: "u1"},
		}, nil
	}
}

func loggedIn(t *testing.T, r session.Refresher, ttl time.Duration) *session.Manager {
	t.Helper()
	m := session.NewManager(session.NewMemoryStore(), r)
	require.NoError(t, m.SetTokens(context.Background(), &session.Payload{
		AccessToken:  "a1",
		RefreshToken: "r1",
		ExpiresAt:    time.Now().Add(ttl).Unix(),
		User:         &session.User{ID: "u1"},
	}))
	return m
}

// backend answers with the status returned by status(send number, auth header).
type backend struct {
	mu      sync.Mutex
	auths   []string
	status  func(n int, auth string) int
	srv     *httptest.Server
	payload any
}

func newBackend(t *testing.T, status func(n int, auth string) int) *backend {
	t.Helper()
	b := &backend{status: status, payload: map[string]any{"ok": true}}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		auth := r.Header.Get("Authorization")
		b.auths = append(b.auths, auth)
		n := len(b.auths)
		b.mu.Unlock()

		assert.Equal(t, "anon", r.Header.Get("apikey"))

		code := b.status(n, auth)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if code < 300 {
			_ = json.NewEncoder(w).Encode(b.payload)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"msg": http.StatusText(code)})
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *backend) sends() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.auths...)
}

func TestSend_AttachesBearer(t *testing.T) {
	r := &stubRefresher{next: rotating()}
	m := loggedIn(t, r, time.Hour)
	b := newBackend(t, func(int, string) int { return http.StatusOK })

	var out struct {
		OK bool `json:"ok"`
	}
	_, err := New(b.srv.URL, "anon", m).Post(context.Background(), "/functions/v1/echo", map[string]string{"q": "x"}, &out)
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.Equal(t, []string{"Bearer a1"}, b.sends())
	assert.Equal(t, int32(0), r.calls.Load())
}

func TestSend_RefreshesExpiredTokenBeforeSending(t *testing.T) {
	r := &stubRefresher{next: rotating()}
	m := loggedIn(t, r, time.Minute)
	b := newBackend(t, func(int, string) int { return http.StatusOK })

	_, err := New(b.srv.URL, "anon", m).Get(context.Background(), "/x", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Bearer a2"}, b.sends())
	assert.Equal(t, int32(1), r.calls.Load())
}

func TestSend_RetriesOnceAfter401(t *testing.T) {
	r := &stubRefresher{next: rotating()}
	m := loggedIn(t, r, time.Hour)
	b := newBackend(t, func(_ int, auth string) int {
		if auth == "Bearer a1" {
			return http.StatusUnauthorized
		}
		return http.StatusOK
	})

	resp, err := New(b.srv.URL, "anon", m).Get(context.Background(), "/x", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, []string{"Bearer a1", "Bearer a2"}, b.sends())
	assert.Equal(t, int32(1), r.calls.Load())
	assert.True(t, m.IsAuthenticated())
}

func TestSend_BoundedRetry(t *testing.T) {
	r := &stubRefresher{next: rotating()}
	m := loggedIn(t, r, time.Hour)
	b := newBackend(t, func(int, string) int { return http.StatusUnauthorized })

	_, err := New(b.srv.URL, "anon", m).Get(context.Background(), "/x", nil)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Len(t, b.sends(), 2)
	assert.Equal(t, int32(1), r.calls.Load())
	assert.False(t, m.IsAuthenticated())
}

func TestSend_RefreshFailureLogsOut(t *testing.T) {
	r := &stubRefresher{next: func(int32) (*session.Payload, error) {
		return nil, errors.New("invalid_grant")
	}}
	m := loggedIn(t, r, time.Hour)
	b := newBackend(t, func(int, string) int { return http.StatusUnauthorized })

	_, err := New(b.srv.URL, "anon", m).Get(context.Background(), "/x", nil)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.ErrorIs(t, err, session.ErrSessionExpired)
	assert.Len(t, b.sends(), 1)
	assert.False(t, m.IsAuthenticated())
}

func TestSend_NoSessionPassesThrough(t *testing.T) {
	r := &stubRefresher{next: rotating()}
	m := session.NewManager(session.NewMemoryStore(), r)
	b := newBackend(t, func(int, string) int { return http.StatusUnauthorized })

	_, err := New(b.srv.URL, "anon", m).Get(context.Background(), "/x", nil)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, []string{""}, b.sends(), "request goes out without credentials")
	assert.Equal(t, int32(0), r.calls.Load())
}

func TestSend_NoSessionPublicEndpoint(t *testing.T) {
	m := session.NewManager(session.NewMemoryStore(), &stubRefresher{next: rotating()})
	b := newBackend(t, func(int, string) int { return http.StatusOK })

	_, err := New(b.srv.URL, "anon", m).Get(context.Background(), "/public", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{""}, b.sends())
}

func TestSend_StatusErrorNotRetried(t *testing.T) {
	r := &stubRefresher{next: rotating()}
	m := loggedIn(t, r, time.Hour)
	b := newBackend(t, func(int, string) int { return http.StatusInternalServerError })

	_, err := New(b.srv.URL, "anon", m).Get(context.Background(), "/x", nil)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.Status)
	assert.Equal(t, "Internal Server Error", statusErr.Message)
	assert.Len(t, b.sends(), 1)
	assert.True(t, m.IsAuthenticated())
}

func TestSend_TransportFailure(t *testing.T) {
	r := &stubRefresher{next: rotating()}
	m := loggedIn(t, r, time.Hour)
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := New(url, "anon", m).Get(context.Background(), "/x", nil)

	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, "/x", transportErr.Path)
	assert.True(t, m.IsAuthenticated(), "network failures are not auth failures")
}

func TestSend_ConcurrentRequestsShareRefresh(t *testing.T) {
	r := &stubRefresher{next: rotating()}
	m := loggedIn(t, r, time.Minute)
	b := newBackend(t, func(int, string) int { return http.StatusOK })
	c := New(b.srv.URL, "anon", m)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Get(context.Background(), "/x", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), r.calls.Load())
	for _, auth := range b.sends() {
		assert.Equal(t, "Bearer a2", auth)
	}
}

func TestSend_401AfterRotationByAnotherRequestReusesToken(t *testing.T) {
	r := &stubRefresher{next: rotating()}
	m := loggedIn(t, r, time.Hour)
	b := newBackend(t, func(n int, auth string) int {
		if auth != "Bearer a1" {
			return http.StatusOK
		}
		// another request rotates the token while this one is being rejected
		_, err := m.RefreshAccessToken(context.Background())
		assert.NoError(t, err)
		return http.StatusUnauthorized
	})

	_, err := New(b.srv.URL, "anon", m).Get(context.Background(), "/x", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Bearer a1", "Bearer a2"}, b.sends())
	assert.Equal(t, int32(1), r.calls.Load(), "the rejected request reuses the rotated token")
}
