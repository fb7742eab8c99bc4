package authapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyuze/fyuze/pkg/metrics"
	"github.com/fyuze/fyuze/pkg/session"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func tokenBody(access, refresh string) map[string]any {
	return map[string]any{
		"access_token":  access,
		"refresh_token": refresh,
		"token_type":    "bearer",
		"expires_in":    3600,
		"expires_at":    1700003600,
		"user":          map[string]any{"id": "u1", "email": "jane@example.com"},
	}
}

func TestPasswordGrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, tokenPath, r.URL.Path)
		assert.Equal(t, "password", r.URL.Query().Get("grant_type"))
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))

		var body passwordGrant
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "jane@example.com", body.Email)
		assert.Equal(t, "hunter2", body.Password)

		writeJSON(w, http.StatusOK, tokenBody("a1", "r1"))
	}))
	defer srv.Close()

	p, err := New(srv.URL, "anon-key").PasswordGrant(context.Background(), "jane@example.com", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "a1", p.AccessToken)
	assert.Equal(t, "r1", p.RefreshToken)
	assert.Equal(t, int64(1700003600), p.ExpiresAt)
	require.NotNil(t, p.User)
	assert.Equal(t, "u1", p.User.ID)
}

func TestPasswordGrant_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":             "invalid_grant",
			"error_description": "Invalid login credentials",
		})
	}))
	defer srv.Close()

	_, err := New(srv.URL, "k").PasswordGrant(context.Background(), "jane@example.com", "bad")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "Invalid login credentials", apiErr.Message)
	assert.True(t, apiErr.Unauthorized())
}

func TestRefresh(t *testing.T) {
	reg := prometheus.NewRegistry()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "refresh_token", r.URL.Query().Get("grant_type"))

		var body refreshGrant
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "r1", body.RefreshToken)

		writeJSON(w, http.StatusOK, tokenBody("a2", "r2"))
	}))
	defer srv.Close()

	var r session.Refresher = New(srv.URL, "k", WithMetrics(metrics.NewCollector(reg)))
	p, err := r.Refresh(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "a2", p.AccessToken)
	assert.Equal(t, "r2", p.RefreshToken)

	families, err := reg.Gather()
	require.NoError(t, err)
	var found bool
	for _, mf := range families {
		if mf.GetName() == "fyuze_upstream_requests_total" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRefresh_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := New(url, "k").Refresh(context.Background(), "r1")
	assert.ErrorIs(t, err, ErrTransport)
}

func TestErrorMessageFallbacks(t *testing.T) {
	cases := []struct {
		name string
		body map[string]any
		want string
	}{
		{"msg", map[string]any{"msg": "Token has expired or is invalid"}, "Token has expired or is invalid"},
		{"error only", map[string]any{"error": "invalid_grant"}, "invalid_grant"},
		{"empty", map[string]any{}, "Verification failed"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusUnauthorized, tc.body)
			}))
			defer srv.Close()

			_, err := New(srv.URL, "k").Verify(context.Background(), "jane@example.com", "123456")

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tc.want, apiErr.Message)
		})
	}
}

func TestVerify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, verifyPath, r.URL.Path)

		var body verifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, verifyRequest{Email: "jane@example.com", Token: "123456", Type: "signup"}, body)

		writeJSON(w, http.StatusOK, tokenBody("a1", "r1"))
	}))
	defer srv.Close()

	p, err := New(srv.URL, "k").Verify(context.Background(), "jane@example.com", "123456")
	require.NoError(t, err)
	assert.Equal(t, "a1", p.AccessToken)
}

func TestSignup_ConfirmationRequired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, signupPath, r.URL.Path)

		var body signupRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Jane", body.Data["name"])

		writeJSON(w, http.StatusOK, map[string]any{"id": "u9", "email": "jane@example.com"})
	}))
	defer srv.Close()

	res, err := New(srv.URL, "k").Signup(context.Background(), SignupForm{
		Email: "jane@example.com", Password: "secret1", Name: "Jane",
	})
	require.NoError(t, err)
	assert.Equal(t, "u9", res.User.ID)
	assert.Nil(t, res.Session)
}

func TestSignup_AutoConfirmed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, tokenBody("a1", "r1"))
	}))
	defer srv.Close()

	res, err := New(srv.URL, "k").Signup(context.Background(), SignupForm{Email: "jane@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, "u1", res.User.ID)
	require.NotNil(t, res.Session)
	assert.Equal(t, "a1", res.Session.AccessToken)
}

func TestSignup_Conflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"msg": "User already registered"})
	}))
	defer srv.Close()

	_, err := New(srv.URL, "k").Signup(context.Background(), SignupForm{Email: "jane@example.com", Password: "secret1"})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "User already registered", apiErr.Message)
	assert.False(t, apiErr.Unauthorized())
}
