package authapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/fyuze/fyuze/pkg/logger"
	"github.com/fyuze/fyuze/pkg/metrics"
	"github.com/fyuze/fyuze/pkg/session"
)

const (
	tokenPath  = "/auth/v1/token"
	signupPath = "/auth/v1/signup"
	verifyPath = "/auth/v1/verify"
)

var ErrTransport = errors.New("authapi: transport failure")

// APIError is a non-2xx answer of the auth backend. Message is meant for
// display.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("authapi: %s (status %d)", e.Message, e.Status)
}

// Unauthorized reports whether the backend rejected the credentials or the
// refresh token rather than failing on its own.
func (e *APIError) Unauthorized() bool {
	return e.Status == http.StatusBadRequest || e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

type errorBody struct {
	Error            string `json:"error"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

func (b *errorBody) message(fallback string) string {
	switch {
	case b.ErrorDescription != "":
		return b.ErrorDescription
	case b.Msg != "":
		return b.Msg
	case b.Message != "":
		return b.Message
	case b.Error != "":
		return b.Error
	}
	return fallback
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.client.SetTimeout(d) }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(c *Client) { c.metrics = m }
}

// Client talks to the hosted auth backend. It implements session.Refresher.
type Client struct {
	client  *resty.Client
	metrics *metrics.Collector
}

func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		client: resty.New().
			SetBaseURL(baseURL).
			SetHeader("Content-Type", "application/json").
			SetHeader("apikey", apiKey).
			SetTimeout(30 * time.Second),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type passwordGrant struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshGrant struct {
	RefreshToken string `json:"refresh_token"`
}

func (c *Client) PasswordGrant(ctx context.Context, email, password string) (*session.Payload, error) {
	return c.grant(ctx, "password", passwordGrant{Email: email, Password: password}, "Login failed")
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (*session.Payload, error) {
	return c.grant(ctx, "refresh_token", refreshGrant{RefreshToken: refreshToken}, "Token refresh failed")
}

func (c *Client) grant(ctx context.Context, grantType string, body any, fallback string) (*session.Payload, error) {
	payload := new(session.Payload)
	errBody := new(errorBody)

	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("grant_type", grantType).
		SetBody(body).
		SetResult(payload).
		SetError(errBody).
		Post(tokenPath)
	c.observe(resp, err)
	if err != nil {
		logger.Log(ctx).Errorf("authapi: %s grant request failed, %v", grantType, err)
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if resp.IsError() {
		apiErr := &APIError{Status: resp.StatusCode(), Code: errBody.ErrorCode, Message: errBody.message(fallback)}
		logger.Log(ctx).Infof("authapi: %s grant rejected, %v", grantType, apiErr)
		return nil, apiErr
	}
	return payload, nil
}

type SignupForm struct {
	Email    string
	Password string
	Name     string
}

type signupRequest struct {
	Email    string            `json:"email"`
	Password string            `json:"password"`
	Data     map[string]string `json:"data,omitempty"`
}

// SignupResult carries the created user. Session is set only when the
// backend confirmed the account right away and issued tokens.
type SignupResult struct {
	User    session.User
	Session *session.Payload
}

type signupResponse struct {
	session.Payload
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (c *Client) Signup(ctx context.Context, form SignupForm) (*SignupResult, error) {
	req := signupRequest{Email: form.Email, Password: form.Password}
	if form.Name != "" {
		req.Data = map[string]string{"name": form.Name}
	}

	out := new(signupResponse)
	errBody := new(errorBody)
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(out).
		SetError(errBody).
		Post(signupPath)
	c.observe(resp, err)
	if err != nil {
		logger.Log(ctx).Errorf("authapi: signup request failed, %v", err)
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if resp.IsError() {
		return nil, &APIError{Status: resp.StatusCode(), Code: errBody.ErrorCode, Message: errBody.message("Signup failed")}
	}

	res := &SignupResult{User: session.User{ID: out.ID, Email: out.Email}}
	if out.Payload.User != nil {
		res.User = *out.Payload.User
	}
	if out.AccessToken != "" && out.RefreshToken != "" {
		p := out.Payload
		res.Session = &p
	}
	return res, nil
}

type verifyRequest struct {
	Email string `json:"email"`
	Token string `json:"token"`
	Type  string `json:"type"`
}

// Verify exchanges the one-time signup code for a session.
func (c *Client) Verify(ctx context.Context, email, otp string) (*session.Payload, error) {
	payload := new(session.Payload)
	errBody := new(errorBody)

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(verifyRequest{Email: email, Token: otp, Type: "signup"}).
		SetResult(payload).
		SetError(errBody).
		Post(verifyPath)
	c.observe(resp, err)
	if err != nil {
		logger.Log(ctx).Errorf("authapi: verify request failed, %v", err)
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if resp.IsError() {
		return nil, &APIError{Status: resp.StatusCode(), Code: errBody.ErrorCode, Message: errBody.message("Verification failed")}
	}
	return payload, nil
}

func (c *Client) observe(resp *resty.Response, err error) {
	if c.metrics == nil || resp == nil || resp.Request == nil {
		return
	}
	status := 0
	if err == nil {
		status = resp.StatusCode()
	}
	c.metrics.RecordUpstream(resp.Request.Method, status, resp.Time())
}
