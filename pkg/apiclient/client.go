package apiclient

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

// TokenSource provides bearer tokens; *session.Manager satisfies it.
type TokenSource interface {
	GetValidAccessToken(ctx context.Context) (string, error)
	// RefreshStale refreshes unless the session already moved past stale.
	RefreshStale(ctx context.Context, stale string) (string, error)
	Logout(ctx context.Context) error
}

// Request describes one backend call. Body must be re-encodable (a value,
// []byte or string, not a reader) since it may be sent twice.
type Request struct {
	Method string
	Path   string
	Query  map[string]string
	Body   any
	Result any
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.client.SetTimeout(d) }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(c *Client) { c.metrics = m }
}

// Client sends backend requests with the session's bearer token and
// recovers once from a 401 by forcing a token refresh.
type Client struct {
	client  *resty.Client
	tokens  TokenSource
	metrics *metrics.Collector
}

func New(baseURL, apiKey string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		client: resty.New().
			SetBaseURL(baseURL).
			SetHeader("Content-Type", "application/json").
			SetHeader("apikey", apiKey).
			SetTimeout(30 * time.Second),
		tokens: tokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send performs req. A 401 is retried exactly once after a forced refresh;
// a second 401 or a failed refresh ends the session and returns
// ErrUnauthorized. Other non-2xx answers come back as *StatusError, network
// failures as *TransportError.
func (c *Client) Send(ctx context.Context, req *Request) (*resty.Response, error) {
	sent := c.bearer(ctx)
	resp, err := c.do(ctx, req, sent)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode() == http.StatusUnauthorized {
		logger.Log(ctx).Infof("apiclient: %s %s got 401, refreshing token and retrying once", req.Method, req.Path)
		c.metrics.RecordAuthRetry()

		token, err := c.tokens.RefreshStale(ctx, sent)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return resp, ctxErr
			}
			c.logout(ctx)
			return resp, fmt.Errorf("%w: %w", ErrUnauthorized, err)
		}

		resp, err = c.do(ctx, req, token)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() == http.StatusUnauthorized {
			logger.Log(ctx).Errorf("apiclient: %s %s still unauthorized after refresh, logging out", req.Method, req.Path)
			c.logout(ctx)
			return resp, ErrUnauthorized
		}
	}

	if resp.IsError() {
		return resp, newStatusError(resp)
	}
	return resp, nil
}

func (c *Client) Get(ctx context.Context, path string, result any) (*resty.Response, error) {
	return c.Send(ctx, &Request{Method: http.MethodGet, Path: path, Result: result})
}

func (c *Client) Post(ctx context.Context, path string, body, result any) (*resty.Response, error) {
	return c.Send(ctx, &Request{Method: http.MethodPost, Path: path, Body: body, Result: result})
}

// bearer returns a token to attach, or "" to let the request go out
// unauthenticated and fail on the server side.
func (c *Client) bearer(ctx context.Context) string {
	token, err := c.tokens.GetValidAccessToken(ctx)
	switch {
	case errors.Is(err, session.ErrNotAuthenticated):
		logger.Log(ctx).Debug("apiclient: no session, sending request without credentials")
		return ""
	case err != nil:
		logger.Log(ctx).Warnf("apiclient: can't get access token, sending without credentials, %v", err)
		return ""
	}
	return token
}

func (c *Client) do(ctx context.Context, req *Request, token string) (*resty.Response, error) {
	r := c.client.R().SetContext(ctx)
	if token != "" {
		r.SetAuthToken(token)
	}
	if len(req.Query) > 0 {
		r.SetQueryParams(req.Query)
	}
	if req.Body != nil {
		r.SetBody(req.Body)
	}
	if req.Result != nil {
		r.SetResult(req.Result)
	}

	start := time.Now()
	resp, err := r.Execute(req.Method, req.Path)
	if err != nil {
		c.metrics.RecordUpstream(req.Method, 0, time.Since(start))
		logger.Log(ctx).Errorf("apiclient: %s %s failed, %v", req.Method, req.Path, err)
		return nil, &TransportError{Method: req.Method, Path: req.Path, Err: err}
	}
	c.metrics.RecordUpstream(req.Method, resp.StatusCode(), resp.Time())
	return resp, nil
}

func (c *Client) logout(ctx context.Context) {
	if err := c.tokens.Logout(ctx); err != nil {
		logger.Log(ctx).Errorf("apiclient: logout failed, %v", err)
	}
}
