package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/fyuze/fyuze/pkg/logger"
	"github.com/fyuze/fyuze/pkg/metrics"
)

const (
	DefaultExpiryBuffer   = 300 * time.Second
	DefaultRefreshTimeout = 30 * time.Second

	refreshKey = "refresh"
)

// Refresher exchanges a refresh token for a new token payload.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*Payload, error)
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithExpiryBuffer(d time.Duration) Option {
	return func(m *Manager) { m.buffer = d }
}

func WithRefreshTimeout(d time.Duration) Option {
	return func(m *Manager) { m.refreshTimeout = d }
}

func WithMetrics(c *metrics.Collector) Option {
	return func(m *Manager) { m.metrics = c }
}

// WithLogoutHook registers fn to run whenever the session is cleared, by
// Logout or by a failed refresh. fn runs with the Manager locked and must not
// call back into it.
func WithLogoutHook(fn func()) Option {
	return func(m *Manager) { m.onLogout = append(m.onLogout, fn) }
}

// Manager owns the authentication session of the application. All reads
// and writes of the tokens go through it; refreshes are collapsed so that
// at most one refresh-token grant is in flight.
type Manager struct {
	mu      sync.RWMutex
	current Session
	// gen changes whenever the session is replaced from outside a refresh
	// (login, logout, failed refresh). A refresh that finishes under an
	// older gen drops its result.
	gen uint64

	store     Store
	refresher Refresher
	flight    singleflight.Group

	now            func() time.Time
	buffer         time.Duration
	refreshTimeout time.Duration
	metrics        *metrics.Collector
	onLogout       []func()
}

func NewManager(store Store, refresher Refresher, opts ...Option) *Manager {
	m := &Manager{
		store:          store,
		refresher:      refresher,
		now:            time.Now,
		buffer:         DefaultExpiryBuffer,
		refreshTimeout: DefaultRefreshTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initialize loads the stored session, if any. It makes no network calls
// and may be called more than once.
func (m *Manager) Initialize(ctx context.Context) error {
	stored, err := m.store.Load(ctx)
	switch {
	case errors.Is(err, ErrNoSession):
		return nil
	case errors.Is(err, ErrCorruptSession):
		logger.Log(ctx).Warnf("session/manager: dropping unreadable stored session, %v", err)
		if err := m.store.Clear(ctx); err != nil {
			logger.Log(ctx).Errorf("session/manager: can't clear unreadable session, %v", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("session/manager: can't load session, %w", err)
	}

	if !stored.Valid() {
		logger.Log(ctx).Warn("session/manager: stored session has no token pair, ignoring")
		return nil
	}

	m.mu.Lock()
	m.current = *stored
	m.mu.Unlock()

	logger.Log(ctx).Debugf("session/manager: restored session for user `%s`", stored.UserID)
	return nil
}

// SetTokens replaces the session with the payload of a login, verification
// or refresh exchange and persists it before returning.
func (m *Manager) SetTokens(ctx context.Context, p *Payload) error {
	if p == nil {
		return ErrEmptyPayload
	}
	sess := p.Session(m.now())

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.commitLocked(ctx, sess); err != nil {
		return err
	}
	m.gen++
	return nil
}

// IsExpired reports whether the access token is missing an expiry or is
// within the expiry buffer of it.
func (m *Manager) IsExpired() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isExpiredLocked()
}

func (m *Manager) isExpiredLocked() bool {
	if m.current.ExpiresAt == 0 {
		return true
	}
	deadline := time.Unix(m.current.ExpiresAt, 0).Add(-m.buffer)
	return !m.now().Before(deadline)
}

// RefreshAccessToken forces a refresh-token grant and returns the new
// access token. Concurrent callers share one grant. On failure the session
// is cleared and the error wraps ErrSessionExpired.
func (m *Manager) RefreshAccessToken(ctx context.Context) (string, error) {
	m.mu.RLock()
	seen := m.current.AccessToken
	m.mu.RUnlock()

	return m.refresh(ctx, seen)
}

// RefreshStale is RefreshAccessToken for a caller holding the rejected token
// stale: if the session has already moved past it, the current token is
// returned without another grant.
func (m *Manager) RefreshStale(ctx context.Context, stale string) (string, error) {
	return m.refresh(ctx, stale)
}

// GetValidAccessToken returns an access token that is not within the
// expiry buffer, refreshing first when needed.
func (m *Manager) GetValidAccessToken(ctx context.Context) (string, error) {
	m.mu.RLock()
	cur := m.current
	expired := m.isExpiredLocked()
	m.mu.RUnlock()

	if !cur.Valid() {
		return "", ErrNotAuthenticated
	}
	if !expired {
		return cur.AccessToken, nil
	}

	logger.Log(ctx).Debug("session/manager: access token expired, refreshing")
	return m.refresh(ctx, cur.AccessToken)
}

// refresh joins or starts the shared refresh. seen is the access token the
// caller considers stale; if the session already moved past it, the
// current token is returned without another grant.
func (m *Manager) refresh(ctx context.Context, seen string) (string, error) {
	ch := m.flight.DoChan(refreshKey, func() (any, error) {
		return m.doRefresh(seen)
	})

	select {
	case res := <-ch:
		if res.Shared {
			m.metrics.RecordRefreshShared()
		}
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		// the refresh itself keeps running for the other waiters
		return "", ctx.Err()
	}
}

func (m *Manager) doRefresh(seen string) (string, error) {
	// Detached from any caller: once started, a refresh runs to completion.
	ctx, cancel := context.WithTimeout(context.Background(), m.refreshTimeout)
	defer cancel()

	m.mu.RLock()
	gen := m.gen
	cur := m.current
	m.mu.RUnlock()

	if !cur.Valid() {
		return "", fmt.Errorf("%w: %w", ErrSessionExpired, ErrNotAuthenticated)
	}
	if cur.AccessToken != seen {
		return cur.AccessToken, nil
	}

	p, err := m.refresher.Refresh(ctx, cur.RefreshToken)
	if err == nil && (p == nil || p.AccessToken == "") {
		err = ErrEmptyPayload
	}
	m.metrics.RecordRefresh(err == nil)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.gen != gen {
		logger.Log(ctx).Info("session/manager: session changed during refresh, dropping refresh result")
		if m.current.Valid() {
			return m.current.AccessToken, nil
		}
		return "", ErrSessionExpired
	}

	if err != nil {
		logger.Log(ctx).Errorf("session/manager: token refresh failed, logging out, %v", err)
		m.gen++
		if clearErr := m.clearLocked(ctx); clearErr != nil {
			logger.Log(ctx).Errorf("session/manager: %v", clearErr)
		}
		m.metrics.RecordLogout("refresh_failed")
		m.runLogoutHooks()
		return "", fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}

	next := p.Session(m.now())
	// backends that do not rotate refresh tokens omit them
	if next.RefreshToken == "" {
		next.RefreshToken = cur.RefreshToken
	}
	if next.UserID == "" {
		next.UserID = cur.UserID
	}

	if err := m.commitLocked(ctx, next); err != nil {
		// the old refresh token may already be spent, keep the new pair in memory
		logger.Log(ctx).Errorf("session/manager: refreshed session not persisted, %v", err)
		m.current = next
	}
	logger.Log(ctx).Debugf("session/manager: token refreshed for user `%s`", next.UserID)
	return next.AccessToken, nil
}

func (m *Manager) UserID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.UserID
}

func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Valid()
}

// Snapshot returns a copy of the current session.
func (m *Manager) Snapshot() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Logout clears the session from memory and from the store. It is safe to
// call on an empty session.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.gen++
	err := m.clearLocked(ctx)
	m.metrics.RecordLogout("explicit")
	m.runLogoutHooks()
	return err
}

// commitLocked persists s and only then makes it current.
func (m *Manager) commitLocked(ctx context.Context, s Session) error {
	if err := m.store.Save(ctx, &s); err != nil {
		return fmt.Errorf("session/manager: can't persist session, %w", err)
	}
	m.current = s
	return nil
}

func (m *Manager) clearLocked(ctx context.Context) error {
	m.current = Session{}
	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("session/manager: can't clear stored session, %w", err)
	}
	return nil
}

func (m *Manager) runLogoutHooks() {
	for _, fn := range m.onLogout {
		fn()
	}
}
