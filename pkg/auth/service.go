package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyuze/fyuze/pkg/authapi"
	"github.com/fyuze/fyuze/pkg/logger"
	"github.com/fyuze/fyuze/pkg/session"
)

type iAuthAPI interface {
	PasswordGrant(ctx context.Context, email, password string) (*session.Payload, error)
	Signup(ctx context.Context, form authapi.SignupForm) (*authapi.SignupResult, error)
	Verify(ctx context.Context, email, otp string) (*session.Payload, error)
}

type ISessionManager interface {
	SetTokens(ctx context.Context, p *session.Payload) error
	Logout(ctx context.Context) error
	Snapshot() session.Session
}

type SignupForm struct {
	Name            string `json:"name" validate:"required,min=2"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"password"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=Password"`
}

type Status struct {
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"user_id,omitempty"`
	ExpiresAt     int64  `json:"expires_at,omitempty"`
}

// SignupOutcome tells the caller whether a verification code is pending or
// the account is already signed in.
type SignupOutcome struct {
	UserID             string `json:"user_id,omitempty"`
	VerificationNeeded bool   `json:"verification_needed"`
}

type service struct {
	api iAuthAPI
	sm  ISessionManager
}

func NewService(api iAuthAPI, sm ISessionManager) *service {
	return &service{
		api: api,
		sm:  sm,
	}
}

func (s *service) Login(ctx context.Context, email, password string) (*Status, error) {
	email = strings.TrimSpace(email)
	if err := validateLogin(email, password); err != nil {
		return nil, err
	}

	p, err := s.api.PasswordGrant(ctx, email, password)
	if err != nil {
		logger.Log(ctx).Infof("auth: login failed for `%s`, %v", email, err)
		return nil, err
	}

	if err := s.sm.SetTokens(ctx, p); err != nil {
		logger.Log(ctx).Errorf("auth: can't save session after login, %v", err)
		return nil, err
	}
	return s.Status(), nil
}

func (s *service) Signup(ctx context.Context, form SignupForm) (*SignupOutcome, error) {
	form.Email = strings.TrimSpace(form.Email)
	if err := validateSignup(form); err != nil {
		return nil, err
	}

	res, err := s.api.Signup(ctx, authapi.SignupForm{
		Email:    form.Email,
		Password: form.Password,
		Name:     strings.TrimSpace(form.Name),
	})
	if err != nil {
		logger.Log(ctx).Infof("auth: signup failed for `%s`, %v", form.Email, err)
		return nil, err
	}

	out := &SignupOutcome{UserID: res.User.ID, VerificationNeeded: res.Session == nil}
	if res.Session != nil {
		if err := s.sm.SetTokens(ctx, res.Session); err != nil {
			return nil, fmt.Errorf("auth: can't save session after signup, %w", err)
		}
	}
	return out, nil
}

func (s *service) Verify(ctx context.Context, email, otp string) (*Status, error) {
	email = strings.TrimSpace(email)
	otp = strings.TrimSpace(otp)
	if err := validateVerify(email, otp); err != nil {
		return nil, err
	}

	p, err := s.api.Verify(ctx, email, otp)
	if err != nil {
		logger.Log(ctx).Infof("auth: verification failed for `%s`, %v", email, err)
		return nil, err
	}

	if err := s.sm.SetTokens(ctx, p); err != nil {
		logger.Log(ctx).Errorf("auth: can't save session after verification, %v", err)
		return nil, err
	}
	return s.Status(), nil
}

func (s *service) Logout(ctx context.Context) error {
	if err := s.sm.Logout(ctx); err != nil {
		logger.Log(ctx).Errorf("auth: logout failed, %v", err)
		return err
	}
	return nil
}

func (s *service) Status() *Status {
	snap := s.sm.Snapshot()
	if !snap.Valid() {
		return &Status{}
	}
	return &Status{
		Authenticated: true,
		UserID:        snap.UserID,
		ExpiresAt:     snap.ExpiresAt,
	}
}
