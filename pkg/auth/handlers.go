package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/fyuze/fyuze/pkg/authapi"
	"github.com/fyuze/fyuze/pkg/common"
	"github.com/fyuze/fyuze/pkg/logger"
)

type iService interface {
	Login(ctx context.Context, email, password string) (*Status, error)
	Signup(ctx context.Context, form SignupForm) (*SignupOutcome, error)
	Verify(ctx context.Context, email, otp string) (*Status, error)
	Logout(ctx context.Context) error
	Status() *Status
}

type Handler struct {
	service iService
}

func NewHandler(s iService) *Handler {
	return &Handler{
		service: s,
	}
}

func (h Handler) LogIn(w http.ResponseWriter, r *http.Request) {
	creds := &struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}{}
	if err := common.ParseReqBody(r.Body, creds); err != nil {
		logger.Log(r.Context()).Errorf("auth: can't parse login body, %v", err)
		common.WriteMsg(w, "bad request format", http.StatusBadRequest)
		return
	}

	st, err := h.service.Login(r.Context(), creds.Email, creds.Password)
	if err != nil {
		writeErr(w, err, "Login failed")
		return
	}
	common.WriteRespJSON(w, st)
}

func (h Handler) SignUp(w http.ResponseWriter, r *http.Request) {
	form := new(SignupForm)
	if err := common.ParseReqBody(r.Body, form); err != nil {
		logger.Log(r.Context()).Errorf("auth: can't parse signup body, %v", err)
		common.WriteMsg(w, "bad request format", http.StatusBadRequest)
		return
	}

	out, err := h.service.Signup(r.Context(), *form)
	if err != nil {
		writeErr(w, err, "Signup failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	common.WriteRespJSON(w, out)
}

func (h Handler) Verify(w http.ResponseWriter, r *http.Request) {
	body := &struct {
		Email string `json:"email"`
		OTP   string `json:"otp"`
	}{}
	if err := common.ParseReqBody(r.Body, body); err != nil {
		logger.Log(r.Context()).Errorf("auth: can't parse verify body, %v", err)
		common.WriteMsg(w, "bad request format", http.StatusBadRequest)
		return
	}

	st, err := h.service.Verify(r.Context(), body.Email, body.OTP)
	if err != nil {
		writeErr(w, err, "Invalid OTP. Try again.")
		return
	}
	common.WriteRespJSON(w, st)
}

func (h Handler) LogOut(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context()); err != nil {
		common.WriteMsg(w, "user logout failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h Handler) Session(w http.ResponseWriter, r *http.Request) {
	common.WriteRespJSON(w, h.service.Status())
}

func writeErr(w http.ResponseWriter, err error, fallback string) {
	var verr *ValidationError
	var apiErr *authapi.APIError

	switch {
	case errors.As(err, &verr):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		common.WriteRespJSON(w, struct {
			Message string            `json:"message"`
			Fields  map[string]string `json:"fields"`
		}{"invalid form", verr.Fields})
	case errors.As(err, &apiErr):
		status := apiErr.Status
		if apiErr.Unauthorized() {
			status = http.StatusUnauthorized
		} else if status < 400 || status >= 500 {
			status = http.StatusBadGateway
		}
		common.WriteMsg(w, apiErr.Message, status)
	case errors.Is(err, authapi.ErrTransport):
		common.WriteMsg(w, "auth backend unavailable", http.StatusBadGateway)
	default:
		common.WriteMsg(w, fallback, http.StatusInternalServerError)
	}
}
