package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
)

// ErrUnauthorized means the backend kept rejecting the session after the
// single refresh-and-retry; the session has been cleared.
var ErrUnauthorized = errors.New("apiclient: unauthorized")

type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("apiclient: %s %s: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("apiclient: backend returned %d: %s", e.Status, e.Message)
}

func newStatusError(resp *resty.Response) *StatusError {
	e := &StatusError{Status: resp.StatusCode(), Message: http.StatusText(resp.StatusCode())}

	var body struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		Msg              string `json:"msg"`
		Message          string `json:"message"`
	}
	if json.Unmarshal(resp.Body(), &body) == nil {
		for _, m := range []string{body.ErrorDescription, body.Msg, body.Message, body.Error} {
			if m != "" {
				e.Message = m
				break
			}
		}
	}
	return e
}
