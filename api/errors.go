package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

// ErrResponse is the JSON body of every failed request
type ErrResponse struct {
	Err            error `json:"-"`
	HTTPStatusCode int   `json:"-"`

	StatusText string `json:"status"`
	ErrorText  string `json:"error,omitempty"`
}

func (e *ErrResponse) Render(_ http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

func (e *ErrResponse) Error() string {
	return e.ErrorText
}

var ErrUnavailable = &ErrResponse{
	Err:            errors.New("motor controller not initialized"),
	HTTPStatusCode: http.StatusServiceUnavailable,
	StatusText:     http.StatusText(http.StatusServiceUnavailable),
	ErrorText:      "motor controller not initialized",
}

func ErrInvalidRequest(err error) *ErrResponse {
	return &ErrResponse{
		Err:            err,
		HTTPStatusCode: http.StatusBadRequest,
		StatusText:     http.StatusText(http.StatusBadRequest),
		ErrorText:      err.Error(),
	}
}

func ErrTooLarge(limit int64) *ErrResponse {
	return &ErrResponse{
		Err:            fmt.Errorf("request body larger than %d bytes", limit),
		HTTPStatusCode: http.StatusRequestEntityTooLarge,
		StatusText:     http.StatusText(http.StatusRequestEntityTooLarge),
		ErrorText:      fmt.Sprintf("request body larger than %d bytes", limit),
	}
}
