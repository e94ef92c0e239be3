package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Response is the JSON body written for every failed request.
type Response struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// HTTPErrorHandler renders *Error and *echo.HTTPError values as Response.
// Internal errors are logged with their cause and reported generically.
func HTTPErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, body := render(err)
		if status >= http.StatusInternalServerError {
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).
				Str("request_id", rid).
				Str("path", c.Request().URL.Path).
				Msg("request failed")
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(status)
		} else {
			writeErr = c.JSON(status, body)
		}
		if writeErr != nil {
			logger.Error().Err(writeErr).Msg("write error response")
		}
	}
}

func render(err error) (int, Response) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind.HTTPStatus(), Response{Error: appErr.Public(), Code: appErr.Code}
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if he.Message != nil {
			msg = fmt.Sprintf("%v", he.Message)
		}
		return he.Code, Response{Error: msg}
	}

	return http.StatusInternalServerError, Response{Error: "internal server error", Code: "internal"}
}

// StatusOf returns the HTTP status err is rendered with.
func StatusOf(err error) int {
	status, _ := render(err)
	return status
}
