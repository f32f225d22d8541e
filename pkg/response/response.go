// Package response renders the JSON envelope shared by every API endpoint:
// {success, data?, message?, errors?}.
package response

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Errors  any    `json:"errors,omitempty"`
}

// Detail is carried as echo.HTTPError.Message when an error needs
// field-level details in addition to a message.
type Detail struct {
	Message string
	Errors  any
}

func OK(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, Envelope{Success: true, Data: data})
}

func Created(c echo.Context, data any) error {
	return c.JSON(http.StatusCreated, Envelope{Success: true, Data: data})
}

func WithMessage(c echo.Context, status int, message string, data any) error {
	return c.JSON(status, Envelope{Success: true, Data: data, Message: message})
}

// Error builds an echo.HTTPError rendered by HTTPErrorHandler.
func Error(status int, message string, errs any) *echo.HTTPError {
	if errs == nil {
		return echo.NewHTTPError(status, message)
	}
	return echo.NewHTTPError(status, Detail{Message: message, Errors: errs})
}

// HTTPErrorHandler renders every error returned by a handler in the envelope.
// Errors that are not *echo.HTTPError become opaque 500s and are logged.
func HTTPErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		env := Envelope{Success: false, Message: http.StatusText(status)}

		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			switch m := he.Message.(type) {
			case string:
				env.Message = m
			case Detail:
				env.Message = m.Message
				env.Errors = m.Errors
			case error:
				env.Message = m.Error()
			case nil:
				env.Message = http.StatusText(status)
			default:
				env.Message = fmt.Sprint(m)
			}
			if he.Internal != nil {
				logger.Debug().Err(he.Internal).Int("status", status).Msg("request failed")
			}
		} else {
			logger.Error().Err(err).
				Str("method", c.Request().Method).
				Str("path", c.Request().URL.Path).
				Msg("unhandled error")
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(status)
		} else {
			werr = c.JSON(status, env)
		}
		if werr != nil {
			logger.Error().Err(werr).Msg("failed to write error response")
		}
	}
}
