package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

type ErrorResponse struct {
	Message string `json:"error"`
}

var (
	InternalServerError = ErrorResponse{"Internal server error"} //nolint:gochecknoglobals // this is a constant response for internal server error
	BadRequestError     = ErrorResponse{"Bad request"}           //nolint:gochecknoglobals // this is a constant response for bad request
)

func HTTPErrorHandler(log *slog.Logger) func(err error, c echo.Context) {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		ctx := c.Request().Context()

		var echoError *echo.HTTPError
		if !errors.As(err, &echoError) {
			log.ErrorContext(ctx, "failed to process request", "error", err)
			writeError(c, log, http.StatusInternalServerError, InternalServerError)
			return
		}

		if echoError.Code >= http.StatusInternalServerError {
			log.ErrorContext(ctx, "failed to process request", "error", err)
		} else {
			log.DebugContext(ctx, "request rejected", "error", err)
		}

		message, ok := echoError.Message.(string)
		if !ok || message == "" || echoError.Code == http.StatusInternalServerError {
			message = http.StatusText(echoError.Code)
			if echoError.Code == http.StatusInternalServerError || message == "" {
				message = InternalServerError.Message
			}
		}
		writeError(c, log, echoError.Code, ErrorResponse{Message: message})
	}
}

func writeError(c echo.Context, log *slog.Logger, code int, resp ErrorResponse) {
	var err error
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, resp)
	}
	if err != nil {
		log.ErrorContext(c.Request().Context(), "failed to write error response", "error", err)
	}
}
