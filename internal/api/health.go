package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Roma7-7-7/spaced-review-bot/internal/config"
)

func Health(info config.BuildInfo, now func() time.Time) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{
			"status":     "ok",
			"version":    info.Version,
			"build_time": info.BuildTime,
			"time":       now().UTC(),
		})
	}
}
