package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Roma7-7-7/spaced-review-bot/internal/dal"
	"github.com/Roma7-7-7/spaced-review-bot/internal/delivery"
	"github.com/Roma7-7-7/spaced-review-bot/internal/review"
)

type (
	ProfileParams struct {
		UserID string `param:"user_id" validate:"required"`
	}

	Profile struct {
		UserID      string `param:"user_id" json:"user_id" validate:"required"`
		Timezone    string `json:"timezone" validate:"required,timezone"`
		WindowStart string `json:"window_start" validate:"required,datetime=15:04"`
		WindowEnd   string `json:"window_end" validate:"required,datetime=15:04"`
		DailyLimit  int    `json:"daily_limit" validate:"min=0"`
		Paused      bool   `json:"paused"`
		Default     bool   `json:"default,omitempty"`
	}

	PausedRequest struct {
		UserID string `param:"user_id" validate:"required"`
		Paused bool   `json:"paused"`
	}

	ProfilesHandler struct {
		repo     dal.ProfilesRepository
		defaults delivery.Defaults
		log      *slog.Logger
	}
)

func NewProfilesHandler(repo dal.ProfilesRepository, defaults delivery.Defaults, log *slog.Logger) *ProfilesHandler {
	return &ProfilesHandler{
		repo:     repo,
		defaults: defaults,
		log:      log,
	}
}

// Get returns the stored profile or the defaults applied to users without one.
func (h *ProfilesHandler) Get(c echo.Context) error {
	var p ProfileParams
	if err := c.Bind(&p); err != nil {
		h.log.DebugContext(c.Request().Context(), "failed to bind request", "error", err)
		return c.JSON(http.StatusBadRequest, BadRequestError)
	}
	if err := c.Validate(&p); err != nil {
		return err
	}

	stored, err := h.repo.FindProfile(c.Request().Context(), p.UserID)
	if errors.Is(err, dal.ErrNotFound) {
		view := toProfile(h.defaults.Profile(p.UserID))
		view.Default = true
		return c.JSON(http.StatusOK, view)
	}
	if err != nil {
		h.log.ErrorContext(c.Request().Context(), "failed to find profile", "error", err)
		return c.JSON(http.StatusInternalServerError, InternalServerError)
	}

	return c.JSON(http.StatusOK, toProfile(*stored))
}

func (h *ProfilesHandler) Put(c echo.Context) error {
	var req Profile
	if err := c.Bind(&req); err != nil {
		h.log.DebugContext(c.Request().Context(), "failed to bind request", "error", err)
		return c.JSON(http.StatusBadRequest, BadRequestError)
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	p := review.Profile{
		UserID:      req.UserID,
		Timezone:    req.Timezone,
		WindowStart: req.WindowStart,
		WindowEnd:   req.WindowEnd,
		DailyLimit:  req.DailyLimit,
		Paused:      req.Paused,
	}
	if err := p.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := h.repo.UpsertProfile(c.Request().Context(), p); err != nil {
		h.log.ErrorContext(c.Request().Context(), "failed to upsert profile", "error", err)
		return c.JSON(http.StatusInternalServerError, InternalServerError)
	}

	return c.JSON(http.StatusOK, toProfile(p))
}

func (h *ProfilesHandler) SetPaused(c echo.Context) error {
	var req PausedRequest
	if err := c.Bind(&req); err != nil {
		h.log.DebugContext(c.Request().Context(), "failed to bind request", "error", err)
		return c.JSON(http.StatusBadRequest, BadRequestError)
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	if err := delivery.SetPaused(c.Request().Context(), h.repo, h.defaults, req.UserID, req.Paused); err != nil {
		h.log.ErrorContext(c.Request().Context(), "failed to set paused", "error", err)
		return c.JSON(http.StatusInternalServerError, InternalServerError)
	}

	return c.JSON(http.StatusOK, echo.Map{"status": "ok", "paused": req.Paused})
}

func toProfile(p review.Profile) Profile {
	return Profile{
		UserID:      p.UserID,
		Timezone:    p.Timezone,
		WindowStart: p.WindowStart,
		WindowEnd:   p.WindowEnd,
		DailyLimit:  p.DailyLimit,
		Paused:      p.Paused,
	}
}
