package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Roma7-7-7/spaced-review-bot/internal/dal"
	"github.com/Roma7-7-7/spaced-review-bot/internal/review"
)

const defaultEventsLimit = 20

type (
	ReviewItem struct {
		UserID          string    `json:"user_id"`
		WordID          string    `json:"word_id"`
		State           string    `json:"state"`
		NextReviewAt    time.Time `json:"next_review_at"`
		IntervalMinutes int       `json:"interval_minutes"`
		ReviewCount     int       `json:"review_count"`
	}

	ReviewEvent struct {
		WordID     string    `json:"word_id"`
		Difficulty string    `json:"difficulty,omitempty"`
		Source     string    `json:"source"`
		ReviewedAt time.Time `json:"reviewed_at"`
	}

	UserQueryParams struct {
		UserID string `query:"user_id" validate:"required"`
	}

	EventsQueryParams struct {
		UserID string `query:"user_id" validate:"required"`
		Limit  uint64 `query:"limit" validate:"omitempty,min=1"`
	}

	EnrollRequest struct {
		UserID      string `json:"user_id" validate:"required"`
		WordID      string `json:"word_id" validate:"required"`
		Text        string `json:"text"`
		Description string `json:"description"`
	}

	RateRequest struct {
		UserID     string `json:"user_id" validate:"required"`
		WordID     string `json:"word_id" validate:"required"`
		Difficulty string `json:"difficulty" validate:"required,oneof=hard normal good easy"`
	}

	TimeoutsRequest struct {
		TimeoutMinutes int `json:"timeout_minutes" validate:"required,min=1"`
	}

	ReviewsHandler struct {
		repo      dal.Repository
		selector  DueSelector
		ratings   RatingProcessor
		reaper    TimeoutProcessor
		maxEvents uint64
		now       func() time.Time
		log       *slog.Logger
	}
)

func NewReviewsHandler(deps Dependencies, maxEvents int) *ReviewsHandler {
	return &ReviewsHandler{
		repo:      deps.Repo,
		selector:  deps.Selector,
		ratings:   deps.Ratings,
		reaper:    deps.Reaper,
		maxEvents: uint64(max(maxEvents, 1)), //nolint:gosec // positive
		now:       deps.Clock,
		log:       deps.Logger,
	}
}

// Due lists the reviews the scheduler would deliver to the user right now.
func (h *ReviewsHandler) Due(c echo.Context) error {
	var qp UserQueryParams
	if err := c.Bind(&qp); err != nil {
		h.log.DebugContext(c.Request().Context(), "failed to bind request", "error", err)
		return c.JSON(http.StatusBadRequest, BadRequestError)
	}
	if err := c.Validate(&qp); err != nil {
		return err
	}

	items, err := h.selector.GetUserDueReviews(c.Request().Context(), qp.UserID)
	if err != nil {
		h.log.ErrorContext(c.Request().Context(), "failed to get due reviews", "error", err, "user_id", qp.UserID)
		return c.JSON(http.StatusInternalServerError, InternalServerError)
	}

	view := make([]ReviewItem, len(items))
	for i, item := range items {
		view[i] = toReviewItem(item)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": view, "total": len(view)})
}

func (h *ReviewsHandler) Enroll(c echo.Context) error {
	var req EnrollRequest
	if err := c.Bind(&req); err != nil {
		h.log.DebugContext(c.Request().Context(), "failed to bind request", "error", err)
		return c.JSON(http.StatusBadRequest, BadRequestError)
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	var created bool
	err := h.repo.Transact(c.Request().Context(), func(r dal.Repository) error {
		if req.Text != "" {
			content := review.Content{WordID: req.WordID, Text: req.Text, Description: req.Description}
			if err := r.UpsertWord(c.Request().Context(), content); err != nil {
				return err
			}
		}
		var err error
		created, err = r.CreateItem(c.Request().Context(), review.NewItem(req.UserID, req.WordID, h.now()))
		return err
	})
	if err != nil {
		h.log.ErrorContext(c.Request().Context(), "failed to enroll review item", "error", err)
		return c.JSON(http.StatusInternalServerError, InternalServerError)
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.JSON(status, echo.Map{"status": "ok", "created": created})
}

// Rate applies an operator supplied rating to an item awaiting response.
// A rating that lost the race against another resolution is reported with applied=false.
func (h *ReviewsHandler) Rate(c echo.Context) error {
	var req RateRequest
	if err := c.Bind(&req); err != nil {
		h.log.DebugContext(c.Request().Context(), "failed to bind request", "error", err)
		return c.JSON(http.StatusBadRequest, BadRequestError)
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	applied, err := h.ratings.ProcessManualRating(c.Request().Context(), req.UserID, req.WordID, review.Difficulty(req.Difficulty))
	if err != nil {
		h.log.ErrorContext(c.Request().Context(), "failed to apply rating", "error", err)
		return c.JSON(http.StatusInternalServerError, InternalServerError)
	}

	return c.JSON(http.StatusOK, echo.Map{"status": "ok", "applied": applied})
}

func (h *ReviewsHandler) ProcessTimeouts(c echo.Context) error {
	var req TimeoutsRequest
	if err := c.Bind(&req); err != nil {
		h.log.DebugContext(c.Request().Context(), "failed to bind request", "error", err)
		return c.JSON(http.StatusBadRequest, BadRequestError)
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	expired, err := h.reaper.ProcessTimeouts(c.Request().Context(), req.TimeoutMinutes)
	if err != nil {
		h.log.ErrorContext(c.Request().Context(), "failed to process timeouts", "error", err)
		return c.JSON(http.StatusInternalServerError, InternalServerError)
	}

	return c.JSON(http.StatusOK, echo.Map{"status": "ok", "expired": expired})
}

func (h *ReviewsHandler) Events(c echo.Context) error {
	var qp EventsQueryParams
	if err := c.Bind(&qp); err != nil {
		h.log.DebugContext(c.Request().Context(), "failed to bind request", "error", err)
		return c.JSON(http.StatusBadRequest, BadRequestError)
	}
	if err := c.Validate(&qp); err != nil {
		return err
	}
	if qp.Limit == 0 {
		qp.Limit = defaultEventsLimit
	}

	events, err := h.repo.FindEvents(c.Request().Context(), qp.UserID, min(qp.Limit, h.maxEvents))
	if err != nil {
		h.log.ErrorContext(c.Request().Context(), "failed to find events", "error", err)
		return c.JSON(http.StatusInternalServerError, InternalServerError)
	}

	view := make([]ReviewEvent, len(events))
	for i, e := range events {
		view[i] = ReviewEvent{
			WordID:     e.WordID,
			Difficulty: string(e.Difficulty),
			Source:     string(e.Source),
			ReviewedAt: e.ReviewedAt.UTC(),
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"items": view})
}

func toReviewItem(item review.Item) ReviewItem {
	return ReviewItem{
		UserID:          item.UserID,
		WordID:          item.WordID,
		State:           item.State.String(),
		NextReviewAt:    item.NextReviewAt.UTC(),
		IntervalMinutes: item.IntervalMinutes,
		ReviewCount:     item.ReviewCount,
	}
}
