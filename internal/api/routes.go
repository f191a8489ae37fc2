package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/Roma7-7-7/spaced-review-bot/internal/config"
	"github.com/Roma7-7-7/spaced-review-bot/internal/dal"
	"github.com/Roma7-7-7/spaced-review-bot/internal/delivery"
	"github.com/Roma7-7-7/spaced-review-bot/internal/review"
)

type (
	DueSelector interface {
		GetUserDueReviews(ctx context.Context, userID string) ([]review.Item, error)
	}

	RatingProcessor interface {
		ProcessManualRating(ctx context.Context, userID, wordID string, difficulty review.Difficulty) (bool, error)
	}

	TimeoutProcessor interface {
		ProcessTimeouts(ctx context.Context, timeoutMinutes int) (int, error)
	}

	Dependencies struct {
		Repo     dal.Repository
		Selector DueSelector
		Ratings  RatingProcessor
		Reaper   TimeoutProcessor
		Defaults delivery.Defaults
		Clock    func() time.Time
		Logger   *slog.Logger
	}
)

func NewRouter(ctx context.Context, conf *config.API, deps Dependencies) http.Handler {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	e := echo.New()
	e.Validator = NewValidator()

	e.Use(middleware.RequestID())
	e.Use(loggingMiddleware(ctx, deps.Logger))
	e.Use(middleware.Recover())
	e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(conf.HTTP.RateLimit))))
	e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
		Timeout: conf.HTTP.ProcessTimeout,
	}))
	e.Use(middleware.Secure())

	e.HTTPErrorHandler = HTTPErrorHandler(deps.Logger)

	e.GET("/health", Health(conf.BuildInfo, deps.Clock))

	reviews := NewReviewsHandler(deps, conf.HTTP.MaxEvents)
	e.GET("/reviews/due", reviews.Due)
	e.POST("/reviews/items", reviews.Enroll)
	e.POST("/reviews/rate", reviews.Rate)
	e.POST("/reviews/timeouts", reviews.ProcessTimeouts)
	e.GET("/reviews/events", reviews.Events)

	profiles := NewProfilesHandler(deps.Repo, deps.Defaults, deps.Logger)
	e.GET("/profiles/:user_id", profiles.Get)
	e.PUT("/profiles/:user_id", profiles.Put)
	e.PUT("/profiles/:user_id/paused", profiles.SetPaused)

	return e
}

func loggingMiddleware(ctx context.Context, log *slog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogRequestID: true,
		LogLatency:   true,
		LogError:     true,
		HandleError:  true, // forwards error to the global error handler, so it can decide appropriate status code
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error == nil {
				log.LogAttrs(ctx, slog.LevelInfo, "REQUEST",
					slog.String("method", v.Method),
					slog.String("uri", v.URI),
					slog.Int("status", v.Status),
					slog.String("request_id", v.RequestID),
					slog.Duration("latency", v.Latency),
				)
			} else {
				log.LogAttrs(ctx, slog.LevelError, "REQUEST_ERROR",
					slog.String("method", v.Method),
					slog.String("uri", v.URI),
					slog.Int("status", v.Status),
					slog.String("request_id", v.RequestID),
					slog.String("err", v.Error.Error()),
				)
			}
			return nil
		},
	})
}
