package config

import (
	"context"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type (
	HTTP struct {
		ProcessTimeout time.Duration `envconfig:"PROCESS_TIMEOUT" default:"10s"`
		RateLimit      float64       `envconfig:"RATE_LIMIT" default:"25"`
		MaxEvents      int           `envconfig:"MAX_EVENTS" default:"100"`
	}

	Server struct {
		ReadHeaderTimeout time.Duration `envconfig:"READ_HEADER_TIMEOUT" default:"10s"`
		Addr              string        `envconfig:"ADDR" default:":8080"`
	}

	BuildInfo struct {
		Version   string `ignored:"true"`
		BuildTime string `ignored:"true"`
	}

	API struct {
		Dev       bool `envconfig:"DEV" default:"false"`
		DB        DB
		HTTP      HTTP
		Server    Server
		Profile   Profile
		BuildInfo BuildInfo
	}
)

func NewAPI(ctx context.Context) (API, error) {
	return newAPI(ctx, FetchAWSParams)
}

func newAPI(ctx context.Context, fetch ParamsFetcher) (API, error) {
	if err := loadDotEnv(); err != nil {
		return API{}, err
	}

	var res API
	if err := envconfig.Process("API", &res); err != nil {
		return API{}, fmt.Errorf("parse api environment: %w", err)
	}

	if !res.Dev {
		params, err := fetch(ctx, ssmPrefix+"db-url")
		if err != nil {
			return API{}, fmt.Errorf("get parameters: %w", err)
		}
		res.DB.URL = params[ssmPrefix+"db-url"]
	}

	errs := validateDB(res.DB)
	if res.HTTP.ProcessTimeout <= 0 {
		errs = append(errs, "process timeout must be positive")
	}
	if res.HTTP.RateLimit <= 0 {
		errs = append(errs, "rate limit must be positive")
	}
	if res.HTTP.MaxEvents <= 0 {
		errs = append(errs, fmt.Sprintf("max events %d must be positive", res.HTTP.MaxEvents))
	}
	errs = append(errs, validateProfile(res.Profile)...)
	if err := joinErrors(errs); err != nil {
		return API{}, err
	}

	return res, nil
}
