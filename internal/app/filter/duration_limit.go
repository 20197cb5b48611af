package filter

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"
)

// DurationLimitConfig represents the configuration for DurationLimitFilter.
type DurationLimitConfig struct {
	MinMinutes   float64 `yaml:"min_minutes" mapstructure:"min_minutes" validate:"gte=0"`
	MaxMinutes   float64 `yaml:"max_minutes" mapstructure:"max_minutes" validate:"gte=0"` // 0 means no limit
	AllowUnknown *bool   `yaml:"allow_unknown" mapstructure:"allow_unknown" default:"true"`
}

// DurationLimitFilter checks if every item's duration is within allowed limits.
type DurationLimitFilter struct {
	config *DurationLimitConfig
}

// NewDurationLimitFilter creates a new duration limit filter.
func NewDurationLimitFilter() *DurationLimitFilter {
	return &DurationLimitFilter{}
}

func (f *DurationLimitFilter) Name() string {
	return "duration_limit_filter"
}

func (f *DurationLimitFilter) Description() string {
	return "Rejects requests containing items outside the allowed duration"
}

func (f *DurationLimitFilter) ReturnCodes() []string {
	return []string{"duration_limit_exceeded"}
}

func (f *DurationLimitFilter) ValidateConfig(settings map[string]any) error {
	var config DurationLimitConfig

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &config,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create decoder")
	}

	if err := decoder.Decode(settings); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}

	if err := defaults.Set(&config); err != nil {
		return errors.Wrap(err, "failed to set defaults")
	}

	validate := validator.New()
	if err := validate.Struct(config); err != nil {
		return errors.Wrap(err, "validation failed")
	}

	if config.MaxMinutes > 0 && config.MinMinutes > config.MaxMinutes {
		return errors.New("min_minutes cannot be greater than max_minutes")
	}
	f.config = &config
	zlog.Info().Msgf("duration limit filter config: min=%.1f max=%.1f allow_unknown=%t", config.MinMinutes, config.MaxMinutes, *config.AllowUnknown)
	return nil
}

func (f *DurationLimitFilter) Check(ctx context.Context, req Request) Result {
	if f.config == nil {
		return Accept()
	}

	for _, it := range req.Items {
		if it.Duration <= 0 {
			// Live streams and sources without metadata.
			if f.config.AllowUnknown != nil && !*f.config.AllowUnknown {
				return Reject("duration_limit_exceeded")
			}
			continue
		}

		minutes := it.Duration.Minutes()
		if minutes < f.config.MinMinutes {
			return Reject("duration_limit_exceeded")
		}
		if f.config.MaxMinutes > 0 && minutes > f.config.MaxMinutes {
			return Reject("duration_limit_exceeded")
		}
	}

	return Accept()
}

func init() {
	Register("duration_limit_filter", func() Filter {
		return NewDurationLimitFilter()
	})
}
