package filter

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"
)

// QueueLimitConfig represents the configuration for QueueLimitFilter.
type QueueLimitConfig struct {
	MaxPending int `yaml:"max_pending" mapstructure:"max_pending" default:"200" validate:"gte=1"`
	MaxPerUser int `yaml:"max_per_user" mapstructure:"max_per_user" validate:"gte=0"` // 0 means no limit
}

// QueueLimitFilter caps the pending queue of a room, overall and per user.
type QueueLimitFilter struct {
	config *QueueLimitConfig
}

// NewQueueLimitFilter creates a new queue limit filter.
func NewQueueLimitFilter() *QueueLimitFilter {
	return &QueueLimitFilter{}
}

func (f *QueueLimitFilter) Name() string {
	return "queue_limit_filter"
}

func (f *QueueLimitFilter) Description() string {
	return "Rejects requests that would grow the room queue past its limits"
}

func (f *QueueLimitFilter) ReturnCodes() []string {
	return []string{"queue_limit_exceeded", "user_limit_exceeded"}
}

func (f *QueueLimitFilter) ValidateConfig(settings map[string]any) error {
	var config QueueLimitConfig

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

	if err := validator.New().Struct(config); err != nil {
		return errors.Wrap(err, "validation failed")
	}

	f.config = &config
	zlog.Info().Msgf("queue limit filter config: max_pending=%d max_per_user=%d", config.MaxPending, config.MaxPerUser)
	return nil
}

func (f *QueueLimitFilter) Check(ctx context.Context, req Request) Result {
	if f.config == nil {
		return Accept()
	}

	if len(req.Room.Pending)+len(req.Items) > f.config.MaxPending {
		return Reject("queue_limit_exceeded")
	}

	if f.config.MaxPerUser > 0 {
		owned := 0
		for _, it := range req.Room.Pending {
			if it.Requester.UserID == req.UserID {
				owned++
			}
		}
		if owned+len(req.Items) > f.config.MaxPerUser {
			return Reject("user_limit_exceeded")
		}
	}

	return Accept()
}

func init() {
	Register("queue_limit_filter", func() Filter {
		return NewQueueLimitFilter()
	})
}
