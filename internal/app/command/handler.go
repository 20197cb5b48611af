// Package command turns inbound play and skip commands into playback operations.
package command

import (
	"context"
	"strings"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19voice/internal/app/filter"
	"github.com/osa030/19voice/internal/app/playback"
	"github.com/osa030/19voice/internal/domain/item"
	"github.com/osa030/19voice/internal/domain/outcome"
)

// CodeRateLimited is the rejection code for users over their command rate.
const CodeRateLimited = "rate_limited"

// Kind is the type of an inbound command.
type Kind int

const (
	KindPlay Kind = iota
	KindSkip
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindPlay:
		return "play"
	case KindSkip:
		return "skip"
	default:
		return "unknown"
	}
}

// Request is one inbound command.
type Request struct {
	Kind      Kind
	RoomID    string // Empty when issued outside a room (e.g. a direct message)
	UserID    string
	UserName  string
	AvatarURL string
	Argument  string // Raw play argument: a URL or search terms
	ChannelID string // Text channel the command came from
}

// Resolver turns a raw argument into playable items.
type Resolver interface {
	Resolve(ctx context.Context, raw string) (item.Resolution, error)
}

// DestinationResolver locates the voice destination of a user within a room.
type DestinationResolver interface {
	VoiceDestination(roomID, userID string) (string, bool)
}

// Player is the playback surface commands drive.
type Player interface {
	Enqueue(ctx context.Context, req playback.EnqueueRequest) (int, error)
	Skip(roomID string) (item.Item, error)
}

// Handler handles play and skip commands.
type Handler struct {
	player       Player
	resolver     Resolver
	destinations DestinationResolver
	chain        *filter.Chain
	limiter      *RateLimiter
}

// NewHandler creates a command handler. chain and limiter are optional.
func NewHandler(player Player, resolver Resolver, destinations DestinationResolver, chain *filter.Chain, limiter *RateLimiter) *Handler {
	if chain == nil {
		chain = filter.NewChain()
	}
	return &Handler{
		player:       player,
		resolver:     resolver,
		destinations: destinations,
		chain:        chain,
		limiter:      limiter,
	}
}

// Play resolves req.Argument and appends the result to the room's queue.
// All resolved items are appended, or none are.
func (h *Handler) Play(ctx context.Context, req Request) (outcome.Enqueued, error) {
	zlog.Info().Msgf("Play requested: room=%s user=%s arg=%s", req.RoomID, req.UserID, req.Argument)

	if req.RoomID == "" {
		return outcome.Enqueued{}, outcome.New(outcome.KindNoRoom)
	}
	arg := strings.TrimSpace(req.Argument)
	if arg == "" {
		return outcome.Enqueued{}, outcome.New(outcome.KindMissingArgument)
	}
	destination, ok := h.destinations.VoiceDestination(req.RoomID, req.UserID)
	if !ok {
		return outcome.Enqueued{}, outcome.New(outcome.KindNoDestination)
	}
	if !h.allow(req.UserID) {
		return outcome.Enqueued{}, outcome.Rejected(CodeRateLimited)
	}

	res, err := h.resolver.Resolve(ctx, arg)
	if err != nil {
		if outcome.KindOf(err) != outcome.KindResolutionFailed {
			err = outcome.ResolutionFailed(arg, err)
		}
		return outcome.Enqueued{}, err
	}
	res = res.WithRequester(item.Requester{
		UserID:    req.UserID,
		Name:      req.UserName,
		AvatarURL: req.AvatarURL,
	})

	items := res.Items()
	position, err := h.player.Enqueue(ctx, playback.EnqueueRequest{
		RoomID:      req.RoomID,
		Destination: destination,
		Items:       items,
		Admit: func(room playback.Snapshot) error {
			result := h.chain.Execute(ctx, filter.Request{
				RoomID: req.RoomID,
				UserID: req.UserID,
				Items:  items,
				Room:   room,
			})
			if !result.Accepted {
				return outcome.Rejected(result.Code)
			}
			return nil
		},
	})
	if err != nil {
		if outcome.KindOf(err) == outcome.KindInternal {
			zlog.Error().Msgf("Enqueue failed: room=%s err=%+v", req.RoomID, err)
		}
		return outcome.Enqueued{}, err
	}

	return outcome.Enqueued{Position: position, Resolution: res}, nil
}

// Skip stops the item playing in req.RoomID.
func (h *Handler) Skip(ctx context.Context, req Request) (item.Item, error) {
	zlog.Info().Msgf("Skip requested: room=%s user=%s", req.RoomID, req.UserID)

	if req.RoomID == "" {
		return item.Item{}, outcome.New(outcome.KindNoRoom)
	}
	if !h.allow(req.UserID) {
		return item.Item{}, outcome.Rejected(CodeRateLimited)
	}
	return h.player.Skip(req.RoomID)
}

func (h *Handler) allow(userID string) bool {
	if h.limiter == nil {
		return true
	}
	return h.limiter.Allow(userID)
}
