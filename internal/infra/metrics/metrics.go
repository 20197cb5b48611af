// Package metrics records playback and resolution metrics through OpenTelemetry.
//
// Instruments are fed from two places: the notification stream (queue and
// room lifecycle) and the resolver router (resolution latency and failures).
// NewProvider bridges them to a Prometheus scrape endpoint.
package metrics

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/osa030/19voice/internal/app/notification"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/osa030/19voice"

// Metrics holds the metric instruments.
type Metrics struct {
	// ItemsQueued counts items appended to room queues.
	ItemsQueued metric.Int64Counter

	// ItemsStarted counts items that began streaming.
	ItemsStarted metric.Int64Counter

	// ItemsFinished counts items that ended, whether played out or skipped.
	ItemsFinished metric.Int64Counter

	// AdvanceFailures counts queue advances that could not start a stream.
	AdvanceFailures metric.Int64Counter

	// ActiveRooms tracks rooms with a live voice connection.
	ActiveRooms metric.Int64UpDownCounter

	// ResolveDuration tracks resolution latency. Use with attributes:
	//   attribute.String("source", ...), attribute.String("status", ...)
	ResolveDuration metric.Float64Histogram
}

// resolveBuckets are histogram boundaries in seconds. yt-dlp playlist
// extraction regularly takes several seconds.
var resolveBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30,
}

// NewMetrics creates the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ItemsQueued, err = m.Int64Counter("voice.items.queued",
		metric.WithDescription("Total items appended to room queues."),
	); err != nil {
		return nil, errors.Wrap(err, "metrics: items queued")
	}
	if met.ItemsStarted, err = m.Int64Counter("voice.items.started",
		metric.WithDescription("Total items that started streaming."),
	); err != nil {
		return nil, errors.Wrap(err, "metrics: items started")
	}
	if met.ItemsFinished, err = m.Int64Counter("voice.items.finished",
		metric.WithDescription("Total items that finished or were skipped."),
	); err != nil {
		return nil, errors.Wrap(err, "metrics: items finished")
	}
	if met.AdvanceFailures, err = m.Int64Counter("voice.advance.failures",
		metric.WithDescription("Total queue advances that failed to start a stream."),
	); err != nil {
		return nil, errors.Wrap(err, "metrics: advance failures")
	}
	if met.ActiveRooms, err = m.Int64UpDownCounter("voice.active_rooms",
		metric.WithDescription("Number of rooms with a live voice connection."),
	); err != nil {
		return nil, errors.Wrap(err, "metrics: active rooms")
	}
	if met.ResolveDuration, err = m.Float64Histogram("voice.resolve.duration",
		metric.WithDescription("Latency of media resolution by source and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(resolveBuckets...),
	); err != nil {
		return nil, errors.Wrap(err, "metrics: resolve duration")
	}

	return met, nil
}

// Send implements notification.Stream.
func (m *Metrics) Send(n *notification.Notification) error {
	ctx := context.Background()
	room := metric.WithAttributes(attribute.String("room", n.RoomID))

	switch n.Type {
	case notification.TypeRoomOpened:
		m.ActiveRooms.Add(ctx, 1)
	case notification.TypeRoomClosed:
		m.ActiveRooms.Add(ctx, -1)
	case notification.TypeItemQueued:
		m.ItemsQueued.Add(ctx, int64(n.Queued), room)
	case notification.TypeItemStarted:
		m.ItemsStarted.Add(ctx, 1, room)
	case notification.TypeItemFinished:
		m.ItemsFinished.Add(ctx, 1, room)
	case notification.TypeAdvanceFailed:
		m.AdvanceFailures.Add(ctx, 1, room)
	}
	return nil
}

// ObserveResolve records one resolution attempt.
func (m *Metrics) ObserveResolve(ctx context.Context, source string, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ResolveDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(
			attribute.String("source", source),
			attribute.String("status", status),
		),
	)
}
