package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/osa030/19voice/internal/app/notification"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	require.NoError(t, err)
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumOf(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	m := findMetric(rm, name)
	require.NotNil(t, m, "metric %s not found", name)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", name)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetrics_Send(t *testing.T) {
	m, reader := newTestMetrics(t)

	for _, n := range []*notification.Notification{
		{Type: "room_opened", RoomID: "g1"},
		{Type: "item_queued", RoomID: "g1", Queued: 3},
		{Type: "item_started", RoomID: "g1"},
		{Type: "item_finished", RoomID: "g1"},
		{Type: "advance_failed", RoomID: "g1"},
		{Type: "item_started", RoomID: "g1"},
		{Type: "room_opened", RoomID: "g2"},
		{Type: "room_closed", RoomID: "g1"},
	} {
		require.NoError(t, m.Send(n))
	}

	rm := collect(t, reader)
	assert.Equal(t, int64(3), sumOf(t, rm, "voice.items.queued"))
	assert.Equal(t, int64(2), sumOf(t, rm, "voice.items.started"))
	assert.Equal(t, int64(1), sumOf(t, rm, "voice.items.finished"))
	assert.Equal(t, int64(1), sumOf(t, rm, "voice.advance.failures"))
	assert.Equal(t, int64(1), sumOf(t, rm, "voice.active_rooms"))
}

func TestMetrics_ObserveResolve(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ObserveResolve(ctx, "search", 300*time.Millisecond, nil)
	m.ObserveResolve(ctx, "search", 2*time.Second, nil)
	m.ObserveResolve(ctx, "spotify", time.Second, errors.New("not found"))

	rm := collect(t, reader)
	found := findMetric(rm, "voice.resolve.duration")
	require.NotNil(t, found)
	hist, ok := found.Data.(metricdata.Histogram[float64])
	require.True(t, ok)

	counts := map[string]uint64{}
	for _, dp := range hist.DataPoints {
		source, _ := dp.Attributes.Value("source")
		status, _ := dp.Attributes.Value("status")
		counts[source.AsString()+"/"+status.AsString()] += dp.Count
	}
	assert.Equal(t, map[string]uint64{"search/ok": 2, "spotify/error": 1}, counts)
}

func TestProvider_Handler(t *testing.T) {
	p, err := NewProvider("19voice-test", "dev")
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	m, err := NewMetrics(p.MeterProvider)
	require.NoError(t, err)
	require.NoError(t, m.Send(&notification.Notification{Type: "item_started", RoomID: "g1"}))

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), "voice_items_started")
}
