package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
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

// sumFor returns the value of the int64 sum data point carrying key=value.
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	t.Fatalf("metric %q has no point with %s=%s", name, key, value)
	return 0
}

func TestRecordPoll(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordPoll(ctx, "ready", 2*time.Second)
	m.RecordPoll(ctx, "ready", time.Second)
	m.RecordPoll(ctx, "timed_out", 90*time.Second)

	rm := collect(t, reader)
	if got := sumFor(t, rm, "lydia.poll.outcomes", "outcome", "ready"); got != 2 {
		t.Errorf("ready outcomes = %d, want 2", got)
	}
	if got := sumFor(t, rm, "lydia.poll.outcomes", "outcome", "timed_out"); got != 1 {
		t.Errorf("timed_out outcomes = %d, want 1", got)
	}

	hist, ok := findMetric(rm, "lydia.poll.duration").Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("lydia.poll.duration is not a histogram")
	}
	var total uint64
	for _, dp := range hist.DataPoints {
		total += dp.Count
	}
	if total != 3 {
		t.Errorf("poll duration samples = %d, want 3", total)
	}
}

func TestRecordMessageAndBackend(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordMessage(ctx, "browse", nil)
	m.RecordMessage(ctx, "browse", errors.New("boom"))
	m.RecordMessage(ctx, "text", nil)
	m.RecordBackend(ctx, "completion", 300*time.Millisecond, nil)

	rm := collect(t, reader)
	if got := sumFor(t, rm, "lydia.messages", "status", "error"); got != 1 {
		t.Errorf("error messages = %d, want 1", got)
	}
	if got := sumFor(t, rm, "lydia.messages", "command", "text"); got != 1 {
		t.Errorf("text messages = %d, want 1", got)
	}
	if findMetric(rm, "lydia.backend.duration") == nil {
		t.Error("lydia.backend.duration not recorded")
	}
}

func TestCountersAndGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.Unauthorized.Add(ctx, 1)
	m.RateLimited.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)
	m.RecordReminder(ctx, "scheduled")
	m.RecordReminder(ctx, "fired")

	rm := collect(t, reader)

	for name, want := range map[string]int64{
		"lydia.unauthorized":    1,
		"lydia.rate_limited":    1,
		"lydia.active_sessions": 1,
	} {
		met := findMetric(rm, name)
		if met == nil {
			t.Fatalf("metric %q not found", name)
		}
		sum, ok := met.Data.(metricdata.Sum[int64])
		if !ok || len(sum.DataPoints) == 0 {
			t.Fatalf("metric %q has no sum data", name)
		}
		if got := sum.DataPoints[0].Value; got != want {
			t.Errorf("%s = %d, want %d", name, got, want)
		}
	}
	if got := sumFor(t, rm, "lydia.reminders", "event", "fired"); got != 1 {
		t.Errorf("fired reminders = %d, want 1", got)
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.HTTPRequestDuration.Record(context.Background(), 0.05,
		metric.WithAttributes(attribute.String("method", "GET"), attribute.String("path", "/healthz")))

	rm := collect(t, reader)
	met := findMetric(rm, "lydia.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) == 0 {
		t.Fatal("no histogram data")
	}
	if got := hist.DataPoints[0].Count; got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different pointers")
	}
}
