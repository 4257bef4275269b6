// Package observe provides the assistant's observability primitives:
// OpenTelemetry metrics, tracing, trace-aware logging, and HTTP middleware.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported for
// Prometheus scraping via [InitProvider]. [DefaultMetrics] returns a
// package-level instance bound to the global meter provider; tests should use
// [NewMetrics] with their own [metric.MeterProvider].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/Klingefjord/chatgpt-telegram"

// Metrics holds all OpenTelemetry instruments for the application.
type Metrics struct {
	// BackendDuration tracks backend reply latency. Attributes: backend, status.
	BackendDuration metric.Float64Histogram

	// PollDuration tracks how long the readiness poller waited. Attribute: outcome.
	PollDuration metric.Float64Histogram

	// PollOutcomes counts poller terminations. Attribute: outcome.
	PollOutcomes metric.Int64Counter

	// Messages counts handled Telegram updates. Attributes: command, status.
	Messages metric.Int64Counter

	// Unauthorized counts updates rejected by the allow-list.
	Unauthorized metric.Int64Counter

	// RateLimited counts updates dropped by the per-user rate limiter.
	RateLimited metric.Int64Counter

	// ActiveSessions tracks the number of live assistant sessions.
	ActiveSessions metric.Int64UpDownCounter

	// Reminders counts reminder lifecycle events. Attribute: event.
	Reminders metric.Int64Counter

	// HTTPRequestDuration tracks HTTP request processing time.
	// Attributes: method, route (one of the operational routes or "other"), status.
	HTTPRequestDuration metric.Float64Histogram
}

// replyBuckets covers fast API replies up to the 90s browser poll timeout.
var replyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 90, 120,
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.BackendDuration, err = m.Float64Histogram("lydia.backend.duration",
		metric.WithDescription("Latency of backend replies."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(replyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PollDuration, err = m.Float64Histogram("lydia.poll.duration",
		metric.WithDescription("Time spent waiting for a backend to finish its reply."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(replyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PollOutcomes, err = m.Int64Counter("lydia.poll.outcomes",
		metric.WithDescription("Readiness poller terminations by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Messages, err = m.Int64Counter("lydia.messages",
		metric.WithDescription("Handled Telegram updates by command and status."),
	); err != nil {
		return nil, err
	}
	if met.Unauthorized, err = m.Int64Counter("lydia.unauthorized",
		metric.WithDescription("Updates rejected because the sender is not allow-listed."),
	); err != nil {
		return nil, err
	}
	if met.RateLimited, err = m.Int64Counter("lydia.rate_limited",
		metric.WithDescription("Updates dropped by the per-user rate limiter."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("lydia.active_sessions",
		metric.WithDescription("Number of live assistant sessions."),
	); err != nil {
		return nil, err
	}
	if met.Reminders, err = m.Int64Counter("lydia.reminders",
		metric.WithDescription("Reminder events (scheduled, fired, cancelled)."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("lydia.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, created on
// first use from [otel.GetMeterProvider]. Call it after [InitProvider] so the
// instruments bind to the exporting provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordBackend records one backend call.
func (m *Metrics) RecordBackend(ctx context.Context, backend string, d time.Duration, err error) {
	m.BackendDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(Attr("backend", backend), Attr("status", status(err))))
}

// RecordPoll records one poller run.
func (m *Metrics) RecordPoll(ctx context.Context, outcome string, d time.Duration) {
	attrs := metric.WithAttributes(Attr("outcome", outcome))
	m.PollDuration.Record(ctx, d.Seconds(), attrs)
	m.PollOutcomes.Add(ctx, 1, attrs)
}

// RecordMessage records one handled update.
func (m *Metrics) RecordMessage(ctx context.Context, command string, err error) {
	m.Messages.Add(ctx, 1,
		metric.WithAttributes(Attr("command", command), Attr("status", status(err))))
}

// RecordReminder records a reminder lifecycle event.
func (m *Metrics) RecordReminder(ctx context.Context, event string) {
	m.Reminders.Add(ctx, 1, metric.WithAttributes(Attr("event", event)))
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
