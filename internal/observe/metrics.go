// Package observe provides the daemon's OpenTelemetry metric instruments and
// the Prometheus bridge that serves them on /metrics.
//
// Components receive a *Metrics and record through its helpers. A nil
// *Metrics is valid and records nothing, so tests may omit it.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all daemon metrics.
const meterName = "github.com/vzahanych/view-guard-meta/edge/livedetect"

// Frame drop reasons.
const (
	DropStale    = "stale"
	DropBusy     = "busy"
	DropNotReady = "not_ready"
	DropNoSink   = "no_sink"
	DropDraw     = "draw_failed"
)

// Metrics holds all OpenTelemetry metric instruments for the daemon.
type Metrics struct {
	// FramesReceived counts frames delivered by camera sessions.
	FramesReceived metric.Int64Counter

	// FramesSubmitted counts frames handed to an inference context.
	FramesSubmitted metric.Int64Counter

	// FramesDrawn counts annotated frames drawn to a sink.
	FramesDrawn metric.Int64Counter

	// FramesDropped counts dropped frames. Use with attribute:
	//   attribute.String("reason", ...)
	FramesDropped metric.Int64Counter

	// InferenceErrors counts failed submits.
	InferenceErrors metric.Int64Counter

	// Reconfigurations counts SetConfig attempts. Use with attribute:
	//   attribute.String("outcome", ...)
	Reconfigurations metric.Int64Counter

	// InferenceDuration tracks submit latency as seen by the controller.
	InferenceDuration metric.Float64Histogram

	// LiveContexts tracks the number of published inference contexts.
	LiveContexts metric.Int64UpDownCounter

	// StreamViewers tracks connected MJPEG viewers.
	StreamViewers metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// single-frame detection latency.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// NewMetrics creates a fully initialised Metrics struct using the given
// MeterProvider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesReceived, err = m.Int64Counter("livedetect.frames.received",
		metric.WithDescription("Frames delivered by camera sessions."),
	); err != nil {
		return nil, err
	}
	if met.FramesSubmitted, err = m.Int64Counter("livedetect.frames.submitted",
		metric.WithDescription("Frames submitted to an inference context."),
	); err != nil {
		return nil, err
	}
	if met.FramesDrawn, err = m.Int64Counter("livedetect.frames.drawn",
		metric.WithDescription("Annotated frames drawn to the surface sink."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("livedetect.frames.dropped",
		metric.WithDescription("Frames dropped by reason."),
	); err != nil {
		return nil, err
	}
	if met.InferenceErrors, err = m.Int64Counter("livedetect.inference.errors",
		metric.WithDescription("Failed inference submits."),
	); err != nil {
		return nil, err
	}
	if met.Reconfigurations, err = m.Int64Counter("livedetect.session.reconfigurations",
		metric.WithDescription("Session reconfigurations by outcome."),
	); err != nil {
		return nil, err
	}
	if met.InferenceDuration, err = m.Float64Histogram("livedetect.inference.duration",
		metric.WithDescription("Latency of a single frame submit."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LiveContexts, err = m.Int64UpDownCounter("livedetect.inference.live_contexts",
		metric.WithDescription("Number of published inference contexts."),
	); err != nil {
		return nil, err
	}
	if met.StreamViewers, err = m.Int64UpDownCounter("livedetect.stream.viewers",
		metric.WithDescription("Number of connected MJPEG viewers."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// RecordFrameReceived increments the received frame counter.
func (m *Metrics) RecordFrameReceived(ctx context.Context) {
	if m == nil {
		return
	}
	m.FramesReceived.Add(ctx, 1)
}

// RecordFrameDropped increments the dropped frame counter for reason.
func (m *Metrics) RecordFrameDropped(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.FramesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordSubmit records one submit and its latency. Failed submits also
// increment the error counter.
func (m *Metrics) RecordSubmit(ctx context.Context, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.FramesSubmitted.Add(ctx, 1)
	m.InferenceDuration.Record(ctx, d.Seconds())
	if err != nil {
		m.InferenceErrors.Add(ctx, 1)
	}
}

// RecordFrameDrawn increments the drawn frame counter.
func (m *Metrics) RecordFrameDrawn(ctx context.Context) {
	if m == nil {
		return
	}
	m.FramesDrawn.Add(ctx, 1)
}

// RecordReconfiguration increments the reconfiguration counter for outcome.
func (m *Metrics) RecordReconfiguration(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.Reconfigurations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// AddLiveContexts adjusts the live context gauge.
func (m *Metrics) AddLiveContexts(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.LiveContexts.Add(ctx, delta)
}

// AddStreamViewers adjusts the viewer gauge.
func (m *Metrics) AddStreamViewers(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.StreamViewers.Add(ctx, delta)
}
