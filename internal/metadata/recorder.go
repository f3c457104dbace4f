package metadata

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

/*
Recorder captures structured render events.
It must not:
- decide status codes
- decide whether a page is cached
- affect control flow
Events from concurrent requests interleave; no global ordering is implied.

Tenants are logged but never used as metric labels, since the tenant set is
unbounded.
*/
type Recorder struct {
	logger         zerolog.Logger
	cacheLookups   *prometheus.CounterVec
	renders        *prometheus.CounterVec
	renderDuration *prometheus.HistogramVec
	errors         *prometheus.CounterVec
}

const metricsNamespace = "storefront_ssr"

// NewRecorder creates a Recorder and registers its collectors on reg.
func NewRecorder(logger zerolog.Logger, reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		logger: logger.With().Str("component", "metadata").Logger(),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "cache",
				Name:      "lookups_total",
				Help:      "Page cache lookups by result.",
			},
			[]string{"result"},
		),
		renders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "renders_total",
				Help:      "Render sessions by terminal outcome.",
			},
			[]string{"outcome"},
		),
		renderDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "render",
				Name:      "duration_seconds",
				Help:      "Time from render start to response end.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
			},
			[]string{"outcome"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "errors_total",
				Help:      "Errors observed at the request boundary.",
			},
			[]string{"package", "cause"},
		),
	}

	for _, c := range []prometheus.Collector{r.cacheLookups, r.renders, r.renderDuration, r.errors} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Recorder) RecordCacheLookup(tenant string, key string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	r.cacheLookups.WithLabelValues(result).Inc()
	r.logger.Debug().
		Str("tenant", tenant).
		Str("cache_key", key).
		Str("result", result).
		Msg("page cache lookup")
}

func (r *Recorder) RecordRender(tenant string, url string, outcome RenderOutcome, duration time.Duration) {
	r.renders.WithLabelValues(string(outcome)).Inc()
	r.renderDuration.WithLabelValues(string(outcome)).Observe(duration.Seconds())

	event := r.logger.Info()
	if outcome != OutcomeStreamed {
		event = r.logger.Warn()
	}
	event.
		Str("tenant", tenant).
		Str("url", url).
		Str("outcome", string(outcome)).
		Dur("duration", duration).
		Msg("render finished")
}

func (r *Recorder) RecordError(
	observedAt time.Time,
	packageName string,
	action string,
	cause ErrorCause,
	errorString string,
	attrs []Attribute,
) {
	rec := ErrorRecord{
		packageName: packageName,
		action:      action,
		cause:       cause,
		errorString: errorString,
		observedAt:  observedAt,
		attrs:       attrs,
	}
	r.errors.WithLabelValues(rec.packageName, rec.cause.String()).Inc()

	event := r.logger.Error().
		Time("observed_at", rec.observedAt).
		Str("package", rec.packageName).
		Str("action", rec.action).
		Str("cause", rec.cause.String())
	for _, attr := range rec.attrs {
		event = event.Str(string(attr.Key), attr.Value)
	}
	event.Msg(rec.errorString)
}

type Sink interface {
	RecordCacheLookup(tenant string, key string, hit bool)
	RecordRender(tenant string, url string, outcome RenderOutcome, duration time.Duration)
	RecordError(
		observedAt time.Time,
		packageName string,
		action string,
		cause ErrorCause,
		details string,
		attrs []Attribute,
	)
}

var _ Sink = (*Recorder)(nil)

// NoopSink, struct that implements metadata.Sink but does nothing
// Handler (or Test) can decide whether to inject Recorder or NoopSink

type NoopSink struct{}

var _ Sink = (*NoopSink)(nil)

func (n *NoopSink) RecordCacheLookup(tenant string, key string, hit bool) {}

func (n *NoopSink) RecordRender(tenant string, url string, outcome RenderOutcome, duration time.Duration) {
}

func (n *NoopSink) RecordError(
	observedAt time.Time,
	packageName string,
	action string,
	cause ErrorCause,
	errorString string,
	attrs []Attribute,
) {
}
