package outreach

import (
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/sentbridge/outreach/policy"
	"github.com/sentbridge/outreach/service/browser"
	"github.com/sentbridge/outreach/service/dispatch"
	"github.com/sentbridge/outreach/service/notify"
	"github.com/sentbridge/outreach/tracing"
)

// Option customises engine assembly.
type Option func(s *Service)

// WithConfig sets the engine configuration. Absent this option the defaults
// from LoadConfig apply.
func WithConfig(config *Config) Option {
	return func(s *Service) { s.config = config }
}

// WithRunner sets the browser-automation collaborator. Required.
func WithRunner(runner browser.Service) Option {
	return func(s *Service) { s.runner = runner }
}

// WithNotifier sets the operator alerting collaborator. Absent this option
// notifications go to the log.
func WithNotifier(notifier notify.Notifier) Option {
	return func(s *Service) { s.notifier = notifier }
}

// WithAdapter registers a channel adapter with the dispatcher.
func WithAdapter(channel string, adapter dispatch.ChannelAdapter) Option {
	return func(s *Service) { s.adapters[channel] = adapter }
}

// WithPolicyGate sets a pre-built dispatch gate, replacing the one assembled
// from configuration and the do-not-contact set.
func WithPolicyGate(gate *policy.Gate) Option {
	return func(s *Service) { s.gate = gate }
}

// WithMetricsRegistry sets the prometheus registerer receiving the engine
// metrics. Absent this option the default registerer is used.
func WithMetricsRegistry(registerer prometheus.Registerer) Option {
	return func(s *Service) { s.registerer = registerer }
}

// WithTracing configures OpenTelemetry tracing. If outputFile is empty the
// stdout exporter is used. Safe to call multiple times; the first successful
// initialisation wins.
func WithTracing(serviceName, serviceVersion, outputFile string) Option {
	return func(s *Service) {
		_ = tracing.Init(serviceName, serviceVersion, outputFile)
	}
}

// WithTracingExporter configures OpenTelemetry tracing using a custom
// SpanExporter, for example OTLP, Jaeger or Zipkin.
func WithTracingExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) Option {
	return func(s *Service) {
		_ = tracing.InitWithExporter(serviceName, serviceVersion, exporter)
	}
}
