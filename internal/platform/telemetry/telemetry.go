package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// ShutdownFunc releases telemetry resources.
type ShutdownFunc func(ctx context.Context) error

// Setup initializes OpenTelemetry with a Prometheus exporter.
// Returns a shutdown function that must be called on exit.
func Setup(ctx context.Context, serviceName string) (ShutdownFunc, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	return provider.Shutdown, nil
}

// MetricsHandler returns an http.Handler that serves Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// ReaderMetrics holds all OTel instruments for the reader service.
type ReaderMetrics struct {
	httpRequestsTotal       otelmetric.Int64Counter
	httpRequestDuration     otelmetric.Float64Histogram
	authValidationsTotal    otelmetric.Int64Counter
	jwksRefreshesTotal      otelmetric.Int64Counter
	rateLimitDecisionsTotal otelmetric.Int64Counter
	loadsTotal              otelmetric.Int64Counter
	loadDuration            otelmetric.Float64Histogram
	stageDuration           otelmetric.Float64Histogram
	resolutionsTotal        otelmetric.Int64Counter
	ledgerLookupsTotal      otelmetric.Int64Counter
	keyServerResponsesTotal otelmetric.Int64Counter
	singleFlightJoinsTotal  otelmetric.Int64Counter
}

// NewReaderMetrics creates and registers all reader metrics.
func NewReaderMetrics() (*ReaderMetrics, error) {
	meter := otel.Meter("reader")
	m := &ReaderMetrics{}
	var err error

	latencyBuckets := otelmetric.WithExplicitBucketBoundaries(
		0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0,
	)

	if m.httpRequestsTotal, err = meter.Int64Counter("reader_http_requests_total",
		otelmetric.WithDescription("Total HTTP requests")); err != nil {
		return nil, fmt.Errorf("creating http_requests_total: %w", err)
	}
	if m.httpRequestDuration, err = meter.Float64Histogram("reader_http_request_duration_seconds",
		otelmetric.WithDescription("HTTP request duration"), latencyBuckets); err != nil {
		return nil, fmt.Errorf("creating http_request_duration: %w", err)
	}
	if m.authValidationsTotal, err = meter.Int64Counter("reader_auth_validations_total",
		otelmetric.WithDescription("Total identity token validations")); err != nil {
		return nil, fmt.Errorf("creating auth_validations_total: %w", err)
	}
	if m.jwksRefreshesTotal, err = meter.Int64Counter("reader_jwks_refreshes_total",
		otelmetric.WithDescription("Total JWKS refreshes")); err != nil {
		return nil, fmt.Errorf("creating jwks_refreshes_total: %w", err)
	}
	if m.rateLimitDecisionsTotal, err = meter.Int64Counter("reader_ratelimit_decisions_total",
		otelmetric.WithDescription("Total rate limit decisions")); err != nil {
		return nil, fmt.Errorf("creating ratelimit_decisions_total: %w", err)
	}
	if m.loadsTotal, err = meter.Int64Counter("reader_loads_total",
		otelmetric.WithDescription("Completed content loads by outcome")); err != nil {
		return nil, fmt.Errorf("creating loads_total: %w", err)
	}
	if m.loadDuration, err = meter.Float64Histogram("reader_load_duration_seconds",
		otelmetric.WithDescription("Content load duration"), latencyBuckets); err != nil {
		return nil, fmt.Errorf("creating load_duration: %w", err)
	}
	if m.stageDuration, err = meter.Float64Histogram("reader_stage_duration_seconds",
		otelmetric.WithDescription("Pipeline stage duration"), latencyBuckets); err != nil {
		return nil, fmt.Errorf("creating stage_duration: %w", err)
	}
	if m.resolutionsTotal, err = meter.Int64Counter("reader_credential_resolutions_total",
		otelmetric.WithDescription("Resolved credentials by kind")); err != nil {
		return nil, fmt.Errorf("creating credential_resolutions_total: %w", err)
	}
	if m.ledgerLookupsTotal, err = meter.Int64Counter("reader_ledger_lookups_total",
		otelmetric.WithDescription("Ledger lookups by tier and result")); err != nil {
		return nil, fmt.Errorf("creating ledger_lookups_total: %w", err)
	}
	if m.keyServerResponsesTotal, err = meter.Int64Counter("reader_keyserver_responses_total",
		otelmetric.WithDescription("Key server share responses by server and result")); err != nil {
		return nil, fmt.Errorf("creating keyserver_responses_total: %w", err)
	}
	if m.singleFlightJoinsTotal, err = meter.Int64Counter("reader_singleflight_joins_total",
		otelmetric.WithDescription("Loads that attached to an in-flight load")); err != nil {
		return nil, fmt.Errorf("creating singleflight_joins_total: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request metric.
func (m *ReaderMetrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, durationSec float64) {
	attrs := otelmetric.WithAttributes(
		methodAttr(method),
		routeAttr(route),
		statusAttr(status),
	)
	m.httpRequestsTotal.Add(ctx, 1, attrs)
	m.httpRequestDuration.Record(ctx, durationSec, attrs)
}

// RecordAuthValidation records an identity token validation result.
func (m *ReaderMetrics) RecordAuthValidation(ctx context.Context, result string) {
	m.authValidationsTotal.Add(ctx, 1, otelmetric.WithAttributes(resultAttr(result)))
}

// RecordJWKSRefresh records a JWKS refresh attempt.
func (m *ReaderMetrics) RecordJWKSRefresh(ctx context.Context, result string) {
	m.jwksRefreshesTotal.Add(ctx, 1, otelmetric.WithAttributes(resultAttr(result)))
}

// RecordRateLimitDecision records a rate limit decision.
func (m *ReaderMetrics) RecordRateLimitDecision(ctx context.Context, layer, result string) {
	m.rateLimitDecisionsTotal.Add(ctx, 1, otelmetric.WithAttributes(
		layerAttr(layer),
		resultAttr(result),
	))
}

// RecordLoad records a finished load. result is "plaintext" or a failure kind.
func (m *ReaderMetrics) RecordLoad(ctx context.Context, result string, durationSec float64) {
	attrs := otelmetric.WithAttributes(resultAttr(result))
	m.loadsTotal.Add(ctx, 1, attrs)
	m.loadDuration.Record(ctx, durationSec, attrs)
}

// RecordStage records how long one pipeline stage took.
func (m *ReaderMetrics) RecordStage(ctx context.Context, stage string, durationSec float64) {
	m.stageDuration.Record(ctx, durationSec, otelmetric.WithAttributes(stageAttr(stage)))
}

// RecordResolution records the credential kind a resolution settled on.
func (m *ReaderMetrics) RecordResolution(ctx context.Context, kind string) {
	m.resolutionsTotal.Add(ctx, 1, otelmetric.WithAttributes(credentialAttr(kind)))
}

// RecordLedgerLookup records one tier lookup ("found", "not_found", "error").
func (m *ReaderMetrics) RecordLedgerLookup(ctx context.Context, tier, result string) {
	m.ledgerLookupsTotal.Add(ctx, 1, otelmetric.WithAttributes(
		tierAttr(tier),
		resultAttr(result),
	))
}

// RecordKeyServerResponse records one key server share response.
func (m *ReaderMetrics) RecordKeyServerResponse(ctx context.Context, server, result string) {
	m.keyServerResponsesTotal.Add(ctx, 1, otelmetric.WithAttributes(
		serverAttr(server),
		resultAttr(result),
	))
}

// RecordSingleFlightJoin records a load attaching to an in-flight load.
func (m *ReaderMetrics) RecordSingleFlightJoin(ctx context.Context) {
	m.singleFlightJoinsTotal.Add(ctx, 1)
}
