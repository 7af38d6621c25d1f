package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all application metrics
type Metrics struct {
	RequestCounter    metric.Int64Counter
	RequestDuration   metric.Float64Histogram
	ChunksIngested    metric.Int64Counter
	IngestionDuration metric.Float64Histogram
	QueriesAnswered   metric.Int64Counter
}

// InitMetrics initializes all application metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter("docchat-backend")

	requestCounter, err := meter.Int64Counter(
		"http.requests.total",
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"http.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	chunksIngested, err := meter.Int64Counter(
		"ingest.chunks.total",
		metric.WithDescription("Total text chunks embedded and stored"),
	)
	if err != nil {
		return nil, err
	}

	ingestionDuration, err := meter.Float64Histogram(
		"ingest.document.duration",
		metric.WithDescription("Document ingestion duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	queriesAnswered, err := meter.Int64Counter(
		"query.answered.total",
		metric.WithDescription("Total queries answered"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		RequestCounter:    requestCounter,
		RequestDuration:   requestDuration,
		ChunksIngested:    chunksIngested,
		IngestionDuration: ingestionDuration,
		QueriesAnswered:   queriesAnswered,
	}, nil
}

// RecordRequest records HTTP request metrics
func (m *Metrics) RecordRequest(method, path, status string, duration float64) {
	attrs := []attribute.KeyValue{
		attribute.String("http.method", method),
		attribute.String("http.path", path),
		attribute.String("http.status", status),
	}

	m.RequestCounter.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	m.RequestDuration.Record(context.Background(), duration, metric.WithAttributes(attrs...))
}

// RecordChunkIngested records a persisted chunk
func (m *Metrics) RecordChunkIngested(status string) {
	m.ChunksIngested.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("ingest.status", status),
	))
}

// RecordIngestion records document ingestion metrics
func (m *Metrics) RecordIngestion(duration float64, status string) {
	m.IngestionDuration.Record(context.Background(), duration, metric.WithAttributes(
		attribute.String("ingest.status", status),
	))
}

// RecordQuery records an answered query
func (m *Metrics) RecordQuery(status string) {
	m.QueriesAnswered.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("query.status", status),
	))
}
