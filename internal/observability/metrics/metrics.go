package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes ledger instruments. A nil *Metrics is a valid no-op.
type Metrics struct {
	transactions        metric.Int64Counter
	transactionAmount   metric.Int64Counter
	reversals           metric.Int64Counter
	insufficientBalance metric.Int64Counter
	numberingRetries    metric.Int64Counter
	auditFailures       metric.Int64Counter
	reconcileDrift      metric.Int64Counter
	alerts              metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				log.Info("shutting down meter provider")
				return provider.Shutdown(ctx)
			},
		})
	}

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)

	return provider, nil
}

// New configures the ledger instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "agencyledger"
	}
	meter := provider.Meter(name)

	var m Metrics
	counters := []struct {
		target *metric.Int64Counter
		name   string
		desc   string
	}{
		{&m.transactions, "ledger_transactions_total", "Ledger transactions appended."},
		{&m.transactionAmount, "ledger_transaction_amount_minor_total", "Sum of appended amounts in minor units."},
		{&m.reversals, "ledger_reversals_total", "Compensating transactions appended."},
		{&m.insufficientBalance, "ledger_insufficient_balance_total", "Debits rejected for insufficient sub-balance."},
		{&m.numberingRetries, "ledger_numbering_retries_total", "Document number allocations retried after a unique violation."},
		{&m.auditFailures, "ledger_audit_write_failures_total", "Audit entries that could not be written."},
		{&m.reconcileDrift, "ledger_reconcile_drift_total", "Reconciliation runs that found register drift."},
		{&m.alerts, "ledger_alerts_total", "Operational alerts raised."},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
		*c.target = counter
	}

	return &m, nil
}

// RecordTransaction counts an appended ledger transaction.
func (m *Metrics) RecordTransaction(ctx context.Context, kind, method, origin string, amount int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(FilterAttributes(
		attribute.String("kind", kind),
		attribute.String("payment_method", method),
		attribute.String("origin", origin),
	)...)
	m.transactions.Add(ctx, 1, attrs)
	m.transactionAmount.Add(ctx, amount, attrs)
}

func (m *Metrics) RecordReversal(ctx context.Context, documentType string) {
	if m == nil {
		return
	}
	m.reversals.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("document_type", documentType))...))
}

func (m *Metrics) RecordInsufficientBalance(ctx context.Context, method string) {
	if m == nil {
		return
	}
	m.insufficientBalance.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("payment_method", method))...))
}

func (m *Metrics) RecordNumberingRetry(ctx context.Context, documentType string) {
	if m == nil {
		return
	}
	m.numberingRetries.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("document_type", documentType))...))
}

func (m *Metrics) RecordAuditFailure(ctx context.Context, entityType string) {
	if m == nil {
		return
	}
	m.auditFailures.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("entity_type", entityType))...))
}

func (m *Metrics) RecordReconcileDrift(ctx context.Context) {
	if m == nil {
		return
	}
	m.reconcileDrift.Add(ctx, 1)
}

func (m *Metrics) RecordAlert(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.alerts.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("reason", reason))...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"kind":           {},
	"payment_method": {},
	"origin":         {},
	"document_type":  {},
	"entity_type":    {},
	"reason":         {},
	"route":          {},
	"status_code":    {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
