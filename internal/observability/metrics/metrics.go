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

const exportInterval = 10 * time.Second

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

const (
	labelEntryType = attribute.Key("entry_type")
	labelCurrency  = attribute.Key("currency")
	labelReason    = attribute.Key("reason")
	labelFrom      = attribute.Key("from")
	labelTo        = attribute.Key("to")
	labelDecision  = attribute.Key("decision")
)

// Only these keys reach the exporter. User and investment ids never do.
var allowedLabelKeys = map[attribute.Key]struct{}{
	labelEntryType: {},
	labelCurrency:  {},
	labelReason:    {},
	labelFrom:      {},
	labelTo:        {},
	labelDecision:  {},
}

// Metrics counts money movement and investment lifecycle events. A nil
// *Metrics records nothing.
type Metrics struct {
	postings    metric.Int64Counter
	refusals    metric.Int64Counter
	transitions metric.Int64Counter
	decisions   metric.Int64Counter
}

// NewProvider installs the global meter provider. With metrics disabled it
// installs a no-op provider so instruments stay cheap.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if !cfg.Enabled {
		noopProvider := noop.NewMeterProvider()
		otel.SetMeterProvider(noopProvider)
		return noopProvider, nil
	}

	exporter, err := exporterFor(cfg)
	if err != nil {
		return nil, err
	}
	sdkProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(exportInterval))),
	)
	otel.SetMeterProvider(sdkProvider)

	if lc != nil {
		lc.Append(fx.StopHook(func(ctx context.Context) error {
			log.Info("flushing investment metrics")
			return sdkProvider.Shutdown(ctx)
		}))
	}
	log.Info("metrics exporter ready",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
		zap.String("environment", cfg.Environment),
	)
	return sdkProvider, nil
}

// New registers the ledger and investment counters on the provider's meter.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	scope := strings.TrimSpace(cfg.ServiceName)
	if scope == "" {
		scope = "vestora"
	}
	meter := provider.Meter(scope)

	m := &Metrics{}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.postings, "vestora_ledger_entries_total", "Ledger entries posted"},
		{&m.refusals, "vestora_ledger_rejections_total", "Credits and debits refused before posting"},
		{&m.transitions, "vestora_investment_transitions_total", "Investment status transitions"},
		{&m.decisions, "vestora_breakdown_decisions_total", "Breakdown requests approved or rejected"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("register %s: %w", c.name, err)
		}
		*c.dst = counter
	}
	return m, nil
}

// RecordLedgerEntry counts one posted entry.
func (m *Metrics) RecordLedgerEntry(ctx context.Context, entryType, currency string) {
	if m == nil {
		return
	}
	m.postings.Add(ctx, 1, labels(
		labelEntryType.String(strings.TrimSpace(entryType)),
		labelCurrency.String(strings.TrimSpace(currency)),
	))
}

// RecordLedgerRejection counts a credit or debit refused at the boundary.
func (m *Metrics) RecordLedgerRejection(ctx context.Context, entryType, reason string) {
	if m == nil {
		return
	}
	m.refusals.Add(ctx, 1, labels(
		labelEntryType.String(strings.TrimSpace(entryType)),
		labelReason.String(strings.TrimSpace(reason)),
	))
}

// RecordInvestmentTransition counts a status change. from is empty for a
// newly created investment.
func (m *Metrics) RecordInvestmentTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, labels(
		labelFrom.String(strings.TrimSpace(from)),
		labelTo.String(strings.TrimSpace(to)),
	))
}

func (m *Metrics) RecordBreakdownDecision(ctx context.Context, decision string) {
	if m == nil {
		return
	}
	m.decisions.Add(ctx, 1, labels(labelDecision.String(strings.TrimSpace(decision))))
}

func labels(attrs ...attribute.KeyValue) metric.AddOption {
	return metric.WithAttributes(FilterAttributes(attrs...)...)
}

func exporterFor(cfg Config) (sdkmetric.Exporter, error) {
	endpoint := strings.TrimSpace(cfg.ExporterEndpoint)
	switch protocol := strings.ToLower(strings.TrimSpace(cfg.ExporterProtocol)); protocol {
	case "", "grpc", "grpc/protobuf":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	case "http", "http/protobuf":
		var opts []otlpmetrichttp.Option
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("metrics: unsupported OTLP protocol %q", protocol)
	}
}

// FilterAttributes drops labels outside the allowed set.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	kept := attrs[:0:0]
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; ok {
			kept = append(kept, attr)
		}
	}
	return kept
}
