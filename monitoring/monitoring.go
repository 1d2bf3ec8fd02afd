package monitoring

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"payments-e2e/logging"
)

var (
	// OpenTelemetry metrics
	ScenarioCounter     metric.Int64Counter
	SimulatedResponses  metric.Int64Counter
	APICallDuration     metric.Float64Histogram
	HTTPServerDuration  metric.Float64Histogram
	SandboxTransactions metric.Int64Counter
)

// Exporter selects where InitMeter sends metrics.
type Exporter string

const (
	ExporterOTLP       Exporter = "otlp"
	ExporterPrometheus Exporter = "prometheus"
)

func init() {
	// No-op instruments until InitMeter installs a real provider.
	if err := registerInstruments(noop.NewMeterProvider().Meter("payments-e2e")); err != nil {
		panic(err)
	}
}

// InitTracer initializes OpenTelemetry tracing
func InitTracer(serviceName, endpoint string) (*sdktrace.TracerProvider, trace.Tracer, error) {
	ctx := context.Background()

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, nil, err
	}

	res, err := newResource(ctx, serviceName)
	if err != nil {
		return nil, nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	tracer := tp.Tracer(serviceName)

	logging.Info("Tracing initialized", zap.String("service_name", serviceName))

	return tp, tracer, nil
}

// InitMeter initializes OpenTelemetry metrics. ExporterOTLP pushes to the
// collector at endpoint; ExporterPrometheus registers a pull reader on the
// default Prometheus registry and ignores endpoint.
func InitMeter(serviceName, endpoint string, exporter Exporter) (*sdkmetric.MeterProvider, metric.Meter, error) {
	ctx := context.Background()

	res, err := newResource(ctx, serviceName)
	if err != nil {
		return nil, nil, err
	}

	var reader sdkmetric.Reader
	switch exporter {
	case ExporterPrometheus:
		promExporter, err := otelprom.New()
		if err != nil {
			return nil, nil, err
		}
		reader = promExporter
	case ExporterOTLP, "":
		metricExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, nil, err
		}
		reader = sdkmetric.NewPeriodicReader(metricExporter)
	default:
		return nil, nil, fmt.Errorf("unknown metric exporter %q", exporter)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(mp)
	meter := mp.Meter(serviceName)

	if err := registerInstruments(meter); err != nil {
		return nil, nil, err
	}

	logging.Info("Metrics initialized",
		zap.String("exporter", string(exporter)),
		zap.String("endpoint", endpoint),
	)

	return mp, meter, nil
}

func newResource(ctx context.Context, serviceName string) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
}

func registerInstruments(meter metric.Meter) error {
	var err error

	ScenarioCounter, err = meter.Int64Counter(
		"scenarios_total",
		metric.WithDescription("Total number of scenarios executed"),
	)
	if err != nil {
		return err
	}

	SimulatedResponses, err = meter.Int64Counter(
		"simulated_responses_total",
		metric.WithDescription("Responses synthesized locally instead of coming from the payment API"),
	)
	if err != nil {
		return err
	}

	APICallDuration, err = meter.Float64Histogram(
		"api_call_duration_milliseconds",
		metric.WithDescription("Duration of payment API calls"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	HTTPServerDuration, err = meter.Float64Histogram(
		"http_server_duration_milliseconds",
		metric.WithDescription("HTTP server request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	SandboxTransactions, err = meter.Int64Counter(
		"sandbox_transactions_total",
		metric.WithDescription("Transactions created by the local sandbox API"),
	)
	return err
}
