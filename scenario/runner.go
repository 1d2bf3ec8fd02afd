package scenario

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/cucumber/godog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"payments-e2e/builders"
	"payments-e2e/config"
	"payments-e2e/logging"
	"payments-e2e/monitoring"
)

// Result is the outcome of one scenario.
type Result struct {
	Name       string
	Tags       []string
	Err        error
	FailedStep string
	// Simulated counts the responses synthesized during the scenario.
	Simulated int
	Duration  time.Duration
}

func (r Result) Passed() bool { return r.Err == nil }

// Report collects the results of a run.
type Report struct {
	Results []Result
	// Status is the godog suite exit status: 0 passed, 1 failed, 2 setup error.
	Status int
}

func (r Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if !res.Passed() {
			n++
		}
	}
	return n
}

func (r Report) Simulated() int {
	n := 0
	for _, res := range r.Results {
		n += res.Simulated
	}
	return n
}

// Runner executes features through godog, one scenario at a time, each
// with fresh Steps.
type Runner struct {
	cfg      *config.Config
	builder  *builders.Builder
	opts     Options
	features []godog.Feature
	output   io.Writer
	format   string
	tracer   trace.Tracer
}

type RunnerOption func(*Runner)

// WithFeatures replaces the built-in catalog.
func WithFeatures(features []godog.Feature) RunnerOption {
	return func(rn *Runner) { rn.features = features }
}

// WithOutput sends godog's formatter output to w in the given format
// ("pretty", "progress", "cucumber", "junit").
func WithOutput(w io.Writer, format string) RunnerOption {
	return func(rn *Runner) {
		rn.output = w
		rn.format = format
	}
}

func WithRunnerTracer(t trace.Tracer) RunnerOption {
	return func(rn *Runner) { rn.tracer = t }
}

func NewRunner(cfg *config.Config, builder *builders.Builder, opts Options, ropts ...RunnerOption) *Runner {
	rn := &Runner{
		cfg:     cfg,
		builder: builder,
		opts:    opts,
		output:  io.Discard,
		format:  "progress",
		tracer:  otel.Tracer("payments-e2e/scenario"),
	}
	for _, o := range ropts {
		o(rn)
	}
	if rn.features == nil {
		rn.features = Catalog()
	}
	return rn
}

// Run executes the scenarios selected by the Cucumber tag expression tags.
// A failing scenario does not stop the run.
func (rn *Runner) Run(ctx context.Context, tags string) (Report, error) {
	filter, err := CompileTags(tags)
	if err != nil {
		return Report{}, err
	}

	var (
		mu     sync.Mutex
		report Report
	)
	suite := godog.TestSuite{
		Name: "payments",
		ScenarioInitializer: func(sc *godog.ScenarioContext) {
			rn.initScenario(sc, func(res Result) {
				mu.Lock()
				report.Results = append(report.Results, res)
				mu.Unlock()
			})
		},
		Options: &godog.Options{
			Format:          rn.format,
			Output:          rn.output,
			NoColors:        true,
			Tags:            filter,
			Strict:          true,
			Concurrency:     1,
			FeatureContents: rn.features,
			DefaultContext:  ctx,
		},
	}
	report.Status = suite.Run()

	logging.Info("Scenario run finished",
		zap.Int("scenarios", len(report.Results)),
		zap.Int("failed", report.Failed()),
		zap.Int("simulated_responses", report.Simulated()),
		zap.Bool("strict", rn.opts.Strict),
		zap.Int("status", report.Status),
	)
	return report, nil
}

// initScenario binds fresh Steps to sc, wraps the scenario in a span and
// hands the result to done when the scenario ends.
func (rn *Runner) initScenario(sc *godog.ScenarioContext, done func(Result)) {
	steps := NewSteps(rn.cfg, rn.builder, rn.opts)
	steps.Bind(sc)

	res := &Result{}
	var (
		span  trace.Span
		start time.Time
	)

	sc.Before(func(ctx context.Context, p *godog.Scenario) (context.Context, error) {
		res.Name = p.Name
		for _, tag := range p.Tags {
			res.Tags = append(res.Tags, tag.Name)
		}
		start = time.Now()
		ctx, span = rn.tracer.Start(ctx, "scenario "+p.Name,
			trace.WithAttributes(
				attribute.StringSlice("scenario.tags", res.Tags),
				attribute.Bool("scenario.strict", rn.opts.Strict),
			),
		)
		return ctx, nil
	})

	sc.StepContext().After(func(ctx context.Context, st *godog.Step, status godog.StepResultStatus, err error) (context.Context, error) {
		if status != godog.StepPassed && res.FailedStep == "" {
			res.FailedStep = st.Text
		}
		if status == godog.StepPassed {
			logging.FromContext(ctx).Debug("Step passed", zap.String("step", st.Text))
		}
		return ctx, nil
	})

	sc.After(func(ctx context.Context, _ *godog.Scenario, err error) (context.Context, error) {
		res.Err = err
		res.Simulated = steps.SimulatedCount()
		res.Duration = time.Since(start)
		rn.finish(ctx, span, res)
		done(*res)
		return ctx, nil
	})
}

func (rn *Runner) finish(ctx context.Context, span trace.Span, res *Result) {
	defer span.End()
	logger := logging.WithTraceContext(span)

	status := "passed"
	if res.Err != nil {
		status = "failed"
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
		logger.Error("Scenario failed",
			zap.String("scenario", res.Name),
			zap.String("step", res.FailedStep),
			zap.Error(res.Err),
		)
	} else {
		logger.Info("Scenario passed",
			zap.String("scenario", res.Name),
			zap.Int("simulated_responses", res.Simulated),
			zap.Duration("duration", res.Duration),
		)
	}
	span.SetAttributes(attribute.Int("scenario.simulated_responses", res.Simulated))

	monitoring.ScenarioCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("result", status),
			attribute.Bool("strict", rn.opts.Strict),
		),
	)
}
