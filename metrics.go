package edgequeue

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

func jobNameAttr(name string) attribute.KeyValue {
	return attribute.String("job_name", name)
}

// meterSet holds the OTel instruments the core reports against. It is
// constructed once per Queue from the meter passed via WithMeter; provider
// wiring itself lives in pkg/observability, kept separate from instrument use.
type meterSet struct {
	jobDuration metric.Float64Histogram
	jobsStarted metric.Int64Counter
	jobsSuccess metric.Int64Counter
	jobsFailed  metric.Int64Counter
}

func newMeterSet(meter metric.Meter) (*meterSet, error) {
	if meter == nil {
		return nil, nil
	}

	duration, err := meter.Float64Histogram(
		"edgequeue.job.duration",
		metric.WithDescription("Duration of a single worker invocation"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	started, err := meter.Int64Counter(
		"edgequeue.job.started",
		metric.WithDescription("Number of worker invocations started"),
	)
	if err != nil {
		return nil, err
	}

	success, err := meter.Int64Counter(
		"edgequeue.job.success",
		metric.WithDescription("Number of worker invocations that succeeded"),
	)
	if err != nil {
		return nil, err
	}

	failed, err := meter.Int64Counter(
		"edgequeue.job.failed",
		metric.WithDescription("Number of worker invocations that failed, including terminal failures"),
	)
	if err != nil {
		return nil, err
	}

	return &meterSet{
		jobDuration: duration,
		jobsStarted: started,
		jobsSuccess: success,
		jobsFailed:  failed,
	}, nil
}

func (m *meterSet) recordStart(ctx context.Context, jobName string) {
	if m == nil {
		return
	}
	m.jobsStarted.Add(ctx, 1, metric.WithAttributes(jobNameAttr(jobName)))
}

func (m *meterSet) recordDuration(ctx context.Context, jobName string, d time.Duration, success bool) {
	if m == nil {
		return
	}
	m.jobDuration.Record(ctx, d.Seconds(), metric.WithAttributes(jobNameAttr(jobName)))
	if success {
		m.jobsSuccess.Add(ctx, 1, metric.WithAttributes(jobNameAttr(jobName)))
	} else {
		m.jobsFailed.Add(ctx, 1, metric.WithAttributes(jobNameAttr(jobName)))
	}
}
