package temporal

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	"go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
)

// InstrumentationOptions configures how the adapter wires OTEL tracing and
// metrics into the Temporal client and worker. Both are enabled by default.
type InstrumentationOptions struct {
	// DisableTracing skips installing the OTEL tracing interceptor.
	DisableTracing bool
	// DisableMetrics skips installing the OTEL metrics handler.
	DisableMetrics bool
	// TracerOptions customize the tracing interceptor.
	TracerOptions temporalotel.TracerOptions
	// MetricsOptions customize the metrics handler.
	MetricsOptions temporalotel.MetricsHandlerOptions
}

type registrationKind int

const (
	regWorkflow registrationKind = iota
	regActivity
)

type registration struct {
	kind registrationKind
	name string
	fn   any
}

// RegisterWorkflow records a workflow function under the given name. The
// worker is (re)built from recorded registrations, so registering after a
// pause/resume cycle is supported.
func (s *Store) RegisterWorkflow(name string, fn any) error {
	if name == "" {
		return fmt.Errorf("temporal schedule store: workflow name cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registrations = append(s.registrations, registration{kind: regWorkflow, name: name, fn: fn})
	if s.worker != nil {
		s.worker.RegisterWorkflowWithOptions(fn, workflow.RegisterOptions{Name: name})
	}
	return nil
}

// RegisterActivity records an activity function under the given name.
func (s *Store) RegisterActivity(name string, fn any) error {
	if name == "" {
		return fmt.Errorf("temporal schedule store: activity name cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registrations = append(s.registrations, registration{kind: regActivity, name: name, fn: fn})
	if s.worker != nil {
		s.worker.RegisterActivityWithOptions(fn, activity.RegisterOptions{Name: name})
	}
	return nil
}

// StartWorker builds the task-queue worker from the recorded registrations
// and starts polling. Idempotent while running.
func (s *Store) StartWorker(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	w := worker.New(s.client, s.taskQueue, s.workerOpts)
	for _, reg := range s.registrations {
		switch reg.kind {
		case regWorkflow:
			w.RegisterWorkflowWithOptions(reg.fn, workflow.RegisterOptions{Name: reg.name})
		case regActivity:
			w.RegisterActivityWithOptions(reg.fn, activity.RegisterOptions{Name: reg.name})
		}
	}
	if err := w.Start(); err != nil {
		return classify(err, "start worker on %s", s.taskQueue)
	}
	s.worker = w
	s.started = true
	s.logger.Info(ctx, "schedule store worker started", "task_queue", s.taskQueue)
	return nil
}

// StopWorker drains and stops the worker. Idempotent. A stopped worker
// instance cannot be restarted; StartWorker builds a fresh one, which is how
// the engine implements its pause-all / resume-all surface.
func (s *Store) StopWorker() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.worker.Stop()
	s.worker = nil
	s.started = false
}

// WorkerRunning reports whether the task-queue worker is polling.
func (s *Store) WorkerRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

type instrumentation struct {
	tracer  interceptor.Interceptor
	metrics client.MetricsHandler
}

func configureInstrumentation(opts InstrumentationOptions) (*instrumentation, error) {
	inst := &instrumentation{}
	if !opts.DisableTracing {
		tracer, err := temporalotel.NewTracingInterceptor(opts.TracerOptions)
		if err != nil {
			return nil, fmt.Errorf("temporal schedule store: configure tracing interceptor: %w", err)
		}
		inst.tracer = tracer
	}
	if !opts.DisableMetrics {
		inst.metrics = temporalotel.NewMetricsHandler(opts.MetricsOptions)
	}
	if inst.tracer == nil && inst.metrics == nil {
		return nil, nil
	}
	return inst, nil
}

func applyClientInstrumentation(opts *client.Options, inst *instrumentation) {
	if inst == nil {
		return
	}
	if inst.tracer != nil {
		opts.Interceptors = append(opts.Interceptors, inst.tracer)
	}
	if inst.metrics != nil && opts.MetricsHandler == nil {
		opts.MetricsHandler = inst.metrics
	}
}

func applyWorkerInstrumentation(opts *worker.Options, inst *instrumentation) {
	if inst == nil {
		return
	}
	if inst.tracer != nil {
		opts.Interceptors = append(opts.Interceptors, inst.tracer)
	}
}
