// Package temporal adapts Temporal to the engine's Schedule Store contract.
// Schedules map to Temporal schedule objects, workflow starts map to
// ExecuteWorkflow with a start delay, and the namespace is bootstrapped with
// a seven day retention when missing. OTEL tracing and metrics interceptors
// are installed on the client and workers unless disabled.
package temporal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/xnovu/worker/api"
	"github.com/xnovu/worker/schedule"
	"github.com/xnovu/worker/telemetry"
)

const (
	clientName = "schedule-store-temporal"

	// namespaceRetention is applied when the adapter creates a missing
	// namespace.
	namespaceRetention = 7 * 24 * time.Hour

	listPageSize = 100
)

// Options configures the Temporal schedule store adapter. Either a
// pre-configured Client or a HostPort must be provided.
type Options struct {
	// Client is an optional pre-configured Temporal client. When nil the
	// adapter dials HostPort/Namespace lazily so OTEL interceptors can be
	// installed automatically.
	Client client.Client

	// HostPort is the Temporal frontend address. Required when Client is nil.
	HostPort string

	// Namespace is the logical namespace. Defaults to "default".
	Namespace string

	// TaskQueue is the default queue for workflows, activities, and
	// schedule actions. Required.
	TaskQueue string

	// MaxConcurrentActivities caps worker activity concurrency.
	MaxConcurrentActivities int

	// MaxConcurrentWorkflows caps worker workflow task concurrency.
	MaxConcurrentWorkflows int

	// Instrumentation toggles the OTEL interceptors. Tracing and metrics
	// are enabled by default.
	Instrumentation InstrumentationOptions

	// Logger emits worker lifecycle logs. Defaults to a noop logger.
	Logger telemetry.Logger
}

// Store implements schedule.Store on Temporal and additionally owns the
// worker executing the engine's workflows and activities.
//
// Thread-safety: all methods are safe for concurrent use; worker lifecycle
// state is guarded by a mutex.
type Store struct {
	client      client.Client
	closeClient bool
	hostPort    string
	namespace   string
	taskQueue   string
	workerOpts  worker.Options
	logger      telemetry.Logger

	mu            sync.Mutex
	registrations []registration
	worker        worker.Worker
	started       bool
}

// New constructs the adapter. The client is dialed lazily; connectivity is
// verified by Ping or the first operation.
func New(opts Options) (*Store, error) {
	if opts.TaskQueue == "" {
		return nil, fmt.Errorf("temporal schedule store: task queue is required")
	}
	namespace := opts.Namespace
	if namespace == "" {
		namespace = "default"
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}

	inst, err := configureInstrumentation(opts.Instrumentation)
	if err != nil {
		return nil, err
	}

	cli := opts.Client
	closeClient := false
	if cli == nil {
		if opts.HostPort == "" {
			return nil, fmt.Errorf("temporal schedule store: host port is required when no client is given")
		}
		clientOpts := client.Options{HostPort: opts.HostPort, Namespace: namespace}
		applyClientInstrumentation(&clientOpts, inst)
		cli, err = client.NewLazyClient(clientOpts)
		if err != nil {
			return nil, fmt.Errorf("temporal schedule store: create client: %w", err)
		}
		closeClient = true
	}

	workerOpts := worker.Options{
		MaxConcurrentActivityExecutionSize:     opts.MaxConcurrentActivities,
		MaxConcurrentWorkflowTaskExecutionSize: opts.MaxConcurrentWorkflows,
	}
	applyWorkerInstrumentation(&workerOpts, inst)

	return &Store{
		client:      cli,
		closeClient: closeClient,
		hostPort:    opts.HostPort,
		namespace:   namespace,
		taskQueue:   opts.TaskQueue,
		workerOpts:  workerOpts,
		logger:      logger,
	}, nil
}

// Name identifies the store for health reporting.
func (s *Store) Name() string { return clientName }

// Ping verifies connectivity to the Temporal frontend.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.CheckHealth(ctx, &client.CheckHealthRequest{})
	if err != nil {
		return api.WrapError(api.KindScheduleStoreUnavailable, err, "health check")
	}
	return nil
}

// EnsureNamespace registers the namespace with the default retention when it
// does not exist. The "default" namespace is assumed present.
func (s *Store) EnsureNamespace(ctx context.Context, name string) error {
	if name == "" || name == "default" {
		return nil
	}
	nsClient, err := client.NewNamespaceClient(client.Options{HostPort: s.hostPort})
	if err != nil {
		return api.WrapError(api.KindScheduleStoreUnavailable, err, "create namespace client")
	}
	defer nsClient.Close()

	err = nsClient.Register(ctx, &workflowservice.RegisterNamespaceRequest{
		Namespace:                        name,
		WorkflowExecutionRetentionPeriod: durationpb.New(namespaceRetention),
	})
	var exists *serviceerror.NamespaceAlreadyExists
	if err != nil && !errors.As(err, &exists) {
		return api.WrapError(api.KindScheduleStoreUnavailable, err, "register namespace %s", name)
	}
	return nil
}

// CreateSchedule creates the schedule object. An already existing id is not
// an error; concurrent reconcilers race benignly.
func (s *Store) CreateSchedule(ctx context.Context, sched schedule.Schedule) error {
	_, err := s.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID: sched.ID,
		Spec: client.ScheduleSpec{
			CronExpressions: sched.Spec.CronExpressions,
			TimeZoneName:    sched.Spec.Timezone,
		},
		Action: workflowAction(sched.Action, s.taskQueue),
		Paused: sched.State.Paused,
		Note:   sched.State.Note,
		Memo:   sched.Memo,
	})
	if err != nil {
		if errors.Is(err, temporal.ErrScheduleAlreadyRunning) || isAlreadyExists(err) {
			return nil
		}
		return classify(err, "create schedule %s", sched.ID)
	}
	return nil
}

// UpdateSchedule loads the schedule, applies mutate to the engine-level
// view, and writes the result back.
func (s *Store) UpdateSchedule(ctx context.Context, id string, mutate func(*schedule.Schedule) error) error {
	handle := s.client.ScheduleClient().GetHandle(ctx, id)
	err := handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(input client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			sched := fromDescription(id, &input.Description)
			if err := mutate(&sched); err != nil {
				return nil, err
			}
			applySchedule(&input.Description.Schedule, sched, s.taskQueue)
			return &client.ScheduleUpdate{Schedule: &input.Description.Schedule}, nil
		},
	})
	if err != nil {
		return classify(err, "update schedule %s", id)
	}
	return nil
}

// DeleteSchedule removes the schedule.
func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	handle := s.client.ScheduleClient().GetHandle(ctx, id)
	if err := handle.Delete(ctx); err != nil {
		return classify(err, "delete schedule %s", id)
	}
	return nil
}

// ListSchedules returns the ids of schedules carrying the prefix.
func (s *Store) ListSchedules(ctx context.Context, prefix string) ([]string, error) {
	it, err := s.client.ScheduleClient().List(ctx, client.ScheduleListOptions{PageSize: listPageSize})
	if err != nil {
		return nil, classify(err, "list schedules")
	}
	var ids []string
	for it.HasNext() {
		entry, err := it.Next()
		if err != nil {
			return nil, classify(err, "iterate schedules")
		}
		if prefix == "" || strings.HasPrefix(entry.ID, prefix) {
			ids = append(ids, entry.ID)
		}
	}
	return ids, nil
}

// GetSchedule returns the engine-level view of the schedule.
func (s *Store) GetSchedule(ctx context.Context, id string) (*schedule.Schedule, error) {
	handle := s.client.ScheduleClient().GetHandle(ctx, id)
	desc, err := handle.Describe(ctx)
	if err != nil {
		return nil, classify(err, "describe schedule %s", id)
	}
	sched := fromDescription(id, desc)
	return &sched, nil
}

// StartWorkflow starts an asynchronous execution with the optional delay and
// retry policy and returns the run id.
func (s *Store) StartWorkflow(ctx context.Context, workflowType, id string, args any, opts schedule.StartOptions) (string, error) {
	queue := opts.TaskQueue
	if queue == "" {
		queue = s.taskQueue
	}
	delay := opts.StartDelay
	if delay < 0 {
		delay = 0
	}
	startOpts := client.StartWorkflowOptions{
		ID:         id,
		TaskQueue:  queue,
		StartDelay: delay,
	}
	if rp := convertRetryPolicy(opts.RetryPolicy); rp != nil {
		startOpts.RetryPolicy = rp
	}
	run, err := s.client.ExecuteWorkflow(ctx, startOpts, workflowType, args)
	if err != nil {
		return "", classify(err, "start workflow %s", id)
	}
	return run.GetRunID(), nil
}

// DescribeWorkflow returns execution metadata for the workflow id.
func (s *Store) DescribeWorkflow(ctx context.Context, id string) (*schedule.WorkflowInfo, error) {
	resp, err := s.client.DescribeWorkflowExecution(ctx, id, "")
	if err != nil {
		return nil, classify(err, "describe workflow %s", id)
	}
	info := resp.GetWorkflowExecutionInfo()
	return &schedule.WorkflowInfo{
		ID:     id,
		RunID:  info.GetExecution().GetRunId(),
		Status: info.GetStatus().String(),
	}, nil
}

// Close shuts down the Temporal client when the adapter created it.
func (s *Store) Close() {
	s.StopWorker()
	if s.closeClient {
		s.client.Close()
	}
}

func workflowAction(a schedule.Action, defaultQueue string) *client.ScheduleWorkflowAction {
	queue := a.TaskQueue
	if queue == "" {
		queue = defaultQueue
	}
	return &client.ScheduleWorkflowAction{
		ID:        a.WorkflowID,
		Workflow:  a.WorkflowType,
		Args:      []any{a.Args},
		TaskQueue: queue,
	}
}

// fromDescription converts a Temporal schedule description into the engine
// view. Memo values are not round-tripped; reconciliation always rewrites
// the full schedule from the rule.
func fromDescription(id string, desc *client.ScheduleDescription) schedule.Schedule {
	sched := schedule.Schedule{ID: id}
	if spec := desc.Schedule.Spec; spec != nil {
		sched.Spec.CronExpressions = spec.CronExpressions
		sched.Spec.Timezone = spec.TimeZoneName
	}
	if action, ok := desc.Schedule.Action.(*client.ScheduleWorkflowAction); ok && action != nil {
		sched.Action = schedule.Action{
			WorkflowType: workflowName(action.Workflow),
			WorkflowID:   action.ID,
			TaskQueue:    action.TaskQueue,
		}
		if len(action.Args) == 1 {
			sched.Action.Args = action.Args[0]
		}
	}
	if state := desc.Schedule.State; state != nil {
		sched.State.Paused = state.Paused
		sched.State.Note = state.Note
	}
	return sched
}

func applySchedule(dst *client.Schedule, sched schedule.Schedule, defaultQueue string) {
	dst.Spec = &client.ScheduleSpec{
		CronExpressions: sched.Spec.CronExpressions,
		TimeZoneName:    sched.Spec.Timezone,
	}
	dst.Action = workflowAction(sched.Action, defaultQueue)
	if dst.State == nil {
		dst.State = &client.ScheduleState{}
	}
	dst.State.Paused = sched.State.Paused
	dst.State.Note = sched.State.Note
}

func workflowName(wf any) string {
	if name, ok := wf.(string); ok {
		return name
	}
	return fmt.Sprintf("%v", wf)
}

func convertRetryPolicy(rp *schedule.RetryPolicy) *temporal.RetryPolicy {
	if rp == nil {
		return nil
	}
	return &temporal.RetryPolicy{
		InitialInterval:        rp.InitialInterval,
		BackoffCoefficient:     rp.BackoffCoefficient,
		MaximumInterval:        rp.MaximumInterval,
		MaximumAttempts:        int32(rp.MaximumAttempts),
		NonRetryableErrorTypes: rp.NonRetryableErrorTypes,
	}
}

// classify maps Temporal errors to the engine taxonomy. NotFound is its own
// kind so reconciliation can swallow deletes and convert updates to creates.
func classify(err error, format string, args ...any) error {
	var notFound *serviceerror.NotFound
	if errors.As(err, &notFound) {
		return api.WrapError(api.KindScheduleStoreNotFound, err, format, args...)
	}
	return api.WrapError(api.KindScheduleStoreUnavailable, err, format, args...)
}

func isAlreadyExists(err error) bool {
	var exists *serviceerror.AlreadyExists
	return errors.As(err, &exists)
}
