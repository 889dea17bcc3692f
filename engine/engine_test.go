package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xnovu/worker/api"
	"github.com/xnovu/worker/catalog/catalogtest"
	"github.com/xnovu/worker/config"
	"github.com/xnovu/worker/schedule"
	"github.com/xnovu/worker/schedule/scheduletest"
)

type fakeWorker struct {
	mu       sync.Mutex
	running  bool
	starts   int
	stops    int
	startErr error
}

func (w *fakeWorker) StartWorker(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.startErr != nil {
		return w.startErr
	}
	w.running = true
	w.starts++
	return nil
}

func (w *fakeWorker) StopWorker() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		w.running = false
		w.stops++
	}
}

func (w *fakeWorker) WorkerRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func testConfig() config.Config {
	return config.Config{
		ScheduleStoreAddress:   "localhost:7233",
		ScheduleStoreNamespace: "notifications",
		TaskQueue:              "notifications",
		PollInterval:           5 * time.Millisecond,
		FailedPollInterval:     5 * time.Millisecond,
		ScheduledPollInterval:  5 * time.Millisecond,
		PollBatchSize:          10,
		RulePollInterval:       5 * time.Millisecond,
		JobRetryAttempts:       3,
		CatalogURL:             "postgres://localhost/catalog",
		ProviderKey:            "key",
	}
}

type fixture struct {
	store  *catalogtest.Store
	sched  *scheduletest.Store
	worker *fakeWorker
	engine *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  catalogtest.New(),
		sched:  scheduletest.New(),
		worker: &fakeWorker{},
	}
	e, err := New(Options{
		Config:   testConfig(),
		Catalog:  f.store,
		Schedule: f.sched,
		Worker:   f.worker,
	})
	require.NoError(t, err)
	f.engine = e
	return f
}

func (f *fixture) initialized(t *testing.T) *fixture {
	t.Helper()
	require.NoError(t, f.engine.Init(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, f.engine.Shutdown(ctx))
	})
	return f
}

func tenantPtr(s string) *string { return &s }

func TestNewValidation(t *testing.T) {
	store := catalogtest.New()
	sched := scheduletest.New()

	_, err := New(Options{Config: testConfig(), Schedule: sched})
	require.Error(t, err)
	assert.True(t, api.IsKind(err, api.KindConfig))

	_, err = New(Options{Config: testConfig(), Catalog: store})
	require.Error(t, err)
	assert.True(t, api.IsKind(err, api.KindConfig))

	bad := testConfig()
	bad.CatalogURL = ""
	_, err = New(Options{Config: bad, Catalog: store, Schedule: sched})
	require.Error(t, err)
	assert.True(t, api.IsKind(err, api.KindConfig))
}

func TestInitStartsEverything(t *testing.T) {
	f := newFixture(t).initialized(t)

	assert.Equal(t, []string{"notifications"}, f.sched.Namespaces())
	assert.True(t, f.worker.WorkerRunning())

	st := f.engine.Status()
	assert.True(t, st.Initialized)
	assert.False(t, st.Paused)
	assert.True(t, st.WorkerRunning)

	require.Eventually(t, func() bool {
		return f.engine.Status().Polling.NewWork.Ticks > 0
	}, time.Second, time.Millisecond)
}

func TestInitIsIdempotent(t *testing.T) {
	f := newFixture(t).initialized(t)

	require.NoError(t, f.engine.Init(context.Background()))
	assert.Equal(t, 1, f.worker.starts)
	assert.Equal(t, []string{"notifications"}, f.sched.Namespaces())
}

func TestInitRollsBackOnWorkerFailure(t *testing.T) {
	f := newFixture(t)
	f.worker.startErr = api.Errorf(api.KindScheduleStoreUnavailable, "frontend down")

	err := f.engine.Init(context.Background())

	require.Error(t, err)
	assert.False(t, f.engine.Status().Initialized)
}

func TestOperationsRequireInit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for name, op := range map[string]func() error{
		"pause":  func() error { return f.engine.Pause(ctx) },
		"resume": func() error { return f.engine.Resume(ctx) },
		"reload": func() error { _, err := f.engine.ReloadCronRules(ctx, nil); return err },
	} {
		err := op()
		require.Error(t, err, name)
		assert.True(t, api.IsKind(err, api.KindNotInitialized), name)
	}
}

func TestPauseAndResume(t *testing.T) {
	f := newFixture(t).initialized(t)
	ctx := context.Background()

	require.NoError(t, f.engine.Pause(ctx))
	st := f.engine.Status()
	assert.True(t, st.Paused)
	assert.False(t, st.WorkerRunning)
	assert.True(t, st.Polling.Paused)

	require.NoError(t, f.engine.Resume(ctx))
	st = f.engine.Status()
	assert.False(t, st.Paused)
	assert.True(t, st.WorkerRunning)
	assert.False(t, st.Polling.Paused)
	assert.Equal(t, 2, f.worker.starts)
}

func TestPauseKeepsSchedules(t *testing.T) {
	f := newFixture(t).initialized(t)
	id := schedule.RuleScheduleID(3, tenantPtr("acme"))
	f.sched.Put(schedule.Schedule{ID: id})

	require.NoError(t, f.engine.Pause(context.Background()))

	s := f.sched.Schedule(id)
	require.NotNil(t, s)
	assert.False(t, s.State.Paused)
}

func TestReloadCronRules(t *testing.T) {
	f := newFixture(t).initialized(t)
	f.store.PutWorkflow(&api.WorkflowDefinition{
		ID:            7,
		WorkflowKey:   "wf",
		PublishStatus: api.PublishStatusPublish,
	})
	f.store.PutRule(&api.NotificationRule{
		ID:            3,
		Tenant:        tenantPtr("acme"),
		WorkflowID:    7,
		TriggerType:   api.TriggerTypeCron,
		TriggerConfig: &api.TriggerConfig{Cron: "0 9 * * *"},
		PublishStatus: api.PublishStatusPublish,
		UpdatedAt:     time.Now(),
	})

	res, err := f.engine.ReloadCronRules(context.Background(), tenantPtr("acme"))

	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	require.NotNil(t, f.sched.Schedule(schedule.RuleScheduleID(3, tenantPtr("acme"))))
}

func TestHealthCheck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h := f.engine.HealthCheck(ctx)
	assert.Equal(t, Unhealthy, h.Status)
	assert.Contains(t, h.Details, "engine")

	f.initialized(t)
	require.Eventually(t, func() bool {
		return f.engine.HealthCheck(ctx).Status == Healthy
	}, time.Second, time.Millisecond)

	f.store.PingErr = api.Errorf(api.KindCatalogUnavailable, "connection refused")
	h = f.engine.HealthCheck(ctx)
	assert.Equal(t, Degraded, h.Status)
	f.store.PingErr = nil

	f.sched.PingErr = api.Errorf(api.KindScheduleStoreUnavailable, "frontend down")
	h = f.engine.HealthCheck(ctx)
	assert.Equal(t, Unhealthy, h.Status)
	f.sched.PingErr = nil
}

func TestHealthCheckFlagsStaleLoop(t *testing.T) {
	f := newFixture(t).initialized(t)
	ctx := context.Background()

	require.Eventually(t, func() bool {
		return f.engine.HealthCheck(ctx).Status == Healthy
	}, time.Second, time.Millisecond)

	// Viewed through a clock far in the future every loop looks stalled.
	f.engine.now = func() time.Time { return time.Now().Add(time.Hour) }
	h := f.engine.HealthCheck(ctx)
	assert.Equal(t, Degraded, h.Status)
	assert.Contains(t, h.Details, "loop_new-work")
	f.engine.now = time.Now
}

func TestShutdown(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.Init(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.engine.Shutdown(ctx))
	require.NoError(t, f.engine.Shutdown(ctx))

	assert.False(t, f.worker.WorkerRunning())
	assert.False(t, f.engine.Status().Initialized)

	err := f.engine.Init(context.Background())
	require.Error(t, err)
	assert.True(t, api.IsKind(err, api.KindNotInitialized))
}
