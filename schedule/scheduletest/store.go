// Package scheduletest provides an in-memory schedule.Store for tests.
package scheduletest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xnovu/worker/api"
	"github.com/xnovu/worker/schedule"
)

// WorkflowStart is one recorded StartWorkflow call.
type WorkflowStart struct {
	WorkflowType string
	ID           string
	Args         any
	Opts         schedule.StartOptions
}

// Store is an in-memory schedule.Store. Error fields, when set, force the
// matching method to fail so tests can exercise rollback paths.
type Store struct {
	mu sync.Mutex

	schedules map[string]*schedule.Schedule
	starts    []WorkflowStart

	PingErr   error
	CreateErr error
	UpdateErr error
	DeleteErr error
	ListErr   error
	StartErr  error

	namespaces []string
}

// New constructs an empty Store.
func New() *Store {
	return &Store{schedules: make(map[string]*schedule.Schedule)}
}

// Schedule returns the stored schedule by id, or nil.
func (s *Store) Schedule(id string) *schedule.Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedules[id]
}

// Put stores a schedule directly, bypassing CreateSchedule.
func (s *Store) Put(sched schedule.Schedule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := sched
	s.schedules[sched.ID] = &cp
}

// Starts returns the recorded workflow starts.
func (s *Store) Starts() []WorkflowStart {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]WorkflowStart, len(s.starts))
	copy(out, s.starts)
	return out
}

// Namespaces returns the names EnsureNamespace was called with.
func (s *Store) Namespaces() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.namespaces))
	copy(out, s.namespaces)
	return out
}

// Name implements health.Pinger.
func (s *Store) Name() string { return "schedule-store" }

// Ping implements health.Pinger.
func (s *Store) Ping(context.Context) error { return s.PingErr }

// CreateSchedule implements schedule.Store.
func (s *Store) CreateSchedule(_ context.Context, sched schedule.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateErr != nil {
		return s.CreateErr
	}
	if _, exists := s.schedules[sched.ID]; exists {
		return nil
	}
	cp := sched
	s.schedules[sched.ID] = &cp
	return nil
}

// UpdateSchedule implements schedule.Store.
func (s *Store) UpdateSchedule(_ context.Context, id string, mutate func(*schedule.Schedule) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UpdateErr != nil {
		return s.UpdateErr
	}
	sched, ok := s.schedules[id]
	if !ok {
		return api.Errorf(api.KindScheduleStoreNotFound, "schedule %s not found", id)
	}
	return mutate(sched)
}

// DeleteSchedule implements schedule.Store.
func (s *Store) DeleteSchedule(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	if _, ok := s.schedules[id]; !ok {
		return api.Errorf(api.KindScheduleStoreNotFound, "schedule %s not found", id)
	}
	delete(s.schedules, id)
	return nil
}

// ListSchedules implements schedule.Store.
func (s *Store) ListSchedules(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	var out []string
	for id := range s.schedules {
		if strings.HasPrefix(id, prefix) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

// GetSchedule implements schedule.Store.
func (s *Store) GetSchedule(_ context.Context, id string) (*schedule.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[id]
	if !ok {
		return nil, api.Errorf(api.KindScheduleStoreNotFound, "schedule %s not found", id)
	}
	cp := *sched
	return &cp, nil
}

// StartWorkflow implements schedule.Store.
func (s *Store) StartWorkflow(_ context.Context, workflowType, id string, args any, opts schedule.StartOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.StartErr != nil {
		return "", s.StartErr
	}
	s.starts = append(s.starts, WorkflowStart{WorkflowType: workflowType, ID: id, Args: args, Opts: opts})
	return fmt.Sprintf("run-%d", len(s.starts)), nil
}

// DescribeWorkflow implements schedule.Store.
func (s *Store) DescribeWorkflow(_ context.Context, id string) (*schedule.WorkflowInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, start := range s.starts {
		if start.ID == id {
			return &schedule.WorkflowInfo{ID: id, Status: "RUNNING"}, nil
		}
	}
	return nil, api.Errorf(api.KindScheduleStoreNotFound, "workflow %s not found", id)
}

// EnsureNamespace implements schedule.Store.
func (s *Store) EnsureNamespace(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.namespaces = append(s.namespaces, name)
	return nil
}

var _ schedule.Store = (*Store)(nil)
