// Package catalogtest provides an in-memory catalog.Store for tests.
package catalogtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xnovu/worker/api"
	"github.com/xnovu/worker/catalog"
)

// Store is an in-memory catalog.Store. All methods are safe for concurrent
// use. Error fields, when set, are returned by the matching method so tests
// can exercise failure paths.
type Store struct {
	mu sync.Mutex

	rules         map[int64]*api.NotificationRule
	workflows     map[int64]*api.WorkflowDefinition
	notifications map[int64]*api.Notification
	templates     map[string]*api.Template
	nextID        int64

	// PingErr, ReadErr and WriteErr force failures on the respective paths.
	PingErr  error
	ReadErr  error
	WriteErr error

	// Updates records every status transition applied.
	Updates []StatusTransition
}

// StatusTransition is one recorded UpdateNotificationStatus call.
type StatusTransition struct {
	ID     int64
	Status api.NotificationStatus
	Prior  []api.NotificationStatus
	Update catalog.StatusUpdate
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		rules:         make(map[int64]*api.NotificationRule),
		workflows:     make(map[int64]*api.WorkflowDefinition),
		notifications: make(map[int64]*api.Notification),
		templates:     make(map[string]*api.Template),
		nextID:        1,
	}
}

// PutRule stores a rule.
func (s *Store) PutRule(r *api.NotificationRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[r.ID] = r
}

// PutWorkflow stores a workflow definition.
func (s *Store) PutWorkflow(w *api.WorkflowDefinition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[w.ID] = w
}

// PutNotification stores a notification record, assigning an id if missing.
func (s *Store) PutNotification(n *api.Notification) *api.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == 0 {
		n.ID = s.nextID
		s.nextID++
	} else if n.ID >= s.nextID {
		s.nextID = n.ID + 1
	}
	s.notifications[n.ID] = n
	return n
}

// PutTemplate stores a template under its key.
func (s *Store) PutTemplate(t *api.Template) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[t.TemplateKey] = t
}

// Notification returns the stored record by id, or nil.
func (s *Store) Notification(id int64) *api.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notifications[id]
}

// Name implements health.Pinger.
func (s *Store) Name() string { return "catalog" }

// Ping implements health.Pinger.
func (s *Store) Ping(context.Context) error { return s.PingErr }

// GetActiveCronRules implements catalog.Store.
func (s *Store) GetActiveCronRules(_ context.Context, tenant *string) ([]*api.NotificationRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ReadErr != nil {
		return nil, s.ReadErr
	}
	var out []*api.NotificationRule
	for _, r := range s.rules {
		if !r.Active() {
			continue
		}
		if tenant != nil && (r.Tenant == nil || *r.Tenant != *tenant) {
			continue
		}
		wf := s.workflows[r.WorkflowID]
		if !wf.Eligible() {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetRulesUpdatedSince implements catalog.Store.
func (s *Store) GetRulesUpdatedSince(_ context.Context, since time.Time) ([]*api.NotificationRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ReadErr != nil {
		return nil, s.ReadErr
	}
	var out []*api.NotificationRule
	for _, r := range s.rules {
		if r.TriggerType == api.TriggerTypeCron && r.UpdatedAt.After(since) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	return out, nil
}

// GetRule implements catalog.Store.
func (s *Store) GetRule(_ context.Context, id int64, tenant *string) (*api.NotificationRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ReadErr != nil {
		return nil, s.ReadErr
	}
	r := s.rules[id]
	if r == nil {
		return nil, nil
	}
	if tenant != nil && (r.Tenant == nil || *r.Tenant != *tenant) {
		return nil, nil
	}
	return r, nil
}

// GetWorkflowDefinition implements catalog.Store.
func (s *Store) GetWorkflowDefinition(_ context.Context, id int64, _ *string) (*api.WorkflowDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ReadErr != nil {
		return nil, s.ReadErr
	}
	wf := s.workflows[id]
	if !wf.Eligible() {
		return nil, nil
	}
	return wf, nil
}

// GetNotification implements catalog.Store.
func (s *Store) GetNotification(_ context.Context, id int64) (*api.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ReadErr != nil {
		return nil, s.ReadErr
	}
	return s.notifications[id], nil
}

// PollNotifications implements catalog.Store.
func (s *Store) PollNotifications(_ context.Context, opts catalog.PollOptions) ([]*api.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ReadErr != nil {
		return nil, s.ReadErr
	}
	now := time.Now()
	var out []*api.Notification
	for _, n := range s.notifications {
		if n.Deactivated || n.PublishStatus != api.PublishStatusPublish {
			continue
		}
		if opts.Tenant != nil && (n.Tenant == nil || *n.Tenant != *opts.Tenant) {
			continue
		}
		if !statusMatches(n.Status, opts) {
			continue
		}
		switch opts.ScheduledMode {
		case catalog.ScheduledEligibleNow:
			if n.ScheduledFor != nil && n.ScheduledFor.After(now) {
				continue
			}
		case catalog.ScheduledOnly:
			if n.ScheduledFor == nil || n.ScheduledFor.After(now) {
				continue
			}
		}
		if opts.UpdatedAfter != nil && !n.UpdatedAt.After(*opts.UpdatedAfter) {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if opts.ScheduledMode == catalog.ScheduledOnly {
			if !a.ScheduledFor.Equal(*b.ScheduledFor) {
				return a.ScheduledFor.Before(*b.ScheduledFor)
			}
		} else if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.Before(b.UpdatedAt)
		}
		return a.ID < b.ID
	})
	if opts.BatchSize > 0 && len(out) > opts.BatchSize {
		out = out[:opts.BatchSize]
	}
	return out, nil
}

func statusMatches(status api.NotificationStatus, opts catalog.PollOptions) bool {
	allowed := opts.Statuses
	if len(allowed) == 0 {
		if opts.IncludeProcessed {
			return true
		}
		allowed = []api.NotificationStatus{api.StatusPending, api.StatusFailed}
	}
	for _, st := range allowed {
		if st == status {
			return true
		}
	}
	return false
}

// CreateNotification implements catalog.Store.
func (s *Store) CreateNotification(_ context.Context, n *api.Notification) (*api.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteErr != nil {
		return nil, s.WriteErr
	}
	if len(n.Recipients) == 0 {
		return nil, api.Errorf(api.KindValidation, "catalog: notification requires at least one recipient")
	}
	cp := *n
	cp.ID = s.nextID
	s.nextID++
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	s.notifications[cp.ID] = &cp
	return &cp, nil
}

// UpdateNotificationStatus implements catalog.Store.
func (s *Store) UpdateNotificationStatus(_ context.Context, id int64, newStatus api.NotificationStatus, prior []api.NotificationStatus, upd catalog.StatusUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteErr != nil {
		return false, s.WriteErr
	}
	n := s.notifications[id]
	if n == nil {
		return false, nil
	}
	allowed := false
	for _, p := range prior {
		if n.Status == p {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}
	n.Status = newStatus
	n.UpdatedAt = time.Now()
	if upd.ErrorDetails != nil {
		n.ErrorDetails = upd.ErrorDetails
	}
	if upd.TransactionID != nil {
		n.TransactionID = upd.TransactionID
	}
	if upd.Processed {
		now := time.Now()
		n.ProcessedAt = &now
	}
	s.Updates = append(s.Updates, StatusTransition{ID: id, Status: newStatus, Prior: prior, Update: upd})
	return true, nil
}

// GetLastRuleUpdate implements catalog.Store.
func (s *Store) GetLastRuleUpdate(_ context.Context, tenant *string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ReadErr != nil {
		return time.Time{}, s.ReadErr
	}
	var last time.Time
	for _, r := range s.rules {
		if r.TriggerType != api.TriggerTypeCron {
			continue
		}
		if tenant != nil && (r.Tenant == nil || *r.Tenant != *tenant) {
			continue
		}
		if r.UpdatedAt.After(last) {
			last = r.UpdatedAt
		}
	}
	return last, nil
}

// GetTemplateByKey implements catalog.Store.
func (s *Store) GetTemplateByKey(_ context.Context, key string, _ *string) (*api.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ReadErr != nil {
		return nil, s.ReadErr
	}
	return s.templates[key], nil
}

// Shutdown implements catalog.Store.
func (s *Store) Shutdown(context.Context) error { return nil }

var _ catalog.Store = (*Store)(nil)
