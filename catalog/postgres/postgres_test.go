package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xnovu/worker/api"
	"github.com/xnovu/worker/catalog"
)

func newMockStore(t *testing.T) (catalog.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	s, err := New(Options{DB: sqlx.NewDb(db, "pgx")})
	require.NoError(t, err)
	return s, mock
}

func strPtr(s string) *string { return &s }

func TestUpdateNotificationStatusConditional(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE notification SET notification_status = .* WHERE id = .* AND notification_status IN`).
		WithArgs("PROCESSING", int64(42), "PENDING").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := s.UpdateNotificationStatus(context.Background(), 42,
		api.StatusProcessing, []api.NotificationStatus{api.StatusPending}, catalog.StatusUpdate{})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUpdateNotificationStatusAlreadyTaken(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE notification SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := s.UpdateNotificationStatus(context.Background(), 42,
		api.StatusProcessing, []api.NotificationStatus{api.StatusPending}, catalog.StatusUpdate{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateNotificationStatusRequiresPriorStates(t *testing.T) {
	s, _ := newMockStore(t)

	_, err := s.UpdateNotificationStatus(context.Background(), 42,
		api.StatusProcessing, nil, catalog.StatusUpdate{})
	assert.True(t, api.IsKind(err, api.KindValidation))
}

func notificationRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "enterprise_id", "business_id", "name", "description",
		"payload", "recipients", "notification_workflow_id", "notification_rule_id",
		"channels", "overrides", "publish_status", "deactivated", "notification_status",
		"scheduled_for", "transaction_id", "error_details", "processed_at",
		"created_at", "updated_at",
	})
}

func TestPollNotificationsMapsRows(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT .* FROM notification WHERE`).
		WillReturnRows(notificationRows().AddRow(
			7, "acme", "biz-1", "welcome", nil,
			[]byte(`{"userName":"John"}`), []byte(`["u1","u2"]`), 1, nil,
			[]byte(`["EMAIL"]`), []byte(`{"email":{"subject":"Hi {{userName}}"}}`),
			"PUBLISH", false, "PENDING",
			nil, nil, nil, nil, now, now,
		))

	got, err := s.PollNotifications(context.Background(), catalog.PollOptions{
		BatchSize:     100,
		ScheduledMode: catalog.ScheduledEligibleNow,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	n := got[0]
	assert.Equal(t, int64(7), n.ID)
	assert.Equal(t, strPtr("acme"), n.Tenant)
	assert.Equal(t, []string{"u1", "u2"}, n.Recipients)
	assert.Equal(t, []api.Channel{api.ChannelEmail}, n.Channels)
	assert.Equal(t, "John", n.Payload["userName"])
	assert.Equal(t, api.StatusPending, n.Status)
	require.NotNil(t, n.Overrides["email"])
}

func TestPollNotificationsRejectsBadBatchSize(t *testing.T) {
	s, _ := newMockStore(t)
	for _, size := range []int{0, 1001, -5} {
		_, err := s.PollNotifications(context.Background(), catalog.PollOptions{BatchSize: size})
		assert.True(t, api.IsKind(err, api.KindValidation), "size %d", size)
	}
}

func TestGetWorkflowDefinitionMissing(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .* FROM notification_workflow`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	w, err := s.GetWorkflowDefinition(context.Background(), 99, strPtr("acme"))
	require.NoError(t, err)
	assert.Nil(t, w)
}

func TestGetActiveCronRulesSkipsEmptyCron(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()
	cols := []string{
		"id", "enterprise_id", "business_id", "name", "notification_workflow_id",
		"trigger_type", "trigger_config", "rule_payload", "publish_status",
		"deactivated", "created_at", "updated_at",
	}
	mock.ExpectQuery(`SELECT .* FROM notification_rule r\s+JOIN notification_workflow w`).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(1, "acme", "biz", "daily", 1, "CRON",
				[]byte(`{"cron":"0 9 * * MON","timezone":"UTC"}`), []byte(`{}`),
				"PUBLISH", false, now, now).
			AddRow(2, "acme", "biz", "no-cron", 1, "CRON",
				[]byte(`{}`), []byte(`{}`), "PUBLISH", false, now, now))

	rules, err := s.GetActiveCronRules(context.Background(), strPtr("acme"))
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "0 9 * * MON", rules[0].TriggerConfig.Cron)
}

func TestClassifyConstraintViolation(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`INSERT INTO notification`).
		WillReturnError(&pgconn.PgError{Code: "23514", ConstraintName: "notification_status_check"})

	_, err := s.CreateNotification(context.Background(), &api.Notification{
		Recipients:    []string{"u1"},
		WorkflowID:    1,
		PublishStatus: api.PublishStatusPublish,
		Status:        api.StatusPending,
	})
	assert.True(t, api.IsKind(err, api.KindValidation))
}

func TestClassifyTransportFailure(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .* FROM notification WHERE`).
		WillReturnError(assert.AnError)

	_, err := s.GetNotification(context.Background(), 1)
	assert.True(t, api.IsKind(err, api.KindCatalogUnavailable))
}

func TestCreateNotificationRequiresRecipients(t *testing.T) {
	s, _ := newMockStore(t)
	_, err := s.CreateNotification(context.Background(), &api.Notification{WorkflowID: 1})
	assert.True(t, api.IsKind(err, api.KindValidation))
}

func TestGetLastRuleUpdateZeroWhenEmpty(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT COALESCE\(MAX\(updated_at\)`).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(time.Unix(0, 0).UTC()))

	ts, err := s.GetLastRuleUpdate(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, ts.IsZero())
}
