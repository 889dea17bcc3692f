// Package postgres implements the Catalog Access Layer against PostgreSQL
// using sqlx over the pgx stdlib driver. All reads are tenant-scoped and
// deterministic in order; writes are single-statement conditional updates
// and inserts, never multi-statement transactions.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register the pgx database/sql driver
	"github.com/jmoiron/sqlx"

	"github.com/xnovu/worker/api"
	"github.com/xnovu/worker/catalog"
)

const (
	clientName       = "catalog-postgres"
	defaultOpTimeout = 5 * time.Second
)

// Options configures the postgres catalog store.
type Options struct {
	// DB is the connection pool. Required.
	DB *sqlx.DB
	// Timeout bounds individual statements when the caller's context has no
	// earlier deadline. Defaults to 5s.
	Timeout time.Duration
}

type store struct {
	db      *sqlx.DB
	timeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

// New returns a catalog.Store backed by PostgreSQL.
func New(opts Options) (catalog.Store, error) {
	if opts.DB == nil {
		return nil, errors.New("catalog postgres: db handle is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &store{db: opts.DB, timeout: timeout}, nil
}

// Connect opens a pgx-backed pool for the given URL and verifies it with a
// ping.
func Connect(ctx context.Context, url string) (*sqlx.DB, error) {
	db, err := sqlx.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("catalog postgres: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, api.WrapError(api.KindCatalogUnavailable, err, "ping catalog")
	}
	return db, nil
}

func (s *store) Name() string { return clientName }

func (s *store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *store) Shutdown(context.Context) error {
	s.closeOnce.Do(func() { s.closeErr = s.db.Close() })
	return s.closeErr
}

// classify maps database errors to the engine taxonomy: integrity
// violations (SQLSTATE class 23) become Validation, everything else is a
// transport failure.
func classify(err error, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23") {
		return api.WrapError(api.KindValidation, err, "%s rejected by constraint %s", op, pgErr.ConstraintName)
	}
	return api.WrapError(api.KindCatalogUnavailable, err, "%s", op)
}

func (s *store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

const ruleColumns = `r.id, r.enterprise_id, r.business_id, r.name,
	r.notification_workflow_id, r.trigger_type, r.trigger_config,
	r.rule_payload, r.publish_status, r.deactivated, r.created_at, r.updated_at`

func (s *store) GetActiveCronRules(ctx context.Context, tenant *string) ([]*api.NotificationRule, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	q := `SELECT ` + ruleColumns + `
		FROM notification_rule r
		JOIN notification_workflow w
		  ON w.id = r.notification_workflow_id
		 AND (w.enterprise_id = r.enterprise_id OR w.enterprise_id IS NULL)
		WHERE r.trigger_type = 'CRON'
		  AND r.publish_status = 'PUBLISH' AND NOT r.deactivated
		  AND w.publish_status = 'PUBLISH' AND NOT w.deactivated`
	args := []any{}
	if tenant != nil {
		q += ` AND r.enterprise_id = $1`
		args = append(args, *tenant)
	}
	q += ` ORDER BY r.id ASC`

	var rows []ruleRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, classify(err, "list active cron rules")
	}
	rules := make([]*api.NotificationRule, 0, len(rows))
	for i := range rows {
		r, err := rows[i].toRule()
		if err != nil {
			return nil, err
		}
		// Rules whose trigger config does not carry an expression are not
		// schedulable even when published.
		if r.TriggerConfig != nil && r.TriggerConfig.Cron != "" {
			rules = append(rules, r)
		}
	}
	return rules, nil
}

func (s *store) GetRulesUpdatedSince(ctx context.Context, since time.Time) ([]*api.NotificationRule, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	q := `SELECT ` + ruleColumns + `
		FROM notification_rule r
		WHERE r.trigger_type = 'CRON' AND r.updated_at > $1
		ORDER BY r.updated_at ASC, r.id ASC`
	var rows []ruleRow
	if err := s.db.SelectContext(ctx, &rows, q, since); err != nil {
		return nil, classify(err, "list updated cron rules")
	}
	rules := make([]*api.NotificationRule, 0, len(rows))
	for i := range rows {
		r, err := rows[i].toRule()
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func (s *store) GetRule(ctx context.Context, id int64, tenant *string) (*api.NotificationRule, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	q := `SELECT ` + ruleColumns + ` FROM notification_rule r WHERE r.id = $1`
	args := []any{id}
	if tenant != nil {
		q += ` AND r.enterprise_id = $2`
		args = append(args, *tenant)
	} else {
		q += ` AND r.enterprise_id IS NULL`
	}
	var row ruleRow
	err := s.db.GetContext(ctx, &row, q, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err, "get rule")
	}
	return row.toRule()
}

func (s *store) GetWorkflowDefinition(ctx context.Context, id int64, tenant *string) (*api.WorkflowDefinition, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	// Tenant scope wins over the global scope; NULLS LAST makes a single
	// query try both in order.
	q := `SELECT id, enterprise_id, workflow_key, name, description,
			workflow_type, default_channels, template_overrides, payload_schema,
			publish_status, deactivated, created_at, updated_at
		FROM notification_workflow
		WHERE id = $1
		  AND publish_status = 'PUBLISH' AND NOT deactivated
		  AND (enterprise_id IS NULL`
	args := []any{id}
	if tenant != nil {
		q += ` OR enterprise_id = $2`
		args = append(args, *tenant)
	}
	q += `) ORDER BY enterprise_id NULLS LAST LIMIT 1`

	var row workflowRow
	err := s.db.GetContext(ctx, &row, q, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err, "get workflow definition")
	}
	return row.toWorkflow()
}

const notificationColumns = `id, enterprise_id, business_id, name, description,
	payload, recipients, notification_workflow_id, notification_rule_id,
	channels, overrides, publish_status, deactivated, notification_status,
	scheduled_for, transaction_id, error_details, processed_at, created_at,
	updated_at`

func (s *store) GetNotification(ctx context.Context, id int64) (*api.Notification, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var row notificationRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+notificationColumns+` FROM notification WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err, "get notification")
	}
	return row.toNotification()
}

func (s *store) PollNotifications(ctx context.Context, opts catalog.PollOptions) ([]*api.Notification, error) {
	if opts.BatchSize < 1 || opts.BatchSize > 1000 {
		return nil, api.Errorf(api.KindValidation, "poll batch size %d outside 1..1000", opts.BatchSize)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var (
		conds = []string{`publish_status = 'PUBLISH'`, `NOT deactivated`}
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if opts.Tenant != nil {
		conds = append(conds, `enterprise_id = `+arg(*opts.Tenant))
	}
	statuses := opts.Statuses
	if len(statuses) == 0 && !opts.IncludeProcessed {
		statuses = []api.NotificationStatus{api.StatusPending, api.StatusFailed}
	}
	if len(statuses) > 0 {
		ph := make([]string, len(statuses))
		for i, st := range statuses {
			ph[i] = arg(string(st))
		}
		conds = append(conds, `notification_status IN (`+strings.Join(ph, ", ")+`)`)
	}
	if opts.UpdatedAfter != nil {
		conds = append(conds, `updated_at > `+arg(*opts.UpdatedAfter))
	}
	order := `updated_at ASC, id ASC`
	switch opts.ScheduledMode {
	case catalog.ScheduledEligibleNow:
		conds = append(conds, `(scheduled_for IS NULL OR scheduled_for <= now())`)
	case catalog.ScheduledOnly:
		conds = append(conds, `scheduled_for IS NOT NULL`, `scheduled_for <= now()`)
		order = `scheduled_for ASC, id ASC`
	}

	q := `SELECT ` + notificationColumns + ` FROM notification WHERE ` +
		strings.Join(conds, " AND ") +
		` ORDER BY ` + order + ` LIMIT ` + arg(opts.BatchSize)

	var rows []notificationRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, classify(err, "poll notifications")
	}
	out := make([]*api.Notification, 0, len(rows))
	for i := range rows {
		n, err := rows[i].toNotification()
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *store) CreateNotification(ctx context.Context, n *api.Notification) (*api.Notification, error) {
	if len(n.Recipients) == 0 {
		return nil, api.Errorf(api.KindValidation, "notification requires at least one recipient")
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	payload, err := marshalJSON(n.Payload)
	if err != nil {
		return nil, err
	}
	recipients, err := marshalJSON(n.Recipients)
	if err != nil {
		return nil, err
	}
	channels, err := marshalNullableJSON(n.Channels)
	if err != nil {
		return nil, err
	}
	overrides, err := marshalNullableJSON(n.Overrides)
	if err != nil {
		return nil, err
	}

	created := *n
	err = s.db.QueryRowxContext(ctx,
		`INSERT INTO notification
			(enterprise_id, business_id, name, description, payload, recipients,
			 notification_workflow_id, notification_rule_id, channels, overrides,
			 publish_status, deactivated, notification_status, scheduled_for)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING id, created_at, updated_at`,
		n.Tenant, n.BusinessID, n.Name, n.Description, payload, recipients,
		n.WorkflowID, n.RuleID, channels, overrides,
		string(n.PublishStatus), n.Deactivated, string(n.Status), n.ScheduledFor,
	).Scan(&created.ID, &created.CreatedAt, &created.UpdatedAt)
	if err != nil {
		return nil, classify(err, "create notification")
	}
	return &created, nil
}

func (s *store) UpdateNotificationStatus(ctx context.Context, id int64, newStatus api.NotificationStatus, prior []api.NotificationStatus, upd catalog.StatusUpdate) (bool, error) {
	if len(prior) == 0 {
		return false, api.Errorf(api.KindValidation, "status transition requires allowed prior states")
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	sets := []string{`notification_status = ?`, `updated_at = now()`}
	args := []any{string(newStatus)}
	if upd.ErrorDetails != nil {
		details, err := marshalJSON(upd.ErrorDetails)
		if err != nil {
			return false, err
		}
		sets = append(sets, `error_details = ?`)
		args = append(args, details)
	}
	if upd.TransactionID != nil {
		sets = append(sets, `transaction_id = ?`)
		args = append(args, *upd.TransactionID)
	}
	if upd.Processed {
		sets = append(sets, `processed_at = now()`)
	}

	priors := make([]string, len(prior))
	for i, st := range prior {
		priors[i] = string(st)
	}
	q, inArgs, err := sqlx.In(
		`UPDATE notification SET `+strings.Join(sets, ", ")+
			` WHERE id = ? AND notification_status IN (?)`,
		append(args, id, priors)...)
	if err != nil {
		return false, api.WrapError(api.KindValidation, err, "build status update")
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(q), inArgs...)
	if err != nil {
		return false, classify(err, "update notification status")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, classify(err, "update notification status")
	}
	return affected == 1, nil
}

func (s *store) GetLastRuleUpdate(ctx context.Context, tenant *string) (time.Time, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	q := `SELECT COALESCE(MAX(updated_at), 'epoch'::timestamptz)
		FROM notification_rule WHERE trigger_type = 'CRON'`
	args := []any{}
	if tenant != nil {
		q += ` AND enterprise_id = $1`
		args = append(args, *tenant)
	}
	var ts time.Time
	if err := s.db.GetContext(ctx, &ts, q, args...); err != nil {
		return time.Time{}, classify(err, "get last rule update")
	}
	if ts.Unix() <= 0 {
		return time.Time{}, nil
	}
	return ts, nil
}

func (s *store) GetTemplateByKey(ctx context.Context, key string, tenant *string) (*api.Template, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	q := `SELECT id, enterprise_id, template_key, name, subject_template,
			body_template, channel_type, variables_description,
			publish_status, deactivated
		FROM notification_template
		WHERE template_key = $1
		  AND publish_status = 'PUBLISH' AND NOT deactivated
		  AND (enterprise_id IS NULL`
	args := []any{key}
	if tenant != nil {
		q += ` OR enterprise_id = $2`
		args = append(args, *tenant)
	}
	q += `) ORDER BY enterprise_id NULLS LAST LIMIT 1`

	var row templateRow
	err := s.db.GetContext(ctx, &row, q, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err, "get template")
	}
	return row.toTemplate()
}

func marshalJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, api.WrapError(api.KindValidation, err, "encode json column")
	}
	return b, nil
}

// marshalNullableJSON returns nil for empty values so optional jsonb columns
// stay NULL instead of holding empty containers.
func marshalNullableJSON(v any) (any, error) {
	switch t := v.(type) {
	case []api.Channel:
		if len(t) == 0 {
			return nil, nil
		}
	case map[string]any:
		if len(t) == 0 {
			return nil, nil
		}
	}
	return marshalJSON(v)
}
