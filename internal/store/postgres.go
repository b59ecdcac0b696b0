package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"signalhook/internal/model"
)

// Postgres backs the Store interface with a Postgres database. Selected when
// DATABASE_URL is set.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// MigrateDir applies every .sql file in dir in lexical order.
func (p *Postgres) MigrateDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	names := []string{}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, n := range names {
		b, err := os.ReadFile(filepath.Join(dir, n))
		if err != nil {
			return err
		}
		if _, err := p.db.Exec(string(b)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) CreateUser(ctx context.Context, email, apiKeyHash string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u := model.User{ID: uuid.New().String(), Email: email, APIKeyHash: apiKeyHash, CreatedAt: time.Now().UTC()}
	var exists string
	err := p.db.QueryRowContext(ctx, `SELECT id::text FROM users WHERE email=$1`, email).Scan(&exists)
	if err == nil {
		return model.User{}, ErrDuplicateEmail
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.User{}, err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO users (id, email, api_key_hash, created_at) VALUES ($1,$2,$3,$4)`,
		u.ID, u.Email, u.APIKeyHash, u.CreatedAt)
	if err != nil {
		return model.User{}, err
	}
	return u, nil
}

func (p *Postgres) GetUserByKeyHash(ctx context.Context, keyHash string) (model.User, error) {
	var u model.User
	err := p.db.QueryRowContext(ctx, `SELECT id::text, email, api_key_hash, created_at FROM users WHERE api_key_hash=$1`, keyHash).
		Scan(&u.ID, &u.Email, &u.APIKeyHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	return u, err
}

func (p *Postgres) UpsertQuote(ctx context.Context, q model.Quote) error {
	if q.Timestamp.IsZero() {
		q.Timestamp = time.Now().UTC()
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO quotes (symbol, price, ts) VALUES ($1,$2,$3)
		ON CONFLICT (symbol) DO UPDATE SET price=EXCLUDED.price, ts=EXCLUDED.ts`,
		strings.ToUpper(q.Symbol), q.Price, q.Timestamp)
	return err
}

func (p *Postgres) GetQuote(ctx context.Context, symbol string) (model.Quote, error) {
	var q model.Quote
	err := p.db.QueryRowContext(ctx, `SELECT symbol, price, ts FROM quotes WHERE symbol=$1`, strings.ToUpper(symbol)).
		Scan(&q.Symbol, &q.Price, &q.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Quote{}, ErrNotFound
	}
	return q, err
}

func (p *Postgres) CreateAlert(ctx context.Context, userID string, in model.AlertInput) (model.Alert, error) {
	a := model.Alert{
		ID:        uuid.New().String(),
		UserID:    userID,
		Symbol:    strings.ToUpper(in.Symbol),
		Condition: in.Condition,
		Threshold: in.Threshold,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO alerts (id, user_id, symbol, condition, threshold, active, triggered, created_at)
		VALUES ($1,$2,$3,$4,$5,true,false,$6)`,
		a.ID, a.UserID, a.Symbol, a.Condition, a.Threshold, a.CreatedAt)
	if err != nil {
		return model.Alert{}, err
	}
	return a, nil
}

func scanAlerts(rows *sql.Rows) ([]model.Alert, error) {
	defer rows.Close()
	out := []model.Alert{}
	for rows.Next() {
		var a model.Alert
		var trigAt sql.NullTime
		var price sql.NullFloat64
		if err := rows.Scan(&a.ID, &a.UserID, &a.Symbol, &a.Condition, &a.Threshold, &a.Active, &a.Triggered, &trigAt, &price, &a.CreatedAt); err != nil {
			return nil, err
		}
		if trigAt.Valid {
			t := trigAt.Time
			a.TriggeredAt = &t
		}
		if price.Valid {
			a.Price = price.Float64
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const alertCols = `id::text, user_id::text, symbol, condition, threshold, active, triggered, triggered_at, trigger_price, created_at`

func (p *Postgres) ListAlerts(ctx context.Context, userID string) ([]model.Alert, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+alertCols+` FROM alerts WHERE user_id=$1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	return scanAlerts(rows)
}

func (p *Postgres) DeleteAlert(ctx context.Context, userID, alertID string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM alerts WHERE id=$1 AND user_id=$2`, alertID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ListActiveAlertsForSymbol(ctx context.Context, symbol string) ([]model.Alert, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+alertCols+` FROM alerts
		WHERE symbol=$1 AND active AND NOT triggered ORDER BY created_at`, strings.ToUpper(symbol))
	if err != nil {
		return nil, err
	}
	return scanAlerts(rows)
}

func (p *Postgres) MarkAlertTriggered(ctx context.Context, userID, alertID string, price float64) error {
	res, err := p.db.ExecContext(ctx, `UPDATE alerts SET triggered=true, triggered_at=now(), trigger_price=$3
		WHERE id=$1 AND user_id=$2`, alertID, userID, price)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ConsumeTriggeredAlerts(ctx context.Context, userID string) ([]model.Alert, error) {
	rows, err := p.db.QueryContext(ctx, `UPDATE alerts SET active=false
		WHERE user_id=$1 AND triggered AND active
		RETURNING `+alertCols, userID)
	if err != nil {
		return nil, err
	}
	alerts, err := scanAlerts(rows)
	if err != nil {
		return nil, err
	}
	sort.Slice(alerts, func(i, j int) bool {
		return triggerTime(alerts[i]).Before(triggerTime(alerts[j]))
	})
	return alerts, nil
}

func (p *Postgres) PutWebhookConfig(ctx context.Context, userID string, in model.WebhookConfigInput) (model.WebhookConfig, error) {
	active := true
	if in.Active != nil {
		active = *in.Active
	}
	var cfg model.WebhookConfig
	err := p.db.QueryRowContext(ctx, `INSERT INTO webhook_configs (user_id, url, secret, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,now(),now())
		ON CONFLICT (user_id) DO UPDATE SET url=EXCLUDED.url, secret=EXCLUDED.secret,
			active=CASE WHEN $5 THEN EXCLUDED.active ELSE webhook_configs.active END,
			updated_at=now()
		RETURNING user_id::text, url, COALESCE(secret,''), active, created_at, updated_at`,
		userID, in.URL, nullIfEmpty(in.Secret), active, in.Active != nil).
		Scan(&cfg.UserID, &cfg.URL, &cfg.Secret, &cfg.Active, &cfg.CreatedAt, &cfg.UpdatedAt)
	return cfg, err
}

func (p *Postgres) GetWebhookConfig(ctx context.Context, userID string) (model.WebhookConfig, error) {
	var cfg model.WebhookConfig
	err := p.db.QueryRowContext(ctx, `SELECT user_id::text, url, COALESCE(secret,''), active, created_at, updated_at
		FROM webhook_configs WHERE user_id=$1`, userID).
		Scan(&cfg.UserID, &cfg.URL, &cfg.Secret, &cfg.Active, &cfg.CreatedAt, &cfg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.WebhookConfig{}, ErrNotFound
	}
	return cfg, err
}

func (p *Postgres) DeleteWebhookConfig(ctx context.Context, userID string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM webhook_configs WHERE user_id=$1`, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) AppendDelivery(ctx context.Context, userID string, d model.WebhookDelivery) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	_, err = tx.ExecContext(ctx, `INSERT INTO webhook_deliveries
		(id, user_id, event_type, url, payload_size, summary, status, response_code, attempts, last_error, created_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		d.ID, userID, d.EventType, d.URL, d.PayloadSize, nullIfEmpty(d.Summary), d.Status,
		d.ResponseCode, d.Attempts, nullIfEmpty(d.LastError), d.CreatedAt, d.CompletedAt)
	if err != nil {
		return err
	}
	// FIFO eviction past the history cap
	_, err = tx.ExecContext(ctx, `DELETE FROM webhook_deliveries WHERE user_id=$1 AND id NOT IN (
		SELECT id FROM webhook_deliveries WHERE user_id=$1 ORDER BY created_at DESC, id LIMIT $2)`,
		userID, model.MaxDeliveryHistory)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (p *Postgres) ListDeliveries(ctx context.Context, userID string, limit int) ([]model.WebhookDelivery, error) {
	if limit <= 0 || limit > model.MaxDeliveryHistory {
		limit = model.MaxDeliveryHistory
	}
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, user_id::text, event_type, url, payload_size,
		COALESCE(summary,''), status, response_code, attempts, COALESCE(last_error,''), created_at, completed_at
		FROM webhook_deliveries WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.WebhookDelivery{}
	for rows.Next() {
		var d model.WebhookDelivery
		var completed sql.NullTime
		if err := rows.Scan(&d.ID, &d.UserID, &d.EventType, &d.URL, &d.PayloadSize, &d.Summary,
			&d.Status, &d.ResponseCode, &d.Attempts, &d.LastError, &d.CreatedAt, &completed); err != nil {
			return nil, err
		}
		if completed.Valid {
			t := completed.Time
			d.CompletedAt = &t
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
