// Package sqlitestore persists the state produced by effect handlers:
// hourly counters, daily keyword counts and user notifications, all written
// idempotently.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store provides access to the effects database.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the database at dbPath and runs migrations.
func New(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS counters (
		metric TEXT NOT NULL,
		bucket_ms INTEGER NOT NULL,
		value REAL NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (metric, bucket_ms)
	);

	CREATE TABLE IF NOT EXISTS applied_records (
		source TEXT NOT NULL,
		record_id TEXT NOT NULL,
		metric TEXT NOT NULL,
		applied_at DATETIME NOT NULL,
		PRIMARY KEY (source, record_id, metric)
	);

	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		event_type TEXT NOT NULL,
		reference_id TEXT NOT NULL,
		category TEXT NOT NULL,
		title TEXT,
		body TEXT,
		created_at DATETIME NOT NULL,
		read_at DATETIME,
		UNIQUE (owner, event_type, reference_id)
	);

	CREATE INDEX IF NOT EXISTS idx_notifications_owner ON notifications(owner, created_at);

	CREATE TABLE IF NOT EXISTS keyword_daily (
		day TEXT NOT NULL,
		keyword TEXT NOT NULL,
		frequency INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (day, keyword)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- Counter Operations ---

// Increment adds Delta to Metric in the hourly bucket containing At.
type Increment struct {
	Metric string
	At     time.Time
	Delta  float64
}

// Bucket is one stored counter value.
type Bucket struct {
	Metric string    `json:"metric"`
	Start  time.Time `json:"start"`
	Value  float64   `json:"value"`
}

// HourBucket truncates t to the start of its UTC hour.
func HourBucket(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// ApplyIncrements applies incs for the record (source, recordID) in one
// transaction. An increment already applied for the same record and metric
// is skipped, so replays leave totals unchanged. It returns how many
// increments took effect.
func (s *Store) ApplyIncrements(ctx context.Context, source, recordID string, incs ...Increment) (int, error) {
	if len(incs) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	applied := 0
	for _, inc := range incs {
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO applied_records (source, record_id, metric, applied_at) VALUES (?, ?, ?, ?)`,
			source, recordID, inc.Metric, now)
		if err != nil {
			return 0, fmt.Errorf("mark applied: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO counters (metric, bucket_ms, value, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT (metric, bucket_ms) DO UPDATE SET value = value + excluded.value, updated_at = excluded.updated_at`,
			inc.Metric, HourBucket(inc.At).UnixMilli(), inc.Delta, now)
		if err != nil {
			return 0, fmt.Errorf("increment %s: %w", inc.Metric, err)
		}
		applied++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return applied, nil
}

// Counters returns metric buckets starting in [from, to), oldest first. A
// zero to means no upper bound.
func (s *Store) Counters(ctx context.Context, metric string, from, to time.Time) ([]Bucket, error) {
	upper := int64(1<<63 - 1)
	if !to.IsZero() {
		upper = to.UnixMilli()
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT bucket_ms, value FROM counters WHERE metric = ? AND bucket_ms >= ? AND bucket_ms < ? ORDER BY bucket_ms`,
		metric, from.UnixMilli(), upper)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Bucket
	for rows.Next() {
		var ms int64
		var v float64
		if err := rows.Scan(&ms, &v); err != nil {
			return nil, err
		}
		out = append(out, Bucket{Metric: metric, Start: time.UnixMilli(ms).UTC(), Value: v})
	}
	return out, rows.Err()
}

// --- Keyword Operations ---

// KeywordCount is a keyword's frequency summed over a day range.
type KeywordCount struct {
	Keyword   string `json:"keyword"`
	Frequency int64  `json:"frequency"`
}

const dayLayout = "2006-01-02"

// ApplyKeywords counts each keyword once for the UTC day of at, at most once
// per (source, recordID, keyword). It returns how many keywords took effect.
func (s *Store) ApplyKeywords(ctx context.Context, source, recordID string, at time.Time, keywords ...string) (int, error) {
	if len(keywords) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	day := at.UTC().Format(dayLayout)
	applied := 0
	for _, kw := range keywords {
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO applied_records (source, record_id, metric, applied_at) VALUES (?, ?, ?, ?)`,
			source, recordID, "keyword:"+kw, now)
		if err != nil {
			return 0, fmt.Errorf("mark applied: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO keyword_daily (day, keyword, frequency) VALUES (?, ?, 1)
			ON CONFLICT (day, keyword) DO UPDATE SET frequency = frequency + 1`,
			day, kw)
		if err != nil {
			return 0, fmt.Errorf("count keyword: %w", err)
		}
		applied++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return applied, nil
}

// TopKeywords sums keyword frequencies over the UTC days from..to inclusive
// and returns the top limit, highest first and ties by keyword.
func (s *Store) TopKeywords(ctx context.Context, from, to time.Time, limit int) ([]KeywordCount, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT keyword, SUM(frequency) AS total FROM keyword_daily
		WHERE day >= ? AND day <= ?
		GROUP BY keyword ORDER BY total DESC, keyword ASC LIMIT ?`,
		from.UTC().Format(dayLayout), to.UTC().Format(dayLayout), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []KeywordCount
	for rows.Next() {
		var kc KeywordCount
		if err := rows.Scan(&kc.Keyword, &kc.Frequency); err != nil {
			return nil, err
		}
		out = append(out, kc)
	}
	return out, rows.Err()
}

// --- Notification Operations ---

// Notification is a message shown to one owner.
type Notification struct {
	ID          string     `json:"id"`
	Owner       string     `json:"owner"`
	EventType   string     `json:"eventType"`
	ReferenceID string     `json:"referenceId"`
	Category    string     `json:"category"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	CreatedAt   time.Time  `json:"createdAt"`
	ReadAt      *time.Time `json:"readAt,omitempty"`
}

// UpsertNotification inserts n unless a notification with the same owner,
// event type and reference ID exists. It reports whether a row was created.
func (s *Store) UpsertNotification(ctx context.Context, n Notification) (bool, error) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, owner, event_type, reference_id, category, title, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner, event_type, reference_id) DO NOTHING`,
		n.ID, n.Owner, n.EventType, n.ReferenceID, n.Category, n.Title, n.Body, n.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert notification: %w", err)
	}
	created, _ := res.RowsAffected()
	return created > 0, nil
}

// ListNotifications returns owner's notifications, newest first.
func (s *Store) ListNotifications(ctx context.Context, owner string, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner, event_type, reference_id, category, title, body, created_at, read_at
		FROM notifications WHERE owner = ? ORDER BY created_at DESC, id DESC LIMIT ?`, owner, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		var title, body sql.NullString
		var readAt sql.NullTime
		if err := rows.Scan(&n.ID, &n.Owner, &n.EventType, &n.ReferenceID, &n.Category, &title, &body, &n.CreatedAt, &readAt); err != nil {
			return nil, err
		}
		n.Title, n.Body = title.String, body.String
		if readAt.Valid {
			t := readAt.Time
			n.ReadAt = &t
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationRead sets read_at on one of owner's notifications.
func (s *Store) MarkNotificationRead(ctx context.Context, owner, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET read_at = ? WHERE id = ? AND owner = ? AND read_at IS NULL`,
		time.Now().UTC(), id, owner)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
