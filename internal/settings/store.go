package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/0xethll/meeting-mind/internal/config"
	_ "modernc.org/sqlite"
)

const (
	KeyAPIToken = "api_token"

	placeholderToken = "YOUR_API_KEY_HERE"
)

var (
	// ErrCredentialMissing means no usable API credential is configured; a
	// configuration problem, not a transport one.
	ErrCredentialMissing = errors.New("API credential not configured")
	// ErrQuotaExceeded rejects a request locally before any network call.
	ErrQuotaExceeded = errors.New("request quota exhausted")
	// ErrNotFound is returned for an absent settings key.
	ErrNotFound = errors.New("setting not found")
)

// Usage is the persisted request-count record. RequestsToday resets when the
// calendar day changes.
type Usage struct {
	Date          string
	RequestsToday int
	TotalRequests int
}

// Limits describe a plan's request allowances. Zero means unlimited.
type Limits struct {
	Daily int
	Total int
}

func PlanLimits(plan string) Limits {
	if plan == "premium" {
		return Limits{Daily: 1000, Total: 0}
	}
	return Limits{Daily: 50, Total: 1000}
}

// Store is the SQLite-backed key-value settings and usage store, the only
// durable state the system keeps.
type Store struct {
	db    *sql.DB
	cfg   config.SettingsConfig
	log   *slog.Logger
	clock func() time.Time
}

func Open(ctx context.Context, cfg config.SettingsConfig, log *slog.Logger) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS usage (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    date TEXT NOT NULL,
    requests_today INTEGER NOT NULL,
    total_requests INTEGER NOT NULL
);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, err
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings(key, value) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value)
	return err
}

// APIToken returns the configured credential, distinguishing the missing and
// placeholder cases from everything else.
func (s *Store) APIToken(ctx context.Context) (string, error) {
	token, err := s.Get(ctx, KeyAPIToken)
	if errors.Is(err, ErrNotFound) {
		return "", ErrCredentialMissing
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(token) == "" || token == placeholderToken {
		return "", ErrCredentialMissing
	}
	return token, nil
}

// Usage reads the request-count record, applying the calendar-day reset.
func (s *Store) Usage(ctx context.Context) (Usage, error) {
	today := s.clock().Format("2006-01-02")

	var u Usage
	err := s.db.QueryRowContext(ctx,
		`SELECT date, requests_today, total_requests FROM usage WHERE id = 1`).
		Scan(&u.Date, &u.RequestsToday, &u.TotalRequests)
	if errors.Is(err, sql.ErrNoRows) {
		return Usage{Date: today}, nil
	}
	if err != nil {
		return Usage{}, err
	}
	if u.Date != today {
		u = Usage{Date: today, TotalRequests: u.TotalRequests}
	}
	return u, nil
}

// CheckQuota rejects locally when the plan's limits are reached. Called
// before every transcription submission so an exhausted quota never produces
// a network call.
func (s *Store) CheckQuota(ctx context.Context) error {
	u, err := s.Usage(ctx)
	if err != nil {
		return err
	}
	limits := PlanLimits(s.cfg.Plan)
	if limits.Daily > 0 && u.RequestsToday >= limits.Daily {
		return fmt.Errorf("%w: daily limit of %d requests reached", ErrQuotaExceeded, limits.Daily)
	}
	if limits.Total > 0 && u.TotalRequests >= limits.Total {
		return fmt.Errorf("%w: total limit of %d requests reached", ErrQuotaExceeded, limits.Total)
	}
	return nil
}

// RecordRequest increments the counters and returns the updated record.
func (s *Store) RecordRequest(ctx context.Context) (Usage, error) {
	u, err := s.Usage(ctx)
	if err != nil {
		return Usage{}, err
	}
	u.RequestsToday++
	u.TotalRequests++
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO usage(id, date, requests_today, total_requests) VALUES(1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET date=excluded.date,
		   requests_today=excluded.requests_today,
		   total_requests=excluded.total_requests`,
		u.Date, u.RequestsToday, u.TotalRequests)
	if err != nil {
		return Usage{}, err
	}
	return u, nil
}

// Plan reports the configured plan name for usage broadcasts.
func (s *Store) Plan() string {
	return s.cfg.Plan
}
