package settings

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/0xethll/meeting-mind/internal/config"
)

func newTestStore(t *testing.T, plan string) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.db")
	cfg := config.SettingsConfig{Path: path, Plan: plan}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	s, err := Open(context.Background(), cfg, log)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAPITokenMissingAndPlaceholder(t *testing.T) {
	s := newTestStore(t, "free")
	ctx := context.Background()

	if _, err := s.APIToken(ctx); !errors.Is(err, ErrCredentialMissing) {
		t.Fatalf("expected ErrCredentialMissing for absent token, got %v", err)
	}
	if err := s.Set(ctx, KeyAPIToken, "YOUR_API_KEY_HERE"); err != nil {
		t.Fatalf("set token: %v", err)
	}
	if _, err := s.APIToken(ctx); !errors.Is(err, ErrCredentialMissing) {
		t.Fatalf("expected ErrCredentialMissing for placeholder, got %v", err)
	}
	if err := s.Set(ctx, KeyAPIToken, "fw-secret"); err != nil {
		t.Fatalf("set token: %v", err)
	}
	token, err := s.APIToken(ctx)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if token != "fw-secret" {
		t.Fatalf("token = %q", token)
	}
}

func TestUsageDayRollover(t *testing.T) {
	s := newTestStore(t, "free")
	ctx := context.Background()

	s.clock = func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }
	for i := 0; i < 3; i++ {
		if _, err := s.RecordRequest(ctx); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	u, err := s.Usage(ctx)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if u.RequestsToday != 3 || u.TotalRequests != 3 {
		t.Fatalf("usage = %+v", u)
	}

	s.clock = func() time.Time { return time.Date(2024, 3, 2, 0, 5, 0, 0, time.UTC) }
	u, err = s.Usage(ctx)
	if err != nil {
		t.Fatalf("usage after rollover: %v", err)
	}
	if u.RequestsToday != 0 {
		t.Fatalf("daily count not reset: %+v", u)
	}
	if u.TotalRequests != 3 {
		t.Fatalf("total count lost on rollover: %+v", u)
	}
}

func TestCheckQuotaDailyLimit(t *testing.T) {
	s := newTestStore(t, "free")
	ctx := context.Background()
	s.clock = func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }

	for i := 0; i < 50; i++ {
		if err := s.CheckQuota(ctx); err != nil {
			t.Fatalf("quota rejected at %d: %v", i, err)
		}
		if _, err := s.RecordRequest(ctx); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := s.CheckQuota(ctx); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}

	// Next day the daily window reopens.
	s.clock = func() time.Time { return time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC) }
	if err := s.CheckQuota(ctx); err != nil {
		t.Fatalf("quota should reset next day: %v", err)
	}
}

func TestCheckQuotaTotalLimit(t *testing.T) {
	s := newTestStore(t, "free")
	ctx := context.Background()
	s.clock = func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }

	// Force the lifetime counter to the cap directly.
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO usage(id, date, requests_today, total_requests) VALUES(1, ?, 0, 1000)`,
		"2024-03-01"); err != nil {
		t.Fatalf("seed usage: %v", err)
	}
	if err := s.CheckQuota(ctx); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded at total cap, got %v", err)
	}
}

func TestPremiumPlanUnlimitedTotal(t *testing.T) {
	s := newTestStore(t, "premium")
	ctx := context.Background()
	s.clock = func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO usage(id, date, requests_today, total_requests) VALUES(1, ?, 0, 5000)`,
		"2024-03-01"); err != nil {
		t.Fatalf("seed usage: %v", err)
	}
	if err := s.CheckQuota(ctx); err != nil {
		t.Fatalf("premium has no total cap: %v", err)
	}

	limits := PlanLimits("premium")
	if limits.Daily != 1000 || limits.Total != 0 {
		t.Fatalf("premium limits = %+v", limits)
	}
}

func TestSettingsPersistAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.db")
	cfg := config.SettingsConfig{Path: path, Plan: "free"}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	ctx := context.Background()

	s, err := Open(ctx, cfg, log)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Set(ctx, "theme", "dark"); err != nil {
		t.Fatalf("set: %v", err)
	}
	s.Close()

	s2, err := Open(ctx, cfg, log)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	v, err := s2.Get(ctx, "theme")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v != "dark" {
		t.Fatalf("value = %q", v)
	}
}
