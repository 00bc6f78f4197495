package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"

	"budgetsync/internal/budget"
	"budgetsync/internal/config"
	"budgetsync/internal/model"
	"budgetsync/internal/testutil"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.NewConfig("user-1", dir)
	cfg.Database = config.DatabaseConfig{Type: "memory"}
	cfg.Remote = config.RemoteConfig{Type: "filesystem", FSRoot: filepath.Join(dir, "remote")}
	cfg.Network = config.NetworkConfig{Type: "manual"}
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, opts Options) *BudgetApp {
	t.Helper()
	if opts.Clock == nil {
		opts.Clock = testutil.FixedClock()
	}
	if opts.Month == "" {
		opts.Month = testutil.TestMonth
	}
	a, err := NewBudgetApp(context.Background(), cfg, "test", opts)
	if err != nil {
		t.Fatalf("NewBudgetApp() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func signToken(t *testing.T, claims jwt.RegisteredClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return s
}

func TestNewBudgetApp(t *testing.T) {
	ctx := context.Background()

	t.Run("edits reach the filesystem remote on sync", func(t *testing.T) {
		cfg := testConfig(t)
		a := newTestApp(t, cfg, Options{})

		it, err := a.Coordinator().AddLineItem(ctx, budget.ItemInput{
			Type: model.ItemObligation, Category: "housing", Name: "Rent", Amount: decimal.NewFromInt(900),
		})
		if err != nil {
			t.Fatalf("AddLineItem() error = %v", err)
		}

		status, err := a.Sync(ctx)
		if err != nil {
			t.Fatalf("Sync() error = %v", err)
		}
		if status.PendingChanges != 0 || status.SyncError != "" {
			t.Errorf("status = %+v, want clean", status)
		}

		data, err := os.ReadFile(filepath.Join(cfg.Remote.FSRoot, "user-1", testutil.TestMonth+".json"))
		if err != nil {
			t.Fatalf("reading remote document: %v", err)
		}
		if !strings.Contains(string(data), it.ID) {
			t.Errorf("remote document missing %s:\n%s", it.ID, data)
		}
	})

	t.Run("offline keeps edits queued", func(t *testing.T) {
		a := newTestApp(t, testConfig(t), Options{Offline: true})
		if _, err := a.SetBudgetFields(ctx, []string{"netSalary=3000", "groceries=450.50"}); err != nil {
			t.Fatalf("SetBudgetFields() error = %v", err)
		}

		status, err := a.Sync(ctx)
		if err != nil {
			t.Fatalf("Sync() error = %v", err)
		}
		if status.IsOnline || status.PendingChanges != 1 {
			t.Errorf("status = %+v, want offline with 1 pending", status)
		}

		if !a.SetOnline(true) {
			t.Fatal("SetOnline() = false, want manual signal")
		}
	})

	t.Run("load initializes an empty month", func(t *testing.T) {
		a := newTestApp(t, testConfig(t), Options{})
		snap, err := a.Load(ctx)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if snap.Budget == nil || snap.Budget.SyncStatus != model.StatusSynced {
			t.Errorf("budget = %+v, want zeroed synced budget", snap.Budget)
		}
	})

	t.Run("sealed remote", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Remote.Encrypt = true
		cfg.Encryption = config.EncryptionConfig{Type: "test"}
		t.Setenv(EnvPassphrase, "")

		prompted := false
		a := newTestApp(t, cfg, Options{Passphrase: func() (string, error) {
			prompted = true
			return "secret", nil
		}})
		if !prompted {
			t.Error("passphrase prompt not used")
		}
		if _, err := a.SetBudgetFields(ctx, []string{"housing=1200"}); err != nil {
			t.Fatalf("SetBudgetFields() error = %v", err)
		}
		if _, err := a.Sync(ctx); err != nil {
			t.Fatalf("Sync() error = %v", err)
		}
		if _, err := os.Stat(filepath.Join(cfg.Remote.FSRoot, "user-1", testutil.TestMonth+".json.age")); err != nil {
			t.Errorf("sealed document not written: %v", err)
		}
	})

	t.Run("sealed remote needs a passphrase", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Remote.Encrypt = true
		cfg.Encryption = config.EncryptionConfig{Type: "test"}
		t.Setenv(EnvPassphrase, "")

		_, err := NewBudgetApp(ctx, cfg, "test", Options{Clock: testutil.FixedClock()})
		if err == nil || !strings.Contains(err.Error(), EnvPassphrase) {
			t.Errorf("NewBudgetApp() error = %v, want passphrase error", err)
		}
	})

	t.Run("sealed remote without keys", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Remote.Encrypt = true
		t.Setenv(EnvPassphrase, "secret")

		_, err := NewBudgetApp(ctx, cfg, "test", Options{Clock: testutil.FixedClock()})
		if err == nil || !strings.Contains(err.Error(), "keys init") {
			t.Errorf("NewBudgetApp() error = %v, want missing keys error", err)
		}
	})

	t.Run("unknown remote type", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Remote.Type = "carrier-pigeon"
		if _, err := NewBudgetApp(ctx, cfg, "test", Options{Clock: testutil.FixedClock()}); err == nil {
			t.Error("NewBudgetApp() expected error")
		}
	})
}

func TestResolveUserID(t *testing.T) {
	ctx := context.Background()

	t.Run("configured user wins", func(t *testing.T) {
		cfg := config.NewConfig("user-1", t.TempDir())
		got, err := ResolveUserID(ctx, cfg)
		if err != nil || got != "user-1" {
			t.Errorf("ResolveUserID() = %q, %v, want user-1", got, err)
		}
	})

	t.Run("token subject", func(t *testing.T) {
		cfg := config.NewConfig("", t.TempDir())
		cfg.Remote.TokenEnv = "BUDGETSYNC_TEST_TOKEN"
		t.Setenv("BUDGETSYNC_TEST_TOKEN", signToken(t, jwt.RegisteredClaims{
			Subject:   "user-7",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}))

		got, err := ResolveUserID(ctx, cfg)
		if err != nil || got != "user-7" {
			t.Errorf("ResolveUserID() = %q, %v, want user-7", got, err)
		}
	})

	t.Run("token without subject", func(t *testing.T) {
		cfg := config.NewConfig("", t.TempDir())
		cfg.Remote.TokenEnv = "BUDGETSYNC_TEST_TOKEN"
		t.Setenv("BUDGETSYNC_TEST_TOKEN", signToken(t, jwt.RegisteredClaims{}))

		if _, err := ResolveUserID(ctx, cfg); !errors.Is(err, budget.ErrNoUser) {
			t.Errorf("ResolveUserID() error = %v, want ErrNoUser", err)
		}
	})

	t.Run("non-http remote needs a configured user", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.UserID = ""
		if _, err := ResolveUserID(ctx, cfg); !errors.Is(err, budget.ErrNoUser) {
			t.Errorf("ResolveUserID() error = %v, want ErrNoUser", err)
		}
	})
}

func TestCoordinatorOptions(t *testing.T) {
	cfg := config.NewConfig("user-1", t.TempDir())
	zero := config.Duration{}
	cfg.Sync = config.SyncConfig{
		Interval:      config.Duration{Duration: time.Minute},
		MaxRetryCount: 3,
		BackoffMin:    &zero,
	}

	got := CoordinatorOptions(cfg, "user-1", "2025-04")
	if got.UserID != "user-1" || got.Month != "2025-04" {
		t.Errorf("target = %s %s, want user-1 2025-04", got.UserID, got.Month)
	}
	if got.SyncInterval != time.Minute || got.MaxRetryCount != 3 {
		t.Errorf("schedule = %v/%d, want 1m/3", got.SyncInterval, got.MaxRetryCount)
	}
	if got.BackoffMin != 0 {
		t.Errorf("BackoffMin = %v, want 0 (disabled)", got.BackoffMin)
	}
	if got.BackoffMax != budget.DefaultBackoffMax {
		t.Errorf("BackoffMax = %v, want default", got.BackoffMax)
	}

	cfg.Sync.BackoffMin = nil
	if got := CoordinatorOptions(cfg, "user-1", ""); got.BackoffMin != budget.DefaultBackoffMin {
		t.Errorf("BackoffMin = %v, want default", got.BackoffMin)
	}
}

func TestParseAssignments(t *testing.T) {
	tests := []struct {
		name    string
		in      []string
		want    map[model.Field]string
		wantErr bool
	}{
		{name: "single", in: []string{"netSalary=3000"}, want: map[model.Field]string{model.FieldNetSalary: "3000"}},
		{name: "decimals and spaces", in: []string{"groceries = 450.50", "other=0"}, want: map[model.Field]string{model.FieldGroceries: "450.5", model.FieldOther: "0"}},
		{name: "empty", in: nil, wantErr: true},
		{name: "missing equals", in: []string{"housing"}, wantErr: true},
		{name: "unknown field", in: []string{"rent=10"}, wantErr: true},
		{name: "negative", in: []string{"housing=-1"}, wantErr: true},
		{name: "not a number", in: []string{"housing=lots"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAssignments(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAssignments() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, budget.ErrInvalidInput) {
					t.Errorf("error = %v, want ErrInvalidInput", err)
				}
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for f, want := range tt.want {
				if got[f].String() != want {
					t.Errorf("%s = %s, want %s", f, got[f], want)
				}
			}
		})
	}
}
