package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"budgetsync/internal/budget"
	"budgetsync/internal/config"
	"budgetsync/internal/database"
	"budgetsync/internal/encryption"
	"budgetsync/internal/feed"
	"budgetsync/internal/live"
	"budgetsync/internal/model"
	"budgetsync/internal/presence"
	"budgetsync/internal/remote"
)

// EnvPassphrase holds the key passphrase for sealed remotes.
const EnvPassphrase = "BUDGETSYNC_PASSPHRASE"

// Options adjust how a BudgetApp is built for one CLI invocation.
type Options struct {
	// Month overrides the budget month (YYYY-MM). Empty means the current month.
	Month string
	// Offline forces the network signal offline.
	Offline bool
	// Passphrase is asked for the key passphrase when the remote stores
	// sealed documents and BUDGETSYNC_PASSPHRASE is unset.
	Passphrase func() (string, error)
	// Stderr mirrors the log. Nil logs to the file only.
	Stderr io.Writer
	// Clock defaults to the real clock.
	Clock budget.Clock
}

// BudgetApp is the application layer between the CLI and the sync
// coordinator. It constructs all dependencies from config and releases them
// on Close.
type BudgetApp struct {
	cfg         *config.Config
	userID      string
	db          *database.SQLiteDatabase
	remote      budget.Remote
	signal      presence.Signal
	hub         *live.Hub
	coordinator *budget.Coordinator
	clock       budget.Clock
	session     *Session
	logger      *slog.Logger
	logFile     io.Closer
}

// NewBudgetApp creates a fully wired BudgetApp from the given config.
// command identifies the CLI command being run (e.g. "sync", "item add").
// The caller must call Close when done.
func NewBudgetApp(ctx context.Context, cfg *config.Config, command string, opts Options) (*BudgetApp, error) {
	clock := opts.Clock
	if clock == nil {
		clock = budget.RealClock{}
	}
	session := NewSession(command, clock.Now())

	logger, logFile, err := newLogger(cfg.LogDir, cfg.Log, session.ID, opts.Stderr)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	log := &slogAdapter{l: logger}

	a := &BudgetApp{
		cfg:     cfg,
		hub:     live.NewHub(),
		clock:   clock,
		session: session,
		logger:  logger,
		logFile: logFile,
	}
	if err := a.wire(ctx, opts, log); err != nil {
		a.release()
		return nil, err
	}

	logger.Debug("session started", "command", command, "user", a.userID, "month", a.coordinator.Month())
	return a, nil
}

func (a *BudgetApp) wire(ctx context.Context, opts Options, log budget.Logger) error {
	cfg := a.cfg

	userID, err := ResolveUserID(ctx, cfg)
	if err != nil {
		return err
	}
	a.userID = userID

	db, err := database.NewDatabaseFromConfig(cfg.Database, userID, a.hub)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	a.db = db

	sealer, err := openSealer(cfg, opts.Passphrase)
	if err != nil {
		return err
	}
	r, err := remote.NewRemoteFromConfig(ctx, cfg.Remote, userID, sealer, a.clock, log)
	if err != nil {
		return fmt.Errorf("creating remote: %w", err)
	}
	a.remote = r

	signal, err := presence.NewSignalFromConfig(cfg.Network, opts.Offline, log)
	if err != nil {
		return fmt.Errorf("creating network signal: %w", err)
	}
	a.signal = signal

	c, err := budget.NewCoordinator(db, r, signal, a.hub, log, a.clock, budget.UUIDGenerator{}, CoordinatorOptions(cfg, userID, opts.Month))
	if err != nil {
		return fmt.Errorf("creating coordinator: %w", err)
	}
	a.coordinator = c
	return nil
}

// CoordinatorOptions maps the sync section of cfg onto coordinator options.
func CoordinatorOptions(cfg *config.Config, userID, month string) budget.Options {
	opts := budget.DefaultOptions()
	opts.UserID = userID
	opts.Month = month
	if d := cfg.Sync.Interval.Duration; d > 0 {
		opts.SyncInterval = d
	}
	if n := cfg.Sync.MaxRetryCount; n > 0 {
		opts.MaxRetryCount = n
	}
	if cfg.Sync.BackoffMin != nil {
		opts.BackoffMin = cfg.Sync.BackoffMin.Duration
	}
	if d := cfg.Sync.BackoffMax.Duration; d > 0 {
		opts.BackoffMax = d
	}
	return opts
}

// ResolveUserID returns the configured user id, or the subject of the
// remote access token when none is configured.
func ResolveUserID(ctx context.Context, cfg *config.Config) (string, error) {
	if cfg.UserID != "" {
		return cfg.UserID, nil
	}
	if cfg.Remote.Type != "http" {
		return "", fmt.Errorf("%w: set user_id in the config", budget.ErrNoUser)
	}

	token, err := remote.EnvOrFileToken(remote.TokenEnv(cfg.Remote), cfg.Remote.TokenPath)(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", budget.ErrNoUser, err)
	}
	claims, err := remote.InspectToken(token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", budget.ErrNoUser, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: access token has no subject", budget.ErrNoUser)
	}
	return claims.Subject, nil
}

// openSealer unlocks the document keys when the remote stores sealed
// documents. It returns a nil Sealer otherwise.
func openSealer(cfg *config.Config, prompt func() (string, error)) (remote.Sealer, error) {
	if !remote.SealsDocuments(cfg.Remote) {
		return nil, nil
	}

	sealer, err := encryption.OpenSealer(cfg.Encryption, func() (string, error) {
		if p := os.Getenv(EnvPassphrase); p != "" {
			return p, nil
		}
		if prompt == nil {
			return "", fmt.Errorf("key passphrase required: set %s", EnvPassphrase)
		}
		p, err := prompt()
		if err != nil {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
		return p, nil
	})
	if err != nil {
		return nil, fmt.Errorf("remote.encrypt is set: %w", err)
	}
	return sealer, nil
}

// Coordinator returns the sync engine.
func (a *BudgetApp) Coordinator() *budget.Coordinator {
	return a.coordinator
}

// Database returns the local store.
func (a *BudgetApp) Database() *database.SQLiteDatabase {
	return a.db
}

// UserID returns the user the app operates on.
func (a *BudgetApp) UserID() string {
	return a.userID
}

// Session returns the current CLI session.
func (a *BudgetApp) Session() *Session {
	return a.session
}

// NewFeedServer creates a websocket feed over the coordinator.
func (a *BudgetApp) NewFeedServer() *feed.Server {
	return feed.NewServer(a.coordinator, &slogAdapter{l: a.logger}, a.clock)
}

// SetOnline changes the network state when the signal supports it.
// It reports whether the signal is manually controlled.
func (a *BudgetApp) SetOnline(online bool) bool {
	m, ok := a.signal.(*presence.Manual)
	if !ok {
		return false
	}
	m.SetOnline(online)
	return true
}

// Run starts the coordinator loop and blocks until ctx is done.
func (a *BudgetApp) Run(ctx context.Context) error {
	if err := a.coordinator.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	a.coordinator.Stop()
	return nil
}

// Sync drains the queue, ignoring retry backoff, then pulls the current month.
// Sync failures are reported in the returned status rather than as an error.
func (a *BudgetApp) Sync(ctx context.Context) (budget.Status, error) {
	if err := a.coordinator.SyncNow(ctx); err != nil {
		return budget.Status{}, err
	}
	return a.coordinator.Status(ctx)
}

// Load pulls the current month when online so reads see remote changes.
// A remote failure leaves the local data as is.
func (a *BudgetApp) Load(ctx context.Context) (*budget.Snapshot, error) {
	if err := a.coordinator.SyncFromServer(ctx); err != nil {
		return nil, err
	}
	return a.coordinator.Snapshot(ctx)
}

// SetBudgetFields parses "field=amount" assignments and applies them to the
// current month's header.
func (a *BudgetApp) SetBudgetFields(ctx context.Context, assignments []string) (*model.Budget, error) {
	patch, err := ParseAssignments(assignments)
	if err != nil {
		return nil, err
	}
	return a.coordinator.UpdateBudget(ctx, patch)
}

// ParseAssignments parses "field=amount" pairs into Amounts.
func ParseAssignments(assignments []string) (model.Amounts, error) {
	if len(assignments) == 0 {
		return nil, fmt.Errorf("%w: no fields given", budget.ErrInvalidInput)
	}
	patch := make(model.Amounts, len(assignments))
	for _, s := range assignments {
		name, value, ok := strings.Cut(s, "=")
		if !ok {
			return nil, fmt.Errorf("%w: %q is not field=amount", budget.ErrInvalidInput, s)
		}
		f, err := model.ParseField(strings.TrimSpace(name))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", budget.ErrInvalidInput, err)
		}
		amount, err := ParseAmount(value)
		if err != nil {
			return nil, err
		}
		patch[f] = amount
	}
	return patch, nil
}

// Fail marks the session failed; Close logs the outcome.
func (a *BudgetApp) Fail(err error) {
	if err != nil {
		a.session.Fail()
		a.logger.Error("command failed", "command", a.session.Command, "error", err)
	}
}

// Close stops the coordinator and releases all resources.
func (a *BudgetApp) Close() error {
	if a.coordinator != nil {
		a.coordinator.Stop()
	}
	a.logger.Debug("session finished", "command", a.session.Command, "status", a.session.Status,
		"elapsed", a.session.Elapsed(a.clock.Now()))
	return a.release()
}

func (a *BudgetApp) release() error {
	var firstErr error
	if a.signal != nil {
		if err := a.signal.Close(); err != nil {
			firstErr = fmt.Errorf("closing network signal: %w", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing database: %w", err)
		}
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
