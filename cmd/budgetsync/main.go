package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"budgetsync/internal/app"
	"budgetsync/internal/budget"
	"budgetsync/internal/config"
	"budgetsync/internal/encryption"
	"budgetsync/internal/model"
	"budgetsync/internal/presence"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file named by the application defaults.
func loadConfig() (*config.Config, map[string]string, error) {
	if err := app.LoadDotEnv(".env"); err != nil {
		return nil, nil, err
	}
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, nil, fmt.Errorf("getting defaults: %w", err)
	}
	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, defaults, nil
}

// newApp reads the config and creates a BudgetApp. The caller must defer app.Close().
// command identifies the CLI command being run (e.g. "sync", "item add").
func newApp(cmd *cobra.Command, command string) (*app.BudgetApp, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}

	month, _ := cmd.Flags().GetString("month")
	offline, _ := cmd.Flags().GetBool("offline")
	verbose, _ := cmd.Flags().GetBool("verbose")

	opts := app.Options{
		Month:      month,
		Offline:    offline,
		Passphrase: func() (string, error) { return readPassphrase("Key passphrase: ") },
	}
	if verbose {
		opts.Stderr = os.Stderr
	}

	a, err := app.NewBudgetApp(cmd.Context(), cfg, command, opts)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// readPassphrase prompts on the terminal without echo.
func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// push drains the queue after a mutation so online edits reach the remote
// before the command exits. Failures stay queued.
func push(ctx context.Context, a *app.BudgetApp) {
	c := a.Coordinator()
	if err := c.ProcessQueue(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	status, err := c.Status(ctx)
	if err != nil {
		return
	}
	switch {
	case status.PendingChanges == 0:
		fmt.Println("Synced.")
	case !status.IsOnline:
		fmt.Printf("Offline: %d change(s) queued.\n", status.PendingChanges)
	default:
		fmt.Printf("%d change(s) queued", status.PendingChanges)
		if status.SyncError != "" {
			fmt.Printf(" (%s)", status.SyncError)
		}
		fmt.Println(".")
	}
}

// withApp runs fn with a BudgetApp and records the outcome in its session.
func withApp(cmd *cobra.Command, command string, fn func(ctx context.Context, a *app.BudgetApp) error) error {
	a, err := newApp(cmd, command)
	if err != nil {
		return err
	}
	defer a.Close()

	err = fn(cmd.Context(), a)
	a.Fail(err)
	return err
}

var rootCmd = &cobra.Command{
	Use:           "budgetsync",
	Short:         "Offline-first monthly budget",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		userID, _ := cmd.Flags().GetString("user")
		cfg := config.NewConfig(userID, defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		if userID == "" {
			fmt.Println("User ID:  (from the access token subject)")
		} else {
			fmt.Printf("User ID:  %s\n", userID)
		}
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, defaults, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("User ID:  %s\n", cfg.UserID)
		fmt.Printf("Base Dir: %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:  %s\n", cfg.LogDir)
		fmt.Printf("Database: %s %s\n", cfg.Database.Type, cfg.Database.DataDir)
		fmt.Printf("Remote:   %s\n", describeRemote(cfg.Remote))
		fmt.Printf("Network:  %s %s\n", cfg.Network.Type, cfg.Network.StateFile)
		fmt.Printf("Sync:     every %s, %d attempts\n", cfg.Sync.Interval, cfg.Sync.MaxRetryCount)
		return nil
	},
}

func describeRemote(r config.RemoteConfig) string {
	var where string
	switch r.Type {
	case "http":
		where = r.BaseURL
	case "filesystem":
		where = r.FSRoot
	case "s3":
		where = "s3://" + r.S3Bucket + "/" + r.S3Prefix
	}
	if r.Encrypt {
		where += " (encrypted)"
	}
	return strings.TrimSpace(r.Type + " " + where)
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage document encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the key pair used to encrypt remote documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
		if err != nil {
			return err
		}
		if enc.IsConfigured() {
			return fmt.Errorf("keys already exist at %s", cfg.Encryption.PrivateKeyPath)
		}

		passphrase, err := readPassphrase("New passphrase: ")
		if err != nil {
			return fmt.Errorf("reading passphrase: %w", err)
		}
		confirm, err := readPassphrase("Repeat passphrase: ")
		if err != nil {
			return fmt.Errorf("reading passphrase: %w", err)
		}
		if passphrase != confirm {
			return errors.New("passphrases do not match")
		}

		if err := enc.Setup(passphrase); err != nil {
			return fmt.Errorf("generating keys: %w", err)
		}
		fmt.Printf("Keys written to %s\n", cfg.Encryption.PublicKeyPath)
		return nil
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "status", func(ctx context.Context, a *app.BudgetApp) error {
			snap, err := a.Load(ctx)
			if err != nil {
				return err
			}
			printStatus(snap.Month, snap.Status)
			return nil
		})
	},
}

func printStatus(month string, s budget.Status) {
	state := s.Indicator()
	if state == budget.IndicatorHidden {
		state = "up to date"
	}
	fmt.Printf("Month:    %s\n", month)
	fmt.Printf("State:    %s\n", state)
	fmt.Printf("Online:   %v\n", s.IsOnline)
	fmt.Printf("Pending:  %d\n", s.PendingChanges)
	if !s.LastSyncedAt.IsZero() {
		fmt.Printf("Synced:   %s\n", s.LastSyncedAt.Local().Format("2006-01-02 15:04:05"))
	}
	if s.SyncError != "" {
		fmt.Printf("Error:    %s\n", s.SyncError)
	}
}

// show command
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the month's budget",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "show", func(ctx context.Context, a *app.BudgetApp) error {
			snap, err := a.Load(ctx)
			if err != nil {
				return err
			}

			var amounts model.Amounts
			if snap.Budget != nil {
				amounts = snap.Budget.Amounts
			}
			groups := []struct {
				title  string
				fields []model.Field
			}{
				{"Income", model.IncomeFields},
				{"Fixed obligations", model.FixedFields},
				{"Variable expenses", model.VariableFields},
			}
			fmt.Printf("Budget %s\n", snap.Month)
			for _, g := range groups {
				fmt.Printf("\n%s\n", g.title)
				for _, f := range g.fields {
					fmt.Printf("  %-20s %12s\n", f, amounts.Get(f).StringFixed(2))
				}
			}

			if len(snap.Items) > 0 {
				fmt.Println("\nItems")
				for _, it := range snap.Items {
					fmt.Printf("  %-10s %-11s %-15s %-20s %12s\n",
						it.SyncStatus, it.Type, it.Category, it.Name, it.Amount.StringFixed(2))
					fmt.Printf("    %s\n", it.ID)
				}
			}

			t := snap.Totals
			fmt.Println("\nTotals")
			fmt.Printf("  %-20s %12s\n", "income", t.Income.StringFixed(2))
			fmt.Printf("  %-20s %12s\n", "fixed", t.FixedObligations.StringFixed(2))
			fmt.Printf("  %-20s %12s\n", "variable", t.VariableExpenses.StringFixed(2))
			fmt.Printf("  %-20s %12s\n", "debt attack", t.DebtAttack.StringFixed(2))
			fmt.Println()
			printStatus(snap.Month, snap.Status)
			return nil
		})
	},
}

// item command
var itemCmd = &cobra.Command{
	Use:   "item",
	Short: "Manage custom line items",
}

func itemInput(args []string) (budget.ItemInput, error) {
	amount, err := app.ParseAmount(args[3])
	if err != nil {
		return budget.ItemInput{}, err
	}
	return budget.ItemInput{
		Type:     model.LineItemType(args[0]),
		Category: args[1],
		Name:     args[2],
		Amount:   amount,
	}, nil
}

var itemAddCmd = &cobra.Command{
	Use:   "add TYPE CATEGORY NAME AMOUNT",
	Short: "Add an income or obligation item",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		in, err := itemInput(args)
		if err != nil {
			return err
		}
		return withApp(cmd, "item add", func(ctx context.Context, a *app.BudgetApp) error {
			it, err := a.Coordinator().AddLineItem(ctx, in)
			if err != nil {
				return err
			}
			fmt.Printf("Added %s\n", it.ID)
			push(ctx, a)
			return nil
		})
	},
}

var itemUpdateCmd = &cobra.Command{
	Use:   "update ID TYPE CATEGORY NAME AMOUNT",
	Short: "Replace an item's fields",
	Args:  cobra.ExactArgs(5),
	RunE: func(cmd *cobra.Command, args []string) error {
		in, err := itemInput(args[1:])
		if err != nil {
			return err
		}
		return withApp(cmd, "item update", func(ctx context.Context, a *app.BudgetApp) error {
			it, err := a.Coordinator().UpdateLineItem(ctx, args[0], in)
			if err != nil {
				return err
			}
			fmt.Printf("Updated %s\n", it.ID)
			push(ctx, a)
			return nil
		})
	},
}

var itemDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete an item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "item delete", func(ctx context.Context, a *app.BudgetApp) error {
			if err := a.Coordinator().DeleteLineItem(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted %s\n", args[0])
			push(ctx, a)
			return nil
		})
	},
}

// budget command
var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Edit the month's header fields",
}

var budgetSetCmd = &cobra.Command{
	Use:   "set FIELD=AMOUNT...",
	Short: "Set header fields, e.g. netSalary=3200 groceries=450",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "budget set", func(ctx context.Context, a *app.BudgetApp) error {
			if _, err := a.SetBudgetFields(ctx, args); err != nil {
				return err
			}
			fmt.Printf("Updated %d field(s)\n", len(args))
			push(ctx, a)
			return nil
		})
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push queued changes and pull the month now",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "sync", func(ctx context.Context, a *app.BudgetApp) error {
			status, err := a.Sync(ctx)
			if err != nil {
				return err
			}
			printStatus(a.Coordinator().Month(), status)
			return nil
		})
	},
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

// run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Keep syncing in the foreground until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "run", func(_ context.Context, a *app.BudgetApp) error {
			ctx, stop := signalContext(cmd)
			defer stop()
			fmt.Println("Syncing; press Ctrl-C to stop.")
			return a.Run(ctx)
		})
	},
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Sync and serve live snapshots over a websocket",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "serve", func(_ context.Context, a *app.BudgetApp) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			addr, _ := cmd.Flags().GetString("addr")
			if addr == "" {
				cfg, _, err := loadConfig()
				if err != nil {
					return err
				}
				addr = cfg.Feed.Addr
			}

			if err := a.Coordinator().Start(ctx); err != nil {
				return err
			}
			defer a.Coordinator().Stop()

			fmt.Printf("Serving ws://%s/ws\n", addr)
			return a.NewFeedServer().ListenAndServe(ctx, addr)
		})
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View sync run history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		return withApp(cmd, "history", func(ctx context.Context, a *app.BudgetApp) error {
			runs, err := a.Coordinator().History(ctx, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("No sync runs recorded.")
				return nil
			}

			for _, r := range runs {
				duration := ""
				if r.Finished() {
					duration = r.FinishedAt.Sub(r.StartedAt).Truncate(time.Millisecond).String()
				}
				fmt.Printf("#%d  %-6s  %s  %s  %-8s  %-8s  %s\n",
					r.ID,
					r.Kind,
					r.Month,
					r.StartedAt.Local().Format("2006-01-02 15:04:05"),
					r.Status,
					duration,
					r.Detail,
				)
			}
			return nil
		})
	},
}

// clear command
var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the month's local data and the pending queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			return errors.New("unsynced changes will be lost: pass --yes to confirm")
		}
		return withApp(cmd, "clear", func(ctx context.Context, a *app.BudgetApp) error {
			if err := a.Coordinator().ClearLocalData(ctx); err != nil {
				return err
			}
			fmt.Printf("Cleared local data for %s\n", a.Coordinator().Month())
			return nil
		})
	},
}

// db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Inspect the local database",
}

var dbBackupCmd = &cobra.Command{
	Use:   "backup PATH",
	Short: "Write a consistent copy of the local database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "db backup", func(ctx context.Context, a *app.BudgetApp) error {
			if err := a.Database().BackupTo(args[0]); err != nil {
				return err
			}
			fmt.Printf("Database written to %s\n", args[0])
			return nil
		})
	},
}

var dbSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the local database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "db schema", func(ctx context.Context, a *app.BudgetApp) error {
			schema, err := a.Database().Schema(ctx)
			if err != nil {
				return err
			}
			fmt.Print(schema)
			return nil
		})
	},
}

// network command
var networkCmd = &cobra.Command{
	Use:       "network online|offline",
	Short:     "Flip the network state file watched by running processes",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"online", "offline"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Network.Type != "file" {
			return fmt.Errorf("network.type is %q: only the file signal can be switched", cfg.Network.Type)
		}

		var online bool
		switch args[0] {
		case "online":
			online = true
		case "offline":
		default:
			return fmt.Errorf("unknown network state %q", args[0])
		}
		if err := presence.WriteState(cfg.Network.StateFile, online); err != nil {
			return err
		}
		fmt.Printf("Network marked %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("month", "", "Budget month (YYYY-MM), default current month")
	rootCmd.PersistentFlags().Bool("offline", false, "Work offline; changes stay queued")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Mirror the log to stderr")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().String("user", "", "User id (default: the access token subject)")
	configCmd.AddCommand(configListCmd)

	keysCmd.AddCommand(keysInitCmd)

	itemCmd.AddCommand(itemAddCmd)
	itemCmd.AddCommand(itemUpdateCmd)
	itemCmd.AddCommand(itemDeleteCmd)

	budgetCmd.AddCommand(budgetSetCmd)

	dbCmd.AddCommand(dbBackupCmd)
	dbCmd.AddCommand(dbSchemaCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(itemCmd)
	rootCmd.AddCommand(budgetCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address (default: feed.addr from the config)")
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of runs to show")
	rootCmd.AddCommand(clearCmd)
	clearCmd.Flags().Bool("yes", false, "Confirm discarding local data")
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(networkCmd)
}
