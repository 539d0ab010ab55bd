package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mr1hm/rental-alerts/internal/alerting"
	"github.com/mr1hm/rental-alerts/internal/config"
	"github.com/mr1hm/rental-alerts/internal/lock"
	"github.com/mr1hm/rental-alerts/internal/logging"
	"github.com/mr1hm/rental-alerts/internal/models"
	"github.com/mr1hm/rental-alerts/internal/repository"
)

var (
	ruleName     string
	listLimit    int
	listSeverity string
	listAll      bool
)

var rootCmd = &cobra.Command{
	Use:   "alertctl",
	Short: "Run rental alert checks and maintenance from the command line",
	Long: `alertctl runs the same detection and retention work as the service,
once, against the configured database. It is meant for cron jobs and manual
operation.

Examples:
  alertctl check                       # run every rule
  alertctl check --rule rental_overdue # run a single rule
  alertctl cleanup                     # purge expired and old resolved alerts
  alertctl list --severity critical    # show open critical alerts`,
	SilenceUsage: true,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run detection rules once and print the report",
	Args:  cobra.NoArgs,
	RunE:  runCheck,
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete expired alerts and alerts resolved more than 30 days ago",
	Args:  cobra.NoArgs,
	RunE:  runCleanup,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List alerts, newest first",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	checkCmd.Flags().StringVar(&ruleName, "rule", "", "Run only the named rule")
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "Maximum number of alerts to print")
	listCmd.Flags().StringVar(&listSeverity, "severity", "", "Only show alerts of this severity")
	listCmd.Flags().BoolVar(&listAll, "all", false, "Include resolved alerts")

	rootCmd.AddCommand(checkCmd, cleanupCmd, listCmd)
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type session struct {
	db     *repository.Store
	engine *alerting.Engine
	close  func()
}

func openSession(ctx context.Context) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logging.SetupWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	db, err := repository.Open(cfg.DataSource())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	closers := []func(){func() { db.Close() }}
	var locker alerting.Locker
	if cfg.Redis.URL != "" {
		rl, err := lock.NewRedisLocker(cfg.Redis.URL)
		if err != nil {
			db.Close()
			return nil, err
		}
		closers = append(closers, func() { rl.Close() })
		locker = rl
	}

	engine := alerting.NewEngine(alerting.EngineConfig{
		Store:   db,
		Sources: alerting.Sources{Rentals: db, Payments: db, Vehicles: db, Quotes: db, Leads: db},
		Workers: cfg.Checks.Workers,
		Locker:  locker,
		LockTTL: cfg.Redis.LockTTL,
	})

	return &session{
		db:     db,
		engine: engine,
		close: func() {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		},
	}, nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.close()

	if ruleName != "" {
		n, err := s.engine.RunRule(cmd.Context(), ruleName)
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]any{"rule": ruleName, "created": n})
	}

	report := s.engine.RunAllChecks(cmd.Context())
	if err := printJSON(cmd, report); err != nil {
		return err
	}
	if report.Failed() > 0 {
		return fmt.Errorf("%d rule(s) failed", report.Failed())
	}
	return nil
}

func runCleanup(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.close()

	report := s.engine.Cleanup(cmd.Context())
	if err := printJSON(cmd, report); err != nil {
		return err
	}
	if len(report.Errors) > 0 {
		return fmt.Errorf("cleanup finished with %d error(s)", len(report.Errors))
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.close()

	filter := repository.Filter{Limit: listLimit}
	if !listAll {
		unresolved := false
		filter.IsResolved = &unresolved
	}
	if listSeverity != "" {
		sev := models.Severity(listSeverity)
		if !sev.Valid() {
			return fmt.Errorf("invalid severity %q", listSeverity)
		}
		filter.Severity = &sev
	}

	alerts, err := s.db.ListAlerts(cmd.Context(), filter)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, a := range alerts {
		fmt.Fprintf(out, "%s  %-8s  %-18s  %-12s  %s\n",
			a.CreatedAt.Local().Format(time.DateTime), a.Severity, a.Type, a.EntityType+":"+a.EntityID, a.Title)
	}
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
