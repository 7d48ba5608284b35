package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"docloader/internal/catalog"
	"docloader/internal/config"
	"docloader/internal/domain"
	"docloader/internal/logging"
	"docloader/internal/metrics"
	"docloader/internal/service"
	"docloader/internal/storage"
)

var (
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
)

// errIncomplete makes `load` exit non-zero when the overall flag is false.
var errIncomplete = errors.New("load incomplete: some locators failed")

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "docloader",
		Short: "Load archive entries into a document database",
		Long: `docloader reads archive entries (containers of named categories),
maps them through a versioned schema catalog into typed documents, and
bulk-loads the documents into a document database.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}
			logger, err = logging.New(cfg.Logging, verbose)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "config file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newLoadCmd(), newServeCmd(), newStatusCmd(), newSchemaCmd())
	return root
}

// ── load ───────────────────────────────────────────────────

func newLoadCmd() *cobra.Command {
	var (
		mode        string
		locators    string
		collections []string
		workers     int
	)
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Run one batch over a locator list",
		RunE: func(cmd *cobra.Command, args []string) error {
			if mode != "" {
				cfg.Load.Mode = domain.LoadMode(mode)
			}
			if len(collections) > 0 {
				cfg.Load.Collections = collections
			}
			if workers > 0 {
				cfg.Load.Workers = workers
			}
			if locators == "" {
				locators = cfg.Load.LocatorsPath
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a := New(cfg, logger)
			defer a.Shutdown(context.Background())
			if err := a.Startup(ctx); err != nil {
				return err
			}
			out, err := a.RunFile(ctx, locators)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(summarize(out)); err != nil {
				return err
			}
			if !out.Success {
				return errIncomplete
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "load mode: full or replace")
	cmd.Flags().StringVar(&locators, "locators", "", "locator list file")
	cmd.Flags().StringSliceVar(&collections, "collection", nil, "target collection (repeatable)")
	cmd.Flags().IntVar(&workers, "workers", 0, "worker count")
	return cmd
}

type runSummary struct {
	RunID              string                            `json:"runId"`
	Database           string                            `json:"database"`
	Mode               domain.LoadMode                   `json:"mode"`
	Success            bool                              `json:"success"`
	Succeeded          int                               `json:"succeeded"`
	Rejected           int                               `json:"rejected"`
	Failed             map[string][]domain.FailureReason `json:"failed,omitempty"`
	Collections        []domain.CollectionStatus         `json:"collections"`
	ReadBackMismatches int                               `json:"readBackMismatches"`
	Elapsed            string                            `json:"elapsed"`
}

func summarize(o *domain.LoadOutcome) runSummary {
	s := runSummary{
		RunID:              o.RunID,
		Database:           o.Database,
		Mode:               o.Mode,
		Success:            o.Success,
		Succeeded:          len(o.Succeeded()),
		Rejected:           len(o.Rejected()),
		Collections:        o.Collections,
		ReadBackMismatches: o.ReadBackMismatches,
		Elapsed:            o.FinishedAt.Sub(o.StartedAt).Round(time.Millisecond).String(),
	}
	for _, r := range o.Locators {
		if r.Status == domain.LocatorFailed {
			if s.Failed == nil {
				s.Failed = map[string][]domain.FailureReason{}
			}
			s.Failed[r.Locator] = r.Reasons
		}
	}
	return s
}

// ── serve ──────────────────────────────────────────────────

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled and file-triggered loads and expose /metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a := New(cfg, logger)
			defer a.Shutdown(context.Background())
			if err := a.Startup(ctx); err != nil {
				return err
			}

			var status service.StatusRecorder
			if a.Status() != nil {
				status = a.Status()
			}
			svc := service.NewLoadService(a.Loader(), status, service.LogEmitter{Logger: logger}, logger, service.Options{
				Database:   cfg.Datastore.Database,
				RunTimeout: cfg.Schedule.RunTimeout,
			})

			if cfg.Schedule.Cron != "" {
				if err := svc.Schedule(ctx, cfg.Schedule.Cron, cfg.Load.LocatorsPath); err != nil {
					return err
				}
			}
			if cfg.Schedule.WatchPath != "" {
				if err := svc.Watch(ctx, cfg.Schedule.WatchPath); err != nil {
					return err
				}
			}

			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
			go func() {
				logger.Info("metrics listening", zap.String("addr", cfg.Metrics.Listen))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("metrics server failed", zap.Error(err))
				}
			}()

			<-ctx.Done()
			logger.Info("shutting down")
			svc.Stop()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			svc.WaitRunning(shutdownCtx)
			return srv.Shutdown(shutdownCtx)
		},
	}
}

// ── status ─────────────────────────────────────────────────

func newStatusCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show recent load runs and their collection status",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Status.Driver == "" {
				return domain.ConfigErrorf("status.driver", "no status store configured")
			}
			db, err := storage.Open(cfg.Status.Options)
			if err != nil {
				return err
			}
			defer db.Close()
			return printStatus(cmd, storage.NewStatusStore(db), limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of runs to show")
	return cmd
}

func printStatus(cmd *cobra.Command, store *storage.StatusStore, limit int) error {
	runs, err := store.ListRuns(limit)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tDATABASE\tMODE\tOK\tSUCCEEDED\tFAILED\tREJECTED\tSTARTED")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%d\t%d\t%d\t%s\n",
			r.ID, r.Database, r.Mode, r.Success, r.Succeeded, r.Failed, r.Rejected,
			r.StartedAt.Format(time.RFC3339))
	}
	if len(runs) > 0 {
		recs, err := store.ListCollectionStatus(runs[0].ID)
		if err != nil {
			return err
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, "UPDATE\tCOLLECTION\tFLAG\tLOADED\tFAILED")
		for _, c := range recs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n", c.UpdateID, c.Object, c.StatusFlag, c.Loaded, c.Failed)
		}
	}
	return w.Flush()
}

// ── schema ─────────────────────────────────────────────────

func newSchemaCmd() *cobra.Command {
	var collection, level string
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the validator schema of a collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := catalog.Load(cfg.CatalogPath)
			if err != nil {
				return err
			}
			if level == "" {
				level = cfg.Load.ValidationLevel
			}
			schema, err := cat.ValidatorSchema(collection, level)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(schema)
		},
	}
	cmd.Flags().StringVar(&collection, "collection", "", "collection name")
	cmd.Flags().StringVar(&level, "level", "", "validation level: min or full")
	_ = cmd.MarkFlagRequired("collection")
	return cmd
}
