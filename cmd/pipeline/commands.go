package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/iati-pipeline/core/internal/config"
	"github.com/iati-pipeline/core/pkg/clean"
	"github.com/iati-pipeline/core/pkg/download"
	"github.com/iati-pipeline/core/pkg/flatten"
	"github.com/iati-pipeline/core/pkg/lakify"
	"github.com/iati-pipeline/core/pkg/log"
	"github.com/iati-pipeline/core/pkg/orchestrator"
	"github.com/iati-pipeline/core/pkg/refresh"
	"github.com/iati-pipeline/core/pkg/solrize"
	"github.com/iati-pipeline/core/pkg/validate"
)

// runUntilSignal starts loop and blocks until SIGINT/SIGTERM, then stops
// the loop and tears down the admin server context — the shape every
// *loop command shares.
func runUntilSignal(ctx context.Context, cancel context.CancelFunc, loop *orchestrator.Loop) {
	loop.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}
	loop.Stop()
	cancel()
}

func loadConfigOrExit() config.Config {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Run one Refresh pass: reconcile the state store against the Bulk Data Service",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := loadConfigOrExit()

		db, err := connectStore(ctx, cfg, true)
		if err != nil {
			return err
		}
		defer db.Close()

		os, err := newObjectStore(ctx, cfg)
		if err != nil {
			return fmt.Errorf("connect object store: %w", err)
		}
		si := newSearchIndexClient(cfg)
		cleaner := newCleaner(os, si, cfg)
		worker := refresh.NewWorker(db, newBDSClient(cfg), cleaner, cfg.PublisherSafetyPercentage, cfg.DocumentSafetyPercentage, log.WithStage("refresh"))
		return worker.Pass(ctx)
	},
}

var refreshLoopCmd = &cobra.Command{
	Use:   "refreshloop",
	Short: "Run Refresh on a fixed interval until stopped",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		cfg := loadConfigOrExit()

		db, err := connectStore(ctx, cfg, true)
		if err != nil {
			cancel()
			return err
		}
		defer db.Close()

		os, err := newObjectStore(ctx, cfg)
		if err != nil {
			cancel()
			return fmt.Errorf("connect object store: %w", err)
		}
		si := newSearchIndexClient(cfg)
		cleaner := newCleaner(os, si, cfg)
		worker := refresh.NewWorker(db, newBDSClient(cfg), cleaner, cfg.PublisherSafetyPercentage, cfg.DocumentSafetyPercentage, log.WithStage("refresh"))

		runAdminServer(ctx, cfg, db, si, append([]string{activityCore}, explodeCoreNames(cfg)...))
		loop := orchestrator.NewLoop("refresh", cfg.ServiceLoopSleep, func(ctx context.Context) error { return worker.Pass(ctx) }, log.WithStage("refresh"))
		runUntilSignal(ctx, cancel, loop)
		return nil
	},
}

// reload is Download's CLI name: (re-)fetch each candidate document's
// source blob. -e retries documents that previously errored, too.
var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Download every document missing its source blob (reload)",
	RunE: func(cmd *cobra.Command, args []string) error {
		retryErrors, _ := cmd.Flags().GetBool("e")
		ctx := cmd.Context()
		cfg := loadConfigOrExit()

		db, err := connectStore(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer db.Close()

		os, err := newObjectStore(ctx, cfg)
		if err != nil {
			return fmt.Errorf("connect object store: %w", err)
		}
		worker := download.NewWorker(db, os, cfg.BDSTimeout, cfg.ParallelProcesses)
		return worker.Pass(ctx, retryErrors)
	},
}

var safetyCheckCmd = &cobra.Command{
	Use:   "safety_check",
	Short: "Run one Safety Controller pass: recompute publisher black flags",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := loadConfigOrExit()

		db, err := connectStore(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer db.Close()

		controller := newSafetyController(db, cfg)
		return controller.Run(ctx)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Run one Validate pass: schema then full validation for unvalidated documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		ctx := cmd.Context()
		cfg := loadConfigOrExit()

		db, err := connectStore(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer db.Close()

		os, err := newObjectStore(ctx, cfg)
		if err != nil {
			return fmt.Errorf("connect object store: %w", err)
		}
		controller := newSafetyController(db, cfg)
		safetyPeriod := time.Duration(cfg.SafetyCheckPeriodHours) * time.Hour
		worker := validate.NewWorker(db, os, newValidationClient(cfg), controller, safetyPeriod, cfg.ParallelProcesses)
		return worker.Pass(ctx, limit)
	},
}

var validateLoopCmd = &cobra.Command{
	Use:   "validateloop",
	Short: "Run Validate on a fixed interval until stopped",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		ctx, cancel := context.WithCancel(cmd.Context())
		cfg := loadConfigOrExit()

		db, err := connectStore(ctx, cfg, false)
		if err != nil {
			cancel()
			return err
		}
		defer db.Close()

		os, err := newObjectStore(ctx, cfg)
		if err != nil {
			cancel()
			return fmt.Errorf("connect object store: %w", err)
		}
		controller := newSafetyController(db, cfg)
		safetyPeriod := time.Duration(cfg.SafetyCheckPeriodHours) * time.Hour
		worker := validate.NewWorker(db, os, newValidationClient(cfg), controller, safetyPeriod, cfg.ParallelProcesses)

		si := newSearchIndexClient(cfg)
		runAdminServer(ctx, cfg, db, si, append([]string{activityCore}, explodeCoreNames(cfg)...))
		loop := orchestrator.NewLoop("validate", cfg.ServiceLoopSleep, func(ctx context.Context) error { return worker.Pass(ctx, limit) }, log.WithStage("validate"))
		runUntilSignal(ctx, cancel, loop)
		return nil
	},
}

var copyValidCmd = &cobra.Command{
	Use:   "copy_valid",
	Short: "Copy every validly-typed document from source to clean",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		ctx := cmd.Context()
		cfg := loadConfigOrExit()

		db, err := connectStore(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer db.Close()

		os, err := newObjectStore(ctx, cfg)
		if err != nil {
			return fmt.Errorf("connect object store: %w", err)
		}
		worker := clean.NewWorker(db, os, cfg.ParallelProcesses)
		return worker.CopyValidPass(ctx, limit)
	},
}

var cleanInvalidCmd = &cobra.Command{
	Use:   "clean_invalid",
	Short: "Reduce partially-invalid documents to their valid activities",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		ctx := cmd.Context()
		cfg := loadConfigOrExit()

		db, err := connectStore(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer db.Close()

		os, err := newObjectStore(ctx, cfg)
		if err != nil {
			return fmt.Errorf("connect object store: %w", err)
		}
		worker := clean.NewWorker(db, os, cfg.ParallelProcesses)
		return worker.CleanInvalidPass(ctx, limit)
	},
}

var cleanLoopCmd = &cobra.Command{
	Use:   "cleanloop",
	Short: "Run copy_valid then clean_invalid on a fixed interval until stopped",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		ctx, cancel := context.WithCancel(cmd.Context())
		cfg := loadConfigOrExit()

		db, err := connectStore(ctx, cfg, false)
		if err != nil {
			cancel()
			return err
		}
		defer db.Close()

		os, err := newObjectStore(ctx, cfg)
		if err != nil {
			cancel()
			return fmt.Errorf("connect object store: %w", err)
		}
		worker := clean.NewWorker(db, os, cfg.ParallelProcesses)

		si := newSearchIndexClient(cfg)
		runAdminServer(ctx, cfg, db, si, append([]string{activityCore}, explodeCoreNames(cfg)...))
		loop := orchestrator.NewLoop("clean", cfg.ServiceLoopSleep, func(ctx context.Context) error {
			if err := worker.CopyValidPass(ctx, limit); err != nil {
				return err
			}
			return worker.CleanInvalidPass(ctx, limit)
		}, log.WithStage("clean"))
		runUntilSignal(ctx, cancel, loop)
		return nil
	},
}

var flattenCmd = &cobra.Command{
	Use:   "flatten",
	Short: "Run one Flatten pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		ctx := cmd.Context()
		cfg := loadConfigOrExit()

		db, err := connectStore(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer db.Close()

		os, err := newObjectStore(ctx, cfg)
		if err != nil {
			return fmt.Errorf("connect object store: %w", err)
		}
		worker := flatten.NewWorker(db, os, cfg.ExplodeElements, cfg.ParallelProcesses)
		return worker.Pass(ctx, limit)
	},
}

var flattenLoopCmd = &cobra.Command{
	Use:   "flattenloop",
	Short: "Run Flatten on a fixed interval until stopped",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		ctx, cancel := context.WithCancel(cmd.Context())
		cfg := loadConfigOrExit()

		db, err := connectStore(ctx, cfg, false)
		if err != nil {
			cancel()
			return err
		}
		defer db.Close()

		os, err := newObjectStore(ctx, cfg)
		if err != nil {
			cancel()
			return fmt.Errorf("connect object store: %w", err)
		}
		worker := flatten.NewWorker(db, os, cfg.ExplodeElements, cfg.ParallelProcesses)

		si := newSearchIndexClient(cfg)
		runAdminServer(ctx, cfg, db, si, append([]string{activityCore}, explodeCoreNames(cfg)...))
		loop := orchestrator.NewLoop("flatten", cfg.ServiceLoopSleep, func(ctx context.Context) error { return worker.Pass(ctx, limit) }, log.WithStage("flatten"))
		runUntilSignal(ctx, cancel, loop)
		return nil
	},
}

var lakifyCmd = &cobra.Command{
	Use:   "lakify",
	Short: "Run one Lakify pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		ctx := cmd.Context()
		cfg := loadConfigOrExit()

		db, err := connectStore(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer db.Close()

		os, err := newObjectStore(ctx, cfg)
		if err != nil {
			return fmt.Errorf("connect object store: %w", err)
		}
		worker := lakify.NewWorker(db, os, cfg.ParallelProcesses)
		return worker.Pass(ctx, limit)
	},
}

var lakifyLoopCmd = &cobra.Command{
	Use:   "lakifyloop",
	Short: "Run Lakify on a fixed interval until stopped",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		ctx, cancel := context.WithCancel(cmd.Context())
		cfg := loadConfigOrExit()

		db, err := connectStore(ctx, cfg, false)
		if err != nil {
			cancel()
			return err
		}
		defer db.Close()

		os, err := newObjectStore(ctx, cfg)
		if err != nil {
			cancel()
			return fmt.Errorf("connect object store: %w", err)
		}
		worker := lakify.NewWorker(db, os, cfg.ParallelProcesses)

		si := newSearchIndexClient(cfg)
		runAdminServer(ctx, cfg, db, si, append([]string{activityCore}, explodeCoreNames(cfg)...))
		loop := orchestrator.NewLoop("lakify", cfg.ServiceLoopSleep, func(ctx context.Context) error { return worker.Pass(ctx, limit) }, log.WithStage("lakify"))
		runUntilSignal(ctx, cancel, loop)
		return nil
	},
}

var solrizeCmd = &cobra.Command{
	Use:   "solrize",
	Short: "Run one Solrize pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		ctx := cmd.Context()
		cfg := loadConfigOrExit()

		db, err := connectStore(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer db.Close()

		os, err := newObjectStore(ctx, cfg)
		if err != nil {
			return fmt.Errorf("connect object store: %w", err)
		}
		si := newSearchIndexClient(cfg)
		worker := solrize.NewWorker(db, os, si, activityCore, explodeCores(cfg), cfg.MaxBatchLength, cfg.Solr500Sleep, cfg.ParallelProcesses)
		return worker.Pass(ctx, limit)
	},
}

var solrizeLoopCmd = &cobra.Command{
	Use:   "solrizeloop",
	Short: "Run Solrize on a fixed interval until stopped",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		ctx, cancel := context.WithCancel(cmd.Context())
		cfg := loadConfigOrExit()

		db, err := connectStore(ctx, cfg, false)
		if err != nil {
			cancel()
			return err
		}
		defer db.Close()

		os, err := newObjectStore(ctx, cfg)
		if err != nil {
			cancel()
			return fmt.Errorf("connect object store: %w", err)
		}
		si := newSearchIndexClient(cfg)
		worker := solrize.NewWorker(db, os, si, activityCore, explodeCores(cfg), cfg.MaxBatchLength, cfg.Solr500Sleep, cfg.ParallelProcesses)

		runAdminServer(ctx, cfg, db, si, append([]string{activityCore}, explodeCoreNames(cfg)...))
		loop := orchestrator.NewLoop("solrize", cfg.ServiceLoopSleep, func(ctx context.Context) error { return worker.Pass(ctx, limit) }, log.WithStage("solrize"))
		runUntilSignal(ctx, cancel, loop)
		return nil
	},
}

func explodeCoreNames(cfg config.Config) []string {
	names := make([]string, 0, len(cfg.ExplodeElementCores))
	for _, core := range cfg.ExplodeElementCores {
		names = append(names, core)
	}
	return names
}

func init() {
	for _, cmd := range []*cobra.Command{validateCmd, validateLoopCmd, copyValidCmd, cleanInvalidCmd, cleanLoopCmd, flattenCmd, flattenLoopCmd, lakifyCmd, lakifyLoopCmd, solrizeCmd, solrizeLoopCmd} {
		cmd.Flags().Int("limit", 1000, "Maximum documents to process in one pass")
	}
	reloadCmd.Flags().BoolP("e", "e", false, "Retry documents that previously errored")
}
