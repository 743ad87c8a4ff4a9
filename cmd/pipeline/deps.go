package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/iati-pipeline/core/internal/config"
	"github.com/iati-pipeline/core/pkg/adminserver"
	"github.com/iati-pipeline/core/pkg/bds"
	"github.com/iati-pipeline/core/pkg/cleanup"
	"github.com/iati-pipeline/core/pkg/httpclient"
	"github.com/iati-pipeline/core/pkg/log"
	"github.com/iati-pipeline/core/pkg/objectstore"
	"github.com/iati-pipeline/core/pkg/safety"
	"github.com/iati-pipeline/core/pkg/searchindex"
	"github.com/iati-pipeline/core/pkg/store"
	"github.com/iati-pipeline/core/pkg/store/migrate"
	"github.com/iati-pipeline/core/pkg/validation"
)

// activityCore is the Search Index core every flattened activity
// record is published to; one further core exists per configured
// explode element (transaction, budget, ...), named by the element's
// entry in cfg.ExplodeElementCores.
const activityCore = "activity"

// connectStore opens the state store pool and, unless this is the
// Refresh command, blocks until the schema version it was compiled
// against matches what's actually running (spec §4.2).
func connectStore(ctx context.Context, cfg config.Config, isRefresh bool) (*store.DB, error) {
	db, err := store.Connect(ctx, cfg.DSN(), cfg.SleepStart, cfg.SleepMax, cfg.RetryLimit)
	if err != nil {
		return nil, fmt.Errorf("connect to state store: %w", err)
	}
	if isRefresh {
		if err := migrate.MigrateUp(ctx, db.SQLDB()); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		return db, nil
	}
	if err := migrate.CheckVersionMatch(ctx, db.SQLDB(), 5*time.Second); err != nil {
		db.Close()
		return nil, fmt.Errorf("wait for schema version: %w", err)
	}
	return db, nil
}

func newObjectStore(ctx context.Context, cfg config.Config) (*objectstore.Store, error) {
	return objectstore.New(ctx, cfg.ObjectStoreEndpoint, cfg.ObjectStoreRegion,
		cfg.ObjectStoreAccessKey, cfg.ObjectStoreSecretKey,
		cfg.SourceContainer, cfg.CleanContainer, cfg.LakeContainer)
}

func newBDSClient(cfg config.Config) *bds.Client {
	hc := httpclient.New(cfg.BDSTimeout, cfg.SleepStart, cfg.SleepMax, uint64(cfg.RetryLimit))
	return bds.New(hc, cfg.BDSDatasetIndexURL, cfg.BDSReportingOrgIndexURL)
}

func newValidationClient(cfg config.Config) *validation.Client {
	hc := httpclient.New(cfg.BDSTimeout, cfg.SleepStart, cfg.SleepMax, uint64(cfg.RetryLimit))
	return validation.New(hc, cfg.SchemaValidationURL, cfg.FullValidationURL, cfg.ValidationKeyName, cfg.ValidationKeyValue)
}

func newSearchIndexClient(cfg config.Config) *searchindex.Client {
	httpClient := &http.Client{Timeout: cfg.SolrTimeout}
	return searchindex.New(httpClient, cfg.SolrBaseURL, cfg.SolrUser, cfg.SolrPassword)
}

func explodeCores(cfg config.Config) map[string]string {
	return cfg.ExplodeElementCores
}

func newCleaner(os objectstore.Accessor, si searchindex.Accessor, cfg config.Config) *cleanup.Cleaner {
	cores := []string{activityCore}
	for _, core := range explodeCores(cfg) {
		cores = append(cores, core)
	}
	return cleanup.NewCleaner(os, si, cores, cfg.MaxBlobDelete, log.WithStage("cleanup"))
}

func newSafetyController(accessor store.Accessor, cfg config.Config) *safety.Controller {
	queue := safety.NewFlagRemovalQueue(64)
	return safety.NewController(accessor, queue, cfg.BlackFlagNotifyURL, cfg.SafetyCheckPeriodHours, cfg.SafetyCheckThreshold, log.WithStage("safety"))
}

// runAdminServer starts the healthz/metrics HTTP surface every *loop
// command binds in a background goroutine bound to ctx, and returns
// immediately.
func runAdminServer(ctx context.Context, cfg config.Config, db *store.DB, si searchindex.Accessor, cores []string) {
	checks := []adminserver.Check{
		{Name: "postgres", Run: func(ctx context.Context) error { return db.Ping(ctx) }},
	}
	for _, core := range cores {
		core := core
		checks = append(checks, adminserver.Check{
			Name: "searchindex/" + core,
			Run:  func(ctx context.Context) error { return si.Ping(ctx, core) },
		})
	}

	srv := adminserver.New(checks)
	go func() {
		if err := srv.Start(ctx, cfg.AdminListenAddr); err != nil && err != http.ErrServerClosed {
			log.Logger.Error().Err(err).Msg("admin server stopped")
		}
	}()
}
