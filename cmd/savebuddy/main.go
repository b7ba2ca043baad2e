package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"savebuddy/internal/api"
	"savebuddy/internal/backend"
	"savebuddy/internal/cache"
	"savebuddy/internal/challenge"
	"savebuddy/internal/cli"
	"savebuddy/internal/config"
	"savebuddy/internal/core"
	"savebuddy/internal/export/gsheets"
	apphttp "savebuddy/internal/http"
	"savebuddy/internal/log"
	"savebuddy/internal/records"
	"savebuddy/internal/session"
)

func main() {
	cfg, logger := cli.Init(log.ComponentApp)

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	tokens := cli.Tokens(cfg, repo, false)

	client, err := api.New(cfg.APIBaseURL, tokens, cfg.HTTPTimeout)
	if err != nil {
		logger.Error("Failed to create API client", log.FieldError, err)
		os.Exit(1)
	}

	holder := session.NewHolder(client, tokens)
	client.OnUnauthorized(holder.Expire)

	savings := records.New(client.Records(core.Savings),
		records.WithSnapshots(repo), records.WithUserRefresher(holder), records.WithLogger(logger))
	expenses := records.New(client.Records(core.Expense),
		records.WithSnapshots(repo), records.WithUserRefresher(holder), records.WithLogger(logger))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, st := range []*records.Store{savings, expenses} {
		if ok, err := st.Restore(ctx); err != nil {
			logger.Warn("Failed to restore record snapshot", log.FieldRecordKind, st.Kind(), log.FieldError, err)
		} else if ok {
			logger.Debug("Restored record snapshot", log.FieldRecordKind, st.Kind())
		}
	}

	caches := cache.NewManager()
	defer caches.Stop()
	catalog, err := loadCatalog(cfg, client)
	if err != nil {
		logger.Error("Failed to load challenge catalog", log.FieldError, err)
		os.Exit(1)
	}
	if !catalog.Static() {
		caches.Register(catalog.Cache())
		caches.StartCleanup(cfg.CatalogCacheTTL)
	}

	backendCfg, err := backend.FromAppConfig(cfg, repo)
	if err != nil {
		logger.Error("Invalid ledger backend", log.FieldError, err)
		os.Exit(1)
	}
	result, err := backend.NewFactory(logger.WithComponent(log.ComponentBackend).Logger, client).CreateBackend(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to create ledger backend", log.FieldError, err, "backend", cfg.LedgerBackend)
		os.Exit(1)
	}
	if result.Cleanup != nil {
		defer func() {
			if err := result.Cleanup(); err != nil {
				logger.Error("Ledger cleanup failed", log.FieldError, err)
			}
		}()
	}

	evaluator := challenge.NewEvaluator(catalog, result.Ledger,
		challenge.WithLogger(logger),
		challenge.OnCompleted(func(ctx context.Context, ch core.Challenge, rec core.CompletionRecord) {
			reward(ctx, holder, ch, logger)
		}),
	)

	deps := apphttp.Deps{
		Session:   holder,
		Guard:     session.NewGuard(holder, cfg.AuthGraceDelay),
		Savings:   savings,
		Expenses:  expenses,
		Catalog:   catalog,
		Evaluator: evaluator,
		Ledger:    result.Ledger,
		Checks: map[string]apphttp.Check{
			"sqlite": repo.Ping,
		},
		Logger: logger,
	}

	if cfg.GoogleSpreadsheetID != "" {
		sheets, err := gsheets.NewFromEnv(ctx, gsheets.Options{
			SpreadsheetID: cfg.GoogleSpreadsheetID,
			SheetName:     cfg.GoogleSheetName,
		})
		if err != nil {
			logger.Warn("Google Sheets export disabled", log.FieldError, err)
		} else {
			deps.Sheets = sheets
			logger.Info("Google Sheets export enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
		}
	}

	// Resolve the stored credential before serving so the first page does
	// not have to wait for it.
	startCtx, startCancel := context.WithTimeout(ctx, cfg.HTTPTimeout)
	if u, err := holder.GetCurrentUser(startCtx); err != nil {
		logger.Warn("Could not resolve session at startup", log.FieldOperation, log.OpStartup, log.FieldError, err)
	} else if u != nil {
		logger.Info("Signed in from stored credential", log.FieldOperation, log.OpStartup, log.FieldUserID, u.ID)
		savings.FetchAll(startCtx)
		expenses.FetchAll(startCtx)
	}
	startCancel()

	srv := apphttp.NewServer(":"+cfg.Port, deps)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		cancel()
	}()

	logger.Info("Starting savebuddy server",
		"port", cfg.Port,
		"api", client.BaseURL(),
		"ledger", cfg.LedgerBackend,
		"catalog", cfg.CatalogSource)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully", log.FieldOperation, log.OpShutdown)
}

func loadCatalog(cfg *config.Config, src challenge.Source) (*challenge.Catalog, error) {
	switch {
	case cfg.CatalogFile != "":
		return challenge.LoadStaticFile(cfg.CatalogFile)
	case cfg.CatalogSource == "static":
		return challenge.NewStaticCatalog(challenge.BuiltinChallenges()), nil
	}
	return challenge.NewServerCatalog(src, cfg.CatalogCacheTTL), nil
}

// reward credits a completed challenge to the signed-in user. Failures are
// logged; the completion itself is already recorded.
func reward(ctx context.Context, holder *session.Holder, ch core.Challenge, logger *log.Logger) {
	if ch.RewardAmount <= 0 {
		return
	}
	if _, err := holder.AddSavings(ctx, ch.RewardAmount); err != nil {
		logger.WarnContext(ctx, "Failed to credit challenge reward", log.FieldChallengeID, ch.ID, log.FieldError, err)
		return
	}
	if _, err := holder.AddExperience(ctx, core.Experience(ch.RewardAmount)); err != nil {
		logger.WarnContext(ctx, "Failed to add challenge experience", log.FieldChallengeID, ch.ID, log.FieldError, err)
	}
}
