package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"

	"github.com/verita-ai/verita/api"
	"github.com/verita-ai/verita/db"
	"github.com/verita-ai/verita/internal/chat"
	"github.com/verita-ai/verita/internal/config"
	"github.com/verita-ai/verita/internal/gemini"
	"github.com/verita-ai/verita/internal/log"
	"github.com/verita-ai/verita/internal/observability"
	"github.com/verita-ai/verita/internal/progress"
	"github.com/verita-ai/verita/internal/promptcfg"
	"github.com/verita-ai/verita/internal/session"
	"github.com/verita-ai/verita/internal/verify"
)

// remoteConfigScope authorizes reads of the published configuration
// template.
const remoteConfigScope = "https://www.googleapis.com/auth/firebase.remoteconfig"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	logger.Info("starting", "version", AppVersion)

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := observability.Setup(ctx, observability.Config{
		AgentHost:   cfg.TraceAgentHost,
		Environment: cfg.TraceEnvironment,
		ServiceName: cfg.TraceServiceName,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("flushing traces", "error", err)
		}
	}()

	if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresURL())
	if err != nil {
		return fmt.Errorf("creating connection pool: %w", err)
	}
	defer pool.Close()

	sink, err := progress.New(progress.Config{Pool: pool, Logger: logger})
	if err != nil {
		return fmt.Errorf("creating progress sink: %w", err)
	}

	store, err := session.Open(ctx, cfg.SessionBucket, logger)
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}

	tokenSource, err := google.DefaultTokenSource(ctx, remoteConfigScope)
	if err != nil {
		return fmt.Errorf("resolving configuration credentials: %w", err)
	}
	prompts, err := promptcfg.New(ctx, promptcfg.Config{
		Project:     cfg.Project,
		TokenSource: tokenSource,
		Files:       store,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("creating prompt configuration service: %w", err)
	}

	client, err := gemini.NewClient(ctx, gemini.Config{
		APIKey:          cfg.APIKey,
		Project:         cfg.Project,
		Location:        cfg.Location,
		ChatModel:       cfg.ChatModel,
		VerifyModel:     cfg.VerifyModel,
		Temperature:     cfg.Temperature,
		MaxOutputTokens: cfg.MaxTokens,
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("creating model client: %w", err)
	}

	limiter := verify.NewLimiter(verify.LimiterConfig{
		MaxCalls: cfg.VerifyMaxCalls,
		Window:   cfg.VerifyWindow,
	})
	vpool, err := verify.NewPool(verify.Config{
		Limiter: limiter,
		Workers: cfg.VerifyWorkers,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("creating verification pool: %w", err)
	}

	workflow, err := gemini.NewWorkflow(gemini.WorkflowConfig{
		Client:       client,
		Declarations: prompts,
		Pool:         vpool,
	})
	if err != nil {
		return fmt.Errorf("creating workflow: %w", err)
	}

	orchestrator, err := chat.New(chat.Config{
		Models:   workflow,
		Verifier: workflow,
		History:  store,
		Progress: sink,
		Logger:   logger,
		Limiter:  rate.NewLimiter(10, 30),
	})
	if err != nil {
		return fmt.Errorf("creating orchestrator: %w", err)
	}

	server, err := api.NewServer(api.ServerConfig{
		Runner:      orchestrator,
		Prompts:     prompts,
		Media:       store,
		Pool:        pool,
		CORSOrigins: cfg.CORSOrigins,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	return server.Run(ctx, cfg.ListenAddr)
}

func newLogger(cfg *config.Config) (log.Logger, error) {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}
	return log.New(log.Config{Level: level, JSON: cfg.LogJSON}), nil
}
