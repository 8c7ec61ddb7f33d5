package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/chatflow-gateway/internal/config"
	"github.com/tbourn/chatflow-gateway/internal/dispatch"
	"github.com/tbourn/chatflow-gateway/internal/domain"
	"github.com/tbourn/chatflow-gateway/internal/flow"
	httpapi "github.com/tbourn/chatflow-gateway/internal/http"
	"github.com/tbourn/chatflow-gateway/internal/jobs"
	"github.com/tbourn/chatflow-gateway/internal/kvstore"
	"github.com/tbourn/chatflow-gateway/internal/observability"
	"github.com/tbourn/chatflow-gateway/internal/provider"
	"github.com/tbourn/chatflow-gateway/internal/repo"
	"github.com/tbourn/chatflow-gateway/internal/services"
	"github.com/tbourn/chatflow-gateway/internal/session"
	"github.com/tbourn/chatflow-gateway/internal/sysutil"
)

const (
	housekeepingSpec = "@every 5m"
	shutdownTimeout  = 15 * time.Second
)

func newServeCmd() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, job workers and flow sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("migrate") {
				migrate = sysutil.IsTruthy(os.Getenv("AUTO_MIGRATE"))
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply schema migrations before serving (default from AUTO_MIGRATE)")
	return cmd
}

// openKV picks Redis when an address is configured, otherwise the in-process store.
func openKV(ctx context.Context, cfg config.RedisConfig) (kvstore.Store, error) {
	if cfg.Addr == "" {
		log.Warn().Msg("REDIS_ADDR not set; using in-process store (single instance only)")
		return kvstore.NewMemoryStore(), nil
	}
	return kvstore.NewRedisStore(ctx, kvstore.RedisOptions{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
}

// newDispatcher registers WhatsApp Cloud always and Twilio when account
// credentials are present.
func newDispatcher(db *gorm.DB, sessions *session.Store, cfg config.DispatchConfig) *dispatch.Dispatcher {
	senders := []provider.Sender{
		provider.NewWhatsAppCloud(cfg.WhatsAppAPIBase, &http.Client{Timeout: cfg.Timeout}),
	}
	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" {
		senders = append(senders, provider.NewTwilio(cfg.TwilioAccountSID, cfg.TwilioAuthToken))
	}
	return dispatch.New(dispatch.DBConnections{DB: db}, sessions, dispatch.Options{
		Timeout: cfg.Timeout,
		RPS:     cfg.RPS,
		Burst:   cfg.Burst,
	}, senders...)
}

func runServe(ctx context.Context, cfg config.Config, migrate bool) error {
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version())
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.Open(cfg.DB)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	if migrate || cfg.DB.Driver == "sqlite" {
		if err := repo.AutoMigrate(db); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	kv, err := openKV(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer kv.Close()

	sessions := session.New(db)
	dispatcher := newDispatcher(db, sessions, cfg.Dispatch)
	engine := flow.New(db, sessions, dispatcher, kv, flow.Options{
		StepTimeout: cfg.Flow.StepTimeout,
		MaxSteps:    cfg.Flow.MaxSteps,
	})

	sweeper, err := flow.NewSweeper(engine, cfg.Flow.SweepSpec)
	if err != nil {
		return fmt.Errorf("flow sweeper: %w", err)
	}
	housekeeper, err := jobs.NewHousekeeper(db, kv, housekeepingSpec)
	if err != nil {
		return fmt.Errorf("housekeeper: %w", err)
	}

	runner := jobs.NewRunner(db, jobs.Options{
		Workers:      cfg.Jobs.Workers,
		PollInterval: cfg.Jobs.PollInterval,
		MaxAttempts:  cfg.Jobs.MaxAttempts,
		LockTTL:      cfg.Jobs.LockTTL,
	})
	runner.Handle(domain.JobWebhookPayload, services.NewInboundProcessor(db, sessions, engine).Handle)

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		DB:       db,
		KV:       kv,
		Sessions: sessions,
		Flows:    engine,
		Out:      dispatcher,
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	sweeper.Start()
	housekeeper.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		runner.Run(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("version", version()).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		sweeper.Stop(sctx)
		housekeeper.Stop(sctx)
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
