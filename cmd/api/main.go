package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lexwrite/api/internal/app"
	"lexwrite/api/internal/assist"
	"lexwrite/api/internal/authpw"
	"lexwrite/api/internal/autosave"
	"lexwrite/api/internal/billing"
	"lexwrite/api/internal/config"
	"lexwrite/api/internal/email"
	"lexwrite/api/internal/export"
	"lexwrite/api/internal/history"
	"lexwrite/api/internal/logger"
	"lexwrite/api/internal/ratelimit"
	"lexwrite/api/internal/search"
	"lexwrite/api/internal/session"
	"lexwrite/api/internal/storage"
	"lexwrite/api/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "lexwrite-api",
	Short: "Lexwrite document editor API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context(), loadConfig())
	},
	SilenceUsage: true,
}

var resetMigrations bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		db, err := store.Open(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()
		if resetMigrations {
			if err := store.ResetMigrations(cmd.Context(), db); err != nil {
				return fmt.Errorf("reset migrations: %w", err)
			}
		}
		if err := store.ApplyMigrations(cmd.Context(), db); err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
		logger.Log.Info("migrations applied")
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&resetMigrations, "reset", false, "roll back every migration before applying")
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() config.Config {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()
	cfg := config.Load()
	logger.Init(cfg.LogLevel)
	return cfg
}

func runServer(ctx context.Context, cfg config.Config) error {
	defer logger.Sync()
	log := logger.Log

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if cfg.MigrateOnStart {
		if err := store.ApplyMigrations(ctx, db); err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
	}
	if err := os.MkdirAll(cfg.HistoryDir, 0o755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}

	pg := store.NewPostgresStore(db)
	deps := app.Deps{
		Store:   pg,
		Auth:    authpw.NewService(pg),
		History: history.New(cfg.HistoryDir),
		Logger:  log,
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Info("using redis for sessions and assist rate limits")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisStore.Close()
		deps.Sessions = redisStore
		limiter, err := ratelimit.NewFixedWindowLimiter(redisStore.Client(), "", cfg.AssistRateLimit, cfg.AssistRateWindow)
		if err != nil {
			log.Warn("assist rate limiting disabled", zap.Error(err))
		} else {
			deps.Limiter = limiter
		}
	} else {
		log.Info("using postgres for sessions")
		deps.Sessions = app.PostgresSessions(pg)
	}

	searchService, closeSearch := newSearch(db, cfg)
	defer closeSearch()
	deps.Search = searchService

	var objects storage.ObjectStore
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		minioStore, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Warn("object storage unavailable, exports will stream", zap.Error(err))
		} else {
			objects = minioStore
		}
	}
	deps.Exports = export.NewService(objects)

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	var notifier billing.Notifier
	if mailer.IsConfigured() {
		deps.Mailer = mailer
		notifier = mailer
	}

	llm := assist.NewClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey)
	deps.Assist = assist.NewService(llm, llm.Configured(), assist.Options{
		AssistModel:   cfg.AssistModel,
		CitationModel: cfg.CitationModel,
		Logger:        log,
	})

	deps.Billing = billing.NewService(billing.Config{
		SecretKey:      cfg.StripeSecretKey,
		WebhookSecret:  cfg.StripeWebhookSecret,
		WeeklyPriceID:  cfg.StripeWeeklyPriceID,
		MonthlyPriceID: cfg.StripeMonthlyPriceID,
		TrialDays:      cfg.TrialDays,
		AppURL:         cfg.AppURL,
	}, pg, notifier, log)

	// The debouncer saves through the service, which is built after it.
	var service *app.Service
	debouncer := autosave.NewDebouncer(autosave.SaverFunc(func(ctx context.Context, edit autosave.Edit) (time.Time, error) {
		return service.SaveEdit(ctx, edit)
	}), cfg.AutosaveQuiet, log)
	deps.Autosave = debouncer
	hub := autosave.NewHub(debouncer, originChecker(cfg), log)
	deps.Hub = hub

	service = app.New(cfg, deps)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, cfg.CORSOrigin).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// AI calls can take up to the LLM client timeout.
		WriteTimeout: 150 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("lexwrite API listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := searchService.ReindexAllFromPG(gctx); err != nil {
			log.Warn("search reindex failed", zap.Error(err))
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown error", zap.Error(err))
		}
		// Hijacked editor connections outlive Shutdown; stop them before the
		// final flush so their last edits are included.
		if err := hub.CloseAll(shutdownCtx); err != nil {
			log.Warn("closing editor connections", zap.Error(err))
		}
		flushCtx, cancelFlush := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelFlush()
		debouncer.Flush(flushCtx)
		return nil
	})
	return g.Wait()
}

func newSearch(db *sql.DB, cfg config.Config) (*search.Service, func()) {
	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	closeFn := func() {}
	if meili != nil {
		closeFn = meili.Close
	}
	return search.NewService(meili, search.NewPgFTS(db)), closeFn
}

// originChecker mirrors the CORS policy for websocket upgrades.
func originChecker(cfg config.Config) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || cfg.CORSOrigin == "*" {
			return true
		}
		return origin == cfg.CORSOrigin || origin == cfg.AppURL
	}
}
