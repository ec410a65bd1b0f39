package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gauntlet-service/internal/app"
	"gauntlet-service/internal/config"
	"gauntlet-service/internal/domain"
	"gauntlet-service/internal/infra/file"
	"gauntlet-service/internal/infra/memory"
	"gauntlet-service/internal/infra/postgres"
	redisinfra "gauntlet-service/internal/infra/redis"
	"gauntlet-service/internal/provision"
	transport "gauntlet-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the trivia server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if *port != "" {
				cfg.Server.Port = *port
			}
			log, err := cfg.NewLogger()
			if err != nil {
				return err
			}
			defer log.Sync()
			return runServer(cmd.Context(), cfg, log)
		},
	}
}

func runServer(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	service, store, cleanup, err := buildService(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	groups, err := provision.NewProvisioner(store, log).Run(ctx, cfg.Game.Groups, domain.DefaultQuestionSet)
	if err != nil {
		return err
	}
	for _, g := range groups {
		log.Debug("group ready", zap.Int64("group", g.ID), zap.String("name", g.Name), zap.String("code", g.Code))
	}

	api := transport.NewAPI(service, log, transport.RouterConfig{
		AdminToken: cfg.Server.AdminToken,
		PublicURL:  cfg.Server.PublicURL,
	})
	server := &http.Server{
		Addr:        ":" + cfg.Server.Port,
		Handler:     transport.NewRouter(api, transport.NewWSHandler(service, log)),
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: it would cut long-lived websocket connections.
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting trivia server", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server")
	case err := <-errCh:
		log.Error("server failed", zap.Error(err))
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// buildService picks Postgres or memory for the store, and Redis or memory for
// the session registry and question cache, from what the config provides.
func buildService(ctx context.Context, cfg config.Config, log *zap.Logger) (*app.GameService, app.Store, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var store app.Store = memory.NewStore()
	var loader memory.QuestionLoader = memory.NewStaticLoader(sampleQuestions())
	if cfg.Questions.File != "" {
		loader = file.NewQuestionLoader(cfg.Questions.File)
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrations(ctx, cfg, log); err != nil {
			return nil, nil, cleanup, err
		}
		db := postgres.Open(cfg.Postgres.URL)
		closers = append(closers, func() { _ = db.Close() })
		store = postgres.NewStore(db)

		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			cleanup()
			return nil, nil, func() {}, err
		}
		closers = append(closers, pool.Close)
		if cfg.Questions.File == "" {
			loader = postgres.NewQuestionLoader(pool)
		}
	}

	questionTTL := config.TTLDuration(cfg.Questions.TTL, 10*time.Minute)
	var bank app.QuestionBank = memory.NewQuestionBank(loader, questionTTL)
	var sessions app.SessionRegistry = memory.NewSessionStore()
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			cleanup()
			return nil, nil, func() {}, err
		}
		closers = append(closers, func() { _ = client.Close() })
		bank = redisinfra.NewQuestionBank(client, loader, questionTTL)
		sessions = redisinfra.NewSessionStore(client, config.TTLDuration(cfg.Redis.TTL, 2*time.Hour))
	}

	log.Info("service configured",
		zap.Bool("postgres", cfg.Postgres.URL != ""),
		zap.Bool("redis", cfg.Redis.Addr != ""),
		zap.String("questions", cfg.Questions.File))

	service := app.NewGameService(store, bank, sessions, app.NewHub(), log, app.Options{
		ProctorName: cfg.Game.ProctorName,
		MaxPlayers:  cfg.Game.MaxPlayers,
		LatePolicy:  app.ParseLatePolicy(cfg.Game.LatePolicy),
	})
	return service, store, cleanup, nil
}

// sampleQuestions is served when neither a questions file nor Postgres is configured.
func sampleQuestions() map[string]domain.QuestionSet {
	return map[string]domain.QuestionSet{
		domain.DefaultQuestionSet: {
			ID: domain.DefaultQuestionSet,
			Questions: []domain.Question{
				{Category: "Science", Prompt: "What planet is known as the Red Planet?", Answer: "Mars", TimeLimit: 30},
				{Category: "Math", Prompt: "What is 7 x 8?", Answer: "56", TimeLimit: 20},
				{Category: "Geography", Prompt: "What is the capital of Japan?", Answer: "Tokyo", TimeLimit: 30, Points: []int{15, 12, 8, 4}},
			},
		},
	}
}
