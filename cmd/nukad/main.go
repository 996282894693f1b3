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

	"github.com/joho/godotenv"
	"github.com/nidhogg/nuka-missions/internal/api"
	"github.com/nidhogg/nuka-missions/internal/board"
	"github.com/nidhogg/nuka-missions/internal/config"
	"github.com/nidhogg/nuka-missions/internal/dailynote"
	"github.com/nidhogg/nuka-missions/internal/gateway"
	"github.com/nidhogg/nuka-missions/internal/knowledge"
	"github.com/nidhogg/nuka-missions/internal/memory"
	"github.com/nidhogg/nuka-missions/internal/mission"
	"github.com/nidhogg/nuka-missions/internal/runs"
	pgstore "github.com/nidhogg/nuka-missions/internal/store"
	"github.com/nidhogg/nuka-missions/internal/substrate"
	"github.com/nidhogg/nuka-missions/internal/transcript"
	"github.com/nidhogg/nuka-missions/internal/worker"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/nuka.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config %s: %v\n", cfgPath, err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Server.LogLevel)
	defer logger.Sync()
	logger.Info("Starting Nuka Missions...", zap.String("config", cfgPath))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// PostgreSQL: mission snapshots, work log, transcripts
	var pgStore *pgstore.Store
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := pgstore.New(cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, falling back to file state", zap.Error(pgErr))
		} else {
			if mErr := ps.Migrate(ctx, cfg.Database.Postgres.MigrationsDir); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			pgStore = ps
		}
	}

	// Run registry: Redis when configured so runs survive restarts
	var registry runs.Registry
	var taskBoard *board.Board
	var redisReg *runs.RedisRegistry
	if cfg.Database.Redis.URL != "" {
		rr, redisErr := runs.NewRedisRegistry(cfg.Database.Redis.URL, logger)
		if redisErr != nil {
			logger.Warn("Redis unavailable, using in-memory run registry", zap.Error(redisErr))
		} else {
			redisReg = rr
			registry = rr
			taskBoard = board.New(rr.Client(), logger)
		}
	}
	if registry == nil {
		registry = runs.NewMemory(logger)
	}

	// Transcripts feed retry summaries and latest replies
	var tlog transcript.Log = transcript.NewMemoryLog()
	if pgStore != nil {
		tlog = pgStore.Transcripts()
	}

	// Execution substrate
	var sub mission.Substrate
	var local *substrate.Local
	switch cfg.Substrate.Mode {
	case "http":
		sub = substrate.NewHTTPClient(cfg.Substrate.Endpoint, cfg.Substrate.RequestTimeout.Std(), logger)
	default:
		local = substrate.NewLocal(newWorkerRouter(cfg, logger), registry, tlog,
			cfg.Substrate.PoolSize, cfg.Substrate.RunTimeout.Std(), logger)
		sub = local
	}

	// Gateway
	gw, inbox := newGateway(ctx, cfg, logger)

	deps := mission.Deps{
		Substrate:  sub,
		Registry:   registry,
		Summarizer: transcript.NewSummarizer(tlog),
		Announcer:  gw,
	}
	if pgStore != nil {
		deps.Persister = pgStore.Persister()
		deps.WorkLog = pgStore
	} else {
		deps.Persister = pgstore.NewFilePersister(cfg.Orchestrator.StateFile)
	}
	if taskBoard != nil {
		deps.Board = taskBoard
	}
	if cfg.Notes.Dir != "" {
		var loc *time.Location
		if tz := cfg.Notes.Timezone; tz != "" {
			l, locErr := time.LoadLocation(tz)
			if locErr != nil {
				logger.Warn("unknown notes timezone, using local time", zap.String("timezone", tz))
			} else {
				loc = l
			}
		}
		deps.Notes = dailynote.New(cfg.Notes.Dir, loc, logger)
	}

	// Neo4j memory notes
	var memStore *memory.Store
	if cfg.Database.Neo4j.URI != "" {
		ms, memErr := memory.NewStore(cfg.Database.Neo4j.URI, cfg.Database.Neo4j.User, cfg.Database.Neo4j.Password, logger)
		if memErr == nil {
			memErr = ms.EnsureSchema(ctx)
		}
		if memErr != nil {
			logger.Warn("Neo4j unavailable, running without memory notes", zap.Error(memErr))
		} else {
			memStore = ms
			deps.Memory = ms
		}
	}

	// Qdrant knowledge
	var qdrant *knowledge.Qdrant
	if cfg.Database.Qdrant.Host != "" {
		q, kErr := knowledge.NewQdrant(knowledge.QdrantConfig{Host: cfg.Database.Qdrant.Host, Port: cfg.Database.Qdrant.Port})
		var embedder knowledge.Embedder
		if kErr == nil {
			embedder, kErr = knowledge.NewEmbedder(cfg.KnowledgeEmbedding())
		}
		if kErr != nil {
			logger.Warn("knowledge service disabled", zap.Error(kErr))
			if q != nil {
				q.Close()
			}
		} else {
			qdrant = q
			deps.Knowledge = knowledge.NewService(embedder, q, logger).ForMissions()
		}
	}

	orch := mission.New(cfg.MissionConfig(), deps, logger)

	// Subscribe before recovery so no completion slips between the two.
	events := registry.Subscribe(ctx)
	if err := orch.InitRecovery(ctx); err != nil {
		logger.Fatal("mission recovery failed", zap.Error(err))
	}
	go func() {
		if err := orch.Run(ctx, events); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("completion loop stopped", zap.Error(err))
		}
	}()

	var boardLister api.BoardLister
	if taskBoard != nil {
		boardLister = taskBoard
	}
	var noteReader api.NoteReader
	if memStore != nil {
		noteReader = memStore
	}
	handler := api.NewHandler(orch, registry, gw, inbox, boardLister, noteReader, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Nuka Missions listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Nuka Missions...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	srv.Shutdown(shutdownCtx)
	if local != nil {
		local.Close()
	}
	cancel()
	if err := orch.Close(shutdownCtx); err != nil {
		logger.Warn("side effects not drained", zap.Error(err))
	}
	gw.Close()
	if memStore != nil {
		memStore.Close(shutdownCtx)
	}
	if qdrant != nil {
		qdrant.Close()
	}
	if redisReg != nil {
		redisReg.Close()
	}
	if pgStore != nil {
		pgStore.Close()
	}
}

func newLogger(level string) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if level == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func newWorkerRouter(cfg *config.Config, logger *zap.Logger) *worker.Router {
	router := worker.NewRouter(logger)
	for _, pc := range cfg.WorkerProviders() {
		p, err := worker.NewProvider(pc, logger)
		if err != nil {
			logger.Warn("skipping provider", zap.String("id", pc.ID), zap.Error(err))
			continue
		}
		router.Register(p)
	}
	if cfg.DefaultProvider != "" {
		router.SetDefault(cfg.DefaultProvider)
	}
	for id, a := range cfg.Agents {
		router.SetProfile(id, a.Profile())
		if len(a.Fallbacks) > 0 {
			router.SetFallbacks(id, a.Fallbacks)
		}
	}
	return router
}

func newGateway(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*gateway.Gateway, *gateway.InboxAdapter) {
	gw := gateway.NewGateway(logger)
	inbox := gateway.NewInboxAdapter(cfg.Gateway.InboxSize)
	gw.Register(inbox)

	if sc := cfg.Gateway.Slack; sc.Enabled && sc.BotToken != "" {
		slackAdapter := gateway.NewSlackAdapter(sc.BotToken, logger)
		if sc.Username != "" {
			slackAdapter.SetPersona(&gateway.Persona{Name: sc.Username, IconURL: sc.IconURL, Emoji: sc.IconEmoji})
		}
		gw.Register(slackAdapter)
	}

	if dc := cfg.Gateway.Discord; dc.Enabled && dc.BotToken != "" {
		discordAdapter := gateway.NewDiscordAdapter(dc.BotToken, logger)
		if dc.Username != "" {
			discordAdapter.SetPersona(&gateway.Persona{Name: dc.Username})
		}
		for channel, url := range dc.Webhooks {
			discordAdapter.SetWebhook(channel, url)
		}
		gw.Register(discordAdapter)
	}

	if err := gw.ConnectAll(ctx); err != nil {
		logger.Warn("some gateway adapters failed to connect", zap.Error(err))
	}
	return gw, inbox
}
