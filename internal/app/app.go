package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
	"typerace/internal/cache"
	"typerace/internal/config"
	"typerace/internal/events"
	"typerace/internal/repository"
	"typerace/internal/service"
	"typerace/internal/transport/rest"
	"typerace/internal/transport/ws"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// App owns every long-lived dependency of the server process
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Mongo *mongo.Client
	Redis *redis.Client
	NATS  *nats.Conn

	RaceRepo        repository.RaceRepo
	ParticipantRepo repository.ParticipantRepo
	ChallengeRepo   repository.ChallengeRepo
	RaceCache       cache.RaceCache
	Leaderboard     cache.LeaderboardCache

	Recorder   *service.AsyncRecorder
	Registry   *service.RoomRegistry
	Matchmaker *service.Matchmaker
	Auth       *service.AuthService
	Hub        *ws.Hub

	server *http.Server
	cancel context.CancelFunc
}

// New connects the stores and wires the engine. Mongo and Redis are
// required; NATS is only dialled when a URL is configured.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	a.Mongo = mongoClient

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := mongoClient.Ping(pingCtx, nil); err != nil {
		a.closeStores(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	logger.Info("connected to mongodb", "database", cfg.Mongo.Database)

	a.Redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := a.Redis.Ping(pingCtx).Err(); err != nil {
		a.closeStores(ctx)
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("connected to redis", "addr", cfg.Redis.Addr)

	db := mongoClient.Database(cfg.Mongo.Database)
	a.RaceRepo = repository.NewRaceRepo(db)
	a.ParticipantRepo = repository.NewParticipantRepo(db)
	a.ChallengeRepo = repository.NewChallengeRepo(db)
	if err := a.ParticipantRepo.EnsureIndexes(ctx); err != nil {
		logger.Warn("ensure participant indexes failed", "error", err)
	}

	a.RaceCache = cache.NewRaceCache(a.Redis, cfg.Redis.TTL)
	a.Leaderboard = cache.NewLeaderboardCache(a.Redis, cfg.Redis.TTL)

	sinks := []service.PersistenceSink{
		service.NewStoreSink(a.RaceRepo, a.ParticipantRepo, a.RaceCache, a.Leaderboard),
	}
	if cfg.NATS.URL != "" {
		nc, err := events.Connect(cfg.NATS.URL, logger)
		if err != nil {
			a.closeStores(ctx)
			return nil, err
		}
		a.NATS = nc
		sinks = append(sinks, events.NewPublisher(nc, cfg.NATS.SubjectPrefix))
		logger.Info("publishing race events", "url", cfg.NATS.URL, "prefix", cfg.NATS.SubjectPrefix)
	}

	a.Recorder = service.NewAsyncRecorder(RecorderConfig(cfg), logger, sinks...)
	a.Registry = service.NewRoomRegistry(RegistryConfig(cfg), a.ChallengeRepo, a.Recorder, logger)
	a.Matchmaker = service.NewMatchmaker(MatchmakingConfig(cfg), a.Registry, logger)
	a.Auth = service.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	a.Hub = ws.NewHub(a.Registry, a.Matchmaker, ws.HubConfig{SendBuffer: cfg.WS.SendBuffer}, logger)

	a.Registry.SetBroadcaster(a.Hub)
	a.Matchmaker.SetNotifier(a.Hub)

	wsHandler := ws.NewHandler(a.Hub, a.Auth, ws.HandlerConfig{
		MaxMessageSize: cfg.WS.MaxMessageSize,
		RequireToken:   cfg.Auth.RequireToken,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, logger)

	router := rest.NewRouter(&rest.Container{
		AuthService:    a.Auth,
		Registry:       a.Registry,
		Matchmaker:     a.Matchmaker,
		RaceCache:      a.RaceCache,
		Leaderboard:    a.Leaderboard,
		Participants:   a.ParticipantRepo,
		WSHub:          a.Hub,
		WSHandler:      wsHandler,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
	})

	a.server = &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// Start runs the background loops and the HTTP server. The returned
// channel receives the server's terminal error, if any.
func (a *App) Start() <-chan error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.Registry.Start()
	a.Matchmaker.Start(ctx)

	errc := make(chan error, 1)
	go func() {
		a.Logger.Info("server starting", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()
	return errc
}

// Shutdown stops accepting connections, closes rooms, drains the
// recorder and then releases the stores.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.Matchmaker.Stop()
	a.Registry.Stop()

	if err := a.Recorder.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain recorder: %w", err))
	}
	a.closeStores(ctx)
	return errors.Join(errs...)
}

func (a *App) closeStores(ctx context.Context) {
	if a.NATS != nil {
		if err := a.NATS.Drain(); err != nil {
			a.Logger.Warn("nats drain failed", "error", err)
		}
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.Mongo != nil {
		a.Mongo.Disconnect(ctx)
	}
}

// NewLogger builds the process logger from the log section
func NewLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func RegistryConfig(cfg *config.Config) service.RegistryConfig {
	return service.RegistryConfig{
		Room: service.RoomConfig{
			MinPlayers:       cfg.Race.MinPlayers,
			Countdown:        cfg.Race.Countdown,
			TimeLimit:        cfg.Race.TimeLimit,
			ProgressInterval: cfg.Race.ProgressInterval,
		},
		MaxPlayers:        cfg.Race.MaxPlayers,
		ChallengesPerRace: cfg.Race.ChallengesPerRace,
		DefaultCategory:   cfg.Race.DefaultCategory,
		FinishedGrace:     cfg.Race.FinishedGrace,
		IdleWaitingGrace:  cfg.Race.IdleWaitingGrace,
		SweepInterval:     cfg.Race.SweepInterval,
	}
}

func MatchmakingConfig(cfg *config.Config) service.MatchmakingConfig {
	return service.MatchmakingConfig{
		GroupSize:          cfg.Matchmaking.GroupSize,
		BaseTolerance:      cfg.Matchmaking.BaseTolerance,
		TolerancePerSecond: cfg.Matchmaking.TolerancePerSecond,
		MaxTolerance:       cfg.Matchmaking.MaxTolerance,
		EntryTimeout:       cfg.Matchmaking.EntryTimeout,
		ScanInterval:       cfg.Matchmaking.ScanInterval,
	}
}

func RecorderConfig(cfg *config.Config) service.RecorderConfig {
	return service.RecorderConfig{
		Workers:     cfg.Recorder.Workers,
		Buffer:      cfg.Recorder.Buffer,
		MaxAttempts: cfg.Recorder.MaxAttempts,
		Backoff:     cfg.Recorder.Backoff,
		CallTimeout: cfg.Recorder.CallTimeout,
	}
}
