package main

import (
	"context"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	httpapi "github.com/OrsiniBr/DoTrust/internal/api/http"
	appModeration "github.com/OrsiniBr/DoTrust/internal/application/moderation"
	appPenalty "github.com/OrsiniBr/DoTrust/internal/application/penalty"
	appSession "github.com/OrsiniBr/DoTrust/internal/application/session"
	appSettlement "github.com/OrsiniBr/DoTrust/internal/application/settlement"
	"github.com/OrsiniBr/DoTrust/internal/config"
	"github.com/OrsiniBr/DoTrust/internal/domain/message"
	"github.com/OrsiniBr/DoTrust/internal/domain/notification"
	"github.com/OrsiniBr/DoTrust/internal/domain/stake"
	"github.com/OrsiniBr/DoTrust/internal/domain/violation"
	"github.com/OrsiniBr/DoTrust/internal/infrastructure/classifier"
	"github.com/OrsiniBr/DoTrust/internal/infrastructure/keystore"
	"github.com/OrsiniBr/DoTrust/internal/infrastructure/ledger"
	"github.com/OrsiniBr/DoTrust/internal/infrastructure/lock"
	"github.com/OrsiniBr/DoTrust/internal/infrastructure/memory"
	"github.com/OrsiniBr/DoTrust/internal/infrastructure/messaging"
	"github.com/OrsiniBr/DoTrust/internal/infrastructure/postgres"
	"github.com/OrsiniBr/DoTrust/internal/infrastructure/sse"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config error")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// repositories
	var (
		sessionRepo   stake.Repository
		violationRepo violation.Repository
		messageStore  message.Store
	)
	switch cfg.StoreBackend {
	case "memory":
		sessionRepo = memory.NewSessionRepository()
		violationRepo = memory.NewViolationRepository()
		messageStore = memory.NewMessageStore()
		logger.Warn().Msg("using in-memory store; state is lost on restart")
	default:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("db error")
		}
		defer pool.Close()
		if err := postgres.RunMigrations(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("migration error")
		}
		sessionRepo = postgres.NewSessionRepository(pool)
		violationRepo = postgres.NewViolationRepository(pool)
		messageStore = postgres.NewMessageStore(pool)
	}

	var locker lock.Locker = lock.NewKeyedMutex()
	if cfg.LockBackend == "redis" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis error")
		}
		locker = lock.NewRedisLocker(rdb, cfg.LockTTL, logger)
	}

	// notifiers
	sseHub := sse.NewHub()
	defer sseHub.Stop()
	notifiers := notification.Fanout{sseHub}

	var natsClient *messaging.NATSClient
	if cfg.NATSURL != "" {
		natsCfg := messaging.DefaultNATSConfig()
		natsCfg.URL = cfg.NATSURL
		natsClient, err = messaging.NewNATSClient(natsCfg, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("nats error")
		}
		defer natsClient.Close()
		notifiers = append(notifiers, natsClient)
	}

	// services
	guard := appSession.NewGuard(sessionRepo, locker)
	penaltySvc := appPenalty.NewService(sessionRepo, guard, violationRepo, notifiers, logger)

	var pipeline *appModeration.Pipeline
	var queue appSession.ModerationQueue
	if cfg.OpenAIAPIKey != "" {
		cls := classifier.New(classifier.Config{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
			Timeout: cfg.ClassifierTimeout,
		}, logger)
		pipeline = appModeration.NewPipeline(cls, messageStore, sessionRepo, penaltySvc, appModeration.Config{
			Workers:           cfg.ModerationWorkers,
			QueueSize:         cfg.ModerationQueueSize,
			ClassifierTimeout: cfg.ClassifierTimeout,
		}, logger)
		pipeline.Start(ctx)
		defer pipeline.Stop()
		queue = pipeline
	} else {
		logger.Warn().Msg("OPENAI_API_KEY not set; moderation disabled")
	}

	sessionSvc := appSession.NewService(sessionRepo, locker, messageStore, violationRepo, notifiers, queue, logger)

	var settlementSvc *appSettlement.Service
	if cfg.SettlementEnabled {
		keys, err := keystore.New(cfg.AuthorizerPrivateKey, cfg.RelayerPrivateKey)
		if err != nil {
			logger.Fatal().Err(err).Msg("keystore error")
		}
		relayer, err := keys.RelayerKey(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("relayer key error")
		}
		client, err := ledger.Dial(ctx, ledger.Config{
			RPCURL:              cfg.RPCURL,
			Contract:            common.HexToAddress(cfg.LedgerAddress),
			ChainID:             big.NewInt(cfg.ChainID),
			ConfirmationTimeout: cfg.ConfirmationTimeout,
		}, relayer, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("ledger error")
		}
		settlementSvc = appSettlement.NewService(client, keys, sessionRepo, guard, sessionSvc, notifiers, logger)
		logger.Info().
			Str("contract", cfg.LedgerAddress).
			Int64("chain_id", cfg.ChainID).
			Str("authorizer", keys.AuthorizerAddress().Hex()).
			Msg("settlement enabled")
	}

	if natsClient != nil {
		err := natsClient.SubscribeAccepted(30*time.Second, func(ctx context.Context, messageID string) error {
			_, err := sessionSvc.HandleMessage(ctx, "", "", messageID)
			return err
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("nats subscribe error")
		}
	}

	// API server
	apiServer := httpapi.NewServer(sessionSvc, penaltySvc, settlementSvc, sseHub, cfg.AdminToken, cfg.SchedulerBatch, logger)

	httpServer := &http.Server{
		Addr:        cfg.ServerAddr,
		Handler:     apiServer.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// background loops
	if cfg.SchedulerInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.SchedulerInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					n, err := sessionSvc.ProcessExpired(ctx, time.Now().UTC(), cfg.SchedulerBatch)
					if err != nil {
						logger.Warn().Err(err).Msg("expiry scan failed")
					} else if n > 0 {
						logger.Debug().Int("processed", n).Msg("expired timers resolved")
					}
				}
			}
		}()
	}

	// start server
	go func() {
		logger.Info().Str("addr", cfg.ServerAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// graceful shutdown
	<-ctx.Done()
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
	logger.Info().Msg("server stopped")
}
