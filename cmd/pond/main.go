// Command pond is the process entrypoint: it loads configuration, connects
// the durable backends, builds the pool registry, and brings up one Queue
// Producer set, one Worker Monitor per configured worker, a failure mode,
// the Submission API, and the admin HTTP server for every configured pool.
//
// Grounded on worker/cmd/worker/main.go and api/cmd/server/main.go's
// wiring order (config -> infra connections -> domain components -> HTTP
// server -> signal-driven graceful shutdown), merged into one process
// since a pond deployment's queue producers, monitors, and submission
// surface all share one registry rather than living in separate services.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shovelend/pond/internal/backend"
	amqpbackend "github.com/shovelend/pond/internal/backend/amqp"
	"github.com/shovelend/pond/internal/backend/memqueue"
	"github.com/shovelend/pond/internal/config"
	"github.com/shovelend/pond/internal/domain"
	"github.com/shovelend/pond/internal/failuremode"
	"github.com/shovelend/pond/internal/httpapi"
	"github.com/shovelend/pond/internal/monitor"
	"github.com/shovelend/pond/internal/queueproducer"
	"github.com/shovelend/pond/internal/registry"
	"github.com/shovelend/pond/internal/submission"
	"github.com/shovelend/pond/internal/supervision"
	"github.com/shovelend/pond/internal/worker"

	"github.com/shovelend/pond/internal/audit"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	logger.Info("starting pond")

	configFile := os.Getenv("POND_CONFIG_FILE")
	cfg, err := config.Load(configFile)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var dbPool *pgxpool.Pool
	var auditStore audit.Store
	if cfg.Database.URL != "" {
		dbPool, err = pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			logger.Fatal("failed to connect to postgres", zap.Error(err))
		}
		defer dbPool.Close()
		if err := dbPool.Ping(ctx); err != nil {
			logger.Fatal("failed to ping postgres", zap.Error(err))
		}
		auditStore = audit.NewPostgresStore(dbPool)
		logger.Info("connected to postgres; audit trail enabled")
	}

	redisOpts, err := goredis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Fatal("invalid redis url", zap.Error(err))
	}
	redisClient := goredis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("connected to redis")

	reg := registry.New()
	api := submission.New(reg, logger)
	sup := supervision.New(logger)
	if auditStore != nil {
		api.SetAuditStore(auditStore)
	}

	var wg sync.WaitGroup
	var closers []func() error

	for _, pc := range cfg.Pools {
		pool := domain.Local(pc.Name)
		reg.Create(pool)

		producers := make([]*queueproducer.Producer, 0, pc.NumQueues)
		for i := 0; i < pc.NumQueues; i++ {
			producerID := fmt.Sprintf("%s-queue-%d", pc.Name, i)
			b, err := newBackend(pc, producerID, cfg.AMQP.URL, logger)
			if err != nil {
				logger.Fatal("failed to build queue backend", zap.String("pool", pc.Name), zap.Error(err))
			}
			closers = append(closers, b.Close)

			p := queueproducer.New(producerID, b, logger)
			producers = append(producers, p)
			reg.Join(pool, domain.RoleQueues, registry.Member{ID: producerID, Value: p})

			wg.Add(1)
			go func(producerID string, p *queueproducer.Producer) {
				defer wg.Done()
				// §7: "Queue backend connection dies ... supervisor restarts".
				// A monitor's already-registered demand survives the restart
				// (internal/queueproducer's demandQueue is a Producer field,
				// not Run-local), so nothing downstream needs to resubscribe.
				if err := sup.RunWithBackoff(ctx, producerID, p); err != nil {
					logger.Error("queue producer stopped permanently", zap.Error(err))
				}
			}(producerID, p)
		}

		monitorProducers := make([]monitor.Producer, len(producers))
		for i, p := range producers {
			monitorProducers[i] = p
		}

		fm := buildFailureMode(pc, redisClient, logger)

		for i := 0; i < pc.NumWorkers; i++ {
			monitorID := fmt.Sprintf("%s-monitor-%d", pc.Name, i)
			mon := monitor.New(monitor.Config{
				ID:              monitorID,
				Pool:            pool,
				Registry:        reg,
				Producers:       monitorProducers,
				NewModule:       func() worker.UserModule { return &counterModule{} },
				FailureMode:     fm,
				FailureModeArgs: pc.FailureModeArgs,
				ReplySink:       api,
				AuditStore:      auditStore,
				InitRetryDelay:  pc.InitRetryDelay(),
				Logger:          logger,
			})

			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := mon.Run(ctx); err != nil {
					logger.Error("worker monitor stopped", zap.Error(err))
				}
			}()
		}

		logger.Info("pool online",
			zap.String("pool", pc.Name),
			zap.Int("queues", pc.NumQueues),
			zap.Int("workers", pc.NumWorkers),
		)
	}

	router := httpapi.NewRouter(httpapi.RouterDeps{
		API:             api,
		Logger:          logger,
		RateLimitPerMin: 120,
		DBPool:          dbPool,
		AMQPURI:         cfg.AMQP.URL,
		Redis:           redisClient,
		Audit:           auditStore,
	})
	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("admin http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down pond")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	cancel() // stop every queue producer and worker monitor
	wg.Wait()

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Warn("backend close error", zap.Error(err))
		}
	}

	logger.Info("pond stopped")
}

func newBackend(pc config.PoolConfig, producerID, amqpURL string, logger *zap.Logger) (backend.Backend, error) {
	switch pc.Queue {
	case "", "amqp":
		b, err := amqpbackend.New(amqpbackend.Config{
			URL:        amqpURL,
			Queue:      fmt.Sprintf("pond.%s", producerID),
			Durable:    pc.Durable,
			Exchange:   pc.Exchange,
			RoutingKey: producerID,
			Prefetch:   pc.Prefetch,
		}, logger)
		if err != nil {
			return nil, err
		}
		if err := b.Declare(context.Background()); err != nil {
			return nil, err
		}
		return b, nil
	case "memory":
		b := memqueue.New()
		return b, b.Declare(context.Background())
	default:
		return nil, fmt.Errorf("cmd/pond: unknown queue backend %q", pc.Queue)
	}
}

func buildFailureMode(pc config.PoolConfig, redisClient *goredis.Client, logger *zap.Logger) failuremode.FailureMode {
	base := failuremode.LoggingFailureMode{Logger: logger}
	if pc.FailureMode == "redis" {
		return failuremode.RedisFailureMode{Client: redisClient, Next: base}
	}
	return base
}

// counterModule is the reference worker module wired by default: it holds
// an int counter as its user state (via pointer, so methods mutate it in
// place and the count persists across dispatches) and exposes
// "increment"/"reset". A real deployment supplies its own
// worker.UserModule in place of this one; it exists so pond runs and
// answers requests out of the box.
type counterModule struct{}

func (counterModule) Init(args any) (any, error) {
	count := 0
	if n, ok := args.(int); ok {
		count = n
	}
	return &count, nil
}

func (counterModule) Methods() map[string]worker.MethodFunc {
	return map[string]worker.MethodFunc{
		"increment": func(state any, task domain.Task) (any, error) {
			c := state.(*int)
			*c++
			return *c, nil
		},
		"reset": func(state any, task domain.Task) (any, error) {
			c := state.(*int)
			*c = 0
			return 0, nil
		},
	}
}
