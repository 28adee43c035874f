package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"codejudge/internal/common/cache"
	"codejudge/internal/common/db"
	commonmw "codejudge/internal/common/http/middleware"
	"codejudge/internal/common/mq"
	"codejudge/internal/common/storage"
	"codejudge/internal/judge/catalog"
	"codejudge/internal/judge/controller"
	"codejudge/internal/judge/language"
	"codejudge/internal/judge/metrics"
	"codejudge/internal/judge/repository"
	"codejudge/internal/judge/sandbox/engine"
	"codejudge/internal/judge/sandbox/runner"
	"codejudge/internal/judge/sandbox/security"
	"codejudge/internal/judge/scheduler"
	"codejudge/internal/judge/service"
	"codejudge/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultConfigPath = "configs/judge_service.yaml"

// closers runs cleanup in reverse registration order.
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	envPath := flag.String("env", ".env", "Optional env file loaded before the config")
	flag.Parse()

	if err := loadEnvFile(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "judge service exited", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(appCfg *AppConfig) error {
	ctx := context.Background()
	var cleanup closers
	defer cleanup.run()

	m := metrics.New()

	var redisCache *cache.RedisCache
	if appCfg.Redis.Addr != "" {
		rc, err := cache.DialRedis(appCfg.Redis)
		if err != nil {
			return fmt.Errorf("init redis failed: %w", err)
		}
		redisCache = rc
		cleanup.add(func() { _ = rc.Close() })
	} else {
		logger.Warn(ctx, "redis not configured, status cache and shared rate limit disabled")
	}

	store, err := openStore(appCfg.Database, &cleanup)
	if err != nil {
		return err
	}
	var status *repository.StatusRepository
	if redisCache != nil {
		status = repository.NewStatusRepository(redisCache, appCfg.Judge.statusOptions())
	}
	repo := repository.NewSubmissionRepository(store, status)

	var kafkaQueue *mq.KafkaQueue
	if len(appCfg.Kafka.Brokers) > 0 {
		kafkaQueue, err = mq.NewKafkaQueue(appCfg.Kafka.toMQConfig())
		if err != nil {
			return fmt.Errorf("init kafka failed: %w", err)
		}
		cleanup.add(func() { _ = kafkaQueue.Close() })
	}
	publisher, err := openNotifier(ctx, appCfg, kafkaQueue, &cleanup)
	if err != nil {
		return err
	}

	problems, err := openCatalog(appCfg, redisCache)
	if err != nil {
		return err
	}

	languages, err := language.NewRegistry(appCfg.Language.languageSpecs())
	if err != nil {
		return fmt.Errorf("init language registry failed: %w", err)
	}
	eng, err := engine.Open(appCfg.Sandbox.Config, buildResolver(appCfg.Sandbox, languages.List()))
	if err != nil {
		return fmt.Errorf("init sandbox engine failed: %w", err)
	}
	jobRunner := runner.NewRunnerWithObserver(eng, m)

	pool := scheduler.New(appCfg.Scheduler, m)
	pool.Start()

	requeue := service.RequeueConfig{}
	if kafkaQueue != nil {
		requeue = service.RequeueConfig{
			Producer:   kafkaQueue,
			RetryTopic: appCfg.Kafka.RetryTopic,
			DeadLetter: appCfg.Kafka.DeadLetter,
			MaxRetries: appCfg.Kafka.PoolRetryMax,
			BaseDelay:  appCfg.Kafka.PoolRetryBase,
			MaxDelay:   appCfg.Kafka.PoolRetryMaxD,
		}
	}
	judgeSvc, err := service.NewService(service.Config{
		Languages:         languages,
		Catalog:           problems,
		Runner:            jobRunner,
		Scheduler:         pool,
		Repository:        repo,
		Publisher:         publisher,
		Killer:            eng,
		Recorder:          m,
		WorkRoot:          appCfg.Judge.WorkRoot,
		FailFast:          *appCfg.Judge.FailFast,
		RetryInternal:     *appCfg.Judge.RetryInternal,
		KeepWorkDir:       appCfg.Judge.KeepWorkDir,
		MaxCodeBytes:      appCfg.Judge.MaxCodeBytes,
		SubmitWaitTimeout: appCfg.Judge.SubmitWaitTimeout,
		StatusTimeout:     appCfg.Judge.StatusTimeout,
		CatalogTimeout:    appCfg.Judge.CatalogTimeout,
		WatchInterval:     appCfg.Judge.WatchInterval,
		AdmissionTimeout:  appCfg.Scheduler.AdmissionTimeout,
		Requeue:           requeue,
	})
	if err != nil {
		return fmt.Errorf("init judge service failed: %w", err)
	}

	if kafkaQueue != nil && len(appCfg.Kafka.Topics) > 0 {
		limiter := mq.NewTokenLimiter(pool.Stats().Workers)
		topics := append([]string{}, appCfg.Kafka.Topics...)
		if requeue.RetryTopic != "" {
			topics = append(topics, requeue.RetryTopic)
		}
		for _, topic := range topics {
			if err := kafkaQueue.Subscribe(ctx, topic, judgeSvc.HandleMessage, appCfg.Kafka.subscribeOptions(limiter)); err != nil {
				return fmt.Errorf("subscribe %s failed: %w", topic, err)
			}
		}
		if err := kafkaQueue.Start(); err != nil {
			return fmt.Errorf("start kafka consumer failed: %w", err)
		}
		logger.Info(ctx, "kafka intake started", zap.Strings("topics", topics))
	}

	httpServer := buildHTTPServer(appCfg, judgeSvc, m, redisCache)

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(sigCtx)
	g.Go(func() error {
		logger.Info(ctx, "judge http server started", zap.String("addr", appCfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info(ctx, "shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), appCfg.Server.ShutdownTimeout)
		defer cancel()

		// Stop intake first so no new work lands on a draining pool.
		if kafkaQueue != nil {
			_ = kafkaQueue.Stop()
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error(ctx, "http server shutdown failed", zap.Error(err))
		}
		if err := pool.Shutdown(shutdownCtx); err != nil {
			logger.Warn(ctx, "scheduler drain incomplete", zap.Error(err))
		}
		return nil
	})
	return g.Wait()
}

func openStore(cfg DatabaseConfig, cleanup *closers) (repository.SubmissionStore, error) {
	if cfg.Driver == DatabaseMemory {
		logger.Warn(context.Background(), "using in-memory submission store")
		return repository.NewMemoryStore(), nil
	}
	database, err := db.Open(cfg.Driver, cfg.PoolConfig)
	if err != nil {
		return nil, fmt.Errorf("init database failed: %w", err)
	}
	cleanup.add(func() { _ = database.Close() })
	return repository.NewSQLStore(db.NewManager(database)), nil
}

func openNotifier(ctx context.Context, appCfg *AppConfig, kafkaQueue *mq.KafkaQueue, cleanup *closers) (repository.StatusEventPublisher, error) {
	topic := appCfg.Notifier.Topic
	switch appCfg.Notifier.Driver {
	case NotifierKafka:
		return repository.NewBrokerStatusPublisher(kafkaQueue, topic), nil
	case NotifierNATS:
		producer, err := mq.NewNATSProducer(appCfg.NATS)
		if err != nil {
			return nil, fmt.Errorf("init nats failed: %w", err)
		}
		cleanup.add(func() { _ = producer.Close() })
		return repository.NewBrokerStatusPublisher(producer, topic), nil
	case NotifierSQS:
		producer, err := mq.NewSQSProducer(ctx, appCfg.SQS)
		if err != nil {
			return nil, fmt.Errorf("init sqs failed: %w", err)
		}
		cleanup.add(func() { _ = producer.Close() })
		return repository.NewBrokerStatusPublisher(producer, topic), nil
	default:
		return repository.DiscardStatusPublisher{}, nil
	}
}

func openCatalog(appCfg *AppConfig, redisCache *cache.RedisCache) (catalog.Catalog, error) {
	var objects storage.ObjectStorage
	var locks cache.LockOps
	if appCfg.Catalog.Driver == catalog.DriverDataPack {
		minioStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
		if err != nil {
			return nil, fmt.Errorf("init minio failed: %w", err)
		}
		objects = minioStorage
		if redisCache != nil {
			locks = redisCache
		}
	}
	problems, err := catalog.Open(appCfg.Catalog, objects, locks)
	if err != nil {
		return nil, fmt.Errorf("init problem catalog failed: %w", err)
	}
	return problems, nil
}

// buildResolver gives every language task its own profile so the container
// engine can pick the language image.
func buildResolver(cfg SandboxConfig, specs []language.Spec) *security.StaticResolver {
	fallback := security.IsolationProfile{RootFS: cfg.RootFS, SeccompProfile: cfg.Seccomp.Profile}
	profiles := make(map[string]security.IsolationProfile, len(specs)*2)
	for _, s := range specs {
		image := s.Image
		if override, ok := cfg.Images[s.ID]; ok && override != "" {
			image = override
		}
		prof := security.IsolationProfile{Image: image}
		profiles[security.ProfileName(s.ID, security.TaskCompile)] = prof
		profiles[security.ProfileName(s.ID, security.TaskRun)] = prof
	}
	return security.NewStaticResolver(fallback, profiles)
}

func buildHTTPServer(appCfg *AppConfig, judgeSvc *service.Service, m *metrics.Metrics, redisCache *cache.RedisCache) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(commonmw.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(commonmw.CORSMiddleware(appCfg.CORS))
	router.Use(commonmw.RequestLogger("/healthz", appCfg.Server.MetricsPath))
	router.Use(requestMetrics(m))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "scheduler": judgeSvc.Stats()})
	})
	router.GET(appCfg.Server.MetricsPath, gin.WrapH(m.Handler()))

	var shared *commonmw.RedisLimiter
	if redisCache != nil {
		shared = commonmw.NewRedisLimiter(redisCache, appCfg.RateLimit.RedisTimeout)
	}
	limited := router.Group("", commonmw.TokenAuthMiddleware(appCfg.Auth), commonmw.RateLimitMiddleware(
		commonmw.NewLocalLimiter(appCfg.RateLimit), shared, appCfg.RateLimit, "judge",
		func(string) { m.RateLimited() },
	))
	controller.NewJudgeController(judgeSvc).Register(limited)

	return &http.Server{
		Addr:         appCfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  appCfg.Server.ReadTimeout,
		WriteTimeout: appCfg.Server.WriteTimeout,
		IdleTimeout:  appCfg.Server.IdleTimeout,
	}
}

func requestMetrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.Request(route, c.Writer.Status())
	}
}
