package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"codejudge/internal/common/cache"
	"codejudge/internal/common/db"
	"codejudge/internal/common/http/middleware"
	"codejudge/internal/common/mq"
	"codejudge/internal/common/storage"
	"codejudge/internal/judge/catalog"
	"codejudge/internal/judge/language"
	"codejudge/internal/judge/repository"
	"codejudge/internal/judge/sandbox/engine"
	"codejudge/internal/judge/scheduler"
	"codejudge/pkg/utils/logger"

	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8085"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 60 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 30 * time.Second
	defaultWorkRoot        = "/tmp/codejudge"
	defaultProblemDir      = "problems"
	defaultFinalTopic      = "judge.status.final"
	defaultRetryTopic      = "judge.retry"

	NotifierNone  = "none"
	NotifierKafka = "kafka"
	NotifierNATS  = "nats"
	NotifierSQS   = "sqs"

	DatabaseMemory = "memory"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	MetricsPath     string        `yaml:"metricsPath"`
}

// DatabaseConfig selects the durable submission store.
type DatabaseConfig struct {
	Driver        string `yaml:"driver"` // memory, mysql, postgres
	db.PoolConfig `yaml:",inline"`
}

// KafkaConfig holds Kafka settings for notifications and submit intake.
type KafkaConfig struct {
	Brokers       []string      `yaml:"brokers"`
	ClientID      string        `yaml:"clientID"`
	MinBytes      int           `yaml:"minBytes"`
	MaxBytes      int           `yaml:"maxBytes"`
	MaxWait       time.Duration `yaml:"maxWait"`
	BatchSize     int           `yaml:"batchSize"`
	BatchTimeout  time.Duration `yaml:"batchTimeout"`
	DialTimeout   time.Duration `yaml:"dialTimeout"`
	RequiredAcks  int           `yaml:"requiredAcks"`
	Compression   string        `yaml:"compression"`
	Topics        []string      `yaml:"topics"`
	ConsumerGroup string        `yaml:"consumerGroup"`
	PrefetchCount int           `yaml:"prefetchCount"`
	Concurrency   int           `yaml:"concurrency"`
	MaxRetries    int           `yaml:"maxRetries"`
	RetryDelay    time.Duration `yaml:"retryDelay"`
	RetryTopic    string        `yaml:"retryTopic"`
	PoolRetryMax  int           `yaml:"poolRetryMax"`
	PoolRetryBase time.Duration `yaml:"poolRetryBaseDelay"`
	PoolRetryMaxD time.Duration `yaml:"poolRetryMaxDelay"`
	DeadLetter    string        `yaml:"deadLetterTopic"`
	MessageTTL    time.Duration `yaml:"messageTTL"`
}

// NotifierConfig selects where final status events go.
type NotifierConfig struct {
	Driver string `yaml:"driver"` // none, kafka, nats, sqs
	Topic  string `yaml:"topic"`
}

// JudgeConfig holds pipeline settings.
type JudgeConfig struct {
	WorkRoot          string        `yaml:"workRoot"`
	FailFast          *bool         `yaml:"failFast"`
	RetryInternal     *bool         `yaml:"retryInternal"`
	KeepWorkDir       bool          `yaml:"keepWorkDir"`
	MaxCodeBytes      int           `yaml:"maxCodeBytes"`
	SubmitWaitTimeout time.Duration `yaml:"submitWaitTimeout"`
	StatusTimeout     time.Duration `yaml:"statusTimeout"`
	CatalogTimeout    time.Duration `yaml:"catalogTimeout"`
	WatchInterval     time.Duration `yaml:"watchInterval"`
	StatusTTL         time.Duration `yaml:"statusTTL"`
	UserIndexLimit    int           `yaml:"userIndexLimit"`
}

// SeccompConfig points the native engine at a profile file.
type SeccompConfig struct {
	Profile string `yaml:"profile"`
}

// SandboxConfig wraps engine settings plus per-profile isolation.
type SandboxConfig struct {
	engine.Config `yaml:",inline"`
	Seccomp       SeccompConfig     `yaml:"seccomp"`
	RootFS        string            `yaml:"rootFS"`
	Images        map[string]string `yaml:"images"`
}

// LanguageConfig replaces or extends the built-in adapters by id.
type LanguageConfig struct {
	Languages []language.Spec `yaml:"languages"`
}

// AppConfig holds judge-service config.
type AppConfig struct {
	Server    ServerConfig               `yaml:"server"`
	Logger    logger.Config              `yaml:"logger"`
	Redis     cache.RedisConfig          `yaml:"redis"`
	Database  DatabaseConfig             `yaml:"database"`
	Kafka     KafkaConfig                `yaml:"kafka"`
	NATS      mq.NATSConfig              `yaml:"nats"`
	SQS       mq.SQSConfig               `yaml:"sqs"`
	MinIO     storage.MinIOConfig        `yaml:"minio"`
	Notifier  NotifierConfig             `yaml:"notifier"`
	Catalog   catalog.Config             `yaml:"catalog"`
	Scheduler scheduler.Config           `yaml:"scheduler"`
	Judge     JudgeConfig                `yaml:"judge"`
	Sandbox   SandboxConfig              `yaml:"sandbox"`
	Language  LanguageConfig             `yaml:"language"`
	RateLimit middleware.RateLimitConfig `yaml:"rateLimit"`
	CORS      middleware.CORSConfig      `yaml:"cors"`
	Auth      middleware.AuthConfig      `yaml:"auth"`
}

// loadEnvFile loads .env style files. Missing files are ignored.
func loadEnvFile(paths ...string) error {
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load env file %s failed: %w", path, err)
		}
	}
	return nil
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) applyDefaults() error {
	if c.Server.Addr == "" {
		c.Server.Addr = defaultHTTPAddr
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = defaultReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = defaultWriteTimeout
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = defaultIdleTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.Server.MetricsPath == "" {
		c.Server.MetricsPath = "/metrics"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DatabaseMemory
	}
	if c.Database.Driver != DatabaseMemory && c.Database.DSN == "" {
		return fmt.Errorf("database dsn is required for driver %q", c.Database.Driver)
	}

	if c.Notifier.Driver == "" {
		c.Notifier.Driver = NotifierNone
	}
	if c.Notifier.Topic == "" {
		c.Notifier.Topic = defaultFinalTopic
	}
	switch c.Notifier.Driver {
	case NotifierNone, NotifierNATS, NotifierSQS:
	case NotifierKafka:
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers are required for the kafka notifier")
		}
	default:
		return fmt.Errorf("unknown notifier driver %q", c.Notifier.Driver)
	}
	if len(c.Kafka.Topics) > 0 && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required for submit intake")
	}
	if c.Kafka.RetryTopic == "" {
		c.Kafka.RetryTopic = defaultRetryTopic
	}
	if c.Kafka.PoolRetryMax <= 0 {
		c.Kafka.PoolRetryMax = 5
	}
	if c.Kafka.PoolRetryBase == 0 {
		c.Kafka.PoolRetryBase = time.Second
	}
	if c.Kafka.PoolRetryMaxD == 0 {
		c.Kafka.PoolRetryMaxD = 30 * time.Second
	}

	if c.Catalog.Driver == "" {
		c.Catalog.Driver = catalog.DriverFile
	}
	if c.Catalog.Driver == catalog.DriverFile && c.Catalog.Dir == "" {
		c.Catalog.Dir = defaultProblemDir
	}
	if c.Catalog.Driver == catalog.DriverDataPack {
		if c.Catalog.Bucket == "" {
			c.Catalog.Bucket = c.MinIO.Bucket
		}
		if c.MinIO.Endpoint == "" {
			return fmt.Errorf("minio endpoint is required for the datapack catalog")
		}
	}

	if c.Judge.WorkRoot == "" {
		c.Judge.WorkRoot = defaultWorkRoot
	}
	if c.Judge.FailFast == nil {
		c.Judge.FailFast = boolPtr(true)
	}
	if c.Judge.RetryInternal == nil {
		c.Judge.RetryInternal = boolPtr(true)
	}
	return nil
}

func boolPtr(v bool) *bool { return &v }

func (k KafkaConfig) toMQConfig() mq.KafkaConfig {
	return mq.KafkaConfig{
		Brokers:      k.Brokers,
		ClientID:     k.ClientID,
		MinBytes:     k.MinBytes,
		MaxBytes:     k.MaxBytes,
		MaxWait:      k.MaxWait,
		BatchSize:    k.BatchSize,
		BatchTimeout: k.BatchTimeout,
		DialTimeout:  k.DialTimeout,
		RequiredAcks: kafka.RequiredAcks(k.RequiredAcks),
		Compression:  parseCompression(k.Compression),
	}
}

func (k KafkaConfig) subscribeOptions(limiter mq.FetchLimiter) *mq.SubscribeOptions {
	return &mq.SubscribeOptions{
		ConsumerGroup:   k.ConsumerGroup,
		PrefetchCount:   k.PrefetchCount,
		Concurrency:     k.Concurrency,
		MaxRetries:      k.MaxRetries,
		RetryDelay:      k.RetryDelay,
		DeadLetterTopic: k.DeadLetter,
		MessageTTL:      k.MessageTTL,
		Limiter:         limiter,
	}
}

func parseCompression(raw string) kafka.Compression {
	switch strings.ToLower(raw) {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Compression(0)
	}
}

func (j JudgeConfig) statusOptions() repository.StatusOptions {
	return repository.StatusOptions{TTL: j.StatusTTL, IndexLimit: j.UserIndexLimit}
}

// languageSpecs overlays configured adapters on the built-in set by id.
func (l LanguageConfig) languageSpecs() []language.Spec {
	specs := language.DefaultSpecs()
	index := make(map[string]int, len(specs))
	for i, s := range specs {
		index[s.ID] = i
	}
	for _, s := range l.Languages {
		if i, ok := index[s.ID]; ok {
			specs[i] = s
			continue
		}
		index[s.ID] = len(specs)
		specs = append(specs, s)
	}
	return specs
}
