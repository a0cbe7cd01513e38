package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App       AppConfig
	Service   ServiceConfig
	DB        DBConfig
	Redis     RedisConfig
	GCP       GCPConfig
	PubSub    PubSubConfig
	Outbox    OutboxConfig
	Eventing  EventingConfig
	Cache     CacheConfig
	Scheduler SchedulerConfig
	DLQ       DLQConfig
	Ops       OpsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"BOARDFEED_APP_ENV" required:"true"`
	LogLevel     string `envconfig:"BOARDFEED_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"BOARDFEED_LOG_WARN_STACK" default:"false"`
	AutoMigrate  bool   `envconfig:"BOARDFEED_AUTO_MIGRATE" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"BOARDFEED_SERVICE_KIND" default:"worker"`
	// NodeID seeds the snowflake generator; must be unique per producer instance.
	NodeID int64 `envconfig:"BOARDFEED_NODE_ID" default:"1"`
}

type DBConfig struct {
	DSN string `envconfig:"BOARDFEED_DB_DSN"`

	LegacyHost     string `envconfig:"BOARDFEED_DB_HOST"`
	LegacyPort     int    `envconfig:"BOARDFEED_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"BOARDFEED_DB_USER"`
	LegacyPassword string `envconfig:"BOARDFEED_DB_PASSWORD"`
	LegacyName     string `envconfig:"BOARDFEED_DB_NAME"`
	LegacySSLMode  string `envconfig:"BOARDFEED_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"BOARDFEED_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BOARDFEED_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BOARDFEED_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BOARDFEED_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"BOARDFEED_REDIS_URL" required:"true"`
	Address      string        `envconfig:"BOARDFEED_REDIS_ADDR"`
	Password     string        `envconfig:"BOARDFEED_REDIS_PASSWORD"`
	DB           int           `envconfig:"BOARDFEED_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BOARDFEED_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BOARDFEED_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BOARDFEED_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BOARDFEED_REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"BOARDFEED_REDIS_WRITE_TIMEOUT" default:"3s"`
	RetryAttempts int          `envconfig:"BOARDFEED_REDIS_RETRY_ATTEMPTS" default:"3"`
	RetryBackoff  time.Duration `envconfig:"BOARDFEED_REDIS_RETRY_BACKOFF" default:"50ms"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"BOARDFEED_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON string `envconfig:"BOARDFEED_GCP_CREDENTIALS_JSON"`
}

type PubSubConfig struct {
	BoardTopic             string `envconfig:"BOARDFEED_PUBSUB_BOARD_TOPIC" required:"true"`
	EngagementTopic        string `envconfig:"BOARDFEED_PUBSUB_ENGAGEMENT_TOPIC"`
	ReadModelSubscription  string `envconfig:"BOARDFEED_PUBSUB_READMODEL_SUBSCRIPTION"`
	EngagementSubscription string `envconfig:"BOARDFEED_PUBSUB_ENGAGEMENT_SUBSCRIPTION"`
	MaxOutstanding         int    `envconfig:"BOARDFEED_PUBSUB_MAX_OUTSTANDING" default:"100"`
	NumGoroutines          int    `envconfig:"BOARDFEED_PUBSUB_NUM_GOROUTINES" default:"4"`
}

type OutboxConfig struct {
	BatchSize       int           `envconfig:"BOARDFEED_OUTBOX_PUBLISH_BATCH_SIZE" default:"100"`
	RelaySchedule   string        `envconfig:"BOARDFEED_OUTBOX_RELAY_SCHEDULE" default:"with 2s interval"`
	SafetyCutoff    time.Duration `envconfig:"BOARDFEED_OUTBOX_SAFETY_CUTOFF" default:"2s"`
	PublishTimeout  time.Duration `envconfig:"BOARDFEED_OUTBOX_PUBLISH_TIMEOUT" default:"5s"`
	MaxAttempts     int           `envconfig:"BOARDFEED_OUTBOX_MAX_ATTEMPTS" default:"5"`
	RetryAttempts   int           `envconfig:"BOARDFEED_OUTBOX_RETRY_ATTEMPTS" default:"3"`
	RetryBaseDelay  time.Duration `envconfig:"BOARDFEED_OUTBOX_RETRY_BASE_DELAY" default:"200ms"`
	RetryMaxDelay   time.Duration `envconfig:"BOARDFEED_OUTBOX_RETRY_MAX_DELAY" default:"2s"`
	BreakerFailures uint32        `envconfig:"BOARDFEED_OUTBOX_BREAKER_FAILURES" default:"5"`
	BreakerTimeout  time.Duration `envconfig:"BOARDFEED_OUTBOX_BREAKER_TIMEOUT" default:"30s"`
	RetentionDays   int           `envconfig:"BOARDFEED_OUTBOX_RETENTION_DAYS" default:"30"`
	RetentionCron   string        `envconfig:"BOARDFEED_OUTBOX_RETENTION_CRON" default:"0 30 3 * * * *"`
}

type EventingConfig struct {
	IdempotencyTTL time.Duration `envconfig:"BOARDFEED_EVENTING_IDEMPOTENCY_TTL" default:"24h"`
	HandlerTimeout time.Duration `envconfig:"BOARDFEED_EVENTING_HANDLER_TIMEOUT" default:"10s"`
}

type CacheConfig struct {
	RankingCap  int           `envconfig:"BOARDFEED_CACHE_RANKING_CAP" default:"1000"`
	TimelineCap int           `envconfig:"BOARDFEED_CACHE_TIMELINE_CAP" default:"1000"`
	DetailTTL   time.Duration `envconfig:"BOARDFEED_CACHE_DETAIL_TTL" default:"0s"`
}

type SchedulerConfig struct {
	CleanupDailyCron   string        `envconfig:"BOARDFEED_SCHEDULER_CLEANUP_DAILY_CRON" default:"0 5 0 * * * *"`
	CleanupWeeklyCron  string        `envconfig:"BOARDFEED_SCHEDULER_CLEANUP_WEEKLY_CRON" default:"0 15 0 * * 1 *"`
	CleanupMonthlyCron string        `envconfig:"BOARDFEED_SCHEDULER_CLEANUP_MONTHLY_CRON" default:"0 25 0 1 * * *"`
	ReconcileCron      string        `envconfig:"BOARDFEED_SCHEDULER_RECONCILE_CRON" default:"0 0 */1 * * * *"`
	LockMinHold        time.Duration `envconfig:"BOARDFEED_SCHEDULER_LOCK_MIN_HOLD" default:"30s"`
	LockMaxHold        time.Duration `envconfig:"BOARDFEED_SCHEDULER_LOCK_MAX_HOLD" default:"10m"`
	ReconcileBatchSize int           `envconfig:"BOARDFEED_SCHEDULER_RECONCILE_BATCH_SIZE" default:"200"`
}

type DLQConfig struct {
	RetryCron     string        `envconfig:"BOARDFEED_DLQ_RETRY_CRON" default:"0 */10 * * * * *"`
	StallCron     string        `envconfig:"BOARDFEED_DLQ_STALL_CRON" default:"0 */15 * * * * *"`
	StallCutoff   time.Duration `envconfig:"BOARDFEED_DLQ_STALL_CUTOFF" default:"1h"`
	BatchSize     int           `envconfig:"BOARDFEED_DLQ_BATCH_SIZE" default:"100"`
	RatePerSecond float64       `envconfig:"BOARDFEED_DLQ_RATE_PER_SECOND" default:"20"`
}

type OpsConfig struct {
	Addr string `envconfig:"BOARDFEED_OPS_ADDR" default:":9090"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
