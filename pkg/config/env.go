package config

// EnvPrefix namespaces every environment variable read by the services.
const EnvPrefix = "BOARDFEED"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "BOARDFEED_APP_ENV"
	EnvLogLevel = "BOARDFEED_LOG_LEVEL"

	EnvDBDSN  = "BOARDFEED_DB_DSN"
	EnvDBHost = "BOARDFEED_DB_HOST"
	EnvDBUser = "BOARDFEED_DB_USER"
	EnvDBName = "BOARDFEED_DB_NAME"

	EnvRedisURL = "BOARDFEED_REDIS_URL"

	EnvGCPProjectID = "BOARDFEED_GCP_PROJECT_ID"

	EnvPubSubBoardTopic      = "BOARDFEED_PUBSUB_BOARD_TOPIC"
	EnvPubSubEngagementTopic = "BOARDFEED_PUBSUB_ENGAGEMENT_TOPIC"
	EnvPubSubReadModelSub    = "BOARDFEED_PUBSUB_READMODEL_SUBSCRIPTION"

	EnvOutboxMaxAttempts      = "BOARDFEED_OUTBOX_MAX_ATTEMPTS"
	EnvCacheRankingCap        = "BOARDFEED_CACHE_RANKING_CAP"
	EnvEventingIdempotencyTTL = "BOARDFEED_EVENTING_IDEMPOTENCY_TTL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
