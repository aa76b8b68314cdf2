package config

const (
	EnvPrefix = "TERMINALPAY"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "TERMINALPAY_APP_ENV"
	EnvPort     = "TERMINALPAY_APP_PORT"
	EnvLogLevel = "TERMINALPAY_LOG_LEVEL"

	EnvDBDSN  = "TERMINALPAY_DB_DSN"
	EnvDBHost = "TERMINALPAY_DB_HOST"
	EnvDBPort = "TERMINALPAY_DB_PORT"
	EnvDBUser = "TERMINALPAY_DB_USER"
	EnvDBPass = "TERMINALPAY_DB_PASSWORD"
	EnvDBName = "TERMINALPAY_DB_NAME"

	EnvRedisURL = "TERMINALPAY_REDIS_URL"

	EnvGCPProjectID = "TERMINALPAY_GCP_PROJECT_ID"

	EnvPubSubCommandsTopic = "TERMINALPAY_PUBSUB_COMMANDS_TOPIC"
	EnvPubSubOutcomesSub   = "TERMINALPAY_PUBSUB_OUTCOMES_SUBSCRIPTION"

	EnvDispatchPublishTimeout = "TERMINALPAY_DISPATCH_PUBLISH_TIMEOUT"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
