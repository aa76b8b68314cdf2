package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Dispatch     DispatchConfig
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
	Env          string `envconfig:"TERMINALPAY_APP_ENV" required:"true"`
	Port         string `envconfig:"TERMINALPAY_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"TERMINALPAY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"TERMINALPAY_LOG_WARN_STACK" default:"false"`

	CORSAllowedOrigins []string `envconfig:"TERMINALPAY_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`

	ReadTimeout     time.Duration `envconfig:"TERMINALPAY_HTTP_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"TERMINALPAY_HTTP_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"TERMINALPAY_HTTP_SHUTDOWN_TIMEOUT" default:"20s"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"TERMINALPAY_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN string `envconfig:"TERMINALPAY_DB_DSN"`

	// Driver is postgres in every deployed environment; sqlite is for local runs.
	Driver string `envconfig:"TERMINALPAY_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"TERMINALPAY_DB_HOST"`
	LegacyPort     int    `envconfig:"TERMINALPAY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"TERMINALPAY_DB_USER"`
	LegacyPassword string `envconfig:"TERMINALPAY_DB_PASSWORD"`
	LegacyName     string `envconfig:"TERMINALPAY_DB_NAME"`
	LegacySSLMode  string `envconfig:"TERMINALPAY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"TERMINALPAY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"TERMINALPAY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"TERMINALPAY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"TERMINALPAY_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// QueryTimeout bounds the storage work of a single payment operation.
	QueryTimeout time.Duration `envconfig:"TERMINALPAY_DB_QUERY_TIMEOUT" default:"5s"`
	// SlowQueryThreshold logs statements slower than this at warn; zero disables it.
	SlowQueryThreshold time.Duration `envconfig:"TERMINALPAY_DB_SLOW_QUERY_THRESHOLD" default:"250ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"TERMINALPAY_REDIS_URL" required:"true"`
	Address      string        `envconfig:"TERMINALPAY_REDIS_ADDR"`
	Password     string        `envconfig:"TERMINALPAY_REDIS_PASSWORD"`
	DB           int           `envconfig:"TERMINALPAY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"TERMINALPAY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"TERMINALPAY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"TERMINALPAY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"TERMINALPAY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"TERMINALPAY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"TERMINALPAY_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutcomeIdempotencyTTL time.Duration `envconfig:"TERMINALPAY_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"TERMINALPAY_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"TERMINALPAY_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"TERMINALPAY_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	CommandsTopic        string `envconfig:"TERMINALPAY_PUBSUB_COMMANDS_TOPIC" required:"true"`
	OutcomesTopic        string `envconfig:"TERMINALPAY_PUBSUB_OUTCOMES_TOPIC"`
	OutcomesSubscription string `envconfig:"TERMINALPAY_PUBSUB_OUTCOMES_SUBSCRIPTION"`
}

type DispatchConfig struct {
	PublishTimeout time.Duration `envconfig:"TERMINALPAY_DISPATCH_PUBLISH_TIMEOUT" default:"10s"`
	RetryInterval  time.Duration `envconfig:"TERMINALPAY_DISPATCH_RETRY_INTERVAL" default:"1m"`
	RetryBatchSize int           `envconfig:"TERMINALPAY_DISPATCH_RETRY_BATCH_SIZE" default:"100"`
	RetryMinAge    time.Duration `envconfig:"TERMINALPAY_DISPATCH_RETRY_MIN_AGE" default:"30s"`
	RetryLockTTL   time.Duration `envconfig:"TERMINALPAY_DISPATCH_RETRY_LOCK_TTL" default:"5m"`
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
