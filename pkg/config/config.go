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
	DB           DBConfig
	Redis        RedisConfig
	Stripe       StripeConfig
	Webhook      WebhookConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = DriverSQLite
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"DRAFTLINE_APP_ENV" required:"true"`
	Port         string `envconfig:"DRAFTLINE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"DRAFTLINE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"DRAFTLINE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"DRAFTLINE_DB_DSN"`
	Driver string `envconfig:"DRAFTLINE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"DRAFTLINE_DB_HOST"`
	LegacyPort     int    `envconfig:"DRAFTLINE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"DRAFTLINE_DB_USER"`
	LegacyPassword string `envconfig:"DRAFTLINE_DB_PASSWORD"`
	LegacyName     string `envconfig:"DRAFTLINE_DB_NAME"`
	LegacySSLMode  string `envconfig:"DRAFTLINE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"DRAFTLINE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"DRAFTLINE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"DRAFTLINE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"DRAFTLINE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"DRAFTLINE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"DRAFTLINE_REDIS_ADDR"`
	Password     string        `envconfig:"DRAFTLINE_REDIS_PASSWORD"`
	DB           int           `envconfig:"DRAFTLINE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"DRAFTLINE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"DRAFTLINE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"DRAFTLINE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"DRAFTLINE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"DRAFTLINE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type StripeConfig struct {
	APIKey string `envconfig:"DRAFTLINE_STRIPE_API_KEY"`
	Secret string `envconfig:"DRAFTLINE_STRIPE_SECRET"`
	Env    string `envconfig:"DRAFTLINE_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// WebhookConfig tunes the event lock and the duplicate pre-filter. The
// staleness window bounds how long a crashed holder blocks re-acquisition;
// max attempts bounds total retries before an event is abandoned.
type WebhookConfig struct {
	LockStaleAfter  time.Duration `envconfig:"DRAFTLINE_WEBHOOK_LOCK_STALE_AFTER" default:"2m"`
	LockMaxAttempts int           `envconfig:"DRAFTLINE_WEBHOOK_LOCK_MAX_ATTEMPTS" default:"5"`
	GuardTTL        time.Duration `envconfig:"DRAFTLINE_WEBHOOK_GUARD_TTL" default:"720h"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"DRAFTLINE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"DRAFTLINE_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.Driver == DriverSQLite {
		// SQLite has no legacy var assembly; the DSN is the file path.
		if db.DSN == "" {
			return fmt.Errorf("%s is required when %s is set", EnvDBDSN, EnvUseSQLite)
		}
		return nil
	}
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
