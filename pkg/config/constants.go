package config

// EnvPrefix scopes all environment variables consumed by the platform.
const EnvPrefix = "DRAFTLINE"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const (
	EnvDBDSN     = "DRAFTLINE_DB_DSN"
	EnvDBHost    = "DRAFTLINE_DB_HOST"
	EnvDBUser    = "DRAFTLINE_DB_USER"
	EnvDBName    = "DRAFTLINE_DB_NAME"
	EnvUseSQLite = "DRAFTLINE_USE_SQLITE"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
