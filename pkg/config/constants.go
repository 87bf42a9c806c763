package config

// EnvPrefix namespaces every environment variable the service reads.
const EnvPrefix = "THUMBGEN"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvDBDSN  = "THUMBGEN_DB_DSN"
	EnvDBHost = "THUMBGEN_DB_HOST"
	EnvDBUser = "THUMBGEN_DB_USER"
	EnvDBName = "THUMBGEN_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
