package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Billing  BillingConfig
	Invoice  InvoiceConfig
	Metrics  MetricsConfig
	Admin    AdminConfig
}

type DatabaseConfig struct {
	Driver       string
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	SQLitePath   string
	LockTimeout  time.Duration
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// InvoiceConfig controls invoice numbering and tax rates. Rates are fractions.
type InvoiceConfig struct {
	Prefix             string
	SequenceLength     int
	VATRate            decimal.Decimal
	TransactionTaxRate decimal.Decimal
}

// BillingConfig holds the monetary policy of the institute.
type BillingConfig struct {
	MinInstallment           decimal.Decimal
	MaxPaymentAmount         decimal.Decimal
	GenericIncomeAutoConfirm bool
	OverdueSweepInterval     time.Duration
	CacheTTL                 time.Duration
}

// AdminConfig seeds the first administrator on an empty user table.
type AdminConfig struct {
	Email    string
	Password string
}

// MetricsConfig toggles the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Driver:       normalizeDriver(v.GetString("DB_DRIVER")),
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		SQLitePath:   v.GetString("DB_SQLITE_PATH"),
		LockTimeout:  parseDuration(v.GetString("DB_LOCK_TIMEOUT"), 5*time.Second),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("ENABLE_REDIS"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 12*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Billing = BillingConfig{
		MinInstallment:           parseDecimal(v.GetString("BILLING_MIN_INSTALLMENT"), decimal.NewFromInt(10)),
		MaxPaymentAmount:         parseDecimal(v.GetString("BILLING_MAX_PAYMENT"), decimal.NewFromInt(100000)),
		GenericIncomeAutoConfirm: v.GetBool("BILLING_GENERIC_INCOME_AUTO_CONFIRM"),
		OverdueSweepInterval:     parseDuration(v.GetString("BILLING_OVERDUE_SWEEP_INTERVAL"), time.Hour),
		CacheTTL:                 parseDuration(v.GetString("BILLING_CACHE_TTL"), 5*time.Minute),
	}

	cfg.Invoice = InvoiceConfig{
		Prefix:             strings.ToUpper(strings.TrimSpace(v.GetString("INVOICE_PREFIX"))),
		SequenceLength:     v.GetInt("INVOICE_SEQUENCE_LENGTH"),
		VATRate:            parseDecimal(v.GetString("INVOICE_VAT_RATE"), decimal.RequireFromString("0.13")),
		TransactionTaxRate: parseDecimal(v.GetString("INVOICE_IT_RATE"), decimal.RequireFromString("0.03")),
	}
	if cfg.Invoice.SequenceLength < 1 {
		cfg.Invoice.SequenceLength = 6
	}

	cfg.Metrics = MetricsConfig{
		Enabled: v.GetBool("ENABLE_METRICS"),
		Path:    v.GetString("METRICS_PATH"),
	}

	cfg.Admin = AdminConfig{
		Email:    strings.TrimSpace(v.GetString("ADMIN_EMAIL")),
		Password: v.GetString("ADMIN_PASSWORD"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_DRIVER", DriverPostgres)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "institute_billing")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_SQLITE_PATH", "./data/billing.db")
	v.SetDefault("DB_LOCK_TIMEOUT", "5s")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", true)

	v.SetDefault("ENABLE_REDIS", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "12h")
	v.SetDefault("JWT_ISSUER", "edu-billing-api")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("BILLING_MIN_INSTALLMENT", "10.00")
	v.SetDefault("BILLING_MAX_PAYMENT", "100000.00")
	v.SetDefault("BILLING_GENERIC_INCOME_AUTO_CONFIRM", true)
	v.SetDefault("BILLING_OVERDUE_SWEEP_INTERVAL", "1h")
	v.SetDefault("BILLING_CACHE_TTL", "5m")

	v.SetDefault("INVOICE_PREFIX", "FAC-")
	v.SetDefault("INVOICE_SEQUENCE_LENGTH", 6)
	v.SetDefault("INVOICE_VAT_RATE", "0.13")
	v.SetDefault("INVOICE_IT_RATE", "0.03")

	v.SetDefault("ENABLE_METRICS", true)
	v.SetDefault("METRICS_PATH", "/metrics")

	v.SetDefault("ADMIN_EMAIL", "")
	v.SetDefault("ADMIN_PASSWORD", "")
}

func normalizeDriver(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "sqlite", "sqlite3":
		return DriverSQLite
	default:
		return DriverPostgres
	}
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func parseDecimal(raw string, fallback decimal.Decimal) decimal.Decimal {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || d.IsNegative() {
		return fallback
	}
	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
