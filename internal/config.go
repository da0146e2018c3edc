package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	Env           string              `mapstructure:"env" validate:"omitempty,oneof=development production test"`
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Store         StoreConfig         `mapstructure:"store"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Gateway       GatewayConfig       `mapstructure:"gateway" validate:"required"`
	Polling       PollingConfig       `mapstructure:"polling"`
	Security      SecurityConfig      `mapstructure:"security"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port" validate:"required,min=1,max=65535"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	ValidateRequests  bool          `mapstructure:"validate_requests"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"omitempty,min=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"omitempty,min=1"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Source          string        `mapstructure:"source"`
}

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMySQL    = "mysql"
	StoreRedis    = "redis"
)

// StoreConfig selects the transaction store. An empty driver resolves to
// postgres when a database source is configured and to memory otherwise.
type StoreConfig struct {
	Driver      string `mapstructure:"driver" validate:"omitempty,oneof=memory postgres sqlite mysql redis"`
	SeedDemo    bool   `mapstructure:"seed_demo"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db" validate:"min=0"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

const (
	StatusEncryptionAuto     = "auto"
	StatusEncryptionEnabled  = "encrypted"
	StatusEncryptionDisabled = "plain"
)

type GatewayConfig struct {
	APIURL           string        `mapstructure:"api_url" validate:"required,url"`
	AuthID           string        `mapstructure:"auth_id" validate:"required"`
	AuthKey          string        `mapstructure:"auth_key" validate:"required"`
	AppURL           string        `mapstructure:"app_url" validate:"required,url"`
	CallbackURL      string        `mapstructure:"callback_url" validate:"omitempty,url"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	StatusEncryption string        `mapstructure:"status_encryption" validate:"omitempty,oneof=auto encrypted plain"`
	StatusRetries    int           `mapstructure:"status_retries" validate:"min=0,max=10"`
	RetryInterval    time.Duration `mapstructure:"retry_interval" validate:"min=0"`
}

type PollingConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	Timeout       time.Duration `mapstructure:"timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	BatchSize     int           `mapstructure:"batch_size" validate:"min=0"`
	MaxWorkers    int           `mapstructure:"max_workers" validate:"min=0"`
	JobQueueSize  int           `mapstructure:"job_queue_size" validate:"min=0"`
}

type SecurityConfig struct {
	OperatorAuth         bool          `mapstructure:"operator_auth"`
	OperatorUsername     string        `mapstructure:"operator_username" validate:"required_if=OperatorAuth true"`
	OperatorPasswordHash string        `mapstructure:"operator_password_hash" validate:"required_if=OperatorAuth true"`
	JWTSecret            string        `mapstructure:"jwt_secret" validate:"required_if=OperatorAuth true"`
	AccessTokenDuration  time.Duration `mapstructure:"access_token_duration"`
	BCryptCost           int           `mapstructure:"bcrypt_cost" validate:"omitempty,min=10,max=15"`
}

type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=json text"`
}

// LoadConfigFromEnv builds the configuration from plain environment variables.
// It is used for container deployments where no config file is mounted.
func LoadConfigFromEnv() *Config {
	cfg := &Config{
		Env: getEnv("APP_ENV", "production"),
		Server: ServerConfig{
			Port:              getEnvAsInt("PORT", 8080),
			BaseURL:           getEnv("BASE_URL", ""),
			AllowedOrigins:    getEnv("ALLOWED_ORIGINS", "*"),
			ReadHeaderTimeout: getEnvAsDuration("READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("READ_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("IDLE_TIMEOUT", 60*time.Second),
			WriteTimeout:      getEnvAsDuration("WRITE_TIMEOUT", 30*time.Second),
			ValidateRequests:  getEnvAsBool("VALIDATE_REQUESTS", true),
		},
		Database: DatabaseConfig{
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			Source:          getEnv("DATABASE_URL", ""),
		},
		Store: StoreConfig{
			Driver:      getEnv("STORE_DRIVER", ""),
			SeedDemo:    getEnvAsBool("STORE_SEED_DEMO", true),
			AutoMigrate: getEnvAsBool("STORE_AUTO_MIGRATE", false),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", "localhost:6379"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvAsInt("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "skillpay"),
		},
		Gateway: GatewayConfig{
			APIURL:           getEnv("SKILLPAY_API_URL", ""),
			AuthID:           getEnv("SKILLPAY_AUTH_ID", ""),
			AuthKey:          getEnv("SKILLPAY_AUTH_KEY", ""),
			AppURL:           getEnv("APP_URL", "http://localhost:8080"),
			CallbackURL:      getEnv("SKILLPAY_CALLBACK_URL", ""),
			RequestTimeout:   getEnvAsDuration("SKILLPAY_REQUEST_TIMEOUT", 30*time.Second),
			StatusEncryption: getEnv("SKILLPAY_STATUS_ENCRYPTION", StatusEncryptionAuto),
			StatusRetries:    getEnvAsInt("SKILLPAY_STATUS_RETRIES", 2),
			RetryInterval:    getEnvAsDuration("SKILLPAY_RETRY_INTERVAL", 500*time.Millisecond),
		},
		Polling: PollingConfig{
			Interval:      getEnvAsDuration("POLL_INTERVAL", 5*time.Second),
			Timeout:       getEnvAsDuration("POLL_TIMEOUT", 2*time.Minute),
			SweepInterval: getEnvAsDuration("POLL_SWEEP_INTERVAL", 30*time.Second),
			BatchSize:     getEnvAsInt("POLL_BATCH_SIZE", 50),
			MaxWorkers:    getEnvAsInt("POLL_MAX_WORKERS", 4),
			JobQueueSize:  getEnvAsInt("POLL_JOB_QUEUE_SIZE", 100),
		},
		Security: SecurityConfig{
			OperatorAuth:         getEnvAsBool("OPERATOR_AUTH", false),
			OperatorUsername:     getEnv("OPERATOR_USERNAME", ""),
			OperatorPasswordHash: getEnv("OPERATOR_PASSWORD_HASH", ""),
			JWTSecret:            getEnv("JWT_SECRET", ""),
			AccessTokenDuration:  getEnvAsDuration("ACCESS_TOKEN_DURATION", 15*time.Minute),
			BCryptCost:           getEnvAsInt("BCRYPT_COST", 12),
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		},
	}
	return cfg
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

// ----------------- VALIDATION -----------------

var structValidator = validator.New()

func (c *Config) Validate() error {
	var errs []string

	if err := structValidator.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				errs = append(errs, fmt.Sprintf("%s failed on '%s'", fe.Namespace(), fe.Tag()))
			}
		} else {
			errs = append(errs, err.Error())
		}
	}

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(c.Store.ResolveDriver(c.Database)); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Gateway.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("gateway config: %v", err))
	}

	if err := c.Polling.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("polling config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.AllowedOrigins != "" {
		for _, origin := range c.Origins() {
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

// Origins splits the comma separated allowed_origins value.
func (c *ServerConfig) Origins() []string {
	if c.AllowedOrigins == "" {
		return []string{"*"}
	}
	parts := strings.Split(c.AllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}

func (c *DatabaseConfig) Validate(driver string) error {
	switch driver {
	case StorePostgres, StoreSQLite, StoreMySQL:
		if c.Source == "" {
			return fmt.Errorf("source is required for the %s store", driver)
		}
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

// ResolveDriver picks the store variant once at startup.
func (c StoreConfig) ResolveDriver(db DatabaseConfig) string {
	if c.Driver != "" {
		return c.Driver
	}
	if db.Source != "" {
		return StorePostgres
	}
	return StoreMemory
}

func (c *GatewayConfig) Validate() error {
	switch len(c.AuthKey) {
	case 16, 24, 32:
	default:
		return fmt.Errorf("auth_key must be 16, 24 or 32 bytes, got %d", len(c.AuthKey))
	}
	return nil
}

// ResolveCallbackURL returns the configured callback URL or the one derived
// from app_url.
func (c *GatewayConfig) ResolveCallbackURL() string {
	if c.CallbackURL != "" {
		return c.CallbackURL
	}
	return strings.TrimRight(c.AppURL, "/") + "/api/v1/payment/callback"
}

func (c *PollingConfig) Validate() error {
	if c.Interval > 0 && c.Timeout > 0 && c.Timeout < c.Interval {
		return errors.New("timeout must be >= interval")
	}
	return nil
}
