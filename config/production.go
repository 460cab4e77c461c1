// Package config provides configuration management and environment variable handling for the application
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ProductionConfig holds all configuration for production environment
type ProductionConfig struct {
	Database   DatabaseConfig   `json:"database"`
	Server     ServerConfig     `json:"server"`
	Security   SecurityConfig   `json:"security"`
	JWT        JWTConfig        `json:"jwt"`
	Logging    LoggingConfig    `json:"logging"`
	Metrics    MetricsConfig    `json:"metrics"`
	Cache      CacheConfig      `json:"cache"`
	Deployment DeploymentConfig `json:"deployment"`
	Tracking   TrackingConfig   `json:"tracking"`
	Realtime   RealtimeConfig   `json:"realtime"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
}

type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	SlowQueryLog    bool          `json:"slow_query_log"`
	SlowQueryTime   time.Duration `json:"slow_query_time"`
	AutoMigrate     bool          `json:"auto_migrate"`
}

type ServerConfig struct {
	Host              string        `json:"host"`
	Port              int           `json:"port"`
	ReadTimeout       time.Duration `json:"read_timeout"`
	WriteTimeout      time.Duration `json:"write_timeout"`
	IdleTimeout       time.Duration `json:"idle_timeout"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout"`
	BodyLimit         int           `json:"body_limit"`
	EnableMetrics     bool          `json:"enable_metrics"`
	TrustedProxies    []string      `json:"trusted_proxies"`
	ProxyHeader       string        `json:"proxy_header"`
	EnableCompression bool          `json:"enable_compression"`
	PublicBaseURL     string        `json:"public_base_url"`
}

type SecurityConfig struct {
	// TLS/HTTPS
	TLSEnabled  bool   `json:"tls_enabled"`
	TLSCertFile string `json:"tls_cert_file"`
	TLSKeyFile  string `json:"tls_key_file"`
	HSTSMaxAge  int    `json:"hsts_max_age"`

	// CORS
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	CORSMaxAge       int      `json:"cors_max_age"`

	// Rate Limiting
	TrackRateLimit  int           `json:"track_rate_limit"`  // requests per window per IP on /track
	GlobalRateLimit int           `json:"global_rate_limit"` // requests per window per IP on /api
	RateLimitWindow time.Duration `json:"rate_limit_window"`

	// Content Security
	XFrameOptions       string `json:"x_frame_options"`
	XContentTypeOptions string `json:"x_content_type_options"`
	ReferrerPolicy      string `json:"referrer_policy"`
}

type JWTConfig struct {
	SecretKey      string        `json:"secret_key"`
	PrivateKey     string        `json:"private_key"`  // RSA private key in PEM format
	PublicKey      string        `json:"public_key"`   // RSA public key in PEM format
	UseRSAKeys     bool          `json:"use_rsa_keys"` // Whether to use RSA keys instead of secret key
	AccessTokenTTL time.Duration `json:"access_token_ttl"`
	Issuer         string        `json:"issuer"`
	Audience       string        `json:"audience"`
}

type LoggingConfig struct {
	Level      string `json:"level"`  // debug, info, warn, error, silent
	Output     string `json:"output"` // stdout, file, both
	FilePath   string `json:"file_path"`
	MaxSize    int    `json:"max_size"` // MB
	MaxBackups int    `json:"max_backups"`
	MaxAge     int    `json:"max_age"` // days
	Compress   bool   `json:"compress"`

	EnableAccessLog bool `json:"enable_access_log"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type CacheConfig struct {
	Enabled     bool   `json:"enabled"`
	RedisURL    string `json:"redis_url"`
	RedisDB     int    `json:"redis_db"`
	RedisPrefix string `json:"redis_prefix"`
}

type DeploymentConfig struct {
	Environment string `json:"environment"`
	Version     string `json:"version"`
	CommitHash  string `json:"commit_hash"`
	BuildTime   string `json:"build_time"`
}

// TrackingConfig drives the public redirect endpoint and click attribution
type TrackingConfig struct {
	ReferenceTimezone string        `json:"reference_timezone"` // day buckets are computed in this zone
	CodeCacheTTL      time.Duration `json:"code_cache_ttl"`
	RecordTimeout     time.Duration `json:"record_timeout"`
	MaxInFlight       int           `json:"max_in_flight"`
	GeoIPDatabasePath string        `json:"geoip_database_path"`
	GeoCacheTTL       time.Duration `json:"geo_cache_ttl"`
}

// RealtimeConfig drives the websocket messaging server
type RealtimeConfig struct {
	Enabled            bool          `json:"enabled"`
	Host               string        `json:"host"`
	Port               int           `json:"port"`
	Path               string        `json:"path"`
	AllowedOrigins     []string      `json:"allowed_origins"`
	InsecureSkipVerify bool          `json:"insecure_skip_verify"`
	SendBuffer         int           `json:"send_buffer"`
	PingInterval       time.Duration `json:"ping_interval"`
	WriteTimeout       time.Duration `json:"write_timeout"`
	TypingExpiry       time.Duration `json:"typing_expiry"`
	ReadLimit          int64         `json:"read_limit"`
}

type SchedulerConfig struct {
	AutoApprovalEnabled bool   `json:"auto_approval_enabled"`
	AutoApprovalSpec    string `json:"auto_approval_spec"`
	ReconcileEnabled    bool   `json:"reconcile_enabled"`
	ReconcileSpec       string `json:"reconcile_spec"`
}

// LoadProductionConfig loads and validates configuration from environment variables
func LoadProductionConfig() (*ProductionConfig, error) {
	// Variables already present in the environment win over .env
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &ProductionConfig{
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "postgres"),
			User:            getEnvString("DB_USER", "postgres"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "require"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 100),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 15*time.Minute),
			SlowQueryLog:    getEnvBool("DB_SLOW_QUERY_LOG", true),
			SlowQueryTime:   getEnvDuration("DB_SLOW_QUERY_TIME", 1*time.Second),
			AutoMigrate:     getEnvBool("DB_AUTO_MIGRATE", false),
		},
		Server: ServerConfig{
			Host:              getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:              getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:       getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:      getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:       getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout:   getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			BodyLimit:         getEnvInt("SERVER_BODY_LIMIT", 1*1024*1024),
			EnableMetrics:     getEnvBool("SERVER_ENABLE_METRICS", true),
			TrustedProxies:    getEnvStringSlice("SERVER_TRUSTED_PROXIES", []string{"127.0.0.1"}),
			ProxyHeader:       getEnvString("SERVER_PROXY_HEADER", ""),
			EnableCompression: getEnvBool("SERVER_ENABLE_COMPRESSION", true),
			PublicBaseURL:     getEnvString("PUBLIC_BASE_URL", "http://localhost:8080"),
		},
		Security: SecurityConfig{
			TLSEnabled:          getEnvBool("TLS_ENABLED", false),
			TLSCertFile:         getEnvString("TLS_CERT_FILE", ""),
			TLSKeyFile:          getEnvString("TLS_KEY_FILE", ""),
			HSTSMaxAge:          getEnvInt("HSTS_MAX_AGE", 31536000),
			AllowedOrigins:      getEnvStringSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			AllowedMethods:      getEnvStringSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			AllowedHeaders:      getEnvStringSlice("CORS_ALLOWED_HEADERS", []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"}),
			AllowCredentials:    getEnvBool("CORS_ALLOW_CREDENTIALS", true),
			CORSMaxAge:          getEnvInt("CORS_MAX_AGE", 86400),
			TrackRateLimit:      getEnvInt("TRACK_RATE_LIMIT", 600),
			GlobalRateLimit:     getEnvInt("GLOBAL_RATE_LIMIT", 2000),
			RateLimitWindow:     getEnvDuration("RATE_LIMIT_WINDOW", 1*time.Minute),
			XFrameOptions:       getEnvString("X_FRAME_OPTIONS", "DENY"),
			XContentTypeOptions: getEnvString("X_CONTENT_TYPE_OPTIONS", "nosniff"),
			ReferrerPolicy:      getEnvString("REFERRER_POLICY", "strict-origin-when-cross-origin"),
		},
		JWT: JWTConfig{
			SecretKey:      getEnvString("JWT_SECRET_KEY", ""),
			PrivateKey:     getEnvString("JWT_PRIVATE_KEY", ""),
			PublicKey:      getEnvString("JWT_PUBLIC_KEY", ""),
			UseRSAKeys:     getEnvBool("JWT_USE_RSA_KEYS", false),
			AccessTokenTTL: getEnvDuration("JWT_ACCESS_TOKEN_TTL", 24*time.Hour),
			Issuer:         getEnvString("JWT_ISSUER", "kakehashi"),
			Audience:       getEnvString("JWT_AUDIENCE", "kakehashi-api"),
		},
		Logging: LoggingConfig{
			Level:           getEnvString("LOG_LEVEL", "info"),
			Output:          getEnvString("LOG_OUTPUT", "stdout"),
			FilePath:        getEnvString("LOG_FILE_PATH", "/var/log/kakehashi/app.log"),
			MaxSize:         getEnvInt("LOG_MAX_SIZE", 100),
			MaxBackups:      getEnvInt("LOG_MAX_BACKUPS", 10),
			MaxAge:          getEnvInt("LOG_MAX_AGE", 30),
			Compress:        getEnvBool("LOG_COMPRESS", true),
			EnableAccessLog: getEnvBool("LOG_ENABLE_ACCESS", true),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Path:    getEnvString("METRICS_PATH", "/metrics"),
		},
		Cache: CacheConfig{
			Enabled:     getEnvBool("CACHE_ENABLED", true),
			RedisURL:    getEnvString("CACHE_REDIS_URL", "redis://localhost:6379"),
			RedisDB:     getEnvInt("CACHE_REDIS_DB", 0),
			RedisPrefix: getEnvString("CACHE_REDIS_PREFIX", "kakehashi:"),
		},
		Deployment: DeploymentConfig{
			Environment: getEnvString("APP_ENV", "production"),
			Version:     getEnvString("VERSION", "1.0.0"),
			CommitHash:  getEnvString("COMMIT_HASH", "unknown"),
			BuildTime:   getEnvString("BUILD_TIME", "unknown"),
		},
		Tracking: TrackingConfig{
			ReferenceTimezone: getEnvString("TRACKING_TIMEZONE", "UTC"),
			CodeCacheTTL:      getEnvDuration("TRACKING_CODE_CACHE_TTL", 10*time.Minute),
			RecordTimeout:     getEnvDuration("TRACKING_RECORD_TIMEOUT", 15*time.Second),
			MaxInFlight:       getEnvInt("TRACKING_MAX_IN_FLIGHT", 1024),
			GeoIPDatabasePath: getEnvString("GEOIP_DATABASE_PATH", ""),
			GeoCacheTTL:       getEnvDuration("GEOIP_CACHE_TTL", 24*time.Hour),
		},
		Realtime: RealtimeConfig{
			Enabled:            getEnvBool("REALTIME_ENABLED", true),
			Host:               getEnvString("REALTIME_HOST", "0.0.0.0"),
			Port:               getEnvInt("REALTIME_PORT", 8081),
			Path:               getEnvString("REALTIME_PATH", "/ws"),
			AllowedOrigins:     getEnvStringSlice("REALTIME_ALLOWED_ORIGINS", []string{"localhost:3000"}),
			InsecureSkipVerify: getEnvBool("REALTIME_INSECURE_SKIP_VERIFY", false),
			SendBuffer:         getEnvInt("REALTIME_SEND_BUFFER", 64),
			PingInterval:       getEnvDuration("REALTIME_PING_INTERVAL", 25*time.Second),
			WriteTimeout:       getEnvDuration("REALTIME_WRITE_TIMEOUT", 10*time.Second),
			TypingExpiry:       getEnvDuration("REALTIME_TYPING_EXPIRY", 6*time.Second),
			ReadLimit:          int64(getEnvInt("REALTIME_READ_LIMIT", 32*1024)),
		},
		Scheduler: SchedulerConfig{
			AutoApprovalEnabled: getEnvBool("SCHEDULER_AUTO_APPROVAL_ENABLED", true),
			AutoApprovalSpec:    getEnvString("SCHEDULER_AUTO_APPROVAL_SPEC", "@every 1m"),
			ReconcileEnabled:    getEnvBool("SCHEDULER_RECONCILE_ENABLED", true),
			ReconcileSpec:       getEnvString("SCHEDULER_RECONCILE_SPEC", "15 0 * * *"),
		},
	}

	// Validate the loaded configuration
	if err := ValidateProductionConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, item := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

// ReferenceLocation resolves the timezone used for analytics day buckets
func (c TrackingConfig) ReferenceLocation() (*time.Location, error) {
	if c.ReferenceTimezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.ReferenceTimezone)
}

// ValidateProductionConfig validates the production configuration
func ValidateProductionConfig(cfg *ProductionConfig) error {
	var errors []string

	// Validate database configuration
	if cfg.Database.Host == "" {
		errors = append(errors, "DB_HOST is required")
	}
	if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
		errors = append(errors, "DB_PORT must be between 1 and 65535")
	}
	if cfg.Database.Name == "" {
		errors = append(errors, "DB_NAME is required")
	}
	if cfg.Database.User == "" {
		errors = append(errors, "DB_USER is required")
	}

	// Validate JWT configuration
	if cfg.JWT.UseRSAKeys {
		if cfg.JWT.PrivateKey == "" || cfg.JWT.PublicKey == "" {
			errors = append(errors, "JWT_PRIVATE_KEY and JWT_PUBLIC_KEY are required when JWT_USE_RSA_KEYS is set")
		}
	} else if len(cfg.JWT.SecretKey) < 32 {
		errors = append(errors, "JWT_SECRET_KEY must be at least 32 characters long")
	}
	if cfg.JWT.AccessTokenTTL <= 0 {
		errors = append(errors, "JWT_ACCESS_TOKEN_TTL must be positive")
	}
	if cfg.JWT.Issuer == "" {
		errors = append(errors, "JWT_ISSUER is required")
	}
	if cfg.JWT.Audience == "" {
		errors = append(errors, "JWT_AUDIENCE is required")
	}

	// Validate server configuration
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errors = append(errors, "SERVER_PORT must be between 1 and 65535")
	}
	if cfg.Server.ReadTimeout <= 0 {
		errors = append(errors, "SERVER_READ_TIMEOUT must be positive")
	}
	if cfg.Server.WriteTimeout <= 0 {
		errors = append(errors, "SERVER_WRITE_TIMEOUT must be positive")
	}
	if cfg.Server.PublicBaseURL == "" {
		errors = append(errors, "PUBLIC_BASE_URL is required")
	}

	// Validate TLS configuration if enabled
	if cfg.Security.TLSEnabled {
		if cfg.Security.TLSCertFile == "" {
			errors = append(errors, "TLS_CERT_FILE is required when TLS is enabled")
		}
		if cfg.Security.TLSKeyFile == "" {
			errors = append(errors, "TLS_KEY_FILE is required when TLS is enabled")
		}
	}

	// Validate logging configuration
	switch cfg.Logging.Output {
	case "stdout", "file", "both":
	default:
		errors = append(errors, "LOG_OUTPUT must be one of: stdout, file, both")
	}
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error", "silent":
	default:
		errors = append(errors, "LOG_LEVEL must be one of: debug, info, warn, error, silent")
	}

	// Validate tracking configuration
	if _, err := cfg.Tracking.ReferenceLocation(); err != nil {
		errors = append(errors, fmt.Sprintf("TRACKING_TIMEZONE is invalid: %v", err))
	}
	if cfg.Tracking.RecordTimeout <= 0 {
		errors = append(errors, "TRACKING_RECORD_TIMEOUT must be positive")
	}
	if cfg.Tracking.MaxInFlight <= 0 {
		errors = append(errors, "TRACKING_MAX_IN_FLIGHT must be positive")
	}

	// Validate realtime configuration if enabled
	if cfg.Realtime.Enabled {
		if cfg.Realtime.Port <= 0 || cfg.Realtime.Port > 65535 {
			errors = append(errors, "REALTIME_PORT must be between 1 and 65535")
		}
		if cfg.Realtime.Port == cfg.Server.Port && cfg.Realtime.Host == cfg.Server.Host {
			errors = append(errors, "REALTIME_PORT must differ from SERVER_PORT")
		}
		if !strings.HasPrefix(cfg.Realtime.Path, "/") {
			errors = append(errors, "REALTIME_PATH must start with /")
		}
		if cfg.Realtime.SendBuffer <= 0 {
			errors = append(errors, "REALTIME_SEND_BUFFER must be positive")
		}
	}

	// Validate cache configuration if enabled
	if cfg.Cache.Enabled && cfg.Cache.RedisURL == "" {
		errors = append(errors, "CACHE_REDIS_URL is required when cache is enabled")
	}

	// Return validation errors if any
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}
