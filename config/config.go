package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/tryhardly/apiserver/internal/auth"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	minJWTSecretLength = 32
)

type Config struct {
	Env        string
	ServerPort int
	// StoreDriver selects the user repository backend.
	StoreDriver string
	Database    DatabaseConfig
	Auth        AuthConfig
	Log         LogConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	UseSSL   bool
}

type AuthConfig struct {
	JWTSecret string
	JWTIssuer string
	TokenTTL  time.Duration

	Argon2Time      uint32
	Argon2MemoryKiB uint32
	Argon2Threads   uint8
	// HashWorkers bounds concurrent password hashing.
	HashWorkers int
}

type LogConfig struct {
	Level  string
	Format string
}

// Development reports whether error details may be shown to clients.
func (c Config) Development() bool {
	return c.Env == "dev" || c.Env == "development"
}

// LoadConfig reads configuration from the environment. When ENV=dev a .env
// file in the working directory is loaded first.
func LoadConfig() (Config, error) {
	loadDotEnv()

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	dbConfig, err := loadDatabaseConfig()
	collect(err)

	ttl, err := getEnvDuration("JWT_TTL", 7*24*time.Hour)
	collect(err)
	argonTime, err := getEnvInt("HASH_ARGON2_TIME", 1)
	collect(err)
	argonMemory, err := getEnvInt("HASH_ARGON2_MEMORY_KIB", 64*1024)
	collect(err)
	argonThreads, err := getEnvInt("HASH_ARGON2_THREADS", 4)
	collect(err)
	workers, err := getEnvInt("HASH_WORKERS", runtime.GOMAXPROCS(0))
	collect(err)

	secret := os.Getenv("JWT_SECRET")
	switch {
	case secret == "":
		errs = append(errs, errors.New("JWT_SECRET is required"))
	case len(secret) < minJWTSecretLength:
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d bytes", minJWTSecretLength))
	}
	if ttl <= 0 {
		errs = append(errs, errors.New("JWT_TTL must be positive"))
	}
	if argonTime < 1 || argonTime > auth.MaxArgon2Time {
		errs = append(errs, fmt.Errorf("HASH_ARGON2_TIME must be between 1 and %d", auth.MaxArgon2Time))
	}
	if argonMemory < 1 || argonMemory > auth.MaxArgon2MemoryKiB {
		errs = append(errs, fmt.Errorf("HASH_ARGON2_MEMORY_KIB must be between 1 and %d", auth.MaxArgon2MemoryKiB))
	}
	if argonThreads < 1 || argonThreads > 255 {
		errs = append(errs, errors.New("HASH_ARGON2_THREADS must be between 1 and 255"))
	}
	if workers < 1 {
		errs = append(errs, errors.New("HASH_WORKERS must be positive"))
	}

	authConfig := AuthConfig{
		JWTSecret:       secret,
		JWTIssuer:       getEnv("JWT_ISSUER", ""),
		TokenTTL:        ttl,
		Argon2Time:      uint32(argonTime),
		Argon2MemoryKiB: uint32(argonMemory),
		Argon2Threads:   uint8(argonThreads),
		HashWorkers:     workers,
	}

	serverPort, err := getEnvInt("SERVER_PORT", 4000)
	collect(err)

	cfg := Config{
		Env:         getEnv("ENV", "development"),
		ServerPort:  serverPort,
		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		Database:    dbConfig,
		Auth:        authConfig,
		Log: LogConfig{
			Level:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "text")),
		},
	}
	collect(cfg.ValidateStoreDriver())

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return cfg, nil
}

// LoadDatabaseConfig reads only the PostgreSQL settings. Commands that never
// touch tokens or hashing, such as migrations, use it instead of LoadConfig.
func LoadDatabaseConfig() (DatabaseConfig, error) {
	loadDotEnv()
	return loadDatabaseConfig()
}

func loadDotEnv() {
	if os.Getenv("ENV") == "dev" {
		_ = godotenv.Load()
	}
}

func loadDatabaseConfig() (DatabaseConfig, error) {
	port, portErr := getEnvInt("DB_PORT", 5432)
	useSSL, sslErr := getEnvBool("DB_SSL", false)
	if err := errors.Join(portErr, sslErr); err != nil {
		return DatabaseConfig{}, err
	}

	return DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     port,
		User:     getEnv("DB_USER", "tryhardly"),
		Password: getEnv("DB_PASSWORD", "password"),
		DBName:   getEnv("DB_NAME", "tryhardly"),
		UseSSL:   useSSL,
	}, nil
}

// ValidateStoreDriver checks the store driver, which may also be set by a flag.
func (c Config) ValidateStoreDriver() error {
	switch c.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
		return nil
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMemory, c.StoreDriver)
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(valueStr) == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(valueStr))
	if err != nil {
		return defaultValue, fmt.Errorf("%s: invalid integer %q", key, valueStr)
	}
	return value, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(valueStr) == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(valueStr))
	if err != nil {
		return defaultValue, fmt.Errorf("%s: invalid boolean %q", key, valueStr)
	}
	return value, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(valueStr) == "" {
		return defaultValue, nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(valueStr))
	if err != nil {
		return defaultValue, fmt.Errorf("%s: invalid duration %q", key, valueStr)
	}
	return value, nil
}
