package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/lumenhq/taskpilot/internal/db"
)

// ServerConfig holds the HTTP and pipeline settings.
type ServerConfig struct {
	Addr            string
	AllowedOrigins  []string
	AsanaBaseURL    string
	AsanaTimeout    time.Duration
	AsanaMaxRetries int
	ImportWorkers   int
	RunTimeout      time.Duration
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            ":8080",
		AllowedOrigins:  []string{"http://localhost:3000"},
		AsanaTimeout:    30 * time.Second,
		AsanaMaxRetries: 4,
		ImportWorkers:   4,
		RunTimeout:      30 * time.Minute,
	}
}

func LoadDBConfig(configPath string) (db.Config, error) {
	// Start with default
	cfg := db.DefaultConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()     // allow environment overrides
	v.SetEnvPrefix("DB") // map env vars like DB_HOST, DB_PORT

	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")

	if err := v.ReadInConfig(); err != nil {
		// Config file not found? Just log it, use defaults + env
		fmt.Println("No config.yaml found, using defaults and env vars")
	} else {
		fmt.Println("Loaded config.yaml")
	}

	// Override defaults if values exist
	if v.IsSet("database.host") {
		cfg.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.SSLMode = v.GetString("database.sslmode")
	}

	return cfg, nil
}

func LoadServerConfig(configPath string) (ServerConfig, error) {
	cfg := DefaultServerConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()
	v.SetEnvPrefix("APP") // map env vars like APP_SERVER_ADDR

	v.BindEnv("server.addr")
	v.BindEnv("server.allowed_origins")
	v.BindEnv("asana.base_url")
	v.BindEnv("asana.timeout")
	v.BindEnv("asana.max_retries")
	v.BindEnv("import.workers")
	v.BindEnv("import.run_timeout")

	if err := v.ReadInConfig(); err != nil {
		fmt.Println("No config.yaml found, using defaults and env vars")
	}

	if v.IsSet("server.addr") {
		cfg.Addr = v.GetString("server.addr")
	}
	if v.IsSet("server.allowed_origins") {
		cfg.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}
	if v.IsSet("asana.base_url") {
		cfg.AsanaBaseURL = v.GetString("asana.base_url")
	}
	if v.IsSet("asana.timeout") {
		cfg.AsanaTimeout = v.GetDuration("asana.timeout")
	}
	if v.IsSet("asana.max_retries") {
		cfg.AsanaMaxRetries = v.GetInt("asana.max_retries")
	}
	if v.IsSet("import.workers") {
		cfg.ImportWorkers = v.GetInt("import.workers")
	}
	if v.IsSet("import.run_timeout") {
		cfg.RunTimeout = v.GetDuration("import.run_timeout")
	}

	return cfg, nil
}
