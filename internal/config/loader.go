package config

import (
	"fmt"
	"time"

	"github.com/adiwn/agreementmart/internal/db"
	"github.com/spf13/viper"
)

// ServerConfig holds the HTTP surface settings.
type ServerConfig struct {
	Addr        string
	CORSOrigins []string
}

// ExportConfig holds the background CSV export settings.
type ExportConfig struct {
	Dir     string
	LinkTTL time.Duration
}

// RefreshConfig holds the snapshot refresh settings.
type RefreshConfig struct {
	MigrationsPath string
	StagingSchema  string
}

// Config is the full application configuration.
type Config struct {
	Database db.Config
	Server   ServerConfig
	Export   ExportConfig
	Refresh  RefreshConfig
}

// DefaultConfig returns the configuration used when no file or env override
// is present.
func DefaultConfig() Config {
	return Config{
		Database: db.DefaultConfig(),
		Server: ServerConfig{
			Addr:        ":8080",
			CORSOrigins: []string{"http://localhost:5173"},
		},
		Export: ExportConfig{
			Dir:     "exports",
			LinkTTL: 15 * time.Minute,
		},
		Refresh: RefreshConfig{
			MigrationsPath: "migrations",
			StagingSchema:  "staging",
		},
	}
}

// Load reads config.yaml from configPath and applies env-var overrides.
func Load(configPath string) (Config, error) {
	// Start with default
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()      // allow environment overrides
	v.SetEnvPrefix("AGM") // map env vars like AGM_DATABASE.HOST

	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")
	v.BindEnv("server.addr")
	v.BindEnv("export.dir")
	v.BindEnv("refresh.staging_schema")

	if err := v.ReadInConfig(); err != nil {
		// Config file not found? Just log it, use defaults + env
		fmt.Println("No config.yaml found, using defaults and env vars")
	} else {
		fmt.Println("Loaded config.yaml")
	}

	// Override defaults if values exist
	if v.IsSet("database.host") {
		cfg.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.Database.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.Database.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.Database.SSLMode = v.GetString("database.sslmode")
	}

	if v.IsSet("server.addr") {
		cfg.Server.Addr = v.GetString("server.addr")
	}
	if v.IsSet("server.cors_origins") {
		cfg.Server.CORSOrigins = v.GetStringSlice("server.cors_origins")
	}

	if v.IsSet("export.dir") {
		cfg.Export.Dir = v.GetString("export.dir")
	}
	if v.IsSet("export.link_ttl_minutes") {
		cfg.Export.LinkTTL = time.Duration(v.GetInt("export.link_ttl_minutes")) * time.Minute
	}

	if v.IsSet("refresh.migrations_path") {
		cfg.Refresh.MigrationsPath = v.GetString("refresh.migrations_path")
	}
	if v.IsSet("refresh.staging_schema") {
		cfg.Refresh.StagingSchema = v.GetString("refresh.staging_schema")
	}

	return cfg, nil
}
