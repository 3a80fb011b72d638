// Package config loads opsassist settings from .env, an optional opsassist.yaml,
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/mlbrnm/incidentgpt/pkg/service"
	"github.com/spf13/viper"
)

type StoreConfig struct {
	Driver string
	DSN    string
}

type ServiceNowConfig struct {
	Endpoint        string
	Instance        string
	User            string
	Password        string
	AssignmentGroup string
	Limit           int
}

// Enabled reports whether the ServiceNow source should be polled.
func (c ServiceNowConfig) Enabled() bool { return c.Endpoint != "" }

type ZabbixConfig struct {
	URL       string
	Token     string
	Days      int
	DocPrefix string
}

func (c ZabbixConfig) Enabled() bool { return c.URL != "" }

type RetrievalConfig struct {
	URL            string
	Timeout        time.Duration
	ChunkLimit     int
	PrevNextChunks int
}

type GenerationConfig struct {
	URL       string
	Model     string
	KeepAlive time.Duration
	Timeout   time.Duration
	Team      string
}

type Config struct {
	Port         string
	Store        StoreConfig
	ServiceNow   ServiceNowConfig
	Zabbix       ZabbixConfig
	Retrieval    RetrievalConfig
	Generation   GenerationConfig
	Cooldown     time.Duration
	JobTimeout   time.Duration
	PollInterval time.Duration
	PollBackoff  time.Duration
	NotifyBuffer int
}

// New returns a viper instance with defaults and environment binding. Callers may
// bind cobra flags to it before calling Load.
func New() *viper.Viper {
	// Load .env if present
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("opsassist")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	v.SetDefault("port", "8080")
	v.SetDefault("db_driver", "sqlite")
	v.SetDefault("db_dsn", "")
	v.SetDefault("servicenow_limit", 50)
	v.SetDefault("zabbix_days", 30)
	v.SetDefault("zabbix_doc_prefix", "zabbix_events_")
	v.SetDefault("retrieval_url", "http://localhost:8001")
	v.SetDefault("retrieval_timeout", service.DefaultRetrievalTimeout)
	v.SetDefault("retrieval_limit", service.DefaultChunkLimit)
	v.SetDefault("retrieval_prev_next_chunks", 20)
	v.SetDefault("ollama_url", "http://localhost:11434")
	v.SetDefault("ollama_model", service.DefaultModel)
	v.SetDefault("ollama_keep_alive", service.DefaultKeepAlive)
	v.SetDefault("generation_timeout", service.DefaultGenerationTimeout)
	v.SetDefault("team_name", service.DefaultTeam)
	v.SetDefault("queue_cooldown", service.DefaultCooldown)
	v.SetDefault("job_timeout", service.DefaultJobTimeout)
	v.SetDefault("poll_interval", service.DefaultPollInterval)
	v.SetDefault("poll_backoff", service.DefaultPollBackoff)
	v.SetDefault("notify_buffer", 32)
	return v
}

// Load reads the optional config file and resolves every setting.
func Load(v *viper.Viper) (Config, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("reading opsassist.yaml: %w", err)
		}
	}

	cfg := Config{
		Port: v.GetString("port"),
		Store: StoreConfig{
			Driver: v.GetString("db_driver"),
			DSN:    v.GetString("db_dsn"),
		},
		ServiceNow: ServiceNowConfig{
			Endpoint:        v.GetString("servicenow_endpoint"),
			Instance:        v.GetString("servicenow_instance"),
			User:            v.GetString("servicenow_user"),
			Password:        v.GetString("servicenow_password"),
			AssignmentGroup: v.GetString("servicenow_assignment_group"),
			Limit:           v.GetInt("servicenow_limit"),
		},
		Zabbix: ZabbixConfig{
			URL:       v.GetString("zabbix_url"),
			Token:     v.GetString("zabbix_token"),
			Days:      v.GetInt("zabbix_days"),
			DocPrefix: v.GetString("zabbix_doc_prefix"),
		},
		Retrieval: RetrievalConfig{
			URL:            v.GetString("retrieval_url"),
			Timeout:        v.GetDuration("retrieval_timeout"),
			ChunkLimit:     v.GetInt("retrieval_limit"),
			PrevNextChunks: v.GetInt("retrieval_prev_next_chunks"),
		},
		Generation: GenerationConfig{
			URL:       v.GetString("ollama_url"),
			Model:     v.GetString("ollama_model"),
			KeepAlive: v.GetDuration("ollama_keep_alive"),
			Timeout:   v.GetDuration("generation_timeout"),
			Team:      v.GetString("team_name"),
		},
		Cooldown:     v.GetDuration("queue_cooldown"),
		JobTimeout:   v.GetDuration("job_timeout"),
		PollInterval: v.GetDuration("poll_interval"),
		PollBackoff:  v.GetDuration("poll_backoff"),
		NotifyBuffer: v.GetInt("notify_buffer"),
	}

	if cfg.Store.DSN == "" {
		switch cfg.Store.Driver {
		case "sqlite":
			cfg.Store.DSN = "opsassist.db"
		case "postgres":
			dsn, err := PostgresURLFromEnv()
			if err != nil {
				return Config{}, err
			}
			cfg.Store.DSN = dsn
		}
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Store.Driver {
	case "postgres", "sqlite", "memory":
	default:
		return fmt.Errorf("unsupported db driver %q (want postgres, sqlite or memory)", c.Store.Driver)
	}
	if c.ServiceNow.Enabled() && c.ServiceNow.AssignmentGroup == "" {
		return fmt.Errorf("SERVICENOW_ASSIGNMENT_GROUP is required when SERVICENOW_ENDPOINT is set")
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("queue cooldown must not be negative")
	}
	return nil
}

// PostgresURLFromEnv builds a connection URL from the DB_* variables.
func PostgresURLFromEnv() (string, error) {
	dbUsername := os.Getenv("DB_USERNAME")
	dbPassword := os.Getenv("DB_PASSWORD")
	dbHost := os.Getenv("DB_HOST")
	dbPort := os.Getenv("DB_PORT")
	dbName := os.Getenv("DB_NAME")
	if dbUsername == "" || dbPassword == "" || dbHost == "" || dbPort == "" || dbName == "" {
		return "", fmt.Errorf("--db flag or complete DB_* env vars (DB_USERNAME, DB_PASSWORD, DB_HOST, DB_PORT, DB_NAME) required")
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		dbUsername, dbPassword, dbHost, dbPort, dbName), nil
}
