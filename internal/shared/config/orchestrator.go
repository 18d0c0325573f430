package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// OrchestratorConfig contains all configuration for the orchestrator service.
type OrchestratorConfig struct {
	REST    RESTConfig    `mapstructure:"rest"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	Jobs    JobsConfig    `mapstructure:"jobs"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// RESTConfig contains HTTP server configuration.
type RESTConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// RedisConfig contains the keyed-store connection configuration.
type RedisConfig struct {
	Addr string `mapstructure:"addr"`
	DB   int    `mapstructure:"db"`
}

// WorkerConfig controls how worker containers are launched and supervised.
type WorkerConfig struct {
	Image           string        `mapstructure:"image"`
	MaxWorkers      int           `mapstructure:"max_workers"`
	ModelsPath      string        `mapstructure:"models_path"`
	MemoryLimit     string        `mapstructure:"memory_limit"`
	GPU             bool          `mapstructure:"gpu"`
	OrchestratorURL string        `mapstructure:"orchestrator_url"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	PollCeiling     time.Duration `mapstructure:"poll_ceiling"`
	StopGrace       time.Duration `mapstructure:"stop_grace"`
}

// JobsConfig controls record lifetimes and the polling windows of the
// client- and worker-facing endpoints.
type JobsConfig struct {
	RecordTTL       time.Duration `mapstructure:"record_ttl"`
	ClaimWindow     time.Duration `mapstructure:"claim_window"`
	ClaimInterval   time.Duration `mapstructure:"claim_interval"`
	RunsyncCeiling  time.Duration `mapstructure:"runsync_ceiling"`
	RunsyncInterval time.Duration `mapstructure:"runsync_interval"`
	DispatchSleep   time.Duration `mapstructure:"dispatch_sleep"`
	DispatchBackoff time.Duration `mapstructure:"dispatch_backoff"`
	QueuePopTimeout time.Duration `mapstructure:"queue_pop_timeout"`
}

// LoadOrchestrator loads the orchestrator configuration from the given path.
// If configPath is empty, it looks for orchestrator.yaml in the config/ directory.
// Environment variables with WAN_ORCHESTRATOR_ prefix override config file values.
func LoadOrchestrator(configPath string) (*OrchestratorConfig, error) {
	v := viper.New()

	v.SetDefault("rest.addr", ":8000")
	v.SetDefault("rest.read_timeout", 15*time.Second)
	v.SetDefault("rest.write_timeout", 330*time.Second)
	v.SetDefault("rest.idle_timeout", 60*time.Second)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("worker.image", "runpod-comfyui:latest")
	v.SetDefault("worker.max_workers", 3)
	v.SetDefault("worker.models_path", "")
	v.SetDefault("worker.memory_limit", "8g")
	v.SetDefault("worker.gpu", true)
	v.SetDefault("worker.orchestrator_url", "http://host.docker.internal:8000")
	v.SetDefault("worker.poll_interval", 1*time.Second)
	v.SetDefault("worker.poll_ceiling", 600*time.Second)
	v.SetDefault("worker.stop_grace", 10*time.Second)
	v.SetDefault("jobs.record_ttl", 1*time.Hour)
	v.SetDefault("jobs.claim_window", 30*time.Second)
	v.SetDefault("jobs.claim_interval", 500*time.Millisecond)
	v.SetDefault("jobs.runsync_ceiling", 300*time.Second)
	v.SetDefault("jobs.runsync_interval", 1*time.Second)
	v.SetDefault("jobs.dispatch_sleep", 500*time.Millisecond)
	v.SetDefault("jobs.dispatch_backoff", 1*time.Second)
	v.SetDefault("jobs.queue_pop_timeout", 1*time.Second)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("orchestrator")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("WAN_ORCHESTRATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg OrchestratorConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.Worker.MaxWorkers <= 0 {
		return nil, fmt.Errorf("worker.max_workers must be greater than 0")
	}

	return &cfg, nil
}
