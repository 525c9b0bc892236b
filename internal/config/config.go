package config

import (
	"github.com/spf13/viper"
)

// Config is the process-wide configuration for the scanner service: the
// analysis engine itself takes only the few tunables in ScanConfig, while
// everything wrapped around it — the HTTP surface, the job queue, the
// run-history store, the device transport — has its own section.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
	ADB      ADBConfig      `mapstructure:"adb"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Log      LogConfig      `mapstructure:"log"`
	Scan     ScanConfig     `mapstructure:"scan"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release
}

type DatabaseConfig struct {
	Type     string `mapstructure:"type"` // mysql, sqlite
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"db_name"`
}

type RabbitMQConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	VHost    string `mapstructure:"vhost"`
	Queue    string `mapstructure:"queue"`
}

// ADBConfig configures the device-transport adapter (§6): the address of
// the connected device/emulator analyses are pulled from, and how long to
// wait for a single adb invocation.
type ADBConfig struct {
	Target  string `mapstructure:"target"`
	Timeout int    `mapstructure:"timeout"` // seconds
}

type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"` // number of queue-consuming workers
	QueueSize   int `mapstructure:"queue_size"`  // loaded but not read: the worker pool's task buffer is fixed at 100
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// ScanConfig holds the paths and minor tunables the core pipeline and its
// driver need (§6 "Persisted state", §4.2 minimum run length).
type ScanConfig struct {
	DownloadRoot       string `mapstructure:"download_root"`        // root for <download-root>/LastAnalysis/
	InboundDir         string `mapstructure:"inbound_dir"`          // directory the watcher watches for dropped archives
	MinPrintableRun    int    `mapstructure:"min_printable_run"`    // Byte Scanner minimum run length, default 4
	MaxComponentPtrs   int    `mapstructure:"max_component_ptrs"`   // GameObject component-pointer defensive bound, default 1000
}

func Load(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	// Environment overrides (supports nested configuration).
	viper.AutomaticEnv()

	viper.BindEnv("rabbitmq.host", "RABBITMQ_HOST")
	viper.BindEnv("rabbitmq.port", "RABBITMQ_PORT")
	viper.BindEnv("rabbitmq.user", "RABBITMQ_USER")
	viper.BindEnv("rabbitmq.password", "RABBITMQ_PASS")

	viper.BindEnv("database.host", "MYSQL_HOST")
	viper.BindEnv("database.port", "MYSQL_PORT")
	viper.BindEnv("database.user", "MYSQL_USER")
	viper.BindEnv("database.password", "MYSQL_PASS")
	viper.BindEnv("database.db_name", "MYSQL_DB")

	viper.BindEnv("adb.target", "ADB_TARGET")

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Scan.MinPrintableRun == 0 {
		cfg.Scan.MinPrintableRun = 4
	}
	if cfg.Scan.MaxComponentPtrs == 0 {
		cfg.Scan.MaxComponentPtrs = 1000
	}
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = 2
	}
	if cfg.Worker.QueueSize == 0 {
		cfg.Worker.QueueSize = 100
	}
}
