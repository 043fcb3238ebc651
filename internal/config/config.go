// Package config provides configuration structures and loading for prefixcrawl.
package config

import "time"

// Directory drivers.
const (
	DriverMemory = "memory"
	DriverHTTP   = "http"
)

// DefaultAlphabet is the character set used to seed and extend name prefixes.
const DefaultAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// Config represents the complete application configuration.
type Config struct {
	Directory DirectoryConfig `yaml:"directory" mapstructure:"directory"`
	Crawl     CrawlConfig     `yaml:"crawl" mapstructure:"crawl"`
	Storage   StorageConfig   `yaml:"storage" mapstructure:"storage"`
	Viewer    ViewerConfig    `yaml:"viewer" mapstructure:"viewer"`
	Export    ExportConfig    `yaml:"export" mapstructure:"export"`
	Logging   LoggingConfig   `yaml:"logging" mapstructure:"logging"`
}

// DirectoryConfig describes the remote directory being enumerated.
type DirectoryConfig struct {
	Driver         string        `yaml:"driver" mapstructure:"driver"` // memory or http
	BaseURL        string        `yaml:"base_url" mapstructure:"base_url"`
	Category       string        `yaml:"category" mapstructure:"category"`     // secondary filter sent with every search
	ResultCap      int           `yaml:"result_cap" mapstructure:"result_cap"` // rows returned per search at most
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
	DetailTimeout  time.Duration `yaml:"detail_timeout" mapstructure:"detail_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	Memory         MemoryConfig  `yaml:"memory" mapstructure:"memory"`
}

// MemoryConfig configures the synthetic in-memory directory.
type MemoryConfig struct {
	Records int    `yaml:"records" mapstructure:"records"`
	Seed    uint64 `yaml:"seed" mapstructure:"seed"`
}

// CrawlConfig represents enumeration settings.
type CrawlConfig struct {
	Alphabet      string        `yaml:"alphabet" mapstructure:"alphabet"`
	Groups        [][]string    `yaml:"groups" mapstructure:"groups"`   // explicit root partition, empty = split alphabet
	Workers       int           `yaml:"workers" mapstructure:"workers"` // groups to split the alphabet into
	RetryAttempts int           `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval" mapstructure:"retry_interval"`
	Deadline      time.Duration `yaml:"deadline" mapstructure:"deadline"` // 0 = no deadline
	Tree          bool          `yaml:"tree" mapstructure:"tree"`         // print the prefix tree to stdout
}

// StorageConfig locates the persisted files.
type StorageConfig struct {
	ResultsFile string `yaml:"results_file" mapstructure:"results_file"`
	StateFile   string `yaml:"state_file" mapstructure:"state_file"`
}

// ViewerConfig represents the live viewer settings.
type ViewerConfig struct {
	Listen   string        `yaml:"listen" mapstructure:"listen"`
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
	MaxDelta int           `yaml:"max_delta" mapstructure:"max_delta"`
}

// ExportConfig represents the SQL export sink.
type ExportConfig struct {
	Target    DatabaseConfig `yaml:"target" mapstructure:"target"`
	Table     string         `yaml:"table" mapstructure:"table"`
	BatchSize int            `yaml:"batch_size" mapstructure:"batch_size"`
}

// DatabaseConfig represents a MySQL database connection configuration.
type DatabaseConfig struct {
	Host               string `yaml:"host" mapstructure:"host"`
	Port               int    `yaml:"port" mapstructure:"port"`
	User               string `yaml:"user" mapstructure:"user"`
	Password           string `yaml:"password" mapstructure:"password"`
	Database           string `yaml:"database" mapstructure:"database"`
	TLS                string `yaml:"tls" mapstructure:"tls"` // disable, preferred, required
	MaxConnections     int    `yaml:"max_connections" mapstructure:"max_connections"`
	MaxIdleConnections int    `yaml:"max_idle_connections" mapstructure:"max_idle_connections"`
}

// LoggingConfig represents logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `yaml:"format" mapstructure:"format"` // json or text
	Output string `yaml:"output" mapstructure:"output"` // stdout, stderr, or file path
}

// DefaultConfig returns a Config with the values of the observed deployment.
func DefaultConfig() *Config {
	return &Config{
		Directory: DirectoryConfig{
			Driver:         DriverMemory,
			Category:       "Physician",
			ResultCap:      50,
			RequestTimeout: 10 * time.Second,
			DetailTimeout:  120 * time.Second,
			PollInterval:   2 * time.Second,
			Memory: MemoryConfig{
				Records: 5000,
				Seed:    1,
			},
		},
		Crawl: CrawlConfig{
			Alphabet:      DefaultAlphabet,
			Workers:       3,
			RetryAttempts: 3,
			RetryInterval: time.Second,
			Tree:          true,
		},
		Storage: StorageConfig{
			ResultsFile: "results/results.csv",
			StateFile:   "excep/searcher.json",
		},
		Viewer: ViewerConfig{
			Listen:   "0.0.0.0:5000",
			Interval: 2 * time.Second,
			MaxDelta: 100,
		},
		Export: ExportConfig{
			Target: DatabaseConfig{
				Port:               3306,
				TLS:                "preferred",
				MaxConnections:     4,
				MaxIdleConnections: 2,
			},
			Table:     "licensees",
			BatchSize: 500,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}
