// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Paths, Search, Pipeline, Cluster, Redis, Kafka, Postgres, etc.).
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Paths    PathsConfig    `yaml:"paths"`
	Search   SearchConfig   `yaml:"search"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Cluster  ClusterConfig  `yaml:"cluster"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Postgres PostgresConfig `yaml:"postgres"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// PathsConfig locates the peptide index, the query dataset, and the output
// workspace.
type PathsConfig struct {
	DBPath    string `yaml:"dbPath"`
	Dataset   string `yaml:"dataset"`
	Workspace string `yaml:"workspace"`
}

// SearchConfig holds the scoring parameters of the search.
type SearchConfig struct {
	MinLen      int      `yaml:"minLen"`
	MaxLen      int      `yaml:"maxLen"`
	MaxZ        int      `yaml:"maxz"`
	Res         float64  `yaml:"res"`
	DM          float64  `yaml:"dM"`
	DF          float64  `yaml:"dF"`
	MinMass     float64  `yaml:"minMass"`
	MaxMass     float64  `yaml:"maxMass"`
	MinSHP      int      `yaml:"minShp"`
	MinCPSM     int      `yaml:"minCpsm"`
	TopMatches  int      `yaml:"topMatches"`
	ExpectMax   float64  `yaml:"expectMax"`
	Mods        []string `yaml:"mods"`
	GumbelFit   bool     `yaml:"gumbelFit"`
	MatchCharge bool     `yaml:"matchCharge"`
}

// Scale returns the m/z scaling factor derived from the resolution.
func (s SearchConfig) Scale() int {
	return int(math.Round(1.0 / s.Res))
}

// DFScaled returns the fragment tolerance in scaled m/z bins.
func (s SearchConfig) DFScaled() uint32 {
	return uint32(math.Round(s.DF * float64(s.Scale())))
}

// Mod is one parsed variable post-translational modification.
type Mod struct {
	AA   string
	Mass float64
	Num  int
}

// PipelineConfig controls the producer/consumer search pipeline.
type PipelineConfig struct {
	Threads     int  `yaml:"threads"`
	PrepThreads int  `yaml:"prepThreads"`
	GPUThreads  int  `yaml:"gpuThreads"`
	QChunk      int  `yaml:"qChunk"`
	PoolSize    int  `yaml:"poolSize"`
	PoolLow     int  `yaml:"poolLow"`
	PoolHigh    int  `yaml:"poolHigh"`
	SpadMemMB   int  `yaml:"spadMem"`
	NoProgress  bool `yaml:"noProgress"`
	Verbose     bool `yaml:"verbose"`
	NoCache     bool `yaml:"noCache"`
	NoGPUIndex  bool `yaml:"noGpuIndex"`
	Reindex     bool `yaml:"reindex"`
}

// ClusterConfig identifies this rank within a multi-node run and selects the
// index distribution policy.
type ClusterConfig struct {
	Nodes  int    `yaml:"nodes"`
	MyID   int    `yaml:"myId"`
	Policy string `yaml:"policy"`
}

// RedisConfig holds Redis connection parameters for the query-file metadata
// cache. An empty address disables the cache.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// Enabled reports whether the metadata cache is configured.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// KafkaConfig holds Kafka broker and topic settings for run telemetry.
// An empty broker list disables telemetry.
type KafkaConfig struct {
	Brokers     []string `yaml:"brokers"`
	SearchTopic string   `yaml:"searchTopic"`
}

// Enabled reports whether telemetry publishing is configured.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

// PostgresConfig holds PostgreSQL connection parameters for the optional PSM
// results store. An empty host disables the store.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// Enabled reports whether the Postgres results store is configured.
func (p PostgresConfig) Enabled() bool { return p.Host != "" }

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values. Out-of-range numeric options are clamped, not rejected.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	cfg.Clamp()
	return cfg, nil
}

// defaultConfig returns a Config with the engine's stock parameters.
func defaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			Workspace: "./workspace",
		},
		Search: SearchConfig{
			MinLen:     6,
			MaxLen:     40,
			MaxZ:       3,
			Res:        0.01,
			DM:         500.0,
			DF:         0.02,
			MinMass:    500.0,
			MaxMass:    5000.0,
			MinSHP:     4,
			MinCPSM:    4,
			TopMatches: 10,
			ExpectMax:  20.0,
		},
		Pipeline: PipelineConfig{
			Threads:     8,
			PrepThreads: 2,
			QChunk:      10000,
			PoolSize:    20,
			PoolLow:     5,
			PoolHigh:    15,
			SpadMemMB:   2048,
		},
		Cluster: ClusterConfig{
			Nodes:  1,
			MyID:   0,
			Policy: "cyclic",
		},
		Redis: RedisConfig{
			PoolSize: 10,
			CacheTTL: 24 * time.Hour,
		},
		Kafka: KafkaConfig{
			SearchTopic: "gicops-search-events",
		},
		Postgres: PostgresConfig{
			Port:            5432,
			Database:        "gicops",
			User:            "gicops",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
		},
	}
}

// Clamp forces out-of-range options back into their supported ranges so a run
// never dies on a sloppy parameter file.
func (c *Config) Clamp() {
	if c.Search.Res < 0.01 {
		c.Search.Res = 0.01
	}
	if c.Search.Res > 5.0 {
		c.Search.Res = 5.0
	}
	if c.Search.DM > c.Search.MaxMass {
		c.Search.DM = c.Search.MaxMass
	}
	if c.Search.MinLen < 4 {
		c.Search.MinLen = 4
	}
	if c.Search.MaxLen < c.Search.MinLen {
		c.Search.MaxLen = c.Search.MinLen
	}
	if c.Search.MaxZ < 1 {
		c.Search.MaxZ = 1
	}
	if c.Search.TopMatches < 1 {
		c.Search.TopMatches = 1
	}
	if c.Search.MinSHP < 1 {
		c.Search.MinSHP = 1
	}
	if c.Search.MinCPSM < 1 {
		c.Search.MinCPSM = 1
	}
	if c.Pipeline.Threads < 1 {
		c.Pipeline.Threads = 1
	}
	if c.Pipeline.PrepThreads < 1 {
		c.Pipeline.PrepThreads = 1
	}
	if c.Pipeline.QChunk < 1 {
		c.Pipeline.QChunk = 10000
	}
	if c.Pipeline.PoolSize < 2 {
		c.Pipeline.PoolSize = 20
	}
	if c.Pipeline.PoolLow < 1 || c.Pipeline.PoolLow >= c.Pipeline.PoolSize {
		c.Pipeline.PoolLow = c.Pipeline.PoolSize / 4
	}
	if c.Pipeline.PoolHigh <= c.Pipeline.PoolLow || c.Pipeline.PoolHigh > c.Pipeline.PoolSize {
		c.Pipeline.PoolHigh = (c.Pipeline.PoolSize * 3) / 4
	}
	if c.Cluster.Nodes < 1 {
		c.Cluster.Nodes = 1
	}
	if c.Cluster.MyID < 0 || c.Cluster.MyID >= c.Cluster.Nodes {
		c.Cluster.MyID = 0
	}
	switch c.Cluster.Policy {
	case "cyclic", "chunk", "zigzag":
	default:
		c.Cluster.Policy = "cyclic"
	}
}

// ParseMods parses the configured `AA:MASS:NUM` modification list. Malformed
// entries are dropped and NUM is clamped to [0, 8].
func (c *Config) ParseMods() []Mod {
	mods := make([]Mod, 0, len(c.Search.Mods))
	for _, raw := range c.Search.Mods {
		parts := strings.Split(raw, ":")
		if len(parts) != 3 {
			continue
		}
		mass, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			continue
		}
		num, err := strconv.Atoi(parts[2])
		if err != nil {
			continue
		}
		if num < 0 {
			num = 0
		}
		if num > 8 {
			num = 8
		}
		mods = append(mods, Mod{AA: parts[0], Mass: mass, Num: num})
	}
	return mods
}

// applyEnvOverrides reads GC_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GC_DBPATH"); v != "" {
		cfg.Paths.DBPath = v
	}
	if v := os.Getenv("GC_DATASET"); v != "" {
		cfg.Paths.Dataset = v
	}
	if v := os.Getenv("GC_WORKSPACE"); v != "" {
		cfg.Paths.Workspace = v
	}
	if v := os.Getenv("GC_THREADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.Threads = n
		}
	}
	if v := os.Getenv("GC_PREPTHREADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.PrepThreads = n
		}
	}
	if v := os.Getenv("GC_NODES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cluster.Nodes = n
		}
	}
	if v := os.Getenv("GC_MYID"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cluster.MyID = n
		}
	}
	if v := os.Getenv("GC_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("GC_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("GC_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("GC_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("GC_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("GC_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("GC_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
