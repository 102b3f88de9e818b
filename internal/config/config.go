package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shizukutanaka/Kagami/internal/algorithm"
	"github.com/shizukutanaka/Kagami/internal/logging"
)

// Config is the full application configuration, loaded from YAML.
type Config struct {
	General GeneralConfig  `yaml:"general"`
	Pool    *PoolConfig    `yaml:"pool,omitempty"`
	Node    *NodeConfig    `yaml:"node,omitempty"`
	API     APIConfig      `yaml:"api"`
	Storage StorageConfig  `yaml:"storage"`
	Log     logging.Config `yaml:"log"`
}

// GeneralConfig holds the mining engine settings.
type GeneralConfig struct {
	// Algorithm is one of randomx, cryptonight-v7, cryptonight-r.
	Algorithm string `yaml:"algorithm"`
	// WorkerThreads is the hashing thread count; 0 auto-detects the
	// logical CPU count.
	WorkerThreads int `yaml:"worker_threads"`
	// BatchSize is the nonce range width handed to a worker per request.
	BatchSize uint32 `yaml:"batch_size"`
	// LightMode trades hashrate for a much smaller algorithm context.
	LightMode bool `yaml:"light_mode"`
}

// PoolConfig configures the stratum-over-websocket pool backend.
type PoolConfig struct {
	URL      string `yaml:"url"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	WorkerID string `yaml:"worker_id"`
}

// NodeConfig configures the JSON-RPC solo mining backend.
type NodeConfig struct {
	RPCURL        string        `yaml:"rpc_url"`
	RPCUser       string        `yaml:"rpc_user"`
	RPCPassword   string        `yaml:"rpc_password"`
	WalletAddress string        `yaml:"wallet_address"`
	PollInterval  time.Duration `yaml:"poll_interval"`
}

// APIConfig configures the local status/metrics HTTP endpoint.
type APIConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// StorageConfig configures the local share ledger.
type StorageConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns a configuration with every field at its documented
// default. Neither backend is configured; Validate rejects that, so a
// usable config always comes from a file or flags.
func Default() *Config {
	return &Config{
		General: GeneralConfig{
			Algorithm: "randomx",
			BatchSize: 1000,
		},
		API: APIConfig{
			ListenAddr: "127.0.0.1:8080",
		},
		Storage: StorageConfig{
			Path: "kagami.db",
		},
		Log: logging.DefaultConfig(),
	}
}

// Load reads and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for fatal startup errors.
func (c *Config) Validate() error {
	if _, err := algorithm.ParseKind(c.General.Algorithm); err != nil {
		return err
	}
	if c.General.WorkerThreads < 0 {
		return fmt.Errorf("worker_threads must not be negative, got %d", c.General.WorkerThreads)
	}
	if c.General.BatchSize == 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	if c.Pool == nil && c.Node == nil {
		return fmt.Errorf("no backend configured: set a pool or node section")
	}
	if c.Pool != nil {
		if c.Pool.URL == "" {
			return fmt.Errorf("pool.url is required")
		}
		if c.Pool.User == "" {
			return fmt.Errorf("pool.user is required")
		}
	}
	if c.Node != nil {
		if c.Node.RPCURL == "" {
			return fmt.Errorf("node.rpc_url is required")
		}
		if c.Node.WalletAddress == "" {
			return fmt.Errorf("node.wallet_address is required")
		}
	}
	return nil
}

// AlgorithmKind returns the parsed algorithm. Call after Validate.
func (c *Config) AlgorithmKind() algorithm.Kind {
	kind, _ := algorithm.ParseKind(c.General.Algorithm)
	return kind
}

// ResolveThreads turns the configured thread count into a concrete one,
// auto-detecting the logical CPU count when set to zero.
func (c *Config) ResolveThreads() int {
	if c.General.WorkerThreads > 0 {
		return c.General.WorkerThreads
	}
	return runtime.NumCPU()
}

// PoolActive reports whether the pool backend should be used. When both
// backends are configured the pool takes precedence.
func (c *Config) PoolActive() bool { return c.Pool != nil }
