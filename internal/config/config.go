package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrRPCURLRequired is returned when no RPC endpoint is configured in a
// production environment.
var ErrRPCURLRequired = errors.New("blockchain rpc_url is required in production")

// DefaultPublicRPCURL is the fallback endpoint for non-production modes.
const DefaultPublicRPCURL = "https://ethereum-sepolia-rpc.publicnode.com"

// Config is the service configuration.
type Config struct {
	Service    ServiceConfig    `yaml:"service" json:"service"`
	Postgres   PostgresConfig   `yaml:"postgres" json:"postgres"`
	Redis      RedisConfig      `yaml:"redis" json:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka" json:"kafka"`
	Blockchain BlockchainConfig `yaml:"blockchain" json:"blockchain"`
	Gas        GasConfig        `yaml:"gas" json:"gas"`
	Log        LogConfig        `yaml:"log" json:"log"`
}

// ServiceConfig holds process-level settings.
type ServiceConfig struct {
	Name     string `yaml:"name" json:"name"`
	HTTPPort int    `yaml:"http_port" json:"http_port"`
	Env      string `yaml:"env" json:"env"`
}

// IsProduction reports whether the service runs in a production-like
// environment. The settlement threshold and RPC fallback depend on it.
func (s *ServiceConfig) IsProduction() bool {
	return s.Env == "prod" || s.Env == "production"
}

// PostgresConfig holds mirror store settings.
type PostgresConfig struct {
	Host            string `yaml:"host" json:"host"`
	Port            int    `yaml:"port" json:"port"`
	Database        string `yaml:"database" json:"database"`
	User            string `yaml:"user" json:"user"`
	Password        string `yaml:"password" json:"password"`
	MaxConnections  int    `yaml:"max_connections" json:"max_connections"`
	MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// RedisConfig holds redis settings (nonce allocation).
type RedisConfig struct {
	Addresses []string `yaml:"addresses" json:"addresses"`
	Password  string   `yaml:"password" json:"password"`
	DB        int      `yaml:"db" json:"db"`
	PoolSize  int      `yaml:"pool_size" json:"pool_size"`
}

// KafkaConfig holds kafka settings.
type KafkaConfig struct {
	Brokers  []string `yaml:"brokers" json:"brokers"`
	GroupID  string   `yaml:"group_id" json:"group_id"`
	ClientID string   `yaml:"client_id" json:"client_id"`
}

// BlockchainConfig holds ledger node and contract settings.
type BlockchainConfig struct {
	// Disabled short-circuits every ledger entry point with a synthetic
	// success. Checked before any node I/O or signing.
	Disabled bool `yaml:"disabled" json:"disabled"`

	RPCURL        string   `yaml:"rpc_url" json:"rpc_url"`
	BackupRPCURLs []string `yaml:"backup_rpc_urls" json:"backup_rpc_urls"`
	ChainID       int64    `yaml:"chain_id" json:"chain_id"`
	PrivateKey    string   `yaml:"private_key" json:"private_key"`

	RegistryContract string `yaml:"registry_contract" json:"registry_contract"`
	NFTContract      string `yaml:"nft_contract" json:"nft_contract"`
	EscrowContract   string `yaml:"escrow_contract" json:"escrow_contract"`

	// Confirmations required before a transaction counts as settled.
	// 3 in production, 1 everywhere else.
	Confirmations int `yaml:"confirmations" json:"confirmations"`
}

// GasConfig holds estimation engine settings.
type GasConfig struct {
	CacheTTLSeconds   int    `yaml:"cache_ttl_seconds" json:"cache_ttl_seconds"`
	MaxGasPriceGwei   int64  `yaml:"max_gas_price_gwei" json:"max_gas_price_gwei"`
	MaxGasLimit       uint64 `yaml:"max_gas_limit" json:"max_gas_limit"`
	DryRunAttempts    int    `yaml:"dry_run_attempts" json:"dry_run_attempts"`
	DefaultStrategy   string `yaml:"default_strategy" json:"default_strategy"`
	OptimizationLevel string `yaml:"optimization_level" json:"optimization_level"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Load reads and parses the configuration file.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	content := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		return nil, err
	}

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expandEnvVars expands ${VAR:default} placeholders.
func expandEnvVars(s string) string {
	result := s
	for {
		start := strings.Index(result, "${")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}")
		if end == -1 {
			break
		}
		end += start

		expr := result[start+2 : end]
		parts := strings.SplitN(expr, ":", 2)
		varName := parts[0]
		defaultVal := ""
		if len(parts) > 1 {
			defaultVal = parts[1]
		}

		value := os.Getenv(varName)
		if value == "" {
			value = defaultVal
		}

		result = result[:start] + value + result[end+1:]
	}
	return result
}

func setDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "blockcreative-chain"
	}
	if cfg.Service.HTTPPort == 0 {
		cfg.Service.HTTPPort = 8085
	}
	if cfg.Service.Env == "" {
		cfg.Service.Env = "dev"
	}

	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = 5432
	}
	if cfg.Postgres.MaxConnections == 0 {
		cfg.Postgres.MaxConnections = 50
	}
	if cfg.Postgres.MaxIdleConns == 0 {
		cfg.Postgres.MaxIdleConns = 10
	}
	if cfg.Postgres.ConnMaxLifetime == 0 {
		cfg.Postgres.ConnMaxLifetime = 3600
	}

	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 50
	}

	if cfg.Blockchain.ChainID == 0 {
		cfg.Blockchain.ChainID = 31337 // local devnet
	}
	if cfg.Blockchain.Confirmations == 0 {
		if cfg.Service.IsProduction() {
			cfg.Blockchain.Confirmations = 3
		} else {
			cfg.Blockchain.Confirmations = 1
		}
	}

	if cfg.Gas.CacheTTLSeconds == 0 {
		cfg.Gas.CacheTTLSeconds = 30
	}
	if cfg.Gas.MaxGasPriceGwei == 0 {
		cfg.Gas.MaxGasPriceGwei = 500
	}
	if cfg.Gas.MaxGasLimit == 0 {
		cfg.Gas.MaxGasLimit = 10_000_000
	}
	if cfg.Gas.DryRunAttempts == 0 {
		cfg.Gas.DryRunAttempts = 3
	}
	if cfg.Gas.DefaultStrategy == "" {
		cfg.Gas.DefaultStrategy = "standard"
	}
	if cfg.Gas.OptimizationLevel == "" {
		cfg.Gas.OptimizationLevel = "none"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

func validate(cfg *Config) error {
	if cfg.Blockchain.Disabled {
		return nil
	}
	if cfg.Blockchain.RPCURL == "" {
		if cfg.Service.IsProduction() {
			return ErrRPCURLRequired
		}
		cfg.Blockchain.RPCURL = DefaultPublicRPCURL
	}
	return nil
}

// GetEnvInt reads an integer environment variable with a default.
func GetEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// GetEnvString reads a string environment variable with a default.
func GetEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
