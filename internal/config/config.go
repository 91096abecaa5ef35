package config

import (
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config 配置
type Config struct {
	Service    ServiceConfig    `yaml:"service" json:"service"`
	Postgres   PostgresConfig   `yaml:"postgres" json:"postgres"`
	Redis      RedisConfig      `yaml:"redis" json:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka" json:"kafka"`
	Blockchain BlockchainConfig `yaml:"blockchain" json:"blockchain"`
	MonadID    MonadIDConfig    `yaml:"monad_id" json:"monad_id"`
	Sync       SyncConfig       `yaml:"sync" json:"sync"`
	Log        LogConfig        `yaml:"log" json:"log"`
}

// ServiceConfig 服务配置
type ServiceConfig struct {
	Name     string `yaml:"name" json:"name"`
	HTTPPort int    `yaml:"http_port" json:"http_port"`
	Env      string `yaml:"env" json:"env"`
}

// PostgresConfig PostgreSQL 配置
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

// RedisConfig Redis 配置
type RedisConfig struct {
	Addresses []string `yaml:"addresses" json:"addresses"`
	Password  string   `yaml:"password" json:"password"`
	DB        int      `yaml:"db" json:"db"`
	PoolSize  int      `yaml:"pool_size" json:"pool_size"`
}

// KafkaConfig Kafka 配置
//
// Brokers 为空时禁用 Kafka，分数只能通过 HTTP 提交
type KafkaConfig struct {
	Brokers  []string `yaml:"brokers" json:"brokers"`
	GroupID  string   `yaml:"group_id" json:"group_id"`
	ClientID string   `yaml:"client_id" json:"client_id"`
}

// Enabled 是否启用 Kafka
func (c *KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

// BlockchainConfig MonadGames 链配置
type BlockchainConfig struct {
	RPCURL          string   `yaml:"rpc_url" json:"rpc_url"`
	BackupRPCURLs   []string `yaml:"backup_rpc_urls" json:"backup_rpc_urls"`
	ChainID         int64    `yaml:"chain_id" json:"chain_id"`
	ContractAddress string   `yaml:"contract_address" json:"contract_address"`
	PrivateKey      string   `yaml:"private_key" json:"private_key"`
	GasLimit        uint64   `yaml:"gas_limit" json:"gas_limit"`
}

// MonadIDConfig MonadGames ID 用户名服务配置
type MonadIDConfig struct {
	BaseURL        string `yaml:"base_url" json:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// SyncConfig 同步队列配置
type SyncConfig struct {
	IntervalSeconds     int `yaml:"interval_seconds" json:"interval_seconds"`
	BatchSize           int `yaml:"batch_size" json:"batch_size"`
	MaxRetries          int `yaml:"max_retries" json:"max_retries"`
	ItemDelayMs         int `yaml:"item_delay_ms" json:"item_delay_ms"`
	ScoreDampingDivisor int `yaml:"score_damping_divisor" json:"score_damping_divisor"`
	CleanupDays         int `yaml:"cleanup_days" json:"cleanup_days"`
	LockTTLSeconds      int `yaml:"lock_ttl_seconds" json:"lock_ttl_seconds"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Load 加载配置
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// 环境变量替换
	content := string(data)
	content = expandEnvVars(content)

	var cfg Config
	if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		return nil, err
	}

	// 设置默认值
	setDefaults(&cfg)

	return &cfg, nil
}

// expandEnvVars 展开环境变量 ${VAR:default}
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

// setDefaults 设置默认值
func setDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "monbeats-sync"
	}
	if cfg.Service.HTTPPort == 0 {
		cfg.Service.HTTPPort = 8080
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

	if cfg.Blockchain.RPCURL == "" {
		cfg.Blockchain.RPCURL = "https://testnet-rpc.monad.xyz"
	}
	if cfg.Blockchain.ChainID == 0 {
		cfg.Blockchain.ChainID = 10143 // Monad testnet
	}
	if cfg.Blockchain.GasLimit == 0 {
		cfg.Blockchain.GasLimit = 100000
	}

	if cfg.MonadID.BaseURL == "" {
		cfg.MonadID.BaseURL = "https://monad-games-id-site.vercel.app"
	}
	if cfg.MonadID.TimeoutSeconds == 0 {
		cfg.MonadID.TimeoutSeconds = 10
	}

	if cfg.Sync.IntervalSeconds == 0 {
		cfg.Sync.IntervalSeconds = 120
	}
	if cfg.Sync.BatchSize == 0 {
		cfg.Sync.BatchSize = 5
	}
	if cfg.Sync.MaxRetries == 0 {
		cfg.Sync.MaxRetries = 3
	}
	if cfg.Sync.ItemDelayMs == 0 {
		cfg.Sync.ItemDelayMs = 1000
	}
	if cfg.Sync.ScoreDampingDivisor == 0 {
		cfg.Sync.ScoreDampingDivisor = 2
	}
	if cfg.Sync.CleanupDays == 0 {
		cfg.Sync.CleanupDays = 7
	}
	if cfg.Sync.LockTTLSeconds == 0 {
		cfg.Sync.LockTTLSeconds = 90
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

// GetEnvInt 获取环境变量整数值
func GetEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// GetEnvString 获取环境变量字符串值
func GetEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
