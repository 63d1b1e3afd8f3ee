package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 全局配置结构体（完全匹配config.yaml）
type Config struct {
	Server     ServerConfig           `mapstructure:"server"`     // 服务器配置
	Database   DatabaseConfig         `mapstructure:"database"`   // PostgreSQL配置
	Redis      RedisConfig            `mapstructure:"redis"`      // 下注历史缓存
	Kafka      KafkaConfig            `mapstructure:"kafka"`      // 记录事件投递
	Chains     map[string]ChainConfig `mapstructure:"chains"`     // chainId -> 链配置
	Settlement SettlementConfig       `mapstructure:"settlement"` // 两阶段结算参数
	Payout     PayoutConfig           `mapstructure:"payout"`     // 派彩参数
	PoolSync   PoolSyncConfig         `mapstructure:"pool_sync"`  // 链上奖池同步
	Log        LogConfig              `mapstructure:"log"`        // 日志
	Client     ClientConfig           `mapstructure:"client"`     // betctl 客户端
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port  int    `mapstructure:"port"`  // 服务端口
	Mode  string `mapstructure:"mode"`  // Gin运行模式：debug/release/test
	Pprof bool   `mapstructure:"pprof"` // 注册 /debug/pprof 路由
}

// DatabaseConfig PostgreSQL配置
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`               // 连接DSN（URL 形式）
	MaxOpenConns    int           `mapstructure:"max_open_conns"`    // 最大打开连接数
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`    // 最大空闲连接数
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"` // 连接最大存活时间
}

// RedisConfig 为空 Addr 时不启用缓存
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"` // 下注历史缓存有效期
}

// KafkaConfig 为空 Brokers 时事件只写日志
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"` // "a:9092,b:9092"
	Topic   string `mapstructure:"topic"`
}

// ChainConfig 单条链的配置
type ChainConfig struct {
	RPCURL          string `mapstructure:"rpc_url"`          // HTTP RPC
	WSURL           string `mapstructure:"ws_url"`           // 订阅合约事件用，可空
	ContractAddress string `mapstructure:"contract_address"` // 下注池合约
	EscrowAddress   string `mapstructure:"escrow_address"`   // 平台税费收款地址
}

// SettlementConfig 两阶段结算参数
type SettlementConfig struct {
	TaxRateBps     int64         `mapstructure:"tax_rate_bps"`    // 税率（万分比），100 = 1%
	MinBetWei      string        `mapstructure:"min_bet_wei"`     // 最小下注额（wei）
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout"` // 等待回执上限
	PollInterval   time.Duration `mapstructure:"poll_interval"`   // 回执轮询间隔
}

// PayoutConfig 派彩参数
type PayoutConfig struct {
	TotalFeePercent int64 `mapstructure:"total_fee_percent"` // 合约侧总手续费百分比
}

// PoolSyncConfig 奖池同步
type PoolSyncConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// LogConfig File 为空时输出到 stdout
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// ClientConfig betctl 使用：记录服务地址、签名私钥、outbox 目录
type ClientConfig struct {
	RecordServiceURL string `mapstructure:"record_service_url"`
	PrivateKey       string `mapstructure:"private_key"`
	ChainID          int64  `mapstructure:"chain_id"`
	OutboxDir        string `mapstructure:"outbox_dir"`
	Timeout          int    `mapstructure:"timeout"` // 请求超时（秒）
	Proxy            string `mapstructure:"proxy"`
}

// LoadConfig 加载配置文件（config/config.yaml），敏感项从 .env 覆盖（不提交 git）
func LoadConfig() (*Config, error) {
	return LoadConfigFrom("./config")
}

// LoadConfigFrom 从指定目录加载 config.yaml
func LoadConfigFrom(dir string) (*Config, error) {
	// 1. 加载 .env（若存在），env 中的值会覆盖 config.yaml 中同名字段
	_ = godotenv.Load() // 忽略错误（.env 可不存在）

	// 2. 读取 config.yaml
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	setDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	v.SetTypeByDefaultValue(true)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	// 3. 敏感字段：用 env 覆盖（优先级 env > yaml）
	overrideFromEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.pprof", true)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("redis.ttl", 5*time.Minute)
	v.SetDefault("kafka.topic", "bet_records")
	v.SetDefault("settlement.tax_rate_bps", 100)
	v.SetDefault("settlement.min_bet_wei", "1000000000000000")
	v.SetDefault("settlement.confirm_timeout", 3*time.Minute)
	v.SetDefault("settlement.poll_interval", 2*time.Second)
	v.SetDefault("payout.total_fee_percent", 0)
	v.SetDefault("pool_sync.interval", time.Minute)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("client.outbox_dir", "./data/outbox")
	v.SetDefault("client.timeout", 15)
}

// overrideFromEnv 用环境变量覆盖敏感配置
func overrideFromEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = v
	}
	if v := os.Getenv("CLIENT_PRIVATE_KEY"); v != "" {
		cfg.Client.PrivateKey = v
	}
	if v := os.Getenv("RECORD_SERVICE_URL"); v != "" {
		cfg.Client.RecordServiceURL = v
	}
}

// Validate 校验会影响资金计算的参数
func (c *Config) Validate() error {
	if c.Settlement.TaxRateBps < 0 || c.Settlement.TaxRateBps >= 10000 {
		return fmt.Errorf("settlement.tax_rate_bps 需在 [0, 10000) 内，当前 %d", c.Settlement.TaxRateBps)
	}
	if c.Payout.TotalFeePercent < 0 || c.Payout.TotalFeePercent > 100 {
		return fmt.Errorf("payout.total_fee_percent 需在 [0, 100] 内，当前 %d", c.Payout.TotalFeePercent)
	}
	for id := range c.Chains {
		if _, err := strconv.ParseInt(id, 10, 64); err != nil {
			return fmt.Errorf("chains 的 key 须为数字 chainId: %q", id)
		}
	}
	return nil
}

// Chain 按 chainId 取链配置
func (c *Config) Chain(chainID int64) (ChainConfig, bool) {
	cc, ok := c.Chains[strconv.FormatInt(chainID, 10)]
	return cc, ok
}

// KafkaBrokerList 拆分 brokers
func (k KafkaConfig) KafkaBrokerList() []string {
	if strings.TrimSpace(k.Brokers) == "" {
		return nil
	}
	var out []string
	for _, b := range strings.Split(k.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
