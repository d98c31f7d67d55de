package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App    AppConfig              `mapstructure:"app"`
	DB     DBConfig               `mapstructure:"db"`
	Redis  RedisConfig            `mapstructure:"redis"`
	Kafka  KafkaConfig            `mapstructure:"kafka"`
	Wallet WalletConfig           `mapstructure:"wallet"`
	Chain  ChainConfig            `mapstructure:"chain"`
	Dex    DexConfig              `mapstructure:"dex"`
	Oracle OracleConfig           `mapstructure:"oracle"`
	Tokens map[string]TokenConfig `mapstructure:"tokens"`
	Jobs   JobsConfig             `mapstructure:"jobs"`
}

type AppConfig struct {
	Env       string `mapstructure:"env"`
	HttpPort  string `mapstructure:"http_port"`
	JwtSecret string `mapstructure:"jwt_secret"`
}

// IsDevelopment 开发模式下错误响应会附带内部原因
func (a AppConfig) IsDevelopment() bool {
	return a.Env == "development"
}

type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	LogLevel string `mapstructure:"log_level"` // silent, error, warn, info
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	MQType   string `mapstructure:"mq_type"` // "redis" or "kafka"
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	GroupID string   `mapstructure:"group_id"`
}

type WalletConfig struct {
	// Secret 用于加解密用户私钥 (通常通过环境变量 WALLET_SECRET 传入)
	Secret string `mapstructure:"secret"`
	// LiquidityKey 流动性账户私钥，sealed JSON 或 hex
	LiquidityKey string `mapstructure:"liquidity_key"`
	ScryptN      int    `mapstructure:"scrypt_n"`
	BTCNetwork   string `mapstructure:"btc_network"` // mainnet, testnet3, regtest
	// DistributedNonce 多实例部署时用 Redis 串行化 nonce 分配
	DistributedNonce bool `mapstructure:"distributed_nonce"`
}

type ChainConfig struct {
	RpcUrl          string        `mapstructure:"rpc_url"`
	ChainID         int64         `mapstructure:"chain_id"`
	ReceiptTimeout  time.Duration `mapstructure:"receipt_timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	MaxGasPriceGwei int64         `mapstructure:"max_gas_price_gwei"`
	GasLimits       GasLimits     `mapstructure:"gas_limits"`
}

// GasLimits 估算失败时的兜底值
type GasLimits struct {
	EthTransfer   uint64 `mapstructure:"eth_transfer"`
	Erc20Transfer uint64 `mapstructure:"erc20_transfer"`
	Erc20Approve  uint64 `mapstructure:"erc20_approve"`
	TransferFrom  uint64 `mapstructure:"transfer_from"`
	Swap          uint64 `mapstructure:"swap"`
}

type DexConfig struct {
	Router          string `mapstructure:"router"`
	Factory         string `mapstructure:"factory"`
	WETH            string `mapstructure:"weth"`
	SlippageBps     int64  `mapstructure:"slippage_bps"`
	DeadlineSeconds int64  `mapstructure:"deadline_seconds"`
}

type OracleConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
	RPS     float64       `mapstructure:"rps"`
}

type TokenConfig struct {
	Address  string `mapstructure:"address"`
	Decimals int32  `mapstructure:"decimals"`
	PriceID  string `mapstructure:"price_id"`
}

type JobsConfig struct {
	ReconcileSpec  string        `mapstructure:"reconcile_spec"`
	OutboxInterval time.Duration `mapstructure:"outbox_interval"`
}

var Global Config

func Init() {
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yaml")   // REQUIRED if the config file does not have the extension in the name
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// 环境变量设置: chain.rpc_url -> CHAIN_RPC_URL
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Printf("Warning: Config file not found, using defaults and environment variables")
		} else {
			log.Fatalf("Fatal error config file: %s \n", err)
		}
	}

	if err := viper.Unmarshal(&Global); err != nil {
		log.Fatalf("Unable to decode into struct, %v", err)
	}

	log.Printf("Configuration loaded successfully. Env: %s", Global.App.Env)
}

func setDefaults() {
	viper.SetDefault("app.env", "development")
	viper.SetDefault("app.http_port", "8080")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.user", "wallet_user")
	viper.SetDefault("db.password", "wallet_password")
	viper.SetDefault("db.name", "wallet_db")
	viper.SetDefault("db.log_level", "warn")

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.mq_type", "redis")

	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.group_id", "wallet-relay")

	viper.SetDefault("wallet.scrypt_n", 1<<15)
	viper.SetDefault("wallet.btc_network", "testnet3")
	viper.SetDefault("wallet.distributed_nonce", false)

	viper.SetDefault("chain.rpc_url", "http://localhost:8545")
	viper.SetDefault("chain.chain_id", 4) // Rinkeby
	viper.SetDefault("chain.receipt_timeout", 3*time.Minute)
	viper.SetDefault("chain.poll_interval", 2*time.Second)
	viper.SetDefault("chain.max_gas_price_gwei", 100)
	viper.SetDefault("chain.gas_limits.eth_transfer", 21000)
	viper.SetDefault("chain.gas_limits.erc20_transfer", 65000)
	viper.SetDefault("chain.gas_limits.erc20_approve", 50000)
	viper.SetDefault("chain.gas_limits.transfer_from", 80000)
	viper.SetDefault("chain.gas_limits.swap", 200000)

	// Uniswap V2 (同一地址部署在各测试网)
	viper.SetDefault("dex.router", "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")
	viper.SetDefault("dex.factory", "0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f")
	viper.SetDefault("dex.weth", "0xc778417E063141139Fce010982780140Aa0cD5Ab")
	viper.SetDefault("dex.slippage_bps", 50)
	viper.SetDefault("dex.deadline_seconds", 1200)

	viper.SetDefault("oracle.base_url", "https://api.coingecko.com/api/v3")
	viper.SetDefault("oracle.timeout", 10*time.Second)
	viper.SetDefault("oracle.rps", 5)

	viper.SetDefault("tokens", map[string]any{
		"WETH": map[string]any{"address": "0xc778417E063141139Fce010982780140Aa0cD5Ab", "decimals": 18, "price_id": "weth"},
		"USDC": map[string]any{"address": "0x4DBCdF9B62e891a7cec5A2568C3F4FAF9E8Abe2b", "decimals": 6, "price_id": "usd-coin"},
		"USDT": map[string]any{"address": "0xD9BA894E0097f8cC2BBc9D24D308b98e36dc6D02", "decimals": 18, "price_id": "tether"},
	})

	viper.SetDefault("jobs.reconcile_spec", "@every 1m")
	viper.SetDefault("jobs.outbox_interval", 500*time.Millisecond)
}
