// Package bootstrap 组装各进程共用的依赖
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"wallet-relay/internal/chain"
	"wallet-relay/internal/oracle"
	"wallet-relay/internal/service/account"
	"wallet-relay/internal/service/fee"
	"wallet-relay/internal/service/mq"
	"wallet-relay/internal/service/nonce"
	"wallet-relay/internal/service/reconcile"
	"wallet-relay/internal/service/swap"
	"wallet-relay/internal/service/transfer"
	"wallet-relay/internal/store"
	"wallet-relay/pkg/address"
	"wallet-relay/pkg/config"
	"wallet-relay/pkg/database"
	"wallet-relay/pkg/keystore"
	"wallet-relay/pkg/logger"
	"wallet-relay/pkg/utils/lock"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Infra 外部连接
type Infra struct {
	DB    *gorm.DB
	Redis *redis.Client
	Eth   *ethclient.Client
}

// Connect 依次连接 Postgres、Redis 和以太坊节点
func Connect(ctx context.Context, cfg config.Config) (*Infra, error) {
	db, err := database.ConnectPostgres(database.DSN(cfg.DB), cfg.DB.LogLevel)
	if err != nil {
		return nil, err
	}
	infra := &Infra{DB: db}

	infra.Redis, err = database.ConnectRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		infra.Close()
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	infra.Eth, err = chain.Dial(dialCtx, cfg.Chain.RpcUrl, cfg.Chain.ChainID)
	if err != nil {
		infra.Close()
		return nil, err
	}
	logger.Info("Ethereum node connected", zap.Int64("chain_id", cfg.Chain.ChainID))
	return infra, nil
}

func (i *Infra) Close() {
	if i.Eth != nil {
		i.Eth.Close()
	}
	if i.Redis != nil {
		_ = i.Redis.Close()
	}
	if i.DB != nil {
		if sqlDB, err := i.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

// Services 业务组件
type Services struct {
	Store        *store.Store
	Tokens       *chain.Registry
	Accounts     *account.Resolver
	Provisioner  *account.Provisioner
	Nonces       *nonce.Manager
	Orchestrator *transfer.Orchestrator
	Reconciler   *reconcile.Resolver
	Locker       lock.DistributedLock
}

func NewServices(infra *Infra, cfg config.Config) (*Services, error) {
	sealer, err := keystore.NewSealer(cfg.Wallet.Secret, cfg.Wallet.ScryptN)
	if err != nil {
		return nil, fmt.Errorf("wallet secret: %w", err)
	}
	network, err := address.NetworkByName(cfg.Wallet.BTCNetwork)
	if err != nil {
		return nil, err
	}
	tokens, err := chain.NewRegistry(cfg.Tokens)
	if err != nil {
		return nil, fmt.Errorf("token registry: %w", err)
	}

	st := store.New(infra.DB)
	accounts := account.NewResolver(st, sealer, cfg.Wallet.LiquidityKey)

	var opts []nonce.Option
	if liq, err := accounts.ResolveLiquidityAccount(); err == nil {
		opts = append(opts, nonce.WithSharedAccount(liq.Address))
	} else {
		// 没有流动性账户时补贴路径不可用，其它操作照常
		logger.Warn("liquidity account unavailable", zap.Error(err))
	}
	var nonceStore nonce.Store
	locker := lock.NewRedisLock(infra.Redis)
	if cfg.Wallet.DistributedNonce {
		nonceStore = nonce.NewRedisStore(infra.Redis)
		opts = append(opts, nonce.WithDistributedLock(locker, 2*time.Minute))
	}
	nonces := nonce.NewManager(infra.Eth, nonceStore, opts...)

	router := swap.NewClient(infra.Eth, swap.Config{
		Router:      common.HexToAddress(cfg.Dex.Router),
		Factory:     common.HexToAddress(cfg.Dex.Factory),
		WETH:        common.HexToAddress(cfg.Dex.WETH),
		SlippageBps: cfg.Dex.SlippageBps,
		Deadline:    time.Duration(cfg.Dex.DeadlineSeconds) * time.Second,
	})
	prices := oracle.NewCoinGecko(oracle.Config{
		BaseURL: cfg.Oracle.BaseURL,
		APIKey:  cfg.Oracle.APIKey,
		Timeout: cfg.Oracle.Timeout,
		RPS:     cfg.Oracle.RPS,
	})

	orch := transfer.NewOrchestrator(infra.Eth, accounts, fee.NewCalculator(prices), router, nonces, st, tokens, transfer.ConfigFrom(cfg.Chain))

	// 回执等待超时后才交给对账任务
	minAge := cfg.Chain.ReceiptTimeout
	if minAge <= 0 {
		minAge = 3 * time.Minute
	}

	return &Services{
		Store:        st,
		Tokens:       tokens,
		Accounts:     accounts,
		Provisioner:  account.NewProvisioner(st, sealer, address.NewBTCGenerator(network)),
		Nonces:       nonces,
		Orchestrator: orch,
		Reconciler:   reconcile.NewResolver(st, infra.Eth, minAge, 100),
		Locker:       locker,
	}, nil
}

// NewProducer 按 redis.mq_type 选择 Redis Streams 或 Kafka
func NewProducer(cfg config.Config, rdb *redis.Client) mq.Producer {
	if cfg.Redis.MQType == "kafka" {
		logger.Info("使用 Kafka 作为消息队列...")
		return mq.NewKafkaProducer(cfg.Kafka.Brokers)
	}
	logger.Info("使用 Redis Streams 作为消息队列...")
	return mq.NewRedisProducer(rdb)
}

func NewConsumer(cfg config.Config, rdb *redis.Client, group, name string) mq.Consumer {
	if cfg.Redis.MQType == "kafka" {
		return mq.NewKafkaConsumer(cfg.Kafka.Brokers, group)
	}
	return mq.NewRedisConsumer(rdb, group, name)
}
