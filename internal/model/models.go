package model

import (
	"time"

	"gorm.io/gorm"
)

// User 用户表 (认证/资料由外部模块维护，这里只关心钱包字段)
type User struct {
	ID              string    `gorm:"type:uuid;primaryKey" json:"id"`
	Email           string    `gorm:"type:varchar(255);not null;unique" json:"email"`
	EthereumAddress string    `gorm:"type:varchar(42);index" json:"ethereum_address"`
	EthereumAccount string    `gorm:"type:text" json:"-"` // sealed 私钥，永不返回
	BitcoinAddress  string    `gorm:"type:varchar(64)" json:"bitcoin_address"`
	BitcoinAccount  string    `gorm:"type:text" json:"-"`
	Active          bool      `gorm:"not null;default:true" json:"-"`
	IsDeleted       bool      `gorm:"not null;default:false" json:"-"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// HasWallet 是否已开通以太坊钱包
func (u *User) HasWallet() bool {
	return u.EthereumAddress != "" && u.EthereumAccount != ""
}

// ApprovedAddress 记录 owner 已经对 spender 授权过的 token，避免重复 approve
type ApprovedAddress struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Owner     string    `gorm:"type:varchar(42);not null;uniqueIndex:idx_owner_token_spender" json:"owner"`
	Token     string    `gorm:"type:varchar(42);not null;uniqueIndex:idx_owner_token_spender" json:"token"`
	Spender   string    `gorm:"type:varchar(42);not null;uniqueIndex:idx_owner_token_spender" json:"spender"`
	TxHash    string    `gorm:"type:varchar(66)" json:"tx_hash"`
	CreatedAt time.Time `json:"created_at"`
}

func (ApprovedAddress) TableName() string {
	return "approved_addresses"
}

// OutboxMessage 本地消息表 (Transactional Outbox)
type OutboxMessage struct {
	ID        uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	Topic     string         `gorm:"type:varchar(255);not null" json:"topic"`
	Key       string         `gorm:"type:varchar(255);not null;default:''" json:"key"` // 分区键，这里用 transfer id
	EventID   string         `gorm:"type:varchar(64);uniqueIndex" json:"event_id"`
	Payload   []byte         `gorm:"type:text;not null" json:"payload"`
	Status    string         `gorm:"type:varchar(50);not null;default:'PENDING';index" json:"status"` // PENDING, SENT
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (OutboxMessage) TableName() string {
	return "outbox_messages"
}

// Wallet 开通钱包时写入 users 表的字段，账户私钥均为 sealed 字符串
type Wallet struct {
	EthereumAddress string
	EthereumAccount string
	BitcoinAddress  string
	BitcoinAccount  string
}
