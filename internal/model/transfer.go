package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransferKind 业务操作类型
type TransferKind string

const (
	KindSendEth    TransferKind = "send_eth"
	KindSendErc20  TransferKind = "send_erc20"
	KindErc20ToEth TransferKind = "erc20_to_eth"
	KindEthToErc20 TransferKind = "eth_to_erc20"
)

// TransferState 编排状态机
// quoting -> balance_checked -> subsidy_resolved -> submitted -> confirmed, 任意非终态可到 failed
type TransferState string

const (
	StateQuoting         TransferState = "quoting"
	StateBalanceChecked  TransferState = "balance_checked"
	StateSubsidyResolved TransferState = "subsidy_resolved"
	StateSubmitted       TransferState = "submitted"
	StateConfirmed       TransferState = "confirmed"
	StateFailed          TransferState = "failed"
)

// Terminal reports whether no further transition is allowed
func (s TransferState) Terminal() bool {
	return s == StateConfirmed || s == StateFailed
}

var transitions = map[TransferState][]TransferState{
	StateQuoting:         {StateBalanceChecked, StateFailed},
	StateBalanceChecked:  {StateSubsidyResolved, StateFailed},
	StateSubsidyResolved: {StateSubmitted, StateFailed},
	StateSubmitted:       {StateConfirmed, StateFailed},
}

// CanTransition 校验状态迁移是否合法
func (s TransferState) CanTransition(next TransferState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transfer 一次逻辑操作 (一次 API 调用) 的记录
type Transfer struct {
	ID               string          `gorm:"type:uuid;primaryKey" json:"id"`
	UserID           string          `gorm:"type:uuid;not null;index" json:"user_id"`
	Kind             TransferKind    `gorm:"type:varchar(20);not null" json:"kind"`
	Currency         string          `gorm:"type:varchar(10);not null" json:"currency"`
	Amount           decimal.Decimal `gorm:"type:decimal(38,18);not null" json:"amount"`
	RecipientAmount  decimal.Decimal `gorm:"type:decimal(38,18);not null;default:0" json:"recipient_amount"`
	SubsidyAmount    decimal.Decimal `gorm:"type:decimal(38,18);not null;default:0" json:"subsidy_amount"`
	ChargeFromAmount bool            `gorm:"not null;default:false" json:"charge_from_amount"`
	FromAddress      string          `gorm:"type:varchar(42);not null" json:"from_address"`
	ToAddress        string          `gorm:"type:varchar(42);not null" json:"to_address"`
	State            TransferState   `gorm:"type:varchar(20);not null;index" json:"state"`
	FailureCode      int             `gorm:"not null;default:0" json:"failure_code,omitempty"`
	FailureReason    string          `gorm:"type:varchar(255)" json:"failure_reason,omitempty"` // 用户可见的 errno 文案
	FailureDetail    string          `gorm:"type:text" json:"-"`
	PartialFailure   bool            `gorm:"not null;default:false;index" json:"partial_failure"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`

	Legs []PendingTransaction `gorm:"foreignKey:TransferID" json:"legs,omitempty"`
}

func (Transfer) TableName() string {
	return "transfers"
}

// SubsidyLegs 这些 leg 成功后再失败即为 partial failure
var SubsidyLegs = []Leg{LegSubsidyCollect, LegSubsidyForward}

// Leg 一笔链上交易在整个操作中的角色
type Leg string

const (
	LegApprovalFunding Leg = "approval_funding" // 流动性账户为 approve 预付 gas
	LegApprove         Leg = "approve"
	LegSubsidyCollect  Leg = "subsidy_collect" // transferFrom(user -> liquidity)
	LegSubsidyForward  Leg = "subsidy_forward" // liquidity -> user ETH
	LegRouterApprove   Leg = "router_approve"
	LegPrimary         Leg = "primary"
)

// TxStatus PendingTransaction 生命周期
type TxStatus string

const (
	TxBuilt     TxStatus = "built"
	TxSigned    TxStatus = "signed"
	TxSubmitted TxStatus = "submitted"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
)

// PendingTransaction 每一条链上交易 (leg) 的记录
// submitted 且超时未确认的记录由对账任务处理，不会被重发
type PendingTransaction struct {
	ID            uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	TransferID    string          `gorm:"type:uuid;not null;index" json:"transfer_id"`
	Leg           Leg             `gorm:"type:varchar(20);not null" json:"leg"`
	FromAddress   string          `gorm:"type:varchar(42);not null;index:idx_from_nonce" json:"from_address"`
	ToAddress     string          `gorm:"type:varchar(42);not null" json:"to_address"`
	Nonce         uint64          `gorm:"not null;index:idx_from_nonce" json:"nonce"`
	Value         decimal.Decimal `gorm:"type:numeric(78,0);not null;default:0" json:"value"`
	GasLimit      uint64          `gorm:"not null" json:"gas_limit"`
	GasPrice      decimal.Decimal `gorm:"type:numeric(78,0);not null" json:"gas_price"`
	RawPayload    string          `gorm:"type:text" json:"raw_payload"`
	SignedPayload string          `gorm:"type:text" json:"-"`
	TxHash        string          `gorm:"type:varchar(66);index" json:"tx_hash"`
	Status        TxStatus        `gorm:"type:varchar(20);not null;index" json:"status"`
	FailureReason string          `gorm:"type:text" json:"failure_reason,omitempty"`
	BlockNumber   uint64          `gorm:"not null;default:0" json:"block_number,omitempty"`
	SubmittedAt   *time.Time      `json:"submitted_at,omitempty"`
	ConfirmedAt   *time.Time      `json:"confirmed_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (PendingTransaction) TableName() string {
	return "pending_transactions"
}
