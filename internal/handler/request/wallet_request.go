package request

import "encoding/json"

// TransferRequest 钱包转账/兑换请求
// amount 同时接受 JSON 数字和字符串
type TransferRequest struct {
	Amount           json.Number `json:"amount" binding:"required,amount"`
	Currency         string      `json:"currency" binding:"required,max=10"`
	To               string      `json:"to" binding:"omitempty,eth_address"`
	ChargeFromAmount bool        `json:"chargeFromAmount"`
}

// SendRequest 发送类请求，收款地址必填
type SendRequest struct {
	Amount           json.Number `json:"amount" binding:"required,amount"`
	Currency         string      `json:"currency" binding:"required,max=10"`
	To               string      `json:"to" binding:"required,eth_address"`
	ChargeFromAmount bool        `json:"chargeFromAmount"`
}

// QuoteRequest GET /quote 查询参数
type QuoteRequest struct {
	Kind     string `form:"kind" binding:"required,oneof=send_erc20 erc20_to_eth"`
	Amount   string `form:"amount" binding:"required,amount"`
	Currency string `form:"currency" binding:"required,max=10"`
	To       string `form:"to" binding:"omitempty,eth_address"`

	ChargeFromAmount bool `form:"chargeFromAmount"`
}
