package handler

import (
	"context"

	"wallet-relay/internal/handler/middleware"
	"wallet-relay/internal/handler/request"
	"wallet-relay/internal/handler/response"
	"wallet-relay/internal/model"
	"wallet-relay/internal/service/account"
	"wallet-relay/internal/service/transfer"
	"wallet-relay/pkg/errno"
	"wallet-relay/pkg/validator"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// TransferService 转账编排，由 transfer.Orchestrator 实现
type TransferService interface {
	SendEth(ctx context.Context, req transfer.Request) (*transfer.Outcome, error)
	SendErc20(ctx context.Context, req transfer.Request) (*transfer.Outcome, error)
	EthToErc20(ctx context.Context, req transfer.Request) (*transfer.Outcome, error)
	Erc20ToEth(ctx context.Context, req transfer.Request) (*transfer.Outcome, error)
	Get(ctx context.Context, userID, id string) (*transfer.Outcome, error)
	Quote(ctx context.Context, kind model.TransferKind, req transfer.Request) (*transfer.Quote, error)
}

type WalletCreator interface {
	CreateWallet(ctx context.Context, userID string) (*account.WalletInfo, error)
}

type WalletHandler struct {
	transfers TransferService
	wallets   WalletCreator
}

func NewWalletHandler(transfers TransferService, wallets WalletCreator) *WalletHandler {
	return &WalletHandler{transfers: transfers, wallets: wallets}
}

// CreateWallet 开通钱包
// @Summary 开通钱包
// @Description 为当前用户生成 ETH 和 BTC 账户，私钥加密保存
// @Tags Wallet
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=account.WalletInfo}
// @Failure 400 {object} response.Response
// @Router /api/v1/wallet [post]
func (h *WalletHandler) CreateWallet(c *gin.Context) {
	info, err := h.wallets.CreateWallet(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, info)
}

// EthToErc20 用 ETH 兑换 ERC20
// @Summary ETH 兑换 ERC20
// @Tags Wallet
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body request.TransferRequest true "兑换参数"
// @Success 200 {object} response.Response{data=transfer.Outcome}
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/wallet/eth-to-erc20 [post]
func (h *WalletHandler) EthToErc20(c *gin.Context) {
	var req request.TransferRequest
	if !bind(c, &req) {
		return
	}
	h.execute(c, h.transfers.EthToErc20, transferRequest(c, req.Amount.String(), req.Currency, req.To, req.ChargeFromAmount))
}

// Erc20ToEth 用 ERC20 兑换 ETH，gas 总是从兑换金额中扣除
// @Summary ERC20 兑换 ETH
// @Tags Wallet
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body request.TransferRequest true "兑换参数"
// @Success 200 {object} response.Response{data=transfer.Outcome}
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/wallet/erc20-to-eth [post]
func (h *WalletHandler) Erc20ToEth(c *gin.Context) {
	var req request.TransferRequest
	if !bind(c, &req) {
		return
	}
	h.execute(c, h.transfers.Erc20ToEth, transferRequest(c, req.Amount.String(), req.Currency, req.To, req.ChargeFromAmount))
}

// SendErc20 发送 ERC20，ETH 不足时由流动性账户代付 gas
// @Summary 发送 ERC20
// @Tags Wallet
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body request.SendRequest true "发送参数"
// @Success 200 {object} response.Response{data=transfer.Outcome}
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/wallet/send-erc20 [post]
func (h *WalletHandler) SendErc20(c *gin.Context) {
	var req request.SendRequest
	if !bind(c, &req) {
		return
	}
	h.execute(c, h.transfers.SendErc20, transferRequest(c, req.Amount.String(), req.Currency, req.To, req.ChargeFromAmount))
}

// SendEth 发送 ETH
// @Summary 发送 ETH
// @Tags Wallet
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body request.SendRequest true "发送参数"
// @Success 200 {object} response.Response{data=transfer.Outcome}
// @Failure 400 {object} response.Response
// @Router /api/v1/wallet/send-eth [post]
func (h *WalletHandler) SendEth(c *gin.Context) {
	var req request.SendRequest
	if !bind(c, &req) {
		return
	}
	h.execute(c, h.transfers.SendEth, transferRequest(c, req.Amount.String(), req.Currency, req.To, req.ChargeFromAmount))
}

// GetTransfer 查询转账及每笔链上交易的状态
// @Summary 查询转账
// @Tags Wallet
// @Produce json
// @Security BearerAuth
// @Param id path string true "转账 ID"
// @Success 200 {object} response.Response{data=transfer.Outcome}
// @Failure 404 {object} response.Response
// @Router /api/v1/wallet/transfers/{id} [get]
func (h *WalletHandler) GetTransfer(c *gin.Context) {
	out, err := h.transfers.Get(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, out)
}

// Quote 预估 gas 补贴，不提交任何交易
// @Summary 补贴预估
// @Tags Wallet
// @Produce json
// @Security BearerAuth
// @Param kind query string true "send_erc20 或 erc20_to_eth"
// @Param currency query string true "代币符号"
// @Param amount query string true "金额"
// @Param to query string false "收款地址，仅 send_erc20"
// @Param chargeFromAmount query bool false "从金额中扣除补贴"
// @Success 200 {object} response.Response{data=transfer.Quote}
// @Failure 400 {object} response.Response
// @Router /api/v1/wallet/quote [get]
func (h *WalletHandler) Quote(c *gin.Context) {
	var req request.QuoteRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.Error(c, errno.ErrBind.WithMessage(validator.GetErrorMsg(err)))
		return
	}
	q, err := h.transfers.Quote(c.Request.Context(), model.TransferKind(req.Kind),
		transferRequest(c, req.Amount, req.Currency, req.To, req.ChargeFromAmount || req.Kind == string(model.KindErc20ToEth)))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, q)
}

func bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		response.Error(c, errno.ErrBind.WithMessage(validator.GetErrorMsg(err)))
		return false
	}
	return true
}

// amount 已通过 validator 校验
func transferRequest(c *gin.Context, amount, currency, to string, charge bool) transfer.Request {
	return transfer.Request{
		UserID:           middleware.UserID(c),
		Currency:         currency,
		Amount:           decimal.RequireFromString(amount),
		To:               to,
		ChargeFromAmount: charge,
	}
}

func (h *WalletHandler) execute(c *gin.Context, op func(context.Context, transfer.Request) (*transfer.Outcome, error), req transfer.Request) {
	out, err := op(c.Request.Context(), req)
	if err != nil {
		if out != nil {
			response.ErrorWithData(c, err, out)
			return
		}
		response.Error(c, err)
		return
	}
	response.Success(c, out)
}
