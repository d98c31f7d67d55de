package routes

import (
	"wallet-relay/internal/handler"

	"github.com/gin-gonic/gin"
)

// RegisterWalletRoutes 注册钱包路由，全部需要登录
func RegisterWalletRoutes(rg *gin.RouterGroup, h *handler.WalletHandler, auth gin.HandlerFunc) {
	walletGroup := rg.Group("/wallet", auth)
	{
		walletGroup.POST("", h.CreateWallet)
		walletGroup.POST("/eth-to-erc20", h.EthToErc20)
		walletGroup.POST("/erc20-to-eth", h.Erc20ToEth)
		walletGroup.POST("/send-erc20", h.SendErc20)
		walletGroup.POST("/send-ecr20", h.SendErc20) // 旧客户端的拼写
		walletGroup.POST("/send-eth", h.SendEth)
		walletGroup.GET("/transfers/:id", h.GetTransfer)
		walletGroup.GET("/quote", h.Quote)
	}
}
