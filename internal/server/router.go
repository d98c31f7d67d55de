package server

import (
	"wallet-relay/internal/handler"
	"wallet-relay/internal/handler/response"
	"wallet-relay/internal/server/routes"
	"wallet-relay/pkg/errno"
	"wallet-relay/pkg/monitor"
	"wallet-relay/pkg/validator"

	_ "wallet-relay/docs/swagger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// NewHTTPRouter 初始化并返回一个 Gin Engine
func NewHTTPRouter(health *handler.HealthHandler, wallet *handler.WalletHandler, auth gin.HandlerFunc) *gin.Engine {
	// 0. 初始化监控指标和校验规则
	monitor.Init()
	validator.Init()

	// 1. 创建 Engine (使用默认中间件: Logger, Recovery)
	r := gin.Default()

	// 2. 注册通用中间件
	r.Use(monitor.PrometheusMiddleware())

	// 3. 注册基础路由
	r.GET("/health", health.Check)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	r.NoRoute(func(c *gin.Context) {
		response.Error(c, errno.ErrRouteNotFound)
	})

	// 4. 注册 API 路由组
	api := r.Group("/api/v1")
	{
		api.GET("/ping", func(c *gin.Context) {
			response.Success(c, gin.H{"pong": true})
		})
		routes.RegisterWalletRoutes(api, wallet, auth)
	}

	return r
}
