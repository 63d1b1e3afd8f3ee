package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// RouterDeps 路由依赖
type RouterDeps struct {
	Bets    BetService
	Markets MarketService
	// Health 健康检查（通常为数据库 ping），可空
	Health func(ctx context.Context) error
	Pprof  bool
	Logger *logrus.Logger
}

// NewRouter 注册全部路由；写接口统一经过钱包地址校验
func NewRouter(d RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(d.Logger))
	if d.Pprof {
		// 注册ppof 方便调试和监测性能问题
		pprof.Register(r)
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		if d.Health != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := d.Health(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	bets := NewBetHandler(d.Bets, d.Logger)
	markets := NewMarketHandler(d.Markets, d.Logger)

	api := r.Group("/api")
	api.GET("/bets/:address", bets.ListBets)
	api.GET("/bets/id/:id/payout", bets.GetPayout)
	api.GET("/markets", markets.ListMarkets)
	api.GET("/markets/:id", markets.GetMarket)

	write := api.Group("", RequireWallet())
	write.POST("/bets", bets.CreateBet)
	write.POST("/bets/refund", bets.MarkForRefund)
	write.PATCH("/bets/:id/claim", bets.ClaimBet)
	write.GET("/refunds", bets.ListRefunds)
	write.PATCH("/bets/:id/refund", bets.CompleteRefund)
	write.POST("/transactions", bets.CreateTransaction)
	write.POST("/markets", markets.CreateMarket)
	write.POST("/markets/:id/resolve", markets.ResolveMarket)
	return r
}

// requestLogger 用 logrus 输出访问日志
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
			"wallet":  wallet(c),
		}).Debug("http request")
	}
}
