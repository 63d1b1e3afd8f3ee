package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"PoolBet/internal/model"
	"PoolBet/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// MarketService 盘口服务（*service.MarketService 实现）
type MarketService interface {
	ListMarkets(ctx context.Context, status string, page, pageSize int) (*service.MarketListResult, error)
	GetMarket(ctx context.Context, id string) (*model.Market, error)
	CreateMarket(ctx context.Context, in service.CreateMarketInput) (*model.Market, error)
	ResolveMarket(ctx context.Context, in service.ResolveInput) (*model.Market, error)
}

// MarketHandler 盘口查询、创建与结算接口
type MarketHandler struct {
	markets MarketService
	logger  *logrus.Logger
}

// NewMarketHandler 创建 MarketHandler
func NewMarketHandler(markets MarketService, logger *logrus.Logger) *MarketHandler {
	return &MarketHandler{markets: markets, logger: logger}
}

// ListMarkets 盘口列表
// GET /api/markets?status=live&page=1&page_size=20
func (h *MarketHandler) ListMarkets(c *gin.Context) {
	status := c.Query("status")
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	result, err := h.markets.ListMarkets(c.Request.Context(), status, page, pageSize)
	if err != nil {
		writeError(c, h.logger, "ListMarkets", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetMarket 盘口详情 GET /api/markets/:id
func (h *MarketHandler) GetMarket(c *gin.Context) {
	m, err := h.markets.GetMarket(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrMarketNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		writeError(c, h.logger, "GetMarket", err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// CreateMarket 由已上链的 create_market 交易创建盘口 POST /api/markets
func (h *MarketHandler) CreateMarket(c *gin.Context) {
	var req service.CreateMarketInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if !ownsAddress(c, req.CreatorAddress) {
		return
	}
	m, err := h.markets.CreateMarket(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.logger, "CreateMarket", err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

// ResolveMarket 由已上链的 resolve_market 交易写入结果 POST /api/markets/:id/resolve
func (h *MarketHandler) ResolveMarket(c *gin.Context) {
	var req service.ResolveInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	req.MarketID = c.Param("id")
	req.Caller = wallet(c)
	m, err := h.markets.ResolveMarket(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.logger, "ResolveMarket", err)
		return
	}
	c.JSON(http.StatusOK, m)
}
