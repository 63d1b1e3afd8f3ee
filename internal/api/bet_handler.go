package api

import (
	"context"
	"net/http"
	"strconv"

	"PoolBet/internal/chain"
	"PoolBet/internal/model"
	"PoolBet/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// BetService 记录服务（*service.RecordService 实现）
type BetService interface {
	CreateBet(ctx context.Context, in service.CreateBetInput) (*model.Bet, error)
	CreateTransaction(ctx context.Context, in service.CreateTransactionInput) (*model.Transaction, error)
	MarkForRefund(ctx context.Context, in service.RefundInput) (*model.Bet, error)
	ListBets(ctx context.Context, userAddress string, page service.BetPage) (*service.BetList, error)
	ClaimBet(ctx context.Context, in service.ClaimInput) (*model.Bet, error)
	GetPayout(ctx context.Context, betID string) (*service.PayoutView, error)
	ListRefunds(ctx context.Context, limit int) ([]service.RefundView, error)
	CompleteRefund(ctx context.Context, in service.CompleteRefundInput) (*model.Bet, error)
}

// BetHandler 下注与交易记录接口
type BetHandler struct {
	bets   BetService
	logger *logrus.Logger
}

// NewBetHandler 创建 BetHandler
func NewBetHandler(bets BetService, logger *logrus.Logger) *BetHandler {
	return &BetHandler{bets: bets, logger: logger}
}

// CreateBet 记录一笔已上链的下注 POST /api/bets
func (h *BetHandler) CreateBet(c *gin.Context) {
	var req service.CreateBetInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if !ownsAddress(c, req.UserAddress) {
		return
	}
	bet, err := h.bets.CreateBet(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.logger, "CreateBet", err)
		return
	}
	c.JSON(http.StatusCreated, bet)
}

// MarkForRefund 已收税但下注失败，登记待退款 POST /api/bets/refund
func (h *BetHandler) MarkForRefund(c *gin.Context) {
	var req service.RefundInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if !ownsAddress(c, req.UserAddress) {
		return
	}
	bet, err := h.bets.MarkForRefund(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.logger, "MarkForRefund", err)
		return
	}
	c.JSON(http.StatusCreated, bet)
}

// ListBets 用户下注历史，新的在前；hasMore 为 true 时带 nextOffset 继续翻页
// GET /api/bets/:address?offset=0&limit=100
func (h *BetHandler) ListBets(c *gin.Context) {
	addr := c.Param("address")
	if !chain.IsHexAddress(addr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "address must be a 0x-prefixed 40-hex address"})
		return
	}
	offset, err1 := strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, err2 := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err1 != nil || err2 != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "offset and limit must be integers"})
		return
	}
	list, err := h.bets.ListBets(c.Request.Context(), addr, service.BetPage{Offset: offset, Limit: limit})
	if err != nil {
		writeError(c, h.logger, "ListBets", err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// GetPayout 派彩计算结果 GET /api/bets/id/:id/payout
func (h *BetHandler) GetPayout(c *gin.Context) {
	view, err := h.bets.GetPayout(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, "GetPayout", err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// ClaimBet 标记已领取 PATCH /api/bets/:id/claim
func (h *BetHandler) ClaimBet(c *gin.Context) {
	var req service.ClaimInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	req.BetID = c.Param("id")
	req.Caller = wallet(c)
	bet, err := h.bets.ClaimBet(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.logger, "ClaimBet", err)
		return
	}
	c.JSON(http.StatusOK, bet)
}

// CreateTransaction 记录一笔已上链的交易 POST /api/transactions
func (h *BetHandler) CreateTransaction(c *gin.Context) {
	var req service.CreateTransactionInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if !ownsAddress(c, req.UserAddress) {
		return
	}
	tx, err := h.bets.CreateTransaction(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.logger, "CreateTransaction", err)
		return
	}
	c.JSON(http.StatusCreated, tx)
}

// ListRefunds 待退款记录 GET /api/refunds
func (h *BetHandler) ListRefunds(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	list, err := h.bets.ListRefunds(c.Request.Context(), limit)
	if err != nil {
		writeError(c, h.logger, "ListRefunds", err)
		return
	}
	if list == nil {
		list = []service.RefundView{}
	}
	c.JSON(http.StatusOK, gin.H{"refunds": list})
}

// CompleteRefund 托管方登记退税交易 PATCH /api/bets/:id/refund
func (h *BetHandler) CompleteRefund(c *gin.Context) {
	var req service.CompleteRefundInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	req.BetID = c.Param("id")
	req.Caller = wallet(c)
	bet, err := h.bets.CompleteRefund(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.logger, "CompleteRefund", err)
		return
	}
	c.JSON(http.StatusOK, bet)
}
