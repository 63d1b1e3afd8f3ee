package api

import (
	"errors"
	"net/http"

	"PoolBet/internal/service"
	"PoolBet/internal/verify"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// writeError 把服务层错误映射为 HTTP 响应。验证失败只返回通用文案与处理建议，细节只进日志。
func writeError(c *gin.Context, logger *logrus.Logger, op string, err error) {
	var (
		dup  *service.DuplicateError
		verr *service.ValidationError
		vfy  *verify.Error
	)
	switch {
	case errors.As(err, &dup):
		c.JSON(http.StatusConflict, gin.H{"error": "transaction already recorded", "existingId": dup.ExistingID})
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
	case errors.As(err, &vfy):
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not verify transaction", "remediation": vfy.Remediation()})
	case errors.Is(err, service.ErrMarketNotFound),
		errors.Is(err, service.ErrMarketNotResolved),
		errors.Is(err, service.ErrNothingToClaim),
		errors.Is(err, service.ErrChainMismatch):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotOwner), errors.Is(err, service.ErrNotEscrow):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrAlreadyClaimed),
		errors.Is(err, service.ErrResultConflict),
		errors.Is(err, service.ErrMarketExists),
		errors.Is(err, service.ErrNotRefundable),
		errors.Is(err, service.ErrRefundAmountUnknown):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrBetNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrLedgerUnavailable):
		logger.WithError(err).Warn(op + " failed: ledger unavailable")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger unavailable, please retry", "remediation": verify.RemediationRetry})
	default:
		logger.WithError(err).Error(op + " failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
