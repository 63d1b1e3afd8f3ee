package api

import (
	"net/http"

	"PoolBet/internal/chain"

	"github.com/gin-gonic/gin"
)

// WalletHeader 写接口必须携带的钱包地址头
const WalletHeader = "X-Wallet-Address"

const walletKey = "wallet"

// RequireWallet 校验 X-Wallet-Address 为 0x + 40 位十六进制，统一小写后放入上下文
func RequireWallet() gin.HandlerFunc {
	return func(c *gin.Context) {
		addr := c.GetHeader(WalletHeader)
		if !chain.IsHexAddress(addr) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": WalletHeader + " header must be a 0x-prefixed 40-hex address"})
			return
		}
		c.Set(walletKey, chain.NormalizeAddress(addr))
		c.Next()
	}
}

func wallet(c *gin.Context) string { return c.GetString(walletKey) }

// ownsAddress 请求写入的地址须与调用方钱包一致（不区分大小写）
func ownsAddress(c *gin.Context, addr string) bool {
	if chain.NormalizeAddress(addr) == wallet(c) {
		return true
	}
	c.JSON(http.StatusForbidden, gin.H{"error": "wallet address does not match request"})
	return false
}
