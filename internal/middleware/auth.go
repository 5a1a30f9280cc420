package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/user/moovie-recommender/internal/utils"
)

// AdminTokenHeader 管理接口令牌请求头
const AdminTokenHeader = "X-Admin-Token"

// RequireAdminToken 管理接口鉴权，未配置令牌时管理接口关闭
func RequireAdminToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			utils.Forbidden(c, "管理接口未启用")
			c.Abort()
			return
		}

		got := extractToken(c)
		if got == "" {
			utils.Unauthorized(c, "缺少管理令牌")
			c.Abort()
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			utils.Forbidden(c, "管理令牌无效")
			c.Abort()
			return
		}
		c.Next()
	}
}

// extractToken 依次从 X-Admin-Token 和 Authorization: Bearer 中读取
func extractToken(c *gin.Context) string {
	if t := c.GetHeader(AdminTokenHeader); t != "" {
		return t
	}
	authHeader := c.GetHeader("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}
