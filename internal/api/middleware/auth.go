package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/storyline/internal/auth"
	"github.com/d60-Lab/storyline/pkg/response"
)

const userIDKey = "user_id"

// TokenParser 校验 bearer token 并返回用户ID
type TokenParser interface {
	Parse(token string) (string, error)
}

// Auth 要求请求携带有效的 Bearer token，并把用户写入 request context
func Auth(parser TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			response.Unauthorized(c, "missing bearer token")
			return
		}
		userID, err := parser.Parse(strings.TrimSpace(token))
		if err != nil {
			response.Unauthorized(c, err.Error())
			return
		}
		c.Set(userIDKey, userID)
		c.Request = c.Request.WithContext(auth.WithUserID(c.Request.Context(), userID))
		c.Next()
	}
}

// CurrentUserID 返回 Auth 写入的用户
func CurrentUserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}
