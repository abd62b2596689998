package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"infosec-rag/internal/pkg/jwtutil"
	"infosec-rag/internal/transport/http/response"
)

const (
	ContextClientIDKey   = "client_id"
	ContextClientNameKey = "client_name"
)

func AuthJWT(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		if authHeader == "" {
			response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "missing authorization header")
			c.Abort()
			return
		}

		const prefix = "Bearer "
		if !strings.HasPrefix(authHeader, prefix) {
			response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid authorization scheme")
			c.Abort()
			return
		}

		claims, err := jwtutil.ParseToken(secret, strings.TrimSpace(strings.TrimPrefix(authHeader, prefix)))
		if err != nil {
			response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(ContextClientIDKey, claims.ClientID)
		c.Set(ContextClientNameKey, claims.ClientName)
		c.Next()
	}
}
