package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/newtechdevloper/FitStack-sub000/internal/logger"
)

const (
	ctxUserID   = "user_id"
	ctxTenantID = "tenant_id"
	ctxEmail    = "user_email"
	ctxRole     = "user_role"
)

func bearerToken(c *gin.Context) (string, string) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", "Authorization header required"
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.TrimSpace(parts[0]) != "Bearer" {
		return "", "Invalid authorization header format"
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", "Token is empty"
	}
	return token, ""
}

func AuthMiddleware(accessTokenSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, problem := bearerToken(c)
		if problem != "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": problem})
			return
		}

		claims, err := ValidateToken(tokenString, accessTokenSecret)
		if err != nil {
			switch {
			case errors.Is(err, ErrTokenExpired):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token expired"})
			default:
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or malformed token"})
			}
			return
		}

		if claims.TokenType != "access" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Access token required"})
			return
		}

		SetPrincipal(c, claims.Principal())
		c.Next()
	}
}

// RequireRole admits the request when the caller holds any of roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get(ctxRole)
		if !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "User role not found"})
			return
		}

		roleStr, ok := role.(string)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid role type"})
			return
		}

		for _, r := range roles {
			if roleStr == r {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions"})
	}
}

// RequireTenant rejects callers whose token is not bound to a tenant.
func RequireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := GetTenantID(c); !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Tenant context required"})
			return
		}
		c.Next()
	}
}

// CronAuth guards scheduled job endpoints with a shared bearer secret. An
// unset secret disables the endpoints.
func CronAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "cron endpoints are not configured"})
			return
		}

		token, problem := bearerToken(c)
		if problem != "" || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			logger.Security("cron_auth_rejected", map[string]interface{}{
				"path":      c.FullPath(),
				"client_ip": c.ClientIP(),
			})
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		c.Next()
	}
}

// SetPrincipal binds p to the request context.
func SetPrincipal(c *gin.Context, p Principal) {
	c.Set(ctxUserID, p.UserID)
	c.Set(ctxTenantID, p.TenantID)
	c.Set(ctxEmail, p.Email)
	c.Set(ctxRole, p.Role)
}

func getString(c *gin.Context, key string) (string, bool) {
	v, exists := c.Get(key)
	if !exists {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

func GetUserID(c *gin.Context) (string, bool) {
	return getString(c, ctxUserID)
}

func GetTenantID(c *gin.Context) (string, bool) {
	return getString(c, ctxTenantID)
}

// GetPrincipal returns the authenticated caller. ok is false when no user is
// bound to the request.
func GetPrincipal(c *gin.Context) (Principal, bool) {
	userID, ok := GetUserID(c)
	if !ok {
		return Principal{}, false
	}
	tenantID, _ := GetTenantID(c)
	email, _ := getString(c, ctxEmail)
	role, _ := getString(c, ctxRole)
	return Principal{UserID: userID, TenantID: tenantID, Email: email, Role: role}, true
}
