package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/paideia-lms/Paideia-sub010/internal/models"
	appErrors "github.com/paideia-lms/Paideia-sub010/pkg/errors"
	"github.com/paideia-lms/Paideia-sub010/pkg/response"
)

// ContextActorKey is the gin context key storing the caller's claims.
const ContextActorKey = "currentActor"

// TokenValidator verifies bearer tokens.
type TokenValidator interface {
	ValidateToken(token string) (*models.ActorClaims, error)
}

// JWT requires a valid bearer token and stores its claims on the context.
func JWT(tokens TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c)
		if !ok {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "missing or malformed authorization header"))
			c.Abort()
			return
		}

		claims, err := tokens.ValidateToken(raw)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextActorKey, claims)
		c.Next()
	}
}

// OptionalJWT attaches claims when a valid token is present but does not block.
func OptionalJWT(tokens TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw, ok := bearerToken(c); ok {
			if claims, err := tokens.ValidateToken(raw); err == nil {
				c.Set(ContextActorKey, claims)
			}
		}
		c.Next()
	}
}

// Actor returns the claims stored by JWT or OptionalJWT, if any.
func Actor(c *gin.Context) *models.ActorClaims {
	value, exists := c.Get(ContextActorKey)
	if !exists {
		return nil
	}
	claims, _ := value.(*models.ActorClaims)
	return claims
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}
