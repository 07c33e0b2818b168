package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/janovincze/tributary/internal/ingress/auth"
	"github.com/janovincze/tributary/internal/ingress/models"
)

// Context keys set once a bearer token is accepted.
const (
	ClaimsKey  = "auth_claims"
	SubjectKey = "auth_subject"
)

// TokenValidator validates bearer tokens.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// AuthConfig holds authentication middleware configuration.
type AuthConfig struct {
	// Enabled turns on bearer token checks. When false every request passes.
	Enabled bool

	// Validator checks tokens. Required when Enabled.
	Validator TokenValidator
}

// RequireScope rejects requests without a valid bearer token granting scope.
func RequireScope(cfg AuthConfig, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.Enabled {
			c.Next()
			return
		}

		claims := GetClaims(c)
		if claims == nil {
			token, ok := bearerToken(c.GetHeader("Authorization"))
			if !ok || cfg.Validator == nil {
				unauthorized(c, "Authentication required")
				return
			}
			var err error
			if claims, err = cfg.Validator.Validate(token); err != nil {
				unauthorized(c, "Invalid or expired token")
				return
			}
			c.Set(ClaimsKey, claims)
			c.Set(SubjectKey, claims.Subject)
		}

		if !claims.HasScope(scope) {
			models.RespondWithError(c, models.NewForbiddenError(c.Request.URL.Path, "Insufficient scope: "+scope))
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetClaims returns the accepted token claims, if any.
func GetClaims(c *gin.Context) *auth.Claims {
	v, ok := c.Get(ClaimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*auth.Claims)
	return claims
}

func bearerToken(header string) (string, bool) {
	scheme, credential, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || credential == "" {
		return "", false
	}
	return strings.TrimSpace(credential), true
}

func unauthorized(c *gin.Context, detail string) {
	c.Header("WWW-Authenticate", `Bearer realm="tributary"`)
	models.RespondWithError(c, models.NewUnauthorizedError(c.Request.URL.Path, detail))
	c.Abort()
}
