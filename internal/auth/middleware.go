// Package auth forwards caller bearer tokens to the vision API, verifying them first when the
// gateway has a signing secret.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/example/vision-demo/internal/credentials"
)

type contextKey string

const subjectKey contextKey = "authSubject"

// GetSubject retrieves the verified token subject from context.
func GetSubject(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if value, ok := ctx.Value(subjectKey).(string); ok && value != "" {
		return value, true
	}
	return "", false
}

// BearerMiddleware attaches the caller's bearer token to the request context so the
// transport forwards it. With an empty secret the token is passed through unchecked and a
// missing header is allowed. With a secret every request needs a valid HMAC-signed token,
// and a configured audience must be present in its claims.
func BearerMiddleware(secret, audience string) gin.HandlerFunc {
	secret = strings.TrimSpace(secret)
	audience = strings.TrimSpace(audience)

	return func(c *gin.Context) {
		header := c.Request.Header.Get("Authorization")
		if header == "" && secret == "" {
			c.Next()
			return
		}

		tokenString, err := extractBearerToken(header)
		if err != nil {
			unauthorized(c, err.Error())
			return
		}

		ctx := credentials.WithToken(c.Request.Context(), tokenString)
		if secret != "" {
			subject, err := verify(tokenString, secret, audience)
			if err != nil {
				unauthorized(c, err.Error())
				return
			}
			ctx = context.WithValue(ctx, subjectKey, subject)
			c.Set(string(subjectKey), subject)
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func verify(tokenString, secret, audience string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return "", errors.New("invalid token")
	}
	if audience != "" && !containsAudience(claims.Audience, audience) {
		return "", errors.New("invalid audience")
	}
	if claims.Subject == "" {
		return "", errors.New("missing subject")
	}
	return claims.Subject, nil
}

func extractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header required")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("token missing")
	}
	return token, nil
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
}

func containsAudience(claims jwt.ClaimStrings, expected string) bool {
	for _, aud := range claims {
		if aud == expected {
			return true
		}
	}
	return false
}
