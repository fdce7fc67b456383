package httpapi

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/alejandrodnm/tourneyd/internal/domain"
)

const (
	ctxUserID     = "user_id"
	headerGameKey = "X-Game-Key"
	tokenIssuer   = "tourneyd"
)

// Claims del bearer token. Subject es el id del usuario.
type Claims struct {
	jwt.RegisteredClaims
}

// IssueToken firma un token HS256 para userID. Lo usan los tests y la CLI de soporte;
// en producción los tokens vienen del servicio de autenticación que comparte el secreto.
func IssueToken(secret []byte, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    tokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("httpapi.IssueToken: %w", err)
	}
	return signed, nil
}

// requireAuth valida el bearer token y deja el id del usuario en el contexto.
func requireAuth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			abortUnauthorized(c, "missing or malformed Authorization header")
			return
		}

		claims := &Claims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			reason := "invalid token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				reason = "token expired"
			}
			slog.Debug("jwt rejected", "path", c.Request.URL.Path, "err", err)
			abortUnauthorized(c, reason)
			return
		}
		if claims.Subject == "" {
			abortUnauthorized(c, "token has no subject")
			return
		}

		c.Set(ctxUserID, claims.Subject)
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"status":  "error",
		"code":    "unauthenticated",
		"message": msg,
	})
}

// callerFrom arma el Caller con el usuario del token y la game key del header,
// salvo que el cuerpo traiga una.
func callerFrom(c *gin.Context, bodyKey string) domain.Caller {
	key := bodyKey
	if key == "" {
		key = c.GetHeader(headerGameKey)
	}
	return domain.Caller{UserID: c.GetString(ctxUserID), GameKey: key}
}
