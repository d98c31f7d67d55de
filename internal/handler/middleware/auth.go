package middleware

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"wallet-relay/internal/handler/response"
	"wallet-relay/internal/model"
	"wallet-relay/pkg/errno"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const userIDKey = "user_id"

type UserFinder interface {
	FindUser(ctx context.Context, id string) (*model.User, error)
}

// Auth 校验 Authorization: Bearer <jwt>，用户 ID 取自 payload 或 sub
// 停用或删除的用户同样返回 401
func Auth(secret string, users UserFinder) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || raw == "" {
			response.Abort(c, errno.ErrTokenInvalid)
			return
		}

		userID, err := ParseUserID(raw, secret)
		if err != nil {
			response.Abort(c, errno.ErrTokenInvalid.WithCause(err))
			return
		}

		user, err := users.FindUser(c.Request.Context(), userID)
		if err != nil {
			response.Abort(c, errno.ErrTokenInvalid.WithCause(err))
			return
		}
		if !user.Active || user.IsDeleted {
			response.Abort(c, errno.ErrTokenInvalid.WithCause(errors.New("user is inactive")))
			return
		}

		c.Set(userIDKey, user.ID)
		c.Next()
	}
}

// ParseUserID 校验签名并取出用户 ID
func ParseUserID(raw, secret string) (string, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", err
	}
	if id, ok := claims["payload"].(string); ok && id != "" {
		return id, nil
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub, nil
	}
	return "", errors.New("token carries no user id")
}

// UserID 由 Auth 写入
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}
