package security

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// UserClaims 会话凭据中携带的用户信息
type UserClaims struct {
	UserID uint64   `json:"user_id"`
	Roles  []string `json:"roles"`
	jwt.RegisteredClaims
}

// Expired 凭据已过期；未声明过期时间视为不过期
func (c *UserClaims) Expired(now time.Time) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return !now.Before(c.ExpiresAt.Time)
}
