package middleware

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/gema-grading-api/internal/utils"
)

// Identity is the caller resolved from a bearer token.
type Identity struct {
	UserID uint
	Role   string
}

// JWTProtected returns a middleware that validates HMAC-signed bearer tokens
// and stores the caller's id and role in locals ("user_id", "user_role").
func JWTProtected(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authorization := c.Get("Authorization")
		if authorization == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "authorization header missing")
		}

		const bearer = "bearer "
		if !strings.HasPrefix(strings.ToLower(authorization), bearer) {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid authorization header")
		}

		tokenString := strings.TrimSpace(authorization[len(bearer):])
		if tokenString == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token")
		}

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token")
		}

		identity := IdentityFromClaims(claims)
		if identity.UserID == 0 {
			return utils.SendError(c, fiber.StatusUnauthorized, "token has no subject")
		}

		c.Locals("user_id", identity.UserID)
		if identity.Role != "" {
			c.Locals("user_role", identity.Role)
		}

		return c.Next()
	}
}

// IdentityFromClaims reads the subject from sub, user_id or id and the role
// from role or the first entry of roles.
func IdentityFromClaims(claims jwt.MapClaims) Identity {
	var identity Identity
	for _, key := range []string{"sub", "user_id", "id"} {
		if value, ok := claims[key]; ok {
			if id, err := parseUserID(value); err == nil && id > 0 {
				identity.UserID = id
				break
			}
		}
	}
	for _, key := range []string{"role", "roles"} {
		if role := claimRole(claims[key]); role != "" {
			identity.Role = role
			break
		}
	}
	return identity
}

func parseUserID(value interface{}) (uint, error) {
	switch v := value.(type) {
	case float64:
		if v < 0 {
			return 0, fmt.Errorf("negative subject")
		}
		return uint(v), nil
	case string:
		parsed, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, err
		}
		return uint(parsed), nil
	default:
		return 0, fmt.Errorf("unsupported subject type %T", value)
	}
}

func claimRole(value interface{}) string {
	switch v := value.(type) {
	case string:
		return normalizeRole(v)
	case []interface{}:
		for _, item := range v {
			if str, ok := item.(string); ok {
				if role := normalizeRole(str); role != "" {
					return role
				}
			}
		}
	}
	return ""
}
