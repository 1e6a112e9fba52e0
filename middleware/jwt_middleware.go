// middleware/jwt_middleware.go
package middleware

import (
	"errors"
	"log"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Caller types carried in the userType claim.
const (
	UserTypeAdmin   = "admin"
	UserTypeService = "service"
	UserTypeMember  = "member"
)

const callerKey = "caller"

// CallerClaims are the claims the platform's auth service signs.
type CallerClaims struct {
	UserID   string `json:"userId"`
	UserType string `json:"userType"`
	jwt.StandardClaims
}

// Valid implements the Claims interface for Echo's JWT middleware.
// An ExpiresAt of 0 means the token never expires.
func (c CallerClaims) Valid() error {
	now := time.Now().Unix()
	if c.ExpiresAt > 0 && now > c.ExpiresAt {
		return errors.New("token is expired")
	}
	if c.NotBefore > 0 && now < c.NotBefore {
		return errors.New("token used before valid")
	}
	return nil
}

// Caller is the authenticated principal of a request.
type Caller struct {
	ID   string
	Type string
}

// Is reports whether the caller has one of the given types.
func (c Caller) Is(types ...string) bool {
	for _, t := range types {
		if c.Type == t {
			return true
		}
	}
	return false
}

// Owns reports whether the caller is the member memberID.
func (c Caller) Owns(memberID string) bool {
	return c.Type == UserTypeMember && c.ID != "" && c.ID == memberID
}

// CallerFrom returns the principal stored by JWTMiddleware, or the zero
// Caller on unauthenticated requests.
func CallerFrom(c echo.Context) Caller {
	caller, _ := c.Get(callerKey).(Caller)
	return caller
}

// JWTMiddleware verifies bearer tokens. Tokens are issued by the platform's
// auth service; this service only checks them.
func JWTMiddleware(secret string) echo.MiddlewareFunc {
	if secret == "" {
		log.Printf("Warning: JWT_SECRET environment variable is not set")
		return func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error {
				return echo.NewHTTPError(echo.ErrUnauthorized.Code, "JWT configuration error")
			}
		}
	}

	return middleware.JWTWithConfig(middleware.JWTConfig{
		SigningKey: []byte(secret),
		Claims:     &CallerClaims{},
		SuccessHandler: func(c echo.Context) {
			claims := c.Get("user").(*jwt.Token).Claims.(*CallerClaims)
			c.Set(callerKey, Caller{ID: claims.UserID, Type: claims.UserType})
		},
		ErrorHandler: func(err error) error {
			if err.Error() == "token contains an invalid number of segments" {
				return echo.NewHTTPError(echo.ErrUnauthorized.Code, "Invalid token format")
			}
			return echo.NewHTTPError(echo.ErrUnauthorized.Code, "Please provide valid credentials")
		},
	})
}

// GenerateJWT signs a token for a caller. A ttl of 0 issues a token without
// expiry. Used by operators and tests; production tokens come from auth.
func GenerateJWT(secret, userID, userType string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("JWT_SECRET environment variable is required")
	}
	now := time.Now()
	claims := &CallerClaims{
		UserID:         userID,
		UserType:       userType,
		StandardClaims: jwt.StandardClaims{IssuedAt: now.Unix()},
	}
	if ttl > 0 {
		claims.ExpiresAt = now.Add(ttl).Unix()
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
