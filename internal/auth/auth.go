// Package auth verifies bearer tokens and identifies the requesting user.
package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// LocalUserID is the fiber local holding the authenticated user ID.
const LocalUserID = "user_id"

// ErrNoKey is returned when neither a secret nor a public key is configured.
var ErrNoKey = errors.New("auth: a secret or a public key is required")

// Verifier checks token signatures with an HMAC secret or an RSA public key.
type Verifier struct {
	secret []byte
	pub    *rsa.PublicKey
}

// NewHMACVerifier returns a verifier of HS256/384/512 tokens.
func NewHMACVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, ErrNoKey
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// NewRSAVerifier returns a verifier of RS256/384/512 tokens signed by the
// key at pubKeyPath.
func NewRSAVerifier(pubKeyPath string) (*Verifier, error) {
	if pubKeyPath == "" {
		return nil, ErrNoKey
	}
	b, err := os.ReadFile(pubKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	pub, err := jwt.ParseRSAPublicKeyFromPEM(b)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return &Verifier{pub: pub}, nil
}

// Verify checks tokenStr and returns its claims.
func (v *Verifier) Verify(tokenStr string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if v.pub != nil {
			if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return v.pub, nil
		}
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid claims")
	}
	return claims, nil
}

// UserID returns the "user_id" claim, or "sub" when it is missing.
func UserID(claims jwt.MapClaims) (string, bool) {
	for _, key := range []string{"user_id", "sub"} {
		switch v := claims[key].(type) {
		case string:
			if v != "" {
				return v, true
			}
		case float64:
			return fmt.Sprintf("%.0f", v), true
		}
	}
	return "", false
}

// Middleware rejects requests without a valid bearer token and stores the
// user ID in the LocalUserID local.
func Middleware(v *Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		if header == "" {
			return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"detail": "Authentication credentials were not provided."})
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"detail": "Invalid authorization header."})
		}
		claims, err := v.Verify(strings.TrimSpace(parts[1]))
		if err != nil {
			return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"detail": "Invalid token."})
		}
		userID, ok := UserID(claims)
		if !ok {
			return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"detail": "Invalid token."})
		}
		c.Locals(LocalUserID, userID)
		return c.Next()
	}
}

// CurrentUser returns the authenticated user ID of the request.
func CurrentUser(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalUserID).(string)
	return id
}
