package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spyglass-dev/spyglass/internal/logger"
)

// Claims are the payload of a signed access token.
type Claims struct {
	Source    string `json:"source"` // "cli" or "browser"
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

// AuthMiddleware validates HMAC-signed tokens on every request. A nil
// middleware (no secret configured) passes everything through, which is the
// local-development default.
type AuthMiddleware struct {
	secret []byte
}

// NewAuthMiddleware reads SPYGLASS_AUTH_SECRET; when unset no auth is
// enforced.
func NewAuthMiddleware() *AuthMiddleware {
	secret := os.Getenv("SPYGLASS_AUTH_SECRET")
	if secret == "" {
		return nil
	}
	return &AuthMiddleware{secret: []byte(secret)}
}

// RequireAuth rejects requests without a valid token.
func (am *AuthMiddleware) RequireAuth(c *fiber.Ctx) error {
	if am == nil {
		return c.Next()
	}

	if c.Path() == "/health" {
		return c.Next()
	}

	token := am.extractToken(c)
	if token == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "authentication required",
		})
	}

	claims, err := am.ValidateToken(token)
	if err != nil {
		logger.Debugf("Auth failed: %v", err)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "invalid or expired token",
		})
	}

	c.Locals("claims", claims)
	return c.Next()
}

// extractToken checks the Authorization header, the session cookie and the
// query string. The query form exists for websocket and EventSource clients,
// which cannot set headers.
func (am *AuthMiddleware) extractToken(c *fiber.Ctx) string {
	if header := c.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
	}
	if cookie := c.Cookies("spyglass_token"); cookie != "" {
		return cookie
	}
	return c.Query("token")
}

// ValidateToken checks the signature and expiry of a token.
func (am *AuthMiddleware) ValidateToken(tokenString string) (*Claims, error) {
	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid token format")
	}

	payloadJSON, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}

	var claims Claims
	if err := json.Unmarshal(payloadJSON, &claims); err != nil {
		return nil, fmt.Errorf("failed to parse claims: %w", err)
	}
	if time.Now().Unix() > claims.ExpiresAt {
		return nil, fmt.Errorf("token expired")
	}

	h := hmac.New(sha256.New, am.secret)
	h.Write([]byte(parts[0] + "." + parts[1]))
	expected := base64.RawURLEncoding.EncodeToString(h.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(parts[2])) {
		return nil, fmt.Errorf("invalid signature")
	}

	return &claims, nil
}

// GenerateToken mints a signed token for the given source.
func GenerateToken(source string, duration time.Duration) (string, error) {
	secret := os.Getenv("SPYGLASS_AUTH_SECRET")
	if secret == "" {
		return "", fmt.Errorf("SPYGLASS_AUTH_SECRET not set")
	}

	now := time.Now()
	headerJSON, _ := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	claimsJSON, _ := json.Marshal(Claims{
		Source:    source,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(duration).Unix(),
	})

	headerEncoded := base64.RawURLEncoding.EncodeToString(headerJSON)
	claimsEncoded := base64.RawURLEncoding.EncodeToString(claimsJSON)

	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(headerEncoded + "." + claimsEncoded))
	signature := base64.RawURLEncoding.EncodeToString(h.Sum(nil))

	return headerEncoded + "." + claimsEncoded + "." + signature, nil
}
