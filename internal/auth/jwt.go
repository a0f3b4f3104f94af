package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrMissingToken = errors.New("authorization token required")
)

// JWTManager handles JWT token generation and validation.
type JWTManager struct {
	secretKey     []byte
	tokenDuration time.Duration
}

// Claims represents the custom JWT claims for a user session. The active
// role is a signed claim: persona switching mints a new token rather than
// trusting the client to name its own role.
type Claims struct {
	UserID         string `json:"user_id"`
	TenantID       string `json:"tenant_id"`
	ActiveRole     Role   `json:"active_role"`
	AvailableRoles []Role `json:"available_roles"`
	jwt.RegisteredClaims
}

// NewJWTManager creates a new JWT manager with the given secret and token
// duration. secretKey should be a strong random string (e.g., 32 bytes).
func NewJWTManager(secretKey string, tokenDuration time.Duration) *JWTManager {
	return &JWTManager{
		secretKey:     []byte(secretKey),
		tokenDuration: tokenDuration,
	}
}

// Generate creates a new JWT token for the given actor.
func (m *JWTManager) Generate(actor *Actor) (string, error) {
	claims := &Claims{
		UserID:         actor.UserID,
		TenantID:       actor.TenantID,
		ActiveRole:     actor.ActiveRole,
		AvailableRoles: actor.AvailableRoles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// SwitchRole mints a token identical to the claims but with a different
// active role. The target role must be among the actor's available roles.
func (m *JWTManager) SwitchRole(claims *Claims, to Role) (string, error) {
	actor := claims.Actor()
	if !actor.HasRole(to) {
		return "", ErrInvalidToken
	}
	actor.ActiveRole = to
	return m.Generate(actor)
}

// Validate parses and validates a JWT token, returning the claims if valid.
func (m *JWTManager) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return m.secretKey, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Actor converts the claims into the request principal.
func (c *Claims) Actor() *Actor {
	return &Actor{
		UserID:         c.UserID,
		TenantID:       c.TenantID,
		ActiveRole:     c.ActiveRole,
		AvailableRoles: c.AvailableRoles,
	}
}
