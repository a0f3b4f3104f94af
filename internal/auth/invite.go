package auth

import (
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/skip2/go-qrcode"
)

// InviteClaims is the signed payload of a tenant invite link.
type InviteClaims struct {
	TenantID string `json:"tenant_id"`
	Role     Role   `json:"role"`
	jwt.RegisteredClaims
}

// InviteManager issues signed invite links for tenant onboarding.
type InviteManager struct {
	secretKey []byte
	baseURL   string
}

// NewInviteManager creates an invite manager. baseURL is the public URL the
// invite path is appended to, e.g. "https://rewards.example.com".
func NewInviteManager(secretKey, baseURL string) *InviteManager {
	return &InviteManager{secretKey: []byte(secretKey), baseURL: baseURL}
}

// Generate mints an invite token for the tenant, valid for the given number
// of hours, granting the role on acceptance.
func (m *InviteManager) Generate(tenantID string, role Role, hours int) (string, error) {
	if hours <= 0 {
		hours = 72
	}
	if !role.Valid() {
		role = RoleUser
	}
	claims := &InviteClaims{
		TenantID: tenantID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Duration(hours) * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign invite: %w", err)
	}
	return signed, nil
}

// Link renders the invite token as a join URL.
func (m *InviteManager) Link(token string) string {
	return fmt.Sprintf("%s/join?invite=%s", m.baseURL, url.QueryEscape(token))
}

// QRPNG renders the invite link as a 256x256 PNG QR code.
func (m *InviteManager) QRPNG(token string) ([]byte, error) {
	png, err := qrcode.Encode(m.Link(token), qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("failed to encode qr: %w", err)
	}
	return png, nil
}

// Validate parses an invite token and returns its claims.
func (m *InviteManager) Validate(tokenString string) (*InviteClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&InviteClaims{},
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
	claims, ok := token.Claims.(*InviteClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
