package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lalith-99/leaguechat/internal/models"
)

const issuer = "leaguechat"

// Claims is the payload inside every JWT token.
//
// The login handler issues one; the middleware reads it back on every
// request, which is how the server knows who is calling without a
// database lookup.
//
// Why carry Role in the token?
//   - The navigation filter and the messages tab need it on nearly every
//     request; reading it from users each time would be pure overhead.
//   - Roles change rarely. A promoted manager sees the new tabs on their
//     next login, which is acceptable for a league app.
//
// Why embed jwt.RegisteredClaims? It brings exp, iat, iss and sub with the
// validation jwt/v5 already does for them.
type Claims struct {
	UserID uuid.UUID   `json:"user_id"`
	Role   models.Role `json:"role"`
	jwt.RegisteredClaims
}

// GenerateToken creates a signed JWT for a user.
//
// Why HS256? One shared secret, symmetric and fast. Only this service
// issues and verifies tokens; if another service ever needed to verify
// without being able to issue, RS256 would be the switch.
func GenerateToken(userID uuid.UUID, role models.Role, secret string, ttl time.Duration) (string, error) {
	now := time.Now()

	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}

// ParseToken validates a JWT string and extracts the claims.
//
// Only HMAC signatures are accepted. Without that check a token signed
// with "none", or with an RSA public key passed off as the HMAC secret,
// could get through. The issuer must be ours, and a token without a user
// id or with an unknown role is rejected even if the signature holds.
func ParseToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(secret), nil
		},
		jwt.WithIssuer(issuer),
	)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.UserID == uuid.Nil || !claims.Role.Valid() {
		return nil, fmt.Errorf("invalid token claims")
	}

	return claims, nil
}
