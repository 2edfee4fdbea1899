package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/anshulkhatri/cartful-backend/pkg/config"
)

var jwtSigningMethod = jwt.SigningMethodHS256

// MintServiceToken issues a signed JWT identifying this service to a
// collaborator, using the configured TTL.
func MintServiceToken(cfg config.ServiceAuthConfig, now time.Time, payload ServiceTokenPayload) (string, error) {
	if cfg.Secret == "" {
		return "", fmt.Errorf("service auth secret is required")
	}
	if cfg.Issuer == "" {
		return "", fmt.Errorf("service auth issuer is required")
	}
	if cfg.TokenTTL <= 0 {
		return "", fmt.Errorf("service auth token ttl must be positive")
	}
	audience := strings.TrimSpace(payload.Audience)
	if audience == "" {
		return "", fmt.Errorf("service token audience is required")
	}

	jti := strings.TrimSpace(payload.JTI)
	if jti == "" {
		jti = uuid.NewString()
	}

	claims := ServiceTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   cfg.Issuer,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.TokenTTL)),
			ID:        jti,
		},
	}

	token := jwt.NewWithClaims(jwtSigningMethod, claims)
	signed, err := token.SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

// ParseServiceToken validates an inbound service JWT and returns typed claims.
func ParseServiceToken(cfg config.ServiceAuthConfig, tokenString string) (*ServiceTokenClaims, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("service auth secret is required")
	}

	claims := &ServiceTokenClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method != jwtSigningMethod {
				return nil, fmt.Errorf("unexpected signing method %s", token.Header["alg"])
			}
			return []byte(cfg.Secret), nil
		},
		jwt.WithValidMethods([]string{jwtSigningMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
	)
	if err != nil {
		return nil, err
	}

	return claims, nil
}
