package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// ServiceTokenPayload captures the data available when minting a
// service-to-service JWT.
type ServiceTokenPayload struct {
	Audience string
	JTI      string
}

// ServiceTokenClaims represents the typed JWT attached to outbound
// collaborator calls.
type ServiceTokenClaims struct {
	jwt.RegisteredClaims
}
