// Package auth issues and verifies invite tokens. A token names an invite
// and its inviter; the link key that decrypts invite-addressed keys travels
// separately in the URL fragment and never reaches the server.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/sharekeeper/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// InviteClaims are the claims carried by an invite token.
type InviteClaims struct {
	jwt.RegisteredClaims
	InviteID  string `json:"iid"`
	InviterID string `json:"inv"`
}

const issuer = "sharekeeper"

// GenerateInviteToken signs an HS256 token for an invite that expires at
// expiresAt.
func GenerateInviteToken(inviteID, inviterID string, expiresAt time.Time, secretKey []byte) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, InviteClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   inviteID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		InviteID:  inviteID,
		InviterID: inviterID,
	})

	return token.SignedString(secretKey)
}

// ParseInviteToken verifies the token and returns its claims. An expired
// token gives common.ErrInviteExpired, anything else that fails
// verification gives common.ErrInvalidToken.
func ParseInviteToken(tokenString string, secretKey []byte) (*InviteClaims, error) {
	claims := &InviteClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrInviteExpired
		}
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidToken, err)
	}

	if !token.Valid || claims.InviteID == "" || claims.InviteID != claims.Subject {
		return nil, common.ErrInvalidToken
	}

	return claims, nil
}
