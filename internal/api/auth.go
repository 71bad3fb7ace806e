package api

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt"
)

// Session tokens are minted by the account service; this package only
// verifies them and extracts the authenticated profile id.
const (
	tokenCookieKey = "token"
	profileIdClaim = "profile-id"
)

type contextKey string

const profileIdKey contextKey = "profile-id"

func WithProfileId(ctx context.Context, profileId int) context.Context {
	return context.WithValue(ctx, profileIdKey, profileId)
}

func ProfileId(ctx context.Context) (int, bool) {
	profileId, ok := ctx.Value(profileIdKey).(int)
	return profileId, ok
}

func (s *MessagingApp) extractProfileIdFromToken(tokenString string) (int, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil {
		return 0, fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return 0, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, fmt.Errorf("invalid token claims")
	}

	profileId, ok := claims[profileIdClaim].(float64)
	if !ok {
		return 0, fmt.Errorf("invalid profile id claim")
	}

	return int(profileId), nil
}
