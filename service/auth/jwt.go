package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/SplitFi/go-threads/env"
	"github.com/SplitFi/go-threads/service/persist"
)

type TokenType string

const TokenTypeAuth TokenType = "auth"

type ThreadsClaims struct {
	TokenType TokenType `json:"token_type"`
	jwt.RegisteredClaims
}

// AuthTokenClaims identify the viewer a request acts for.
type AuthTokenClaims struct {
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url,omitempty"`
	ThreadsClaims
}

func (c AuthTokenClaims) Viewer() persist.UserSummary {
	return persist.UserSummary{ID: c.UserID, Username: c.Username, AvatarURL: c.AvatarURL}
}

func GenerateAuthToken(ctx context.Context, viewer persist.UserSummary) (string, error) {
	secret := env.GetString("AUTH_JWT_SECRET")
	validFor := env.GetDuration("AUTH_JWT_TTL")

	claims := AuthTokenClaims{
		UserID:        viewer.ID,
		Username:      viewer.Username,
		AvatarURL:     viewer.AvatarURL,
		ThreadsClaims: newThreadsClaims(TokenTypeAuth, validFor),
	}

	return generateJWT(claims, secret)
}

func ParseAuthToken(ctx context.Context, token string) (AuthTokenClaims, error) {
	claims := AuthTokenClaims{}
	parsedToken, err := jwt.ParseWithClaims(token, &claims, keyFunc(env.GetString("AUTH_JWT_SECRET")))

	if err != nil || !parsedToken.Valid || claims.TokenType != TokenTypeAuth {
		return AuthTokenClaims{}, ErrInvalidJWT
	}

	return claims, nil
}

func newThreadsClaims(tokenType TokenType, validFor time.Duration) ThreadsClaims {
	return ThreadsClaims{
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validFor)),
			Issuer:    "threads",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
}

func generateJWT(claims jwt.Claims, jwtSecret string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	jwtToken, err := token.SignedString([]byte(jwtSecret))
	if err != nil {
		return "", err
	}

	return jwtToken, nil
}

func keyFunc(secret string) jwt.Keyfunc {
	return func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidJWT
		}
		return []byte(secret), nil
	}
}
