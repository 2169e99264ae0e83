package authenticator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avalkov/peerai-ledger/internal/apperr"
	"github.com/avalkov/peerai-ledger/internal/model"
	"github.com/avalkov/peerai-ledger/internal/storage"
	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"
)

func NewAuthenticator(storage userStorage, secret string, tokenDuration time.Duration) *authenticator {
	return &authenticator{
		storage:       storage,
		jwtKey:        []byte(secret),
		tokenDuration: tokenDuration,
		now:           time.Now,
	}
}

// HashPassword returns the bcrypt hash stored for a user.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (auth *authenticator) Authenticate(ctx context.Context, username, password string) (string, error) {
	user, err := auth.storage.FindUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return "", fmt.Errorf("%w: invalid credentials", apperr.ErrUnauthorized)
		}
		return "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", fmt.Errorf("%w: invalid credentials", apperr.ErrUnauthorized)
	}

	claims := &Claims{
		Username: user.Username,
		UserID:   user.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(auth.now().Add(auth.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(auth.now()),
		},
	}
	if user.WalletAddress != nil {
		claims.WalletAddress = *user.WalletAddress
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(auth.jwtKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

func (auth *authenticator) VerifyToken(token string) (*Claims, error) {
	claims := &Claims{}
	tkn, err := jwt.ParseWithClaims(token, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return auth.jwtKey, nil
	})

	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrUnauthorized, err)
	}

	if !tkn.Valid {
		return nil, fmt.Errorf("%w: invalid token", apperr.ErrUnauthorized)
	}

	return claims, nil
}

type Claims struct {
	Username      string `json:"username"`
	UserID        int64  `json:"userId"`
	WalletAddress string `json:"walletAddress,omitempty"`
	jwt.RegisteredClaims
}

type userStorage interface {
	FindUserByUsername(ctx context.Context, username string) (model.User, error)
}

type authenticator struct {
	storage       userStorage
	jwtKey        []byte
	tokenDuration time.Duration
	now           func() time.Time
}
