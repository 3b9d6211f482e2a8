package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rocketscienceinc/partyroom-backend/internal/apperror"
)

// Session identifies a player inside a room. It is what a session token carries.
type Session struct {
	PlayerID string
	RoomID   string
}

type AuthService interface {
	GenerateToken(session Session) (string, error)
	ParseToken(token string) (Session, error)
}

type sessionClaims struct {
	RoomID string `json:"room_id"`
	jwt.RegisteredClaims
}

type authServiceImpl struct {
	secretKey []byte
	ttl       time.Duration
	now       func() time.Time
}

func NewAuthService(secretKey string, ttl time.Duration) AuthService {
	return &authServiceImpl{
		secretKey: []byte(secretKey),
		ttl:       ttl,
		now:       time.Now,
	}
}

func (that *authServiceImpl) GenerateToken(session Session) (string, error) {
	now := that.now()

	claims := sessionClaims{
		RoomID: session.RoomID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.PlayerID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(that.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString(that.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

func (that *authServiceImpl) ParseToken(tokenString string) (Session, error) {
	claims := &sessionClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}

		return that.secretKey, nil
	}, jwt.WithTimeFunc(that.now))
	if err != nil || !token.Valid {
		return Session{}, fmt.Errorf("%w: %w", apperror.ErrInvalidToken, err)
	}

	if claims.Subject == "" || claims.RoomID == "" {
		return Session{}, fmt.Errorf("%w: missing subject", apperror.ErrInvalidToken)
	}

	return Session{PlayerID: claims.Subject, RoomID: claims.RoomID}, nil
}
