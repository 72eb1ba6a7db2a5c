package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims represents the claims in our JWT token
type JWTClaims struct {
	TraineeID string `json:"trainee_id"`
	Role      string `json:"role"` // "trainee" or "coach"
	jwt.RegisteredClaims
}

// Authenticator issues and validates API tokens for trainees and coaches.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator creates an authenticator signing with secret.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// GenerateTraineeToken generates a JWT token for a trainee
func (a *Authenticator) GenerateTraineeToken(traineeID string) (string, error) {
	claims := &JWTClaims{
		TraineeID: traineeID,
		Role:      "trainee",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// GenerateCoachToken generates a JWT token for a coach reviewing sessions
func (a *Authenticator) GenerateCoachToken(coachID string) (string, error) {
	claims := &JWTClaims{
		TraineeID: coachID,
		Role:      "coach",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(7 * 24 * time.Hour)), // 7 days
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// ValidateToken validates a JWT token and returns the claims
func (a *Authenticator) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, jwt.ErrInvalidKey
}
