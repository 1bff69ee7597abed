package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/devpair/internal/types"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultTokenExpiration = time.Hour * 24 * 7

	userIdClaim   = "user-id"
	usernameClaim = "username"
	expClaim      = "exp"
)

// ErrUnauthorized is returned for any missing, malformed, expired or
// incomplete credential.
var ErrUnauthorized = errors.New("unauthorized")

// ErrNoToken is returned when no credential was presented at all.
var ErrNoToken = fmt.Errorf("%w: no token", ErrUnauthorized)

// Verifier resolves a credential into the identity bound to a connection.
type Verifier interface {
	Verify(token string) (types.User, error)
}

type TokenManager struct {
	signingKey []byte
}

func NewTokenManager(signingKey []byte) *TokenManager {
	return &TokenManager{signingKey: signingKey}
}

func (tm *TokenManager) Issue(user types.User, exp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim:   user.Id,
		usernameClaim: user.Username,
		expClaim:      time.Now().Add(exp).Unix(),
	})

	return token.SignedString(tm.signingKey)
}

func (tm *TokenManager) Verify(tokenString string) (types.User, error) {
	if strings.TrimSpace(tokenString) == "" {
		return types.User{}, ErrNoToken
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return tm.signingKey, nil
	})
	if err != nil {
		return types.User{}, fmt.Errorf("%w: parse token: %v", ErrUnauthorized, err)
	}

	if !token.Valid {
		return types.User{}, fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return types.User{}, fmt.Errorf("%w: invalid token claims", ErrUnauthorized)
	}

	userId, _ := claims[userIdClaim].(string)
	username, _ := claims[usernameClaim].(string)
	if userId == "" || username == "" {
		return types.User{}, fmt.Errorf("%w: bad token payload", ErrUnauthorized)
	}

	return types.User{Id: userId, Username: username}, nil
}

func HashPassword(passwd string) (string, error) {
	passwdHash, err := bcrypt.GenerateFromPassword([]byte(passwd), bcrypt.DefaultCost)
	return string(passwdHash), err
}

func VerifyPassword(passwdHash, passwd string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(passwdHash), []byte(passwd))
	return err == nil
}
