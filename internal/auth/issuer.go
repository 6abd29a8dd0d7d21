package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"tourplan/internal/model"
)

var ErrBadCredentials = errors.New("bad credentials")

// Issuer signs HS256 tokens that a Verifier in hmac mode accepts.
type Issuer struct {
	Secret []byte
	Name   string
	TTL    time.Duration
	now    func() time.Time
}

func NewIssuer(secret []byte, name string, ttl time.Duration) *Issuer {
	return &Issuer{Secret: secret, Name: name, TTL: ttl, now: time.Now}
}

func (is *Issuer) Issue(u model.User) (string, time.Time, error) {
	now := time.Now
	if is.now != nil {
		now = is.now
	}
	iat := now()
	exp := iat.Add(is.TTL)
	claims := jwt.MapClaims{
		"sub":    u.Username,
		"tenant": u.TenantID,
		"role":   u.Role,
		"iat":    iat.Unix(),
		"exp":    exp.Unix(),
	}
	if is.Name != "" {
		claims["iss"] = is.Name
	}
	if u.CourierID != "" {
		claims["courier"] = u.CourierID
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(is.Secret)
	return tok, exp, err
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword returns ErrBadCredentials when password does not match hash.
func CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrBadCredentials
	}
	return nil
}
