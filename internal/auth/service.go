package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/odyssey-erp/hardware-ledger/internal/shared"
)

// Service signs and verifies HS256 bearer tokens.
type Service struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewService constructs a new Service.
func NewService(secret, issuer string) (*Service, error) {
	if secret == "" {
		return nil, errors.New("auth: secret required")
	}
	return &Service{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

// Issue signs a token for the principal that expires after ttl.
func (s *Service) Issue(p shared.Principal, ttl time.Duration) (string, error) {
	now := s.now()
	claims := Claims{
		Name:  p.Name,
		Roles: p.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Verify parses raw and returns the principal it names.
func (s *Service) Verify(raw string) (shared.Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return shared.Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return shared.Principal{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return shared.Principal{UserID: claims.Subject, Name: claims.Name, Roles: claims.Roles}, nil
}
