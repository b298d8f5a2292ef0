package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// CookieName is the session cookie carrying the JWT for browser requests.
const CookieName = "clawdeck_token"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Scope    string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

type Service struct {
	jwtSecret []byte
	tokenTTL  time.Duration
}

func NewService(jwtSecret string) *Service {
	return &Service{
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  24 * time.Hour,
	}
}

func (s *Service) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (s *Service) CheckPassword(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

func (s *Service) GenerateToken(userID, username string) (string, error) {
	return s.generate(userID, username, "", s.tokenTTL)
}

func (s *Service) GenerateTokenWithTTL(userID, username string, ttl time.Duration) (string, error) {
	return s.generate(userID, username, "", ttl)
}

// GenerateWSTicket issues a short-lived token for WebSocket upgrades.
// Browsers cannot set headers on a WebSocket handshake, so the UI fetches a
// ticket over the authenticated REST surface and passes it as a query param.
func (s *Service) GenerateWSTicket(userID, username string) (string, error) {
	return s.generate(userID, username, "ws", 30*time.Second)
}

func (s *Service) generate(userID, username, scope string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   userID,
		Username: username,
		Scope:    scope,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *Service) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
