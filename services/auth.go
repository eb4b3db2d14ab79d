package services

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// AuthService implements single-operator bearer auth: one configured
// password hash exchanges for a short-lived HS256 token that guards the API.
type AuthService struct {
	jwtSecret    []byte
	passwordHash string
	tokenExpiry  time.Duration
}

type TokenClaims struct {
	jwt.RegisteredClaims
}

func NewAuthService(jwtSecret, passwordHash string) *AuthService {
	return &AuthService{
		jwtSecret:    []byte(jwtSecret),
		passwordHash: passwordHash,
		tokenExpiry:  24 * time.Hour,
	}
}

// IssueToken verifies the operator password against the configured bcrypt
// hash and mints an access token.
func (s *AuthService) IssueToken(password string) (string, error) {
	if s.passwordHash == "" {
		return "", fmt.Errorf("no password configured")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.passwordHash), []byte(password)); err != nil {
		return "", fmt.Errorf("invalid credentials")
	}

	claims := &TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "operator",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.tokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// VerifyToken checks signature and expiry of an access token.
func (s *AuthService) VerifyToken(token string) error {
	claims := &TokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return fmt.Errorf("failed to parse token: %w", err)
	}
	if !parsed.Valid {
		return fmt.Errorf("invalid token")
	}
	return nil
}

// GetTokenFromCookie extracts token from request cookies
func (s *AuthService) GetTokenFromCookie(r *http.Request, cookieName string) string {
	cookie, err := r.Cookie(cookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// Middleware guards routes with a bearer token from the Authorization
// header, falling back to the access_token cookie so browser EventSource
// and websocket clients work without custom headers.
func (s *AuthService) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ""
		if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
			token = strings.TrimPrefix(header, "Bearer ")
		}
		if token == "" {
			token = s.GetTokenFromCookie(r, "access_token")
		}

		if token == "" || s.VerifyToken(token) != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
