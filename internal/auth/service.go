package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/terminal-bench/revguard/internal/protocol"
)

// User is a gateway account. Address is the on-ledger identity used by the
// pool and guarantee engines.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}

// Claims are the JWT claims issued at login.
type Claims struct {
	UserID  string `json:"user_id"`
	Email   string `json:"email"`
	Address string `json:"address"`
	jwt.RegisteredClaims
}

type record struct {
	user         User
	passwordHash []byte
}

// Service manages accounts and issues signed tokens.
type Service struct {
	mu        sync.RWMutex
	byEmail   map[string]*record
	jwtSecret []byte
	tokenTTL  time.Duration
}

func NewService(jwtSecret string, tokenTTL time.Duration) *Service {
	if tokenTTL == 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Service{
		byEmail:   make(map[string]*record),
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
	}
}

// Register creates an account. The derived address is stable per account and
// is what the ledger knows the caller as.
func (s *Service) Register(_ context.Context, email, password string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: invalid email", protocol.ErrValidation)
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("%w: password must be at least 8 characters", protocol.ErrValidation)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[email]; exists {
		return nil, fmt.Errorf("%w: email already registered", protocol.ErrState)
	}

	id := uuid.New().String()
	u := User{
		ID:        id,
		Email:     email,
		Address:   "acct:" + id,
		CreatedAt: time.Now(),
	}
	s.byEmail[email] = &record{user: u, passwordHash: hash}
	return &u, nil
}

// Login verifies credentials and returns a signed JWT.
func (s *Service) Login(_ context.Context, email, password string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	s.mu.RLock()
	rec, ok := s.byEmail[email]
	s.mu.RUnlock()
	if !ok {
		return "", protocol.ErrUnauthorized
	}
	if bcrypt.CompareHashAndPassword(rec.passwordHash, []byte(password)) != nil {
		return "", protocol.ErrUnauthorized
	}

	now := time.Now()
	claims := &Claims{
		UserID:  rec.user.ID,
		Email:   rec.user.Email,
		Address: rec.user.Address,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// VerifyToken parses and validates a bearer token.
func (s *Service) VerifyToken(tokenString string) (*Claims, error) {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, protocol.ErrUnauthorized
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, protocol.ErrUnauthorized
	}
	return claims, nil
}

// UserByEmail returns the account for email.
func (s *Service) UserByEmail(email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, protocol.ErrNotFound
	}
	u := rec.user
	return &u, nil
}
