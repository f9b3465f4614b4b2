package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/zabefest/platform/internal/model"
	"github.com/zabefest/platform/internal/repository"
)

// ErrInvalidCredentials is returned when login email or password is wrong.
// Deliberately indistinguishable between the two cases.
var ErrInvalidCredentials = errors.New("invalid email or password")

// Claims is the JWT payload issued to platform accounts.
type Claims struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// AuthService issues and validates account tokens.
type AuthService struct {
	users      repository.UserRepository
	issuer     string
	signingKey string
	accessTTL  time.Duration
}

// NewAuthService constructs an AuthService.
func NewAuthService(users repository.UserRepository, issuer, signingKey string, accessTTL time.Duration) *AuthService {
	return &AuthService{users: users, issuer: issuer, signingKey: signingKey, accessTTL: accessTTL}
}

var validRoles = map[string]bool{
	model.RoleAdmin:            true,
	model.RoleRegistrationTeam: true,
	model.RoleModuleHead:       true,
	model.RoleModuleLeader:     true,
	model.RoleParticipant:      true,
}

// Register creates a new account with a bcrypt password hash.
func (s *AuthService) Register(ctx context.Context, name, email, password, role string) (*model.User, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(strings.ToLower(email))
	if name == "" || email == "" {
		return nil, fmt.Errorf("name and email are required")
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("password must be at least 8 characters")
	}
	if !validRoles[role] {
		return nil, fmt.Errorf("invalid role %q", role)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &model.User{Name: name, Email: email, PasswordHash: string(hash), Role: role}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Login verifies credentials and issues a signed access token.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, *model.User, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return "", nil, ErrInvalidCredentials
	}

	now := time.Now()
	claims := Claims{
		Name:  user.Name,
		Email: user.Email,
		Role:  user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.signingKey))
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return token, user, nil
}

// Parse validates a token string and returns its claims.
func (s *AuthService) Parse(tokenStr string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(s.signingKey), nil
	})
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if s.issuer != "" && claims.Issuer != s.issuer {
		return Claims{}, errors.New("issuer mismatch")
	}
	return *claims, nil
}

// EnsureAdmin seeds a bootstrap admin account when the users table is empty.
func (s *AuthService) EnsureAdmin(ctx context.Context, email, password string) error {
	if email == "" || password == "" {
		return nil
	}
	count, err := s.users.Count(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	if _, err := s.Register(ctx, "Administrator", email, password, model.RoleAdmin); err != nil {
		return fmt.Errorf("seed admin account: %w", err)
	}
	log.Printf("seeded bootstrap admin account %s", email)
	return nil
}
