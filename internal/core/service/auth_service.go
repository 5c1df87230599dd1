package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/martijn/snapkeep/internal/core/domain"
	"github.com/martijn/snapkeep/internal/core/repository"
)

const (
	DefaultTokenTTL = time.Hour
	BcryptCost      = 10
)

var ErrInvalidCredentials = errors.New("invalid client credentials")

type AuthService struct {
	clientRepo   repository.ClientRepository
	jwtSecret    string
	jwtAlgorithm string
	tokenTTL     time.Duration
}

func NewAuthService(
	clientRepo repository.ClientRepository,
	jwtSecret string,
	jwtAlgorithm string,
	tokenTTL time.Duration,
) *AuthService {
	if tokenTTL <= 0 {
		tokenTTL = DefaultTokenTTL
	}
	return &AuthService{
		clientRepo:   clientRepo,
		jwtSecret:    jwtSecret,
		jwtAlgorithm: jwtAlgorithm,
		tokenTTL:     tokenTTL,
	}
}

// HashSecret hashes a client secret using bcrypt
func (s *AuthService) HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(hash), nil
}

// VerifySecret verifies a secret against a hash
func (s *AuthService) VerifySecret(secret, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func validateScopes(scopes []string) error {
	if len(scopes) == 0 {
		return validationError("at least one scope is required")
	}
	for _, scope := range scopes {
		switch scope {
		case domain.ScopeRead, domain.ScopeWrite, domain.ScopeTrigger, domain.ScopeAll:
		default:
			return validationError("invalid scope %q", scope)
		}
	}
	return nil
}

// CreateClient registers an API client. The plain secret is returned once
// and only its hash is stored.
func (s *AuthService) CreateClient(ctx context.Context, label string, scopes []string) (*domain.Client, string, error) {
	if label == "" {
		return nil, "", validationError("label is required")
	}
	if err := validateScopes(scopes); err != nil {
		return nil, "", err
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, "", err
	}
	hash, err := s.HashSecret(secret)
	if err != nil {
		return nil, "", err
	}

	client := domain.NewClient(label, hash, scopes)
	if err := s.clientRepo.Create(ctx, client); err != nil {
		return nil, "", translate(err, "client")
	}
	return client, secret, nil
}

func (s *AuthService) GetClient(ctx context.Context, id string) (*domain.Client, error) {
	client, err := s.clientRepo.FindByID(ctx, id)
	if err != nil {
		return nil, translate(err, "client")
	}
	return client, nil
}

func (s *AuthService) ListClients(ctx context.Context) ([]*domain.Client, error) {
	return s.clientRepo.List(ctx)
}

// UpdateClient changes label and/or scopes. Nil arguments are left alone.
func (s *AuthService) UpdateClient(ctx context.Context, id string, label *string, scopes []string) (*domain.Client, error) {
	client, err := s.clientRepo.FindByID(ctx, id)
	if err != nil {
		return nil, translate(err, "client")
	}
	if label != nil {
		if *label == "" {
			return nil, validationError("label must not be empty")
		}
		client.Label = *label
	}
	if scopes != nil {
		if err := validateScopes(scopes); err != nil {
			return nil, err
		}
		client.Scopes = scopes
	}
	client.UpdatedAt = time.Now().UTC()
	if err := s.clientRepo.Update(ctx, client); err != nil {
		return nil, translate(err, "client")
	}
	return client, nil
}

func (s *AuthService) DeleteClient(ctx context.Context, id string) error {
	return translate(s.clientRepo.Delete(ctx, id), "client")
}

// AuthenticateClient authenticates a client and returns a JWT token
func (s *AuthService) AuthenticateClient(ctx context.Context, clientID, clientSecret string) (string, time.Time, error) {
	client, err := s.clientRepo.FindByID(ctx, clientID)
	if err != nil {
		return "", time.Time{}, ErrInvalidCredentials
	}
	if !s.VerifySecret(clientSecret, client.Secret) {
		return "", time.Time{}, ErrInvalidCredentials
	}
	return s.generateJWT(clientID, client.Scopes)
}

// ValidateToken validates a JWT token and returns the claims
func (s *AuthService) ValidateToken(tokenString string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != s.signingMethod().Alg() {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	if claims, ok := token.Claims.(*TokenClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, fmt.Errorf("invalid token claims")
}

func (s *AuthService) signingMethod() jwt.SigningMethod {
	switch s.jwtAlgorithm {
	case "HS384":
		return jwt.SigningMethodHS384
	case "HS512":
		return jwt.SigningMethodHS512
	default:
		return jwt.SigningMethodHS256
	}
}

func (s *AuthService) generateJWT(subject string, scopes []string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.tokenTTL)

	claims := TokenClaims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "snapkeep",
		},
	}

	token := jwt.NewWithClaims(s.signingMethod(), claims)
	signed, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// TokenClaims represents JWT claims
type TokenClaims struct {
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}
