package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"infosec-rag/internal/model"
	"infosec-rag/internal/pkg/jwtutil"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrClientExists      = errors.New("client name already exists")
	ErrInvalidCredential = errors.New("invalid client name or secret")
)

const minSecretLength = 16

type APIClientStore interface {
	Create(client *model.APIClient) error
	GetByName(name string) (*model.APIClient, error)
}

type AuthService struct {
	clients       APIClientStore
	jwtSecret     string
	jwtExpiration time.Duration
}

type TokenResult struct {
	Token     string
	ExpiresAt time.Time
	Client    *model.APIClient
}

func NewAuthService(clients APIClientStore, jwtSecret string, jwtExpiration time.Duration) *AuthService {
	return &AuthService{
		clients:       clients,
		jwtSecret:     jwtSecret,
		jwtExpiration: jwtExpiration,
	}
}

// CreateClient registers an API client with a bcrypt-hashed secret.
func (s *AuthService) CreateClient(name, secret string) (*model.APIClient, error) {
	name = strings.TrimSpace(name)
	secret = strings.TrimSpace(secret)
	if name == "" || len(secret) < minSecretLength {
		return nil, ErrInvalidInput
	}

	existing, err := s.clients.GetByName(name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrClientExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash secret failed: %w", err)
	}
	client := &model.APIClient{Name: name, SecretHash: string(hash)}
	if err := s.clients.Create(client); err != nil {
		return nil, err
	}
	return client, nil
}

// IssueToken exchanges client credentials for a bearer token.
func (s *AuthService) IssueToken(name, secret string) (*TokenResult, error) {
	name = strings.TrimSpace(name)
	secret = strings.TrimSpace(secret)
	if name == "" || secret == "" {
		return nil, ErrInvalidInput
	}

	client, err := s.clients.GetByName(name)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, ErrInvalidCredential
	}
	if err := bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(secret)); err != nil {
		return nil, ErrInvalidCredential
	}

	token, err := jwtutil.GenerateToken(s.jwtSecret, s.jwtExpiration, client.ID, client.Name)
	if err != nil {
		return nil, err
	}
	return &TokenResult{
		Token:     token,
		ExpiresAt: time.Now().Add(s.jwtExpiration),
		Client:    client,
	}, nil
}
