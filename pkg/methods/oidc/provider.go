package oidc

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/zero-auth/shield/pkg/oauth2"
	"github.com/zero-auth/shield/pkg/shield"
	"github.com/zero-auth/shield/pkg/storage"
)

// Provider is one configured OpenID Connect issuer. Immutable once
// constructed and freely shared across concurrent requests.
type Provider struct {
	ProviderID          string                     `yaml:"id"`
	Slug                string                     `yaml:"slug"`
	ProviderName        string                     `yaml:"name" validate:"required"`
	Issuer              string                     `yaml:"issuer" validate:"required,url"`
	ClientID            string                     `yaml:"client_id" validate:"required"`
	ClientSecret        oauth2.SecretString        `yaml:"client_secret"`
	RedirectURI         string                     `yaml:"redirect_uri" validate:"required,url"`
	Scopes              []string                   `yaml:"scopes"`
	CodeChallengeMethod oauth2.CodeChallengeMethod `yaml:"code_challenge_method" validate:"omitempty,oneof=plain S256"`
	AuthorizationParams map[string]string          `yaml:"authorization_params"`
	TokenParams         map[string]string          `yaml:"token_params"`
}

func (p Provider) MethodID() string {
	return MethodID
}

func (p Provider) ID() string {
	return p.ProviderID
}

func (p Provider) Name() string {
	return p.ProviderName
}

func (p Provider) Form() *shield.Form {
	return nil
}

// key identifies the provider in the client cache; tenant providers have
// an ID, singletons fall back to the issuer.
func (p Provider) key() string {
	if p.ProviderID != "" {
		return p.ProviderID
	}
	return p.Issuer
}

var validate = validator.New()

// LoadProvidersFile reads a YAML list of providers and validates it.
func LoadProvidersFile(path string) ([]Provider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read providers file: %w", err)
	}

	var providers []Provider
	if err := yaml.Unmarshal(data, &providers); err != nil {
		return nil, fmt.Errorf("unmarshal providers file: %w", err)
	}

	for i, p := range providers {
		if err := validate.Struct(p); err != nil {
			return nil, fmt.Errorf("validate provider %d: %w", i, err)
		}
	}

	return providers, nil
}

// Connection is one linked external identity. (ProviderID, Identifier)
// is unique; tokens rotate on every successful callback.
type Connection struct {
	ID           string
	Identifier   string
	TokenType    string
	AccessToken  oauth2.SecretString
	RefreshToken *oauth2.SecretString
	IDToken      *oauth2.SecretString
	ExpiredAt    *time.Time
	Scopes       []string
	ProviderID   string
	UserID       string
}

type CreateConnection struct {
	Identifier   string
	TokenType    string
	AccessToken  oauth2.SecretString
	RefreshToken *oauth2.SecretString
	IDToken      *oauth2.SecretString
	ExpiredAt    *time.Time
	Scopes       []string
	ProviderID   string
	UserID       string
}

type UpdateConnection struct {
	ID           string
	TokenType    string
	AccessToken  oauth2.SecretString
	RefreshToken *oauth2.SecretString
	IDToken      *oauth2.SecretString
	ExpiredAt    *time.Time
	Scopes       []string
}

// Storage is the persistence contract the OIDC method consumes.
type Storage interface {
	storage.UserStorage
	Providers(ctx context.Context) ([]Provider, error)
	ProviderByIDOrSlug(ctx context.Context, id string) (*Provider, error)
	ConnectionByID(ctx context.Context, id string) (*Connection, error)
	ConnectionByIdentifier(ctx context.Context, providerID, identifier string) (*Connection, error)
	CreateConnection(ctx context.Context, input CreateConnection) (*Connection, error)
	UpdateConnection(ctx context.Context, input UpdateConnection) (*Connection, error)
	DeleteConnection(ctx context.Context, id string) error
}
