// Package oidc implements the OpenID Connect sign-in method: a family of
// providers driven through the authorization code flow with CSRF state,
// nonce and PKCE, reconciling users and connections through storage.
package oidc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/zero-auth/shield/pkg/nonce"
	oidcclient "github.com/zero-auth/shield/pkg/oidc"
	"github.com/zero-auth/shield/pkg/shield"
	"github.com/zero-auth/shield/pkg/storage"
)

const MethodID = "oidc"

// State is the method's session sub-state: single-use secrets created
// when an authorization request is issued and consumed on the matching
// callback, plus the connection ID once signed in.
type State struct {
	CSRF         string `json:"csrf,omitempty"`
	Nonce        string `json:"nonce,omitempty"`
	Verifier     string `json:"verifier,omitempty"`
	ConnectionID string `json:"connection_id,omitempty"`
}

type Method struct {
	storage         Storage
	staticProviders []Provider
	signInRedirect  string
	nonces          nonce.Service
	actions         []shield.Action

	mu      sync.Mutex
	clients map[string]*oidcclient.Client
}

type Option func(*Method) error

func WithStorage(s Storage) Option {
	return func(m *Method) error {
		m.storage = s
		return nil
	}
}

// WithProvider adds a statically configured provider.
func WithProvider(p Provider) Option {
	return func(m *Method) error {
		if err := validate.Struct(p); err != nil {
			return &shield.ConfigurationError{Reason: fmt.Sprintf("invalid oidc provider %q", p.ProviderName), Err: err}
		}
		m.staticProviders = append(m.staticProviders, p)
		return nil
	}
}

func WithProviders(providers ...Provider) Option {
	return func(m *Method) error {
		for _, p := range providers {
			if err := WithProvider(p)(m); err != nil {
				return err
			}
		}
		return nil
	}
}

// WithSignInRedirect sets where a completed sign-in redirects to.
func WithSignInRedirect(url string) Option {
	return func(m *Method) error {
		m.signInRedirect = url
		return nil
	}
}

// WithNonceService makes nonces single-use across the whole process
// instead of only per session.
func WithNonceService(ns nonce.Service) Option {
	return func(m *Method) error {
		m.nonces = ns
		return nil
	}
}

func New(opts ...Option) (*Method, error) {
	m := &Method{
		signInRedirect: "/",
		clients:        make(map[string]*oidcclient.Client),
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	m.actions = []shield.Action{
		&signInAction{method: m},
		&signInCallbackAction{method: m},
		&signOutAction{},
	}
	return m, nil
}

func (m *Method) ID() string {
	return MethodID
}

func (m *Method) Actions() []shield.Action {
	return m.actions
}

func (m *Method) Providers(ctx context.Context) ([]shield.Provider, error) {
	out := make([]shield.Provider, 0, len(m.staticProviders))
	for _, p := range m.staticProviders {
		out = append(out, p)
	}

	if m.storage != nil {
		stored, err := m.storage.Providers(ctx)
		if err != nil {
			return nil, err
		}
		for _, p := range stored {
			out = append(out, p)
		}
	}

	return out, nil
}

func (m *Method) ProviderByID(ctx context.Context, id string) (shield.Provider, error) {
	if id == "" {
		providers, err := m.Providers(ctx)
		if err != nil {
			return nil, err
		}
		if len(providers) == 1 {
			return providers[0], nil
		}
		return nil, shield.NewProviderNotFound(MethodID, id)
	}

	for _, p := range m.staticProviders {
		if p.ProviderID == id || p.Slug == id {
			return p, nil
		}
	}

	if m.storage != nil {
		p, err := m.storage.ProviderByIDOrSlug(ctx, id)
		if err == nil {
			return *p, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}

	return nil, shield.NewProviderNotFound(MethodID, id)
}

// client returns the discovery-backed protocol client for a provider,
// building and caching it on first use.
func (m *Method) client(ctx context.Context, p Provider) (*oidcclient.Client, error) {
	m.mu.Lock()
	cached, ok := m.clients[p.key()]
	m.mu.Unlock()
	if ok {
		return cached, nil
	}

	client, err := oidcclient.NewClient(ctx, oidcclient.Config{
		Issuer:              p.Issuer,
		ClientID:            p.ClientID,
		ClientSecret:        p.ClientSecret,
		RedirectURI:         p.RedirectURI,
		Scopes:              p.Scopes,
		CodeChallengeMethod: p.CodeChallengeMethod,
		AuthorizationParams: p.AuthorizationParams,
		TokenParams:         p.TokenParams,
	})
	if err != nil {
		return nil, &shield.ConfigurationError{Reason: fmt.Sprintf("oidc provider %q", p.ProviderName), Err: err}
	}

	m.mu.Lock()
	m.clients[p.key()] = client
	m.mu.Unlock()
	return client, nil
}
