// Package oauth implements the plain OAuth2 sign-in method: the
// authorization code flow with CSRF state and PKCE against providers
// that expose identity through a userinfo endpoint.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/zero-auth/shield/pkg/oauth2"
	"github.com/zero-auth/shield/pkg/shield"
	"github.com/zero-auth/shield/pkg/storage"
)

const MethodID = "oauth"

// State is the method's session sub-state: single-use secrets created
// when an authorization request is issued and consumed on the matching
// callback, plus the connection ID once signed in.
type State struct {
	CSRF         string `json:"csrf,omitempty"`
	Verifier     string `json:"verifier,omitempty"`
	ConnectionID string `json:"connection_id,omitempty"`
}

type Method struct {
	storage         Storage
	staticProviders []Provider
	signInRedirect  string
	actions         []shield.Action

	mu      sync.Mutex
	clients map[string]*oauth2.Client
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
			return &shield.ConfigurationError{Reason: fmt.Sprintf("invalid oauth provider %q", p.ProviderName), Err: err}
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

func New(opts ...Option) (*Method, error) {
	m := &Method{
		signInRedirect: "/",
		clients:        make(map[string]*oauth2.Client),
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

func (m *Method) client(p Provider) (*oauth2.Client, error) {
	key := p.ProviderID
	if key == "" {
		key = p.Endpoints.AuthorizationURL
	}

	m.mu.Lock()
	cached, ok := m.clients[key]
	m.mu.Unlock()
	if ok {
		return cached, nil
	}

	client, err := oauth2.NewClient(oauth2.Config{
		ClientID:            p.ClientID,
		ClientSecret:        p.ClientSecret,
		RedirectURI:         p.RedirectURI,
		Scopes:              p.Scopes,
		CodeChallengeMethod: p.CodeChallengeMethod,
		AuthorizationParams: p.AuthorizationParams,
		TokenParams:         p.TokenParams,
		Endpoints:           p.Endpoints,
	})
	if err != nil {
		return nil, &shield.ConfigurationError{Reason: fmt.Sprintf("oauth provider %q", p.ProviderName), Err: err}
	}

	m.mu.Lock()
	m.clients[key] = client
	m.mu.Unlock()
	return client, nil
}
