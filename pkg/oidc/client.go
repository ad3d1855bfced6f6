// Package oidc layers OpenID Connect on top of the oauth2 client:
// provider discovery, ID token verification against the provider's JWKS
// and nonce binding.
package oidc

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/zero-auth/shield/pkg/oauth2"
)

type Config struct {
	Issuer              string                     `yaml:"issuer" validate:"required,url"`
	ClientID            string                     `yaml:"client_id" validate:"required"`
	ClientSecret        oauth2.SecretString        `yaml:"client_secret"`
	RedirectURI         string                     `yaml:"redirect_uri" validate:"required,url"`
	Scopes              []string                   `yaml:"scopes"`
	CodeChallengeMethod oauth2.CodeChallengeMethod `yaml:"code_challenge_method"`
	AuthorizationParams map[string]string          `yaml:"authorization_params"`
	TokenParams         map[string]string          `yaml:"token_params"`
}

type Client struct {
	cfg               Config
	oauth             *oauth2.Client
	discoveryDocument *DiscoveryDocument
	keyCache          *jwk.Cache
}

// NewClient discovers the provider configuration and prepares the
// auto-refreshing signing key cache.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	scopes := cfg.Scopes
	if !slices.Contains(scopes, "openid") {
		scopes = append([]string{"openid"}, scopes...)
	}

	doc, err := FetchDiscoveryDocument(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch discovery document for %s: %w", cfg.Issuer, err)
	}

	oauthClient, err := oauth2.NewClient(oauth2.Config{
		ClientID:            cfg.ClientID,
		ClientSecret:        cfg.ClientSecret,
		RedirectURI:         cfg.RedirectURI,
		Scopes:              scopes,
		CodeChallengeMethod: cfg.CodeChallengeMethod,
		AuthorizationParams: cfg.AuthorizationParams,
		TokenParams:         cfg.TokenParams,
		Endpoints: oauth2.Endpoints{
			AuthorizationURL: doc.AuthorizationEndpoint,
			TokenURL:         doc.TokenEndpoint,
			UserinfoURL:      doc.UserinfoEndpoint,
		},
	})
	if err != nil {
		return nil, err
	}

	// The cache outlives the constructing request: its context drives the
	// background refresh for the client's whole lifetime.
	keyCache := jwk.NewCache(context.Background())
	keyCache.Register(doc.JwksURI, jwk.WithMinRefreshInterval(15*time.Minute))
	if _, err := keyCache.Refresh(ctx, doc.JwksURI); err != nil {
		return nil, fmt.Errorf("failed to fetch signing keys: %w", err)
	}

	return &Client{
		cfg:               cfg,
		oauth:             oauthClient,
		discoveryDocument: doc,
		keyCache:          keyCache,
	}, nil
}

func (c *Client) Issuer() string {
	return c.discoveryDocument.Issuer
}

func (c *Client) ClientID() string {
	return c.cfg.ClientID
}

func (c *Client) DiscoveryDocument() *DiscoveryDocument {
	return c.discoveryDocument
}

func (c *Client) CodeChallengeMethod() oauth2.CodeChallengeMethod {
	return c.cfg.CodeChallengeMethod
}

// AuthCodeURL builds the authentication URL with state, nonce and, when
// the PKCE policy requires it, the code challenge.
func (c *Client) AuthCodeURL(state, nonce, verifier string, opts ...ParameterOption) (string, error) {
	opts = append([]oauth2.ParameterOption{oauth2.WithNonce(nonce)}, opts...)
	return c.oauth.AuthCodeURL(state, verifier, opts...)
}

// Exchange trades the authorization code for tokens.
func (c *Client) Exchange(ctx context.Context, code, verifier string, opts ...ParameterOption) (*oauth2.TokenResponse, error) {
	return c.oauth.Exchange(ctx, code, verifier, opts...)
}

// Userinfo fetches claims from the provider's userinfo endpoint.
func (c *Client) Userinfo(ctx context.Context, accessToken string) (map[string]any, error) {
	return c.oauth.Userinfo(ctx, accessToken)
}

// ParseIDToken parses and verifies an ID token against the keys from the
// discovery document, including issuer, audience and the expected nonce.
func (c *Client) ParseIDToken(ctx context.Context, serialized, nonce string) (jwt.Token, error) {
	keySet, err := c.keyCache.Get(ctx, c.discoveryDocument.JwksURI)
	if err != nil {
		return nil, fmt.Errorf("unable to get key set: %w", err)
	}

	token, err := jwt.ParseString(
		serialized,
		jwt.WithKeySet(keySet),
		jwt.WithIssuer(c.discoveryDocument.Issuer),
		jwt.WithAudience(c.cfg.ClientID),
		jwt.WithClaimValue("nonce", nonce),
		jwt.WithRequiredClaim("exp"),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to parse id token: %w", err)
	}
	return token, nil
}

// ParameterOption is re-exported so method implementations only deal with
// one package.
type ParameterOption = oauth2.ParameterOption
