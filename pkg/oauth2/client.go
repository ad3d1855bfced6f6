package oauth2

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Endpoints are the authorization server URLs a client talks to.
type Endpoints struct {
	AuthorizationURL string `yaml:"authorization_url" validate:"required,url"`
	TokenURL         string `yaml:"token_url" validate:"required,url"`
	UserinfoURL      string `yaml:"userinfo_url" validate:"omitempty,url"`
}

type Config struct {
	ClientID            string              `yaml:"client_id" validate:"required"`
	ClientSecret        SecretString        `yaml:"client_secret"`
	RedirectURI         string              `yaml:"redirect_uri" validate:"required,url"`
	Scopes              []string            `yaml:"scopes"`
	CodeChallengeMethod CodeChallengeMethod `yaml:"code_challenge_method"`
	// Extra static parameters appended to every authorization request
	// and token request respectively.
	AuthorizationParams map[string]string `yaml:"authorization_params"`
	TokenParams         map[string]string `yaml:"token_params"`
	Endpoints           Endpoints         `yaml:"endpoints"`
}

// Client drives the authorization code grant against one authorization
// server. It is immutable after construction and safe for concurrent use.
type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client_id is required")
	}
	if cfg.Endpoints.AuthorizationURL == "" || cfg.Endpoints.TokenURL == "" {
		return nil, fmt.Errorf("authorization and token endpoints are required")
	}
	if _, err := url.Parse(cfg.Endpoints.AuthorizationURL); err != nil {
		return nil, fmt.Errorf("invalid authorization endpoint: %w", err)
	}

	return &Client{
		cfg:  cfg,
		http: http.DefaultClient,
	}, nil
}

// WithHTTPClient replaces the underlying HTTP client, e.g. to add
// timeouts. Returns the client for chaining during construction.
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	c.http = httpClient
	return c
}

func (c *Client) ClientID() string {
	return c.cfg.ClientID
}

func (c *Client) RedirectURI() string {
	return c.cfg.RedirectURI
}

func (c *Client) CodeChallengeMethod() CodeChallengeMethod {
	return c.cfg.CodeChallengeMethod
}

// AuthCodeURL builds the authorization URL for one sign-in attempt. The
// verifier is ignored when the client's PKCE policy is none.
func (c *Client) AuthCodeURL(state, verifier string, opts ...ParameterOption) (string, error) {
	query := url.Values{}
	query.Add("client_id", c.cfg.ClientID)
	query.Add("redirect_uri", c.cfg.RedirectURI)
	query.Add("response_type", "code")
	query.Add("scope", strings.Join(c.cfg.Scopes, " "))
	query.Add("state", state)

	if c.cfg.CodeChallengeMethod != CodeChallengeMethodNone {
		challenge, err := c.cfg.CodeChallengeMethod.ChallengeFromVerifier(verifier)
		if err != nil {
			return "", err
		}
		query.Add("code_challenge", challenge)
		query.Add("code_challenge_method", string(c.cfg.CodeChallengeMethod))
	}

	for name, value := range c.cfg.AuthorizationParams {
		query.Set(name, value)
	}
	for _, opt := range opts {
		opt(query)
	}

	return fmt.Sprintf("%s?%s", c.cfg.Endpoints.AuthorizationURL, query.Encode()), nil
}

// Exchange trades an authorization code for tokens at the token endpoint.
// Authorization server errors decode into *Error.
func (c *Client) Exchange(ctx context.Context, code, verifier string, opts ...ParameterOption) (*TokenResponse, error) {
	params := url.Values{}
	params.Set("client_id", c.cfg.ClientID)
	if !c.cfg.ClientSecret.IsZero() {
		params.Set("client_secret", c.cfg.ClientSecret.Value())
	}
	params.Set("code", code)
	params.Set("redirect_uri", c.cfg.RedirectURI)
	params.Set("grant_type", "authorization_code")
	if verifier != "" {
		params.Set("code_verifier", verifier)
	}

	for name, value := range c.cfg.TokenParams {
		params.Set(name, value)
	}
	for _, opt := range opts {
		opt(params)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoints.TokenURL, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("unable to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("unable to exchange code for token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("unable to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var oauthErr Error
		if err := json.Unmarshal(body, &oauthErr); err != nil {
			return nil, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
		}
		return nil, &oauthErr
	}

	var tokenResponse TokenResponse
	if err := json.Unmarshal(body, &tokenResponse); err != nil {
		return nil, fmt.Errorf("unable to decode token response: %w", err)
	}

	return &tokenResponse, nil
}

// Userinfo fetches identity claims with the access token. Requires the
// userinfo endpoint to be configured.
func (c *Client) Userinfo(ctx context.Context, accessToken string) (map[string]any, error) {
	if c.cfg.Endpoints.UserinfoURL == "" {
		return nil, fmt.Errorf("no userinfo endpoint configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoints.UserinfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to build userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("unable to fetch userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo endpoint returned status %d", resp.StatusCode)
	}

	var claims map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return nil, fmt.Errorf("unable to decode userinfo response: %w", err)
	}

	return claims, nil
}
