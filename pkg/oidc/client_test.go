package oidc

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// mockProvider is a minimal OpenID provider: discovery, JWKS and token
// minting, enough to exercise the client against real HTTP.
type mockProvider struct {
	server     *httptest.Server
	signingKey jwk.Key
}

func newMockProvider(t *testing.T) *mockProvider {
	t.Helper()

	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	key, err := jwk.FromRaw(raw)
	if err != nil {
		t.Fatal(err)
	}
	key.Set(jwk.KeyIDKey, "test-key-1")
	key.Set(jwk.AlgorithmKey, jwa.RS256)

	p := &mockProvider{signingKey: key}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 p.server.URL,
			"authorization_endpoint": p.server.URL + "/authorize",
			"token_endpoint":         p.server.URL + "/token",
			"jwks_uri":               p.server.URL + "/jwks",
			"userinfo_endpoint":      p.server.URL + "/userinfo",
		})
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, r *http.Request) {
		public, err := p.signingKey.PublicKey()
		if err != nil {
			t.Fatal(err)
		}
		set := jwk.NewSet()
		set.AddKey(public)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(set)
	})

	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func (p *mockProvider) issuer() string { return p.server.URL }

// mintIDToken signs an ID token for the given audience and nonce.
func (p *mockProvider) mintIDToken(t *testing.T, audience, subject, nonce string) string {
	t.Helper()

	builder := jwt.NewBuilder().
		Issuer(p.server.URL).
		Audience([]string{audience}).
		Subject(subject).
		IssuedAt(time.Now()).
		Expiration(time.Now().Add(time.Hour)).
		Claim("email", "jo@example.com").
		Claim("name", "Jo Example")
	if nonce != "" {
		builder = builder.Claim("nonce", nonce)
	}
	token, err := builder.Build()
	if err != nil {
		t.Fatal(err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256, p.signingKey))
	if err != nil {
		t.Fatal(err)
	}
	return string(signed)
}

func newTestClient(t *testing.T, provider *mockProvider) *Client {
	t.Helper()
	client, err := NewClient(context.Background(), Config{
		Issuer:      provider.issuer(),
		ClientID:    "client-1",
		RedirectURI: "https://app.example/callback",
		Scopes:      []string{"profile"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return client
}

func TestNewClientDiscovers(t *testing.T) {
	provider := newMockProvider(t)
	client := newTestClient(t, provider)

	if client.Issuer() != provider.issuer() {
		t.Fatalf("issuer %q", client.Issuer())
	}
	doc := client.DiscoveryDocument()
	if doc.TokenEndpoint != provider.issuer()+"/token" {
		t.Fatalf("token endpoint %q", doc.TokenEndpoint)
	}
}

func TestAuthCodeURLPrependsOpenidScope(t *testing.T) {
	provider := newMockProvider(t)
	client := newTestClient(t, provider)

	rawURL, err := client.AuthCodeURL("state-1", "nonce-1", "")
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(rawURL, provider.issuer()+"/authorize?") {
		t.Fatalf("URL %q", rawURL)
	}

	query := parsed.Query()
	scopes := strings.Fields(query.Get("scope"))
	if len(scopes) == 0 || scopes[0] != "openid" {
		t.Fatalf("scope %q, want openid first", query.Get("scope"))
	}
	if query.Get("nonce") != "nonce-1" {
		t.Fatalf("nonce %q", query.Get("nonce"))
	}
}

func TestParseIDToken(t *testing.T) {
	provider := newMockProvider(t)
	client := newTestClient(t, provider)

	serialized := provider.mintIDToken(t, "client-1", "user-1", "nonce-1")
	token, err := client.ParseIDToken(context.Background(), serialized, "nonce-1")
	if err != nil {
		t.Fatal(err)
	}
	if token.Subject() != "user-1" {
		t.Fatalf("subject %q", token.Subject())
	}
	if email, ok := token.PrivateClaims()["email"]; !ok || email != "jo@example.com" {
		t.Fatalf("email claim %v", email)
	}
}

func TestParseIDTokenRejections(t *testing.T) {
	provider := newMockProvider(t)
	client := newTestClient(t, provider)
	ctx := context.Background()

	t.Run("nonce mismatch", func(t *testing.T) {
		serialized := provider.mintIDToken(t, "client-1", "user-1", "other-nonce")
		if _, err := client.ParseIDToken(ctx, serialized, "nonce-1"); err == nil {
			t.Fatal("token with a mismatched nonce accepted")
		}
	})

	t.Run("wrong audience", func(t *testing.T) {
		serialized := provider.mintIDToken(t, "someone-else", "user-1", "nonce-1")
		if _, err := client.ParseIDToken(ctx, serialized, "nonce-1"); err == nil {
			t.Fatal("token for another client accepted")
		}
	})

	t.Run("wrong issuer key", func(t *testing.T) {
		rogue := newMockProvider(t)
		serialized := rogue.mintIDToken(t, "client-1", "user-1", "nonce-1")
		if _, err := client.ParseIDToken(ctx, serialized, "nonce-1"); err == nil {
			t.Fatal("token signed by another issuer accepted")
		}
	})

	t.Run("garbage", func(t *testing.T) {
		if _, err := client.ParseIDToken(ctx, "not.a.token", "nonce-1"); err == nil {
			t.Fatal("garbage accepted")
		}
	})
}

func TestClientOutlivesConstructionContext(t *testing.T) {
	provider := newMockProvider(t)

	buildCtx, cancel := context.WithCancel(context.Background())
	client, err := NewClient(buildCtx, Config{
		Issuer:      provider.issuer(),
		ClientID:    "client-1",
		RedirectURI: "https://app.example/callback",
	})
	if err != nil {
		t.Fatal(err)
	}
	cancel()

	// Clients are cached across requests, so key verification must not
	// depend on the context of the request that built the client.
	serialized := provider.mintIDToken(t, "client-1", "user-1", "nonce-1")
	token, err := client.ParseIDToken(context.Background(), serialized, "nonce-1")
	if err != nil {
		t.Fatal(err)
	}
	if token.Subject() != "user-1" {
		t.Fatalf("subject %q", token.Subject())
	}
}

func TestFetchDiscoveryDocumentFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	if _, err := FetchDiscoveryDocument(context.Background(), server.URL); err == nil {
		t.Fatal("expected error for missing discovery document")
	}
	if _, err := NewClient(context.Background(), Config{
		Issuer:      server.URL,
		ClientID:    "client-1",
		RedirectURI: "https://app.example/callback",
	}); err == nil {
		t.Fatal("expected client construction to fail without discovery")
	}
}
