// Package oauth2 implements the client half of the OAuth2 authorization
// code grant: authorization URL construction, PKCE, code exchange and
// userinfo retrieval.
package oauth2

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
	"net/url"
)

// ParameterOption adds or overrides parameters of an authorization or
// token request.
type ParameterOption func(params url.Values)

func WithAlternateRedirectURI(redirectUri string) ParameterOption {
	return func(params url.Values) {
		if redirectUri != "" {
			params.Set("redirect_uri", redirectUri)
		}
	}
}

func WithNonce(nonce string) ParameterOption {
	return func(params url.Values) {
		if nonce != "" {
			params.Set("nonce", nonce)
		}
	}
}

func WithParam(name, value string) ParameterOption {
	return func(params url.Values) {
		params.Set(name, value)
	}
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
}

// CodeChallengeMethod is the provider's PKCE policy. The empty value
// means PKCE is not used at all.
type CodeChallengeMethod string

const (
	CodeChallengeMethodNone  CodeChallengeMethod = ""
	CodeChallengeMethodPlain CodeChallengeMethod = "plain"
	CodeChallengeMethodS256  CodeChallengeMethod = "S256"
)

// ChallengeFromVerifier derives the code challenge for the method.
func (m CodeChallengeMethod) ChallengeFromVerifier(verifier string) (string, error) {
	switch m {
	case CodeChallengeMethodPlain:
		return verifier, nil
	case CodeChallengeMethodS256:
		return S256ChallengeFromVerifier(verifier), nil
	default:
		return "", fmt.Errorf("unsupported code challenge method %q", string(m))
	}
}

// Error is an RFC 6749 error response from an authorization server.
type Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
	URI         string `json:"error_uri,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

const letters = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-"

// GenerateRandomString returns a random string of n characters from the
// unreserved character set.
func GenerateRandomString(n int) string {
	ret := make([]byte, n)
	for i := 0; i < n; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(letters))))
		if err != nil {
			panic("Random number generation failed")
		}
		ret[i] = letters[num.Int64()]
	}

	return string(ret)
}

func GenerateCodeVerifier() string {
	return GenerateRandomString(128)
}

func S256ChallengeFromVerifier(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(hash[:])
}
