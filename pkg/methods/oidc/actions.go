package oidc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/zero-auth/shield/pkg/oauth2"
	oidcclient "github.com/zero-auth/shield/pkg/oidc"
	"github.com/zero-auth/shield/pkg/session"
	"github.com/zero-auth/shield/pkg/shield"
	"github.com/zero-auth/shield/pkg/storage"
)

// narrow converts the registry-supplied provider back to the method's
// concrete type. The registry always supplies the matching type, so a
// mismatch is a wiring fault, not runtime input.
func narrow(p shield.Provider) (Provider, error) {
	prov, ok := p.(Provider)
	if !ok {
		return Provider{}, &shield.ConfigurationError{
			Reason: fmt.Sprintf("provider %T does not belong to method %q", p, MethodID),
		}
	}
	return prov, nil
}

type signInAction struct {
	method *Method
}

func (a *signInAction) ID() string {
	return shield.ActionSignIn
}

func (a *signInAction) Name() string {
	return "Sign in"
}

func (a *signInAction) Condition(p shield.Provider, sess *session.Session) bool {
	return true
}

func (a *signInAction) Forms(ctx context.Context, p shield.Provider) ([]shield.Form, error) {
	return nil, nil
}

// Call starts a new sign-in attempt: it mints the single-use state,
// nonce and PKCE verifier, stores them in the session sub-state
// (overwriting any prior pending attempt) and redirects to the
// provider's authorization endpoint.
func (a *signInAction) Call(ctx context.Context, p shield.Provider, sess *session.Session, req *shield.Request) (*shield.Response, error) {
	prov, err := narrow(p)
	if err != nil {
		return nil, err
	}

	client, err := a.method.client(ctx, prov)
	if err != nil {
		return nil, err
	}

	state := oauth2.GenerateRandomString(64)

	var nonceStr string
	if a.method.nonces != nil {
		if nonceStr, err = a.method.nonces.Get(); err != nil {
			return nil, fmt.Errorf("unable to get nonce: %w", err)
		}
	} else {
		nonceStr = oauth2.GenerateRandomString(32)
	}

	var verifier string
	if prov.CodeChallengeMethod != oauth2.CodeChallengeMethodNone {
		verifier = oauth2.GenerateCodeVerifier()
	}

	authURL, err := client.AuthCodeURL(state, nonceStr, verifier)
	if err != nil {
		return nil, err
	}

	// a new attempt invalidates a stale authentication
	sess.ClearAuthentication()
	if err := sess.SetState(MethodID, State{CSRF: state, Nonce: nonceStr, Verifier: verifier}); err != nil {
		return nil, err
	}
	if err := sess.Update(ctx); err != nil {
		return nil, err
	}

	slog.Debug("oidc sign-in started", "provider", prov.ProviderName)

	return shield.Redirect(authURL), nil
}

type signInCallbackAction struct {
	method *Method
}

func (a *signInCallbackAction) ID() string {
	return shield.ActionSignInCallback
}

func (a *signInCallbackAction) Name() string {
	return "Sign in callback"
}

func (a *signInCallbackAction) Condition(p shield.Provider, sess *session.Session) bool {
	return true
}

func (a *signInCallbackAction) Forms(ctx context.Context, p shield.Provider) ([]shield.Form, error) {
	return nil, nil
}

// Call completes a pending sign-in attempt. Validation of state and PKCE
// happens strictly before any network call; the pending sub-state is
// cleared once consumed.
func (a *signInCallbackAction) Call(ctx context.Context, p shield.Provider, sess *session.Session, req *shield.Request) (*shield.Response, error) {
	prov, err := narrow(p)
	if err != nil {
		return nil, err
	}

	if errCode := req.Query.Get("error"); errCode != "" {
		return nil, &oauth2.Error{Code: errCode, Description: req.Query.Get("error_description")}
	}

	var st State
	if err := sess.State(MethodID, &st); err != nil {
		return nil, err
	}

	state := req.Query.Get("state")
	code := req.Query.Get("code")
	if state == "" || code == "" {
		return nil, shield.NewValidationError("missing state or code parameter")
	}
	if st.CSRF == "" {
		return nil, shield.NewValidationError("no pending sign-in attempt")
	}
	if state != st.CSRF {
		return nil, shield.NewValidationError("state parameter does not match")
	}
	if prov.CodeChallengeMethod != oauth2.CodeChallengeMethodNone && st.Verifier == "" {
		return nil, shield.NewValidationError("missing PKCE verifier for provider %q", prov.ProviderName)
	}

	client, err := a.method.client(ctx, prov)
	if err != nil {
		return nil, err
	}

	tokens, err := client.Exchange(ctx, code, st.Verifier)
	if err != nil {
		var oauthErr *oauth2.Error
		if errors.As(err, &oauthErr) {
			return nil, err
		}
		return nil, &shield.RequestError{Op: "token exchange", Err: err}
	}

	subject, email, name, err := a.identity(ctx, client, tokens, st.Nonce)
	if err != nil {
		return nil, err
	}

	userID, connectionID, err := a.method.reconcile(ctx, prov, subject, email, name, tokens)
	if err != nil {
		return nil, err
	}

	// rotate the session identity before granting the privilege
	if err := sess.Renew(ctx); err != nil {
		return nil, err
	}
	sess.SetAuthentication(session.Authentication{
		MethodID:   MethodID,
		ProviderID: prov.ID(),
		UserID:     userID,
	})
	if err := sess.SetState(MethodID, State{ConnectionID: connectionID}); err != nil {
		return nil, err
	}
	if err := sess.Update(ctx); err != nil {
		return nil, err
	}

	slog.Info("oidc sign-in completed", "provider", prov.ProviderName, "user", userID)

	return shield.Redirect(a.method.signInRedirect), nil
}

// identity derives the subject and profile claims, preferring a verified
// ID token and falling back to the userinfo endpoint.
func (a *signInCallbackAction) identity(ctx context.Context, client *oidcclient.Client, tokens *oauth2.TokenResponse, nonceStr string) (subject, email, name string, err error) {
	if tokens.IDToken != "" {
		token, parseErr := client.ParseIDToken(ctx, tokens.IDToken, nonceStr)
		if parseErr != nil {
			return "", "", "", shield.NewValidationError("invalid ID token: %v", parseErr)
		}
		if a.method.nonces != nil {
			if redeemErr := a.method.nonces.Redeem(nonceStr); redeemErr != nil {
				return "", "", "", shield.NewValidationError("nonce already used")
			}
		}
		claims := token.PrivateClaims()
		email, _ = claims["email"].(string)
		name, _ = claims["name"].(string)
		return token.Subject(), email, name, nil
	}

	claims, infoErr := client.Userinfo(ctx, tokens.AccessToken)
	if infoErr != nil {
		return "", "", "", &shield.RequestError{Op: "userinfo", Err: infoErr}
	}
	subject, _ = claims["sub"].(string)
	if subject == "" {
		return "", "", "", shield.NewValidationError("missing subject claim")
	}
	email, _ = claims["email"].(string)
	name, _ = claims["name"].(string)
	return subject, email, name, nil
}

// reconcile links the external identity to a local user: existing
// connections rotate their tokens, new identities require an unused email
// before a user and connection are created.
func (m *Method) reconcile(ctx context.Context, prov Provider, subject, email, name string, tokens *oauth2.TokenResponse) (userID, connectionID string, err error) {
	if m.storage == nil {
		return "", "", &shield.ConfigurationError{Reason: "oidc method has no storage configured"}
	}
	if subject == "" {
		return "", "", shield.NewValidationError("missing subject claim")
	}

	expiredAt := tokenExpiry(tokens)
	scopes := tokenScopes(tokens, prov.Scopes)

	conn, err := m.storage.ConnectionByIdentifier(ctx, prov.ID(), subject)
	switch {
	case err == nil:
		if _, err := m.storage.UpdateConnection(ctx, UpdateConnection{
			ID:           conn.ID,
			TokenType:    tokens.TokenType,
			AccessToken:  oauth2.NewSecretString(tokens.AccessToken),
			RefreshToken: secretPtr(tokens.RefreshToken),
			IDToken:      secretPtr(tokens.IDToken),
			ExpiredAt:    expiredAt,
			Scopes:       scopes,
		}); err != nil {
			return "", "", err
		}
		if email != "" || name != "" {
			update := storage.UpdateUser{ID: conn.UserID}
			if email != "" {
				update.Email = &email
			}
			if name != "" {
				update.Name = &name
			}
			if _, err := m.storage.UpdateUser(ctx, update); err != nil {
				return "", "", err
			}
		}
		return conn.UserID, conn.ID, nil

	case errors.Is(err, storage.ErrNotFound):
		if email == "" {
			return "", "", shield.NewValidationError("identity provider did not supply an email claim")
		}
		if _, err := m.storage.UserByEmail(ctx, email); err == nil {
			// reused email without prior linkage would allow account takeover
			return "", "", shield.NewValidationError("email %q already belongs to another user", email)
		} else if !errors.Is(err, storage.ErrNotFound) {
			return "", "", err
		}

		create := storage.CreateUser{Email: &email}
		if name != "" {
			create.Name = &name
		}
		user, err := m.storage.CreateUser(ctx, create)
		if err != nil {
			return "", "", err
		}

		newConn, err := m.storage.CreateConnection(ctx, CreateConnection{
			Identifier:   subject,
			TokenType:    tokens.TokenType,
			AccessToken:  oauth2.NewSecretString(tokens.AccessToken),
			RefreshToken: secretPtr(tokens.RefreshToken),
			IDToken:      secretPtr(tokens.IDToken),
			ExpiredAt:    expiredAt,
			Scopes:       scopes,
			ProviderID:   prov.ID(),
			UserID:       user.ID(),
		})
		if err != nil {
			return "", "", err
		}
		return user.ID(), newConn.ID, nil

	default:
		return "", "", err
	}
}

func tokenExpiry(tokens *oauth2.TokenResponse) *time.Time {
	if tokens.ExpiresIn <= 0 {
		return nil
	}
	expiredAt := time.Now().Add(time.Duration(tokens.ExpiresIn) * time.Second)
	return &expiredAt
}

func tokenScopes(tokens *oauth2.TokenResponse, fallback []string) []string {
	if tokens.Scope != "" {
		return strings.Fields(tokens.Scope)
	}
	return fallback
}

func secretPtr(value string) *oauth2.SecretString {
	if value == "" {
		return nil
	}
	secret := oauth2.NewSecretString(value)
	return &secret
}

type signOutAction struct{}

func (a *signOutAction) ID() string {
	return shield.ActionSignOut
}

func (a *signOutAction) Name() string {
	return "Sign out"
}

// Condition hides sign-out unless the session is authenticated under
// this exact method and provider.
func (a *signOutAction) Condition(p shield.Provider, sess *session.Session) bool {
	auth := sess.Authentication()
	return auth != nil && auth.MethodID == MethodID && auth.ProviderID == p.ID()
}

func (a *signOutAction) Forms(ctx context.Context, p shield.Provider) ([]shield.Form, error) {
	return nil, nil
}

// Call is a stub: provider-side token revocation via the end session
// endpoint is an extension point, the registry purges the session either
// way.
func (a *signOutAction) Call(ctx context.Context, p shield.Provider, sess *session.Session, req *shield.Request) (*shield.Response, error) {
	return shield.DefaultResponse(), nil
}
