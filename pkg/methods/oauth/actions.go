package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/zero-auth/shield/pkg/oauth2"
	"github.com/zero-auth/shield/pkg/session"
	"github.com/zero-auth/shield/pkg/shield"
	"github.com/zero-auth/shield/pkg/storage"
)

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

func (a *signInAction) Call(ctx context.Context, p shield.Provider, sess *session.Session, req *shield.Request) (*shield.Response, error) {
	prov, err := narrow(p)
	if err != nil {
		return nil, err
	}

	client, err := a.method.client(prov)
	if err != nil {
		return nil, err
	}

	state := oauth2.GenerateRandomString(64)

	var verifier string
	if prov.CodeChallengeMethod != oauth2.CodeChallengeMethodNone {
		verifier = oauth2.GenerateCodeVerifier()
	}

	authURL, err := client.AuthCodeURL(state, verifier)
	if err != nil {
		return nil, err
	}

	// a new attempt invalidates a stale authentication
	sess.ClearAuthentication()
	if err := sess.SetState(MethodID, State{CSRF: state, Verifier: verifier}); err != nil {
		return nil, err
	}
	if err := sess.Update(ctx); err != nil {
		return nil, err
	}

	slog.Debug("oauth sign-in started", "provider", prov.ProviderName)

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

	client, err := a.method.client(prov)
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

	claims, err := client.Userinfo(ctx, tokens.AccessToken)
	if err != nil {
		return nil, &shield.RequestError{Op: "userinfo", Err: err}
	}

	subject := claimString(claims, prov.identifierClaim())
	if subject == "" {
		return nil, shield.NewValidationError("missing %q claim in userinfo response", prov.identifierClaim())
	}
	email := claimString(claims, prov.emailClaim())
	name := claimString(claims, prov.nameClaim())

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

	slog.Info("oauth sign-in completed", "provider", prov.ProviderName, "user", userID)

	return shield.Redirect(a.method.signInRedirect), nil
}

// claimString reads a string claim, converting the float64 the JSON
// decoder produces for numeric IDs.
func claimString(claims map[string]any, key string) string {
	switch v := claims[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}

func (m *Method) reconcile(ctx context.Context, prov Provider, subject, email, name string, tokens *oauth2.TokenResponse) (userID, connectionID string, err error) {
	if m.storage == nil {
		return "", "", &shield.ConfigurationError{Reason: "oauth method has no storage configured"}
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

// Call is a stub: token revocation at the provider is an extension
// point, the registry purges the session either way.
func (a *signOutAction) Call(ctx context.Context, p shield.Provider, sess *session.Session, req *shield.Request) (*shield.Response, error) {
	return shield.DefaultResponse(), nil
}
