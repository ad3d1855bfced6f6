// Package credentials implements email and password sign-in as a shield
// method with a single built-in provider. Password hashes never leave
// the storage contract; verification uses bcrypt.
package credentials

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/zero-auth/shield/pkg/session"
	"github.com/zero-auth/shield/pkg/shield"
	"github.com/zero-auth/shield/pkg/storage"
)

const MethodID = "credentials"

// Credentials couples a user with their password hash.
type Credentials struct {
	UserID       string
	PasswordHash string
}

// Storage is the persistence contract the credentials method consumes.
type Storage interface {
	storage.UserStorage
	CredentialsByEmail(ctx context.Context, email string) (*Credentials, error)
}

// HashPassword produces a bcrypt hash suitable for CredentialsByEmail
// lookups. Exposed for sign-up flows living outside this method.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Provider is the method's singleton provider.
type Provider struct{}

func (Provider) MethodID() string {
	return MethodID
}

func (Provider) ID() string {
	return ""
}

func (Provider) Name() string {
	return "Email & password"
}

func (Provider) Form() *shield.Form {
	return signInForm()
}

func signInForm() *shield.Form {
	return &shield.Form{
		Inputs: []shield.Input{
			{Name: "email", Kind: shield.InputKindEmail, Label: "Email", Required: true},
			{Name: "password", Kind: shield.InputKindPassword, Label: "Password", Required: true},
			{Name: "submit", Kind: shield.InputKindSubmit, Value: "Sign in"},
		},
	}
}

type Method struct {
	storage        Storage
	signInRedirect string
	actions        []shield.Action
}

type Option func(*Method) error

func WithStorage(s Storage) Option {
	return func(m *Method) error {
		m.storage = s
		return nil
	}
}

func WithSignInRedirect(url string) Option {
	return func(m *Method) error {
		m.signInRedirect = url
		return nil
	}
}

func New(opts ...Option) (*Method, error) {
	m := &Method{
		signInRedirect: "/",
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	if m.storage == nil {
		return nil, &shield.ConfigurationError{Reason: "credentials method requires storage"}
	}
	m.actions = []shield.Action{
		&signInAction{method: m},
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
	return []shield.Provider{Provider{}}, nil
}

func (m *Method) ProviderByID(ctx context.Context, id string) (shield.Provider, error) {
	if id != "" {
		return nil, shield.NewProviderNotFound(MethodID, id)
	}
	return Provider{}, nil
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
	return []shield.Form{*signInForm()}, nil
}

func (a *signInAction) Call(ctx context.Context, p shield.Provider, sess *session.Session, req *shield.Request) (*shield.Response, error) {
	email := req.Form.Get("email")
	password := req.Form.Get("password")
	if email == "" || password == "" {
		return nil, shield.NewValidationError("email and password are required")
	}

	creds, err := a.method.storage.CredentialsByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, shield.ErrUnauthorized
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(creds.PasswordHash), []byte(password)); err != nil {
		return nil, shield.ErrUnauthorized
	}

	// rotate the session identity before granting the privilege
	if err := sess.Renew(ctx); err != nil {
		return nil, err
	}
	sess.SetAuthentication(session.Authentication{
		MethodID: MethodID,
		UserID:   creds.UserID,
	})
	if err := sess.Update(ctx); err != nil {
		return nil, err
	}

	return shield.Redirect(a.method.signInRedirect), nil
}

type signOutAction struct{}

func (a *signOutAction) ID() string {
	return shield.ActionSignOut
}

func (a *signOutAction) Name() string {
	return "Sign out"
}

func (a *signOutAction) Condition(p shield.Provider, sess *session.Session) bool {
	auth := sess.Authentication()
	return auth != nil && auth.MethodID == MethodID
}

func (a *signOutAction) Forms(ctx context.Context, p shield.Provider) ([]shield.Form, error) {
	return nil, nil
}

func (a *signOutAction) Call(ctx context.Context, p shield.Provider, sess *session.Session, req *shield.Request) (*shield.Response, error) {
	return shield.DefaultResponse(), nil
}
