package credentials_test

import (
	"context"
	"errors"
	"testing"

	"github.com/zero-auth/shield/pkg/methods/credentials"
	"github.com/zero-auth/shield/pkg/session"
	sessionmemory "github.com/zero-auth/shield/pkg/session/memory"
	"github.com/zero-auth/shield/pkg/shield"
	"github.com/zero-auth/shield/pkg/storage"
	storagememory "github.com/zero-auth/shield/pkg/storage/memory"
)

func newFixture(t *testing.T) (*shield.Shield, *storagememory.Store, *sessionmemory.Backend) {
	t.Helper()

	store := storagememory.New()
	method, err := credentials.New(
		credentials.WithStorage(store),
		credentials.WithSignInRedirect("/dashboard"),
	)
	if err != nil {
		t.Fatal(err)
	}
	engine, err := shield.New(shield.WithMethod(method))
	if err != nil {
		t.Fatal(err)
	}
	return engine, store, sessionmemory.New()
}

func createUser(t *testing.T, store *storagememory.Store, email, password string) storage.User {
	t.Helper()

	user, err := store.CreateUser(context.Background(), storage.CreateUser{Email: &email})
	if err != nil {
		t.Fatal(err)
	}
	hash, err := credentials.HashPassword(password)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.SetPassword(user.ID(), hash); err != nil {
		t.Fatal(err)
	}
	return user
}

func signInRequest(email, password string) *shield.Request {
	req := shield.NewRequest()
	req.Form.Set("email", email)
	req.Form.Set("password", password)
	return req
}

func TestNewRequiresStorage(t *testing.T) {
	_, err := credentials.New()
	var cfgErr *shield.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestSignIn(t *testing.T) {
	engine, store, sessions := newFixture(t)
	user := createUser(t, store, "jo@example.com", "correct horse battery staple")

	sess, err := session.Open(context.Background(), sessions, "s1")
	if err != nil {
		t.Fatal(err)
	}
	originalID := sess.ID()

	resp, err := engine.SignIn(context.Background(), credentials.MethodID, "", sess, signInRequest("jo@example.com", "correct horse battery staple"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.RedirectURL != "/dashboard" {
		t.Fatalf("redirect %q", resp.RedirectURL)
	}
	if sess.ID() == originalID {
		t.Fatal("session ID not rotated on sign-in")
	}

	auth := sess.Authentication()
	if auth == nil || auth.UserID != user.ID() || auth.MethodID != credentials.MethodID {
		t.Fatalf("authentication %+v", auth)
	}
}

func TestSignInWrongPassword(t *testing.T) {
	engine, store, sessions := newFixture(t)
	createUser(t, store, "jo@example.com", "right")

	sess, err := session.Open(context.Background(), sessions, "s1")
	if err != nil {
		t.Fatal(err)
	}

	_, err = engine.SignIn(context.Background(), credentials.MethodID, "", sess, signInRequest("jo@example.com", "wrong"))
	if !errors.Is(err, shield.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if sess.Authentication() != nil {
		t.Fatal("authenticated with a wrong password")
	}
}

func TestSignInUnknownEmail(t *testing.T) {
	engine, _, sessions := newFixture(t)

	sess, err := session.Open(context.Background(), sessions, "s1")
	if err != nil {
		t.Fatal(err)
	}

	// Unknown users and wrong passwords are indistinguishable.
	_, err = engine.SignIn(context.Background(), credentials.MethodID, "", sess, signInRequest("nobody@example.com", "whatever"))
	if !errors.Is(err, shield.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestSignInMissingInput(t *testing.T) {
	engine, _, sessions := newFixture(t)

	sess, err := session.Open(context.Background(), sessions, "s1")
	if err != nil {
		t.Fatal(err)
	}

	_, err = engine.SignIn(context.Background(), credentials.MethodID, "", sess, signInRequest("jo@example.com", ""))
	var verr *shield.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestFormsExposeSignInForm(t *testing.T) {
	engine, _, sessions := newFixture(t)

	sess, err := session.Open(context.Background(), sessions, "s1")
	if err != nil {
		t.Fatal(err)
	}

	forms, err := engine.Forms(context.Background(), shield.ActionSignIn, sess)
	if err != nil {
		t.Fatal(err)
	}
	if len(forms.Methods) != 1 || len(forms.Methods[0].Providers) != 1 {
		t.Fatalf("forms %+v", forms)
	}
	inputs := forms.Methods[0].Providers[0].Forms[0].Inputs
	names := map[string]bool{}
	for _, input := range inputs {
		names[input.Name] = true
	}
	if !names["email"] || !names["password"] {
		t.Fatalf("inputs %+v", inputs)
	}
}

func TestSignOut(t *testing.T) {
	engine, store, sessions := newFixture(t)
	createUser(t, store, "jo@example.com", "pw-123456")

	sess, err := session.Open(context.Background(), sessions, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := engine.SignIn(context.Background(), credentials.MethodID, "", sess, signInRequest("jo@example.com", "pw-123456")); err != nil {
		t.Fatal(err)
	}

	if _, err := engine.SignOut(context.Background(), sess); err != nil {
		t.Fatal(err)
	}
	if sess.Authentication() != nil {
		t.Fatal("still authenticated after sign-out")
	}
}
