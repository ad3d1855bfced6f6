package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type stubBackend struct {
	data    map[string]*Data
	renewed int
	saveErr error
}

func newStubBackend() *stubBackend {
	return &stubBackend{data: make(map[string]*Data)}
}

func (b *stubBackend) Load(ctx context.Context, id string) (*Data, error) {
	d, ok := b.data[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := d.clone()
	return &clone, nil
}

func (b *stubBackend) Save(ctx context.Context, id string, data *Data) error {
	if b.saveErr != nil {
		return b.saveErr
	}
	clone := data.clone()
	b.data[id] = &clone
	return nil
}

func (b *stubBackend) Renew(ctx context.Context, id string) (string, error) {
	b.renewed++
	newID := id + "-renewed"
	if d, ok := b.data[id]; ok {
		b.data[newID] = d
		delete(b.data, id)
	}
	return newID, nil
}

func (b *stubBackend) Purge(ctx context.Context, id string) error {
	delete(b.data, id)
	return nil
}

type pendingState struct {
	CSRF     string `json:"csrf,omitempty"`
	Verifier string `json:"verifier,omitempty"`
}

func TestOpenMissingSessionIsFresh(t *testing.T) {
	sess, err := Open(context.Background(), newStubBackend(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if sess.ID() != "s1" {
		t.Fatalf("ID %q, want s1", sess.ID())
	}
	if sess.Authentication() != nil {
		t.Fatal("fresh session has authentication")
	}
}

func TestStateRoundTrip(t *testing.T) {
	backend := newStubBackend()
	sess := New(backend, "s1")

	if err := sess.SetState("oidc", pendingState{CSRF: "abc", Verifier: "v"}); err != nil {
		t.Fatal(err)
	}
	if err := sess.Update(context.Background()); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(context.Background(), backend, "s1")
	if err != nil {
		t.Fatal(err)
	}

	var state pendingState
	if err := reopened.State("oidc", &state); err != nil {
		t.Fatal(err)
	}
	if state.CSRF != "abc" || state.Verifier != "v" {
		t.Fatalf("state %+v", state)
	}
}

func TestStateMissingBlobLeavesZeroValue(t *testing.T) {
	sess := New(newStubBackend(), "s1")

	state := pendingState{CSRF: "stale"}
	if err := sess.State("oidc", &state); err != nil {
		t.Fatal(err)
	}
	if state.CSRF != "stale" {
		t.Fatal("missing blob must not touch the target")
	}

	var fresh pendingState
	if err := sess.State("oidc", &fresh); err != nil {
		t.Fatal(err)
	}
	if fresh != (pendingState{}) {
		t.Fatalf("state %+v, want zero value", fresh)
	}
}

func TestStateMalformedBlob(t *testing.T) {
	sess := New(newStubBackend(), "s1")
	err := sess.Mutate(func(d *Data) error {
		d.Methods = map[string]json.RawMessage{"oidc": json.RawMessage(`{broken`)}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	var state pendingState
	err = sess.State("oidc", &state)
	var serr *SerializationError
	if !errors.As(err, &serr) {
		t.Fatalf("expected SerializationError, got %T: %v", err, err)
	}
	if serr.MethodID != "oidc" {
		t.Fatalf("method ID %q", serr.MethodID)
	}
}

func TestSetStateOverwrites(t *testing.T) {
	sess := New(newStubBackend(), "s1")
	if err := sess.SetState("oidc", pendingState{CSRF: "first", Verifier: "v1"}); err != nil {
		t.Fatal(err)
	}
	if err := sess.SetState("oidc", pendingState{CSRF: "second"}); err != nil {
		t.Fatal(err)
	}

	var state pendingState
	if err := sess.State("oidc", &state); err != nil {
		t.Fatal(err)
	}
	if state.CSRF != "second" || state.Verifier != "" {
		t.Fatalf("state %+v, want the second attempt only", state)
	}
}

func TestStatesAreIndependentPerMethod(t *testing.T) {
	sess := New(newStubBackend(), "s1")
	if err := sess.SetState("oidc", pendingState{CSRF: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := sess.SetState("oauth", pendingState{CSRF: "b"}); err != nil {
		t.Fatal(err)
	}
	sess.ClearState("oidc")

	var oidcState, oauthState pendingState
	if err := sess.State("oidc", &oidcState); err != nil {
		t.Fatal(err)
	}
	if err := sess.State("oauth", &oauthState); err != nil {
		t.Fatal(err)
	}
	if oidcState.CSRF != "" || oauthState.CSRF != "b" {
		t.Fatalf("oidc %+v oauth %+v", oidcState, oauthState)
	}
}

func TestRenewRotatesIDKeepsData(t *testing.T) {
	backend := newStubBackend()
	sess := New(backend, "s1")
	sess.SetAuthentication(Authentication{MethodID: "credentials", UserID: "u1"})
	if err := sess.Update(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := sess.Renew(context.Background()); err != nil {
		t.Fatal(err)
	}
	if sess.ID() == "s1" {
		t.Fatal("ID not rotated")
	}
	if backend.renewed != 1 {
		t.Fatalf("backend renewed %d times", backend.renewed)
	}

	auth := sess.Authentication()
	if auth == nil || auth.UserID != "u1" {
		t.Fatalf("authentication lost across renew: %+v", auth)
	}

	if _, err := Open(context.Background(), backend, "s1"); err == nil {
		t.Log("old ID still loads fresh data, as expected")
	}
	reopened, err := Open(context.Background(), backend, sess.ID())
	if err != nil {
		t.Fatal(err)
	}
	if reopened.Authentication() == nil {
		t.Fatal("renewed session lost persisted data")
	}
}

func TestPurgeResetsData(t *testing.T) {
	backend := newStubBackend()
	sess := New(backend, "s1")
	sess.SetAuthentication(Authentication{MethodID: "credentials", UserID: "u1"})
	if err := sess.SetState("oidc", pendingState{CSRF: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := sess.Update(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := sess.Purge(context.Background()); err != nil {
		t.Fatal(err)
	}
	if sess.Authentication() != nil {
		t.Fatal("authentication survived purge")
	}
	if _, ok := backend.data["s1"]; ok {
		t.Fatal("backend data survived purge")
	}
}

func TestAuthenticationReturnsCopy(t *testing.T) {
	sess := New(newStubBackend(), "s1")
	sess.SetAuthentication(Authentication{MethodID: "credentials", UserID: "u1"})

	auth := sess.Authentication()
	auth.UserID = "tampered"

	if got := sess.Authentication().UserID; got != "u1" {
		t.Fatalf("UserID %q, mutation leaked into the session", got)
	}
}

func TestUpdateSurfacesBackendError(t *testing.T) {
	backend := newStubBackend()
	backend.saveErr = errors.New("store down")
	sess := New(backend, "s1")

	if err := sess.Update(context.Background()); err == nil {
		t.Fatal("expected save error")
	}
}
