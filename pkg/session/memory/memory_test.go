package memory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/zero-auth/shield/pkg/session"
)

func TestLoadMissing(t *testing.T) {
	b := New()
	_, err := b.Load(context.Background(), "nope")
	if !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	b := New()
	ctx := context.Background()

	data := &session.Data{
		Authentication: &session.Authentication{MethodID: "oidc", ProviderID: "corp", UserID: "u1"},
		Methods: map[string]json.RawMessage{
			"oidc": json.RawMessage(`{"connection_id":"c1"}`),
		},
	}
	if err := b.Save(ctx, "s1", data); err != nil {
		t.Fatal(err)
	}

	loaded, err := b.Load(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Authentication == nil || loaded.Authentication.UserID != "u1" {
		t.Fatalf("authentication %+v", loaded.Authentication)
	}
	if string(loaded.Methods["oidc"]) != `{"connection_id":"c1"}` {
		t.Fatalf("method blob %q", loaded.Methods["oidc"])
	}
}

func TestSavedSnapshotIsIsolated(t *testing.T) {
	b := New()
	ctx := context.Background()

	data := &session.Data{
		Authentication: &session.Authentication{MethodID: "oidc", UserID: "u1"},
	}
	if err := b.Save(ctx, "s1", data); err != nil {
		t.Fatal(err)
	}
	data.Authentication.UserID = "tampered"

	loaded, err := b.Load(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Authentication.UserID != "u1" {
		t.Fatal("mutation after save leaked into the stored snapshot")
	}
}

func TestRenewMovesData(t *testing.T) {
	b := New()
	ctx := context.Background()

	if err := b.Save(ctx, "s1", &session.Data{Authentication: &session.Authentication{UserID: "u1"}}); err != nil {
		t.Fatal(err)
	}

	newID, err := b.Renew(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if newID == "s1" || newID == "" {
		t.Fatalf("new ID %q", newID)
	}
	if _, err := b.Load(ctx, "s1"); !errors.Is(err, session.ErrNotFound) {
		t.Fatal("old ID still resolves")
	}
	loaded, err := b.Load(ctx, newID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Authentication.UserID != "u1" {
		t.Fatal("data lost across renew")
	}
	if b.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", b.Len())
	}
}

func TestRenewUnknownIDStillMintsID(t *testing.T) {
	b := New()
	newID, err := b.Renew(context.Background(), "ghost")
	if err != nil {
		t.Fatal(err)
	}
	if newID == "" {
		t.Fatal("empty new ID")
	}
	if b.Len() != 0 {
		t.Fatal("renew of an unknown ID created data")
	}
}

func TestPurge(t *testing.T) {
	b := New()
	ctx := context.Background()

	if err := b.Save(ctx, "s1", &session.Data{}); err != nil {
		t.Fatal(err)
	}
	if err := b.Purge(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	if b.Len() != 0 {
		t.Fatalf("Len() = %d after purge", b.Len())
	}
	// Purging an unknown ID is a no-op.
	if err := b.Purge(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
}
