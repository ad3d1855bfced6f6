// Package session provides the per-request session handle the engine
// mutates during sign-in and sign-out, backed by a pluggable Backend.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned by backends when no session exists for an ID.
var ErrNotFound = errors.New("session not found")

// SerializationError reports a stored per-method blob that could not be
// decoded into the method's session state.
type SerializationError struct {
	MethodID string
	Err      error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("decode session state of method %q: %v", e.MethodID, e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

// Authentication records that the session is signed in as UserID via
// MethodID/ProviderID. ProviderID is empty for singleton providers.
type Authentication struct {
	MethodID   string `json:"method_id"`
	ProviderID string `json:"provider_id,omitempty"`
	UserID     string `json:"user_id"`
}

// Data is the session payload persisted between requests. Methods holds
// one opaque serialized sub-state blob per method ID, decoded lazily.
type Data struct {
	Authentication *Authentication            `json:"authentication,omitempty"`
	Methods        map[string]json.RawMessage `json:"methods,omitempty"`
}

func (d *Data) clone() Data {
	out := Data{}
	if d.Authentication != nil {
		auth := *d.Authentication
		out.Authentication = &auth
	}
	if d.Methods != nil {
		out.Methods = make(map[string]json.RawMessage, len(d.Methods))
		for k, v := range d.Methods {
			blob := make(json.RawMessage, len(v))
			copy(blob, v)
			out.Methods[k] = blob
		}
	}
	return out
}

// Backend persists session data between requests and owns the session's
// external identity.
type Backend interface {
	Load(ctx context.Context, id string) (*Data, error)
	Save(ctx context.Context, id string, data *Data) error
	// Renew rotates the session's external ID without changing its data
	// and returns the new ID.
	Renew(ctx context.Context, id string) (string, error)
	Purge(ctx context.Context, id string) error
}

// Session is a handle over mutable session data. One session belongs to
// at most one in-flight request; reads and writes happen in short
// synchronous critical sections which are never held across I/O.
type Session struct {
	mu      sync.Mutex
	id      string
	data    Data
	backend Backend
}

// New returns a fresh session with empty data, not yet persisted.
func New(backend Backend, id string) *Session {
	return &Session{id: id, backend: backend}
}

// Open loads the session with the given ID, returning a fresh one when
// the backend has no data for it.
func Open(ctx context.Context, backend Backend, id string) (*Session, error) {
	data, err := backend.Load(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return New(backend, id), nil
		}
		return nil, err
	}
	return &Session{id: id, data: *data, backend: backend}, nil
}

func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// View runs fn with the live data under the session lock. fn must not
// retain the pointer or block.
func (s *Session) View(fn func(*Data)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.data)
}

// Mutate runs fn with the live data under the session lock. When fn
// returns an error the mutation is considered not to have happened and
// the error is returned as-is.
func (s *Session) Mutate(fn func(*Data) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&s.data)
}

// Authentication returns a copy of the current authentication, or nil.
func (s *Session) Authentication() *Authentication {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data.Authentication == nil {
		return nil
	}
	auth := *s.data.Authentication
	return &auth
}

func (s *Session) SetAuthentication(auth Authentication) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Authentication = &auth
}

func (s *Session) ClearAuthentication() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Authentication = nil
}

// State decodes the sub-state blob of the given method into v. A missing
// blob leaves v at its zero value; a malformed blob is a
// SerializationError, never a panic.
func (s *Session) State(methodID string, v any) error {
	s.mu.Lock()
	blob, ok := s.data.Methods[methodID]
	s.mu.Unlock()

	if !ok || len(blob) == 0 {
		return nil
	}
	if err := json.Unmarshal(blob, v); err != nil {
		return &SerializationError{MethodID: methodID, Err: err}
	}
	return nil
}

// SetState overwrites the sub-state blob of the given method. A new
// sign-in attempt replaces, never merges, a pending one.
func (s *Session) SetState(methodID string, v any) error {
	blob, err := json.Marshal(v)
	if err != nil {
		return &SerializationError{MethodID: methodID, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data.Methods == nil {
		s.data.Methods = make(map[string]json.RawMessage)
	}
	s.data.Methods[methodID] = blob
	return nil
}

func (s *Session) ClearState(methodID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data.Methods, methodID)
}

// Update persists the current data to the backend. The snapshot is taken
// under the lock; the backend call happens outside it.
func (s *Session) Update(ctx context.Context) error {
	s.mu.Lock()
	id := s.id
	snapshot := s.data.clone()
	s.mu.Unlock()

	return s.backend.Save(ctx, id, &snapshot)
}

// Renew rotates the session's external identity, keeping its data. Used
// on privilege change to prevent session fixation.
func (s *Session) Renew(ctx context.Context) error {
	s.mu.Lock()
	id := s.id
	s.mu.Unlock()

	newID, err := s.backend.Renew(ctx, id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.id = newID
	s.mu.Unlock()
	return nil
}

// Purge destroys the backend state and resets the in-memory data.
func (s *Session) Purge(ctx context.Context) error {
	s.mu.Lock()
	id := s.id
	s.mu.Unlock()

	if err := s.backend.Purge(ctx, id); err != nil {
		return err
	}

	s.mu.Lock()
	s.data = Data{}
	s.mu.Unlock()
	return nil
}
