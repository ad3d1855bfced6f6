// Package memory is an in-process implementation of the storage
// contracts, used by tests and demos. Real deployments plug in their own
// engine behind the same interfaces.
package memory

import (
	"context"
	"sync"

	"github.com/segmentio/ksuid"

	"github.com/zero-auth/shield/pkg/methods/credentials"
	oauthm "github.com/zero-auth/shield/pkg/methods/oauth"
	oidcm "github.com/zero-auth/shield/pkg/methods/oidc"
	"github.com/zero-auth/shield/pkg/storage"
)

// User is the record the memory store persists.
type User struct {
	UserID        string
	Email         string
	EmailVerified bool
	Name          string
	PasswordHash  string
}

func (u *User) ID() string {
	return u.UserID
}

// Store holds everything behind one mutex: users, credentials and the
// per-method providers and connections. The method-specific contracts
// are exposed through the Oauth and Oidc views because their method sets
// would collide on one type.
type Store struct {
	mu sync.RWMutex

	users map[string]*User

	oauthProviders   []oauthm.Provider
	oauthConnections map[string]*oauthm.Connection

	oidcProviders   []oidcm.Provider
	oidcConnections map[string]*oidcm.Connection
}

func New() *Store {
	return &Store{
		users:            make(map[string]*User),
		oauthConnections: make(map[string]*oauthm.Connection),
		oidcConnections:  make(map[string]*oidcm.Connection),
	}
}

func (s *Store) ID() string {
	return "memory"
}

func (s *Store) UserByEmail(ctx context.Context, email string) (storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.users {
		if user.Email == email {
			copied := *user
			return &copied, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) CreateUser(ctx context.Context, input storage.CreateUser) (storage.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user := &User{UserID: ksuid.New().String()}
	if input.Email != nil {
		for _, existing := range s.users {
			if existing.Email == *input.Email {
				return nil, &storage.ValidationError{Field: "email", Reason: "already in use"}
			}
		}
		user.Email = *input.Email
	}
	if input.EmailVerified != nil {
		user.EmailVerified = *input.EmailVerified
	}
	if input.Name != nil {
		user.Name = *input.Name
	}

	s.users[user.UserID] = user
	copied := *user
	return &copied, nil
}

func (s *Store) UpdateUser(ctx context.Context, input storage.UpdateUser) (storage.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[input.ID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if input.Email != nil {
		for id, existing := range s.users {
			if id != input.ID && existing.Email == *input.Email {
				return nil, &storage.ValidationError{Field: "email", Reason: "already in use"}
			}
		}
		user.Email = *input.Email
	}
	if input.EmailVerified != nil {
		user.EmailVerified = *input.EmailVerified
	}
	if input.Name != nil {
		user.Name = *input.Name
	}

	copied := *user
	return &copied, nil
}

// UserByID is a convenience lookup for tests and demos.
func (s *Store) UserByID(id string) (*User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return nil, false
	}
	copied := *user
	return &copied, true
}

// SetPassword attaches a password hash to an existing user, making it
// reachable through CredentialsByEmail.
func (s *Store) SetPassword(userID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return storage.ErrNotFound
	}
	user.PasswordHash = passwordHash
	return nil
}

func (s *Store) CredentialsByEmail(ctx context.Context, email string) (*credentials.Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.users {
		if user.Email == email && user.PasswordHash != "" {
			return &credentials.Credentials{UserID: user.UserID, PasswordHash: user.PasswordHash}, nil
		}
	}
	return nil, storage.ErrNotFound
}

// Oauth exposes the store through the OAuth2 method's contract.
func (s *Store) Oauth() *OauthStore {
	return &OauthStore{s}
}

// Oidc exposes the store through the OIDC method's contract.
func (s *Store) Oidc() *OidcStore {
	return &OidcStore{s}
}
