package memory

import (
	"context"

	"github.com/segmentio/ksuid"

	oidcm "github.com/zero-auth/shield/pkg/methods/oidc"
	"github.com/zero-auth/shield/pkg/storage"
)

// OidcStore is the store viewed through the OIDC method's contract.
type OidcStore struct {
	*Store
}

func (s *OidcStore) AddProvider(p oidcm.Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.oidcProviders = append(s.oidcProviders, p)
}

func (s *OidcStore) Providers(ctx context.Context) ([]oidcm.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]oidcm.Provider, len(s.oidcProviders))
	copy(out, s.oidcProviders)
	return out, nil
}

func (s *OidcStore) ProviderByIDOrSlug(ctx context.Context, id string) (*oidcm.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.oidcProviders {
		if p.ProviderID == id || p.Slug == id {
			copied := p
			return &copied, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *OidcStore) ConnectionByID(ctx context.Context, id string) (*oidcm.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conn, ok := s.oidcConnections[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *conn
	return &copied, nil
}

func (s *OidcStore) ConnectionByIdentifier(ctx context.Context, providerID, identifier string) (*oidcm.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, conn := range s.oidcConnections {
		if conn.ProviderID == providerID && conn.Identifier == identifier {
			copied := *conn
			return &copied, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *OidcStore) CreateConnection(ctx context.Context, input oidcm.CreateConnection) (*oidcm.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, conn := range s.oidcConnections {
		if conn.ProviderID == input.ProviderID && conn.Identifier == input.Identifier {
			return nil, &storage.ValidationError{Field: "identifier", Reason: "connection already exists"}
		}
	}

	conn := &oidcm.Connection{
		ID:           ksuid.New().String(),
		Identifier:   input.Identifier,
		TokenType:    input.TokenType,
		AccessToken:  input.AccessToken,
		RefreshToken: input.RefreshToken,
		IDToken:      input.IDToken,
		ExpiredAt:    input.ExpiredAt,
		Scopes:       input.Scopes,
		ProviderID:   input.ProviderID,
		UserID:       input.UserID,
	}
	s.oidcConnections[conn.ID] = conn

	copied := *conn
	return &copied, nil
}

func (s *OidcStore) UpdateConnection(ctx context.Context, input oidcm.UpdateConnection) (*oidcm.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.oidcConnections[input.ID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	conn.TokenType = input.TokenType
	conn.AccessToken = input.AccessToken
	conn.RefreshToken = input.RefreshToken
	conn.IDToken = input.IDToken
	conn.ExpiredAt = input.ExpiredAt
	conn.Scopes = input.Scopes

	copied := *conn
	return &copied, nil
}

func (s *OidcStore) DeleteConnection(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.oidcConnections[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.oidcConnections, id)
	return nil
}

// ConnectionCount reports the number of stored connections.
func (s *OidcStore) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.oidcConnections)
}
