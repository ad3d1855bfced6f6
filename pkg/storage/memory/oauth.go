package memory

import (
	"context"

	"github.com/segmentio/ksuid"

	oauthm "github.com/zero-auth/shield/pkg/methods/oauth"
	"github.com/zero-auth/shield/pkg/storage"
)

// OauthStore is the store viewed through the OAuth2 method's contract.
type OauthStore struct {
	*Store
}

func (s *OauthStore) AddProvider(p oauthm.Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.oauthProviders = append(s.oauthProviders, p)
}

func (s *OauthStore) Providers(ctx context.Context) ([]oauthm.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]oauthm.Provider, len(s.oauthProviders))
	copy(out, s.oauthProviders)
	return out, nil
}

func (s *OauthStore) ProviderByIDOrSlug(ctx context.Context, id string) (*oauthm.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.oauthProviders {
		if p.ProviderID == id || p.Slug == id {
			copied := p
			return &copied, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *OauthStore) ConnectionByID(ctx context.Context, id string) (*oauthm.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conn, ok := s.oauthConnections[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *conn
	return &copied, nil
}

func (s *OauthStore) ConnectionByIdentifier(ctx context.Context, providerID, identifier string) (*oauthm.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, conn := range s.oauthConnections {
		if conn.ProviderID == providerID && conn.Identifier == identifier {
			copied := *conn
			return &copied, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *OauthStore) CreateConnection(ctx context.Context, input oauthm.CreateConnection) (*oauthm.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, conn := range s.oauthConnections {
		if conn.ProviderID == input.ProviderID && conn.Identifier == input.Identifier {
			return nil, &storage.ValidationError{Field: "identifier", Reason: "connection already exists"}
		}
	}

	conn := &oauthm.Connection{
		ID:           ksuid.New().String(),
		Identifier:   input.Identifier,
		TokenType:    input.TokenType,
		AccessToken:  input.AccessToken,
		RefreshToken: input.RefreshToken,
		ExpiredAt:    input.ExpiredAt,
		Scopes:       input.Scopes,
		ProviderID:   input.ProviderID,
		UserID:       input.UserID,
	}
	s.oauthConnections[conn.ID] = conn

	copied := *conn
	return &copied, nil
}

func (s *OauthStore) UpdateConnection(ctx context.Context, input oauthm.UpdateConnection) (*oauthm.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.oauthConnections[input.ID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	conn.TokenType = input.TokenType
	conn.AccessToken = input.AccessToken
	conn.RefreshToken = input.RefreshToken
	conn.ExpiredAt = input.ExpiredAt
	conn.Scopes = input.Scopes

	copied := *conn
	return &copied, nil
}

func (s *OauthStore) DeleteConnection(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.oauthConnections[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.oauthConnections, id)
	return nil
}

// ConnectionCount reports the number of stored connections.
func (s *OauthStore) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.oauthConnections)
}
