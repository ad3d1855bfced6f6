// Package shield is an embeddable authentication orchestration engine: a
// registry of pluggable sign-in methods (credentials, OAuth2, OpenID
// Connect), each exposing a small set of actions that mutate a per-request
// session and ultimately produce or update a user record through an
// abstract storage contract.
package shield

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zero-auth/shield/pkg/session"
)

// Shield owns the registered methods and resolves (method, action,
// provider) triples to concrete action invocations.
type Shield struct {
	methods map[string]Method
	order   []string
}

type Option func(*Shield) error

// WithMethod registers a method. Registering two methods with the same ID
// is a configuration error.
func WithMethod(m Method) Option {
	return func(s *Shield) error {
		id := m.ID()
		if _, exists := s.methods[id]; exists {
			return &ConfigurationError{Reason: fmt.Sprintf("method %q registered twice", id)}
		}
		s.methods[id] = m
		s.order = append(s.order, id)
		return nil
	}
}

func New(opts ...Option) (*Shield, error) {
	s := &Shield{
		methods: make(map[string]Method),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Method resolves a registered method by ID.
func (s *Shield) Method(id string) (Method, error) {
	m, ok := s.methods[id]
	if !ok {
		return nil, NewMethodNotFound(id)
	}
	return m, nil
}

// Methods lists the registered methods in registration order.
func (s *Shield) Methods() []Method {
	out := make([]Method, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.methods[id])
	}
	return out
}

// Call resolves methodID, actionID and providerID and delegates to the
// action. Unknown IDs surface as NotFoundError, never as a panic.
func (s *Shield) Call(ctx context.Context, methodID, actionID, providerID string, sess *session.Session, req *Request) (*Response, error) {
	method, err := s.Method(methodID)
	if err != nil {
		return nil, err
	}

	action, ok := ActionByID(method, actionID)
	if !ok {
		return nil, NewActionNotFound(methodID, actionID)
	}

	provider, err := method.ProviderByID(ctx, providerID)
	if err != nil {
		return nil, err
	}

	if req == nil {
		req = NewRequest()
	}

	slog.Debug("dispatching action", "method", methodID, "action", actionID, "provider", provider.ID())

	return action.Call(ctx, provider, sess, req)
}

// SignIn starts a sign-in attempt with the given method and provider.
func (s *Shield) SignIn(ctx context.Context, methodID, providerID string, sess *session.Session, req *Request) (*Response, error) {
	return s.Call(ctx, methodID, ActionSignIn, providerID, sess, req)
}

// SignInCallback completes a sign-in attempt with the parameters the
// authorization server appended to the redirect.
func (s *Shield) SignInCallback(ctx context.Context, methodID, providerID string, sess *session.Session, req *Request) (*Response, error) {
	return s.Call(ctx, methodID, ActionSignInCallback, providerID, sess, req)
}

// SignOut dispatches the sign-out action of the method the session is
// authenticated under, then purges the session. The purge happens even
// when no method sign-out ran, which makes SignOut idempotent: a second
// call sees no authentication and returns the default response.
func (s *Shield) SignOut(ctx context.Context, sess *session.Session) (*Response, error) {
	resp := DefaultResponse()

	var callErr error
	if auth := sess.Authentication(); auth != nil {
		resp, callErr = s.Call(ctx, auth.MethodID, ActionSignOut, auth.ProviderID, sess, nil)
		if callErr != nil {
			slog.Error("method sign-out failed", "method", auth.MethodID, "error", callErr)
			resp = DefaultResponse()
		}
	}

	if err := sess.Purge(ctx); err != nil {
		return nil, err
	}
	if callErr != nil {
		return nil, callErr
	}
	return resp, nil
}

// Forms collects, for every registered method supporting the action and
// every provider passing the action's condition, the provider's forms.
func (s *Shield) Forms(ctx context.Context, actionID string, sess *session.Session) (*ActionForms, error) {
	out := &ActionForms{ID: actionID}

	for _, methodID := range s.order {
		method := s.methods[methodID]
		action, ok := ActionByID(method, actionID)
		if !ok {
			continue
		}
		if out.Name == "" {
			out.Name = action.Name()
		}

		providers, err := method.Providers(ctx)
		if err != nil {
			return nil, err
		}

		methodForms := MethodForms{ID: methodID}
		for _, provider := range providers {
			if !action.Condition(provider, sess) {
				continue
			}
			forms, err := action.Forms(ctx, provider)
			if err != nil {
				return nil, err
			}
			methodForms.Providers = append(methodForms.Providers, ProviderForms{
				ID:    provider.ID(),
				Name:  provider.Name(),
				Forms: forms,
			})
		}
		if len(methodForms.Providers) > 0 {
			out.Methods = append(out.Methods, methodForms)
		}
	}

	return out, nil
}
