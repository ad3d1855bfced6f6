package shield

import (
	"context"

	"github.com/zero-auth/shield/pkg/session"
)

// Well-known action IDs. Methods are free to ship additional actions,
// these three are the ones the registry dispatches to directly.
const (
	ActionSignIn         = "sign-in"
	ActionSignInCallback = "sign-in-callback"
	ActionSignOut        = "sign-out"
)

// Provider identifies one configured authentication endpoint of a method,
// e.g. a specific OIDC issuer. Singleton providers return an empty ID.
type Provider interface {
	MethodID() string
	ID() string
	Name() string
	// Form describes the caller input the provider needs to start a
	// sign-in, or nil when none is needed (redirect-based providers).
	Form() *Form
}

// Action is one operation a method supports. Condition and Forms must be
// free of side effects; Call is the only place allowed to mutate session
// or storage state.
type Action interface {
	ID() string
	Name() string
	// Condition decides whether the action is offered for the given
	// provider and session, e.g. sign-out hides itself unless the session
	// is authenticated under this exact method and provider.
	Condition(provider Provider, sess *session.Session) bool
	Forms(ctx context.Context, provider Provider) ([]Form, error)
	Call(ctx context.Context, provider Provider, sess *session.Session, req *Request) (*Response, error)
}

// Method groups providers sharing one authentication protocol and exposes
// the actions that drive it.
type Method interface {
	ID() string
	Actions() []Action
	// Providers lists the configured providers; implementations may hit
	// storage for tenant-sourced providers.
	Providers(ctx context.Context) ([]Provider, error)
	// ProviderByID resolves a provider by its ID or slug. An empty id
	// resolves the method's singleton provider when it has exactly one.
	ProviderByID(ctx context.Context, id string) (Provider, error)
}

// ActionByID resolves an action within a method. Shared by the registry
// and by methods that want to introspect each other.
func ActionByID(m Method, actionID string) (Action, bool) {
	for _, a := range m.Actions() {
		if a.ID() == actionID {
			return a, true
		}
	}
	return nil, false
}
