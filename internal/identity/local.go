package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// LocalProvider signs users in by display name alone. It backs the
// terminal client when no Firebase project is configured, and tests.
type LocalProvider struct {
	watchers
}

// NewLocalProvider returns a provider in the signed-out state.
func NewLocalProvider() *LocalProvider {
	return &LocalProvider{}
}

// SignIn signs in as name.
func (p *LocalProvider) SignIn(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: empty display name", ErrSignInFailed)
	}
	p.set(State{SignedIn: true, UID: uuid.NewString(), DisplayName: name})
	return nil
}

// Watch implements Provider.
func (p *LocalProvider) Watch(fn func(State)) func() {
	return p.watch(fn)
}

// SignOut implements Provider.
func (p *LocalProvider) SignOut(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.set(State{})
	return nil
}

// Current implements Provider.
func (p *LocalProvider) Current() State {
	return p.current()
}
