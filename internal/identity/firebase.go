package identity

import (
	"context"
	"fmt"
	"log"

	"firebase.google.com/go/v4/auth"
)

// AuthClient is the subset of the Firebase Auth admin client used here.
// *auth.Client satisfies it.
type AuthClient interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
	GetUser(ctx context.Context, uid string) (*auth.UserRecord, error)
	RevokeRefreshTokens(ctx context.Context, uid string) error
}

// Verify checks a Firebase ID token and resolves the user's display name.
// The name falls back to the token's name claim, then the email address,
// then the UID.
func Verify(ctx context.Context, client AuthClient, idToken string) (State, error) {
	tok, err := client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrSignInFailed, err)
	}

	st := State{SignedIn: true, UID: tok.UID}

	user, err := client.GetUser(ctx, tok.UID)
	if err != nil {
		log.Printf("[identity] get user uid=%s: %v", tok.UID, err)
	} else if user.UserInfo != nil {
		st.DisplayName = user.DisplayName
		if st.DisplayName == "" {
			st.DisplayName = user.Email
		}
	}

	if st.DisplayName == "" {
		if name, ok := tok.Claims["name"].(string); ok {
			st.DisplayName = name
		}
	}
	if st.DisplayName == "" {
		if email, ok := tok.Claims["email"].(string); ok {
			st.DisplayName = email
		}
	}
	if st.DisplayName == "" {
		st.DisplayName = tok.UID
	}
	return st, nil
}

// FirebaseProvider signs users in with Firebase ID tokens obtained by an
// external sign-in flow.
type FirebaseProvider struct {
	watchers
	client AuthClient
}

// NewFirebaseProvider returns a provider in the signed-out state.
func NewFirebaseProvider(client AuthClient) *FirebaseProvider {
	return &FirebaseProvider{client: client}
}

// SignIn verifies idToken and, on success, signs the user in.
func (p *FirebaseProvider) SignIn(ctx context.Context, idToken string) error {
	st, err := Verify(ctx, p.client, idToken)
	if err != nil {
		return err
	}
	log.Printf("[identity] signed in uid=%s", st.UID)
	p.set(st)
	return nil
}

// Watch implements Provider.
func (p *FirebaseProvider) Watch(fn func(State)) func() {
	return p.watch(fn)
}

// SignOut revokes the user's refresh tokens and signs out locally. The local
// sign-out happens even when revocation fails.
func (p *FirebaseProvider) SignOut(ctx context.Context) error {
	st := p.current()
	if !st.SignedIn {
		return nil
	}

	err := p.client.RevokeRefreshTokens(ctx, st.UID)
	p.set(State{})
	if err != nil {
		return fmt.Errorf("identity: revoke tokens uid=%s: %w", st.UID, err)
	}
	return nil
}

// Current implements Provider.
func (p *FirebaseProvider) Current() State {
	return p.current()
}
