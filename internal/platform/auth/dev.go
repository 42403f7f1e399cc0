package auth

import (
	"context"
	"net/http"
	"strings"
)

type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (Identity, error)
}

// DevAuthenticator trusts the X-Casework-Actor header, falling back to the
// configured subject. It must never face untrusted traffic.
type DevAuthenticator struct {
	fallback Identity
}

func NewDevAuthenticator(cfg Config) *DevAuthenticator {
	return &DevAuthenticator{
		fallback: Identity{
			Subject: strings.TrimSpace(cfg.DevSubject),
			Email:   cfg.DevEmail,
		},
	}
}

func (a *DevAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	if subject := strings.TrimSpace(r.Header.Get(HeaderActor)); subject != "" {
		return Identity{Subject: subject}, nil
	}
	if a.fallback.Subject == "" {
		return Identity{}, ErrUnauthenticated
	}
	return a.fallback, nil
}

// AnonymousAuthenticator accepts every request without an identity. Actor
// ids then come from request bodies.
type AnonymousAuthenticator struct{}

func (AnonymousAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	return Identity{}, nil
}
