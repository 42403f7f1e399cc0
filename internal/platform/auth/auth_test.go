package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"reflect"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	if err := (Config{Mode: ModeDev}).Validate(); err != nil {
		t.Fatalf("dev config: %v", err)
	}
	if err := (Config{Mode: ModeOIDC, RolesClaim: "roles", EmailClaim: "email"}).Validate(); err == nil {
		t.Fatalf("expected error for oidc without issuer")
	}
	if err := (Config{Mode: "saml"}).Validate(); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestConfigFromEnv_RejectsUnknownMode(t *testing.T) {
	t.Setenv("AUTH_MODE", "kerberos")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestDevAuthenticator(t *testing.T) {
	authn := NewDevAuthenticator(Config{Mode: ModeDev})
	req := httptest.NewRequest("GET", "http://example.test/", nil)
	if _, err := authn.Authenticate(context.Background(), req); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("err=%v, want ErrUnauthenticated", err)
	}

	req.Header.Set(HeaderActor, " coord-1 ")
	identity, err := authn.Authenticate(context.Background(), req)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if identity.Subject != "coord-1" {
		t.Fatalf("subject=%q, want coord-1", identity.Subject)
	}

	withFallback := NewDevAuthenticator(Config{Mode: ModeDev, DevSubject: "admin-1"})
	identity, err = withFallback.Authenticate(context.Background(), httptest.NewRequest("GET", "http://example.test/", nil))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if identity.Subject != "admin-1" {
		t.Fatalf("subject=%q, want admin-1", identity.Subject)
	}
}

func TestIdentityFromClaims(t *testing.T) {
	claims := map[string]any{
		"sub":   "actor-9",
		"email": "a@example.test",
		"roles": []any{"coordinator", " admin ", 7},
	}
	identity := identityFromClaims(claims, Config{RolesClaim: "roles", EmailClaim: "email"})
	if identity.Subject != "actor-9" || identity.Email != "a@example.test" {
		t.Fatalf("unexpected identity: %+v", identity)
	}
	if !reflect.DeepEqual(identity.Roles, []string{"COORDINATOR", "ADMIN"}) {
		t.Fatalf("roles=%v", identity.Roles)
	}
}

func TestTokenFromHeader(t *testing.T) {
	req := httptest.NewRequest("GET", "http://example.test/", nil)
	req.Header.Set("Authorization", "Bearer abc.def")
	if got := tokenFromHeader(req); got != "abc.def" {
		t.Fatalf("token=%q", got)
	}
	req.Header.Set("Authorization", "Basic xyz")
	if got := tokenFromHeader(req); got != "" {
		t.Fatalf("token=%q, want empty", got)
	}
}
