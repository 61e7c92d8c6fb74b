package auth_test

import (
	"errors"
	"testing"

	"github.com/next-trace/scg-api-bus/auth"
	berr "github.com/next-trace/scg-api-bus/contract/errors"
)

func TestStaticVerifier(t *testing.T) {
	v := auth.NewStatic(map[string]auth.Identity{"s3cret": {Subject: "order-service", Role: "Admin"}})

	id, err := v.Verify(t.Context(), "s3cret")
	if err != nil || id.Subject != "order-service" {
		t.Fatalf("verify: %v %+v", err, id)
	}

	if _, err := v.Verify(t.Context(), "nope"); !errors.Is(err, berr.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":  "abc",
		"bearer  abc": "abc",
		"abc":         "abc",
		"":            "",
	}

	for in, want := range cases {
		if got := auth.BearerToken(in); got != want {
			t.Fatalf("BearerToken(%q)=%q want %q", in, got, want)
		}
	}
}

func TestIdentityContext(t *testing.T) {
	if _, ok := auth.FromContext(t.Context()); ok {
		t.Fatalf("empty context must not carry an identity")
	}

	ctx := auth.WithIdentity(t.Context(), auth.Identity{Subject: "u-1"})
	if id, ok := auth.FromContext(ctx); !ok || id.Subject != "u-1" {
		t.Fatalf("identity=%+v ok=%v", id, ok)
	}
}
