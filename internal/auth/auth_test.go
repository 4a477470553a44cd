package auth

import (
	"encoding/base64"
	"testing"

	"market-replay-broker/internal/errs"
)

func basic(key, secret string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(key+":"+secret))
}

func TestAuthenticate(t *testing.T) {
	r := NewRegistry([]APIKey{
		{Key: "PKTEST", Secret: "shhh", Name: "primary"},
		{Key: "PKOTHER", Secret: "hush"},
	})

	k, err := r.Authenticate(basic("PKTEST", "shhh"))
	if err != nil {
		t.Fatalf("valid credentials rejected: %v", err)
	}
	if k.Name != "primary" {
		t.Errorf("want key name primary, got %q", k.Name)
	}

	cases := []struct {
		name   string
		header string
	}{
		{"wrong secret", basic("PKTEST", "wrong")},
		{"unknown key", basic("PKNOPE", "shhh")},
		{"mixed pair", basic("PKTEST", "hush")},
		{"no prefix", base64.StdEncoding.EncodeToString([]byte("PKTEST:shhh"))},
		{"bad base64", "Basic not-base64!!"},
		{"no colon", "Basic " + base64.StdEncoding.EncodeToString([]byte("PKTESTshhh"))},
		{"empty", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := r.Authenticate(tc.header); errs.KindOf(err) != errs.KindUnauthenticated {
				t.Errorf("want Unauthenticated, got %v", err)
			}
		})
	}
}

func TestNewRegistryFromEnv(t *testing.T) {
	t.Setenv("ApiKeys__0__Key", "PKENV")
	t.Setenv("ApiKeys__0__Secret", "envsecret")
	t.Setenv("ApiKeys__0__Name", "from-env")
	// incomplete pairs are skipped
	t.Setenv("ApiKeys__1__Key", "PKHALF")

	r := NewRegistryFromEnv()
	if r.Empty() {
		t.Fatal("expected configured keys")
	}
	if len(r.keys) != 1 {
		t.Fatalf("want 1 key, got %d", len(r.keys))
	}
	if _, err := r.Authenticate(basic("PKENV", "envsecret")); err != nil {
		t.Errorf("env key rejected: %v", err)
	}
}
