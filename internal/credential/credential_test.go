package credential

import (
	"errors"
	"testing"

	"github.com/99designs/keyring"
)

func TestParseRef(t *testing.T) {
	tests := []struct {
		in   string
		want Ref
	}{
		{"oauth_tokens:gmail:a@gmail.com", Ref{Kind: RefOAuthTokens, Provider: "gmail", Email: "a@gmail.com"}},
		{"OAUTH_TOKENS:ms_graph: b@outlook.com ", Ref{Kind: RefOAuthTokens, Provider: "ms_graph", Email: "b@outlook.com"}},
		{"oauth_tokens:broken", Ref{Kind: RefOAuthTokens}},
		{"basic_credentials:icloud:c@me.com", Ref{Kind: RefBasic, Provider: "icloud", Email: "c@me.com"}},
		{"OAUTH_DB_REFRESH", Ref{Kind: RefOAuthDBRefresh}},
		{"generic_imap_env", Ref{Kind: RefGenericEnv}},
		{"keyring:work-mail", Ref{Kind: RefKeyring, Key: "work-mail"}},
		{"DEV_PLAINTEXT", Ref{Kind: RefUnknown}},
		{"", Ref{Kind: RefUnknown}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ParseRef(tt.in)
			got.Raw = ""
			if got != tt.want {
				t.Errorf("ParseRef(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
	if !ParseRef(OAuthRef("gmail", "a@gmail.com")).IsOAuth() || ParseRef(BasicRef("icloud", "c@me.com")).IsOAuth() {
		t.Error("IsOAuth mismatch")
	}
}

func TestRing(t *testing.T) {
	r := New(keyring.NewArrayKeyring(nil))

	if _, err := r.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing = %v", err)
	}
	if err := r.Set("bare", "hunter2"); err != nil {
		t.Fatal(err)
	}
	user, pass, err := r.Login("bare")
	if err != nil || user != "" || pass != "hunter2" {
		t.Errorf("Login bare = %q %q %v", user, pass, err)
	}

	if err := r.SetLogin("work", "me@example.com", "s3cret"); err != nil {
		t.Fatal(err)
	}
	user, pass, err = r.Login("work")
	if err != nil || user != "me@example.com" || pass != "s3cret" {
		t.Errorf("Login = %q %q %v", user, pass, err)
	}

	if err := r.Delete("work"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := r.Login("work"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Login after delete = %v", err)
	}
}
