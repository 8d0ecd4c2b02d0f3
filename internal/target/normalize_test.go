package target_test

import (
	"testing"

	"github.com/basket/pocvault/internal/target"
)

func TestNormalize_DefaultsAndPorts(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"example.com", "http://example.com:80/"},
		{"http://example.com", "http://example.com:80/"},
		{"http://example.com:80", "http://example.com:80/"},
		{"https://example.com", "https://example.com:443/"},
		{"https://example.com:8443/login", "https://example.com:8443/"},
		{"10.0.0.5:8080", "http://10.0.0.5:8080/"},
		{"  example.com  ", "http://example.com:80/"},
	}
	for _, tc := range cases {
		got, err := target.Normalize(tc.in)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{"example.com", "https://example.com:8443/x?y=1", "http://1.2.3.4"}
	for _, in := range inputs {
		once, err := target.Normalize(in)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", in, err)
		}
		twice, err := target.Normalize(once)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", once, err)
		}
		if once != twice {
			t.Fatalf("not idempotent: %q -> %q -> %q", in, once, twice)
		}
	}
}

func TestNormalize_Invalid(t *testing.T) {
	for _, in := range []string{"", "   ", "ftp://example.com", "http://"} {
		if _, err := target.Normalize(in); err == nil {
			t.Fatalf("Normalize(%q): expected error", in)
		}
	}
}
