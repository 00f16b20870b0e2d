package match

import "testing"

func TestPath(t *testing.T) {
	cases := []struct {
		pattern string
		target  string
		want    bool
	}{
		{"**/.env", "config/.env", true},
		{"**/.env", ".env", true},
		{"**/.env", "a/b/c/.env", true},
		{"**/.env", "a/b/env", false},
		{"**/*.pem", "certs/server.pem", true},
		{"**/*.pem", "server.pem", true},
		{"**/*.pem", "certs/server.pem.bak", false},
		{"src/**", "src/pkg/foo.go", true},
		{"src/**", "src", true},
		{"src/**", "lib/foo.go", false},
		{"src/**/*.go", "src/a/b/main.go", true},
		{"src/**/*.go", "src/main.go", true},
		{"*.go", "main.go", true},
		{"*.go", "pkg/main.go", false},
		{"credentials*", "credentials.json", true},
		{"./src/*.go", "src/main.go", true},
		{"", "anything", false},
	}
	for _, tc := range cases {
		if got := Path(tc.pattern, tc.target); got != tc.want {
			t.Fatalf("Path(%q, %q) = %v, want %v", tc.pattern, tc.target, got, tc.want)
		}
	}
}

func TestAny(t *testing.T) {
	patterns := []string{"**/.env", "**/*.pem"}
	if !Any(patterns, "deploy/.env") {
		t.Fatalf("expected match against pattern list")
	}
	if Any(patterns, "deploy/app.go") {
		t.Fatalf("unexpected match against pattern list")
	}
	if Any(nil, "deploy/.env") {
		t.Fatalf("empty pattern list must not match")
	}
}
