package security

import (
	"strings"
	"testing"
)

func TestValidateEndpointURL_Literals(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr string // empty means valid
	}{
		{"public IP literal", "https://203.0.113.10/hooks/usage", ""},
		{"loopback", "https://127.0.0.1/hook", "loopback"},
		{"private", "http://10.0.0.5/hook", "private"},
		{"link-local metadata", "http://169.254.169.254/latest", "link-local"},
		{"unspecified", "http://0.0.0.0/hook", "unspecified"},
		{"localhost by name", "http://localhost:8080/hook", "not allowed"},
		{"cloud metadata by name", "http://metadata.google.internal/", "not allowed"},
		{"bad scheme", "ftp://example.com/hook", "scheme"},
		{"no host", "https:///hook", "host"},
		{"garbage", "://nope", "invalid URL"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateEndpointURL(tc.url)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("expected valid, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not mention %q", err.Error(), tc.wantErr)
			}
		})
	}
}
