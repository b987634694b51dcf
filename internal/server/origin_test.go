package server

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Tyrowin/messenger/internal/logging"
)

func TestOriginPolicy(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"exact match", []string{"http://example.com"}, "http://example.com", true},
		{"host is case insensitive", []string{"http://example.com"}, "http://EXAMPLE.COM", true},
		{"scheme is case insensitive", []string{"http://example.com"}, "HTTP://example.com", true},
		{"configured origin is normalized", []string{" HTTP://Example.com "}, "http://example.com", true},
		{"other host", []string{"http://example.com"}, "http://evil.com", false},
		{"other scheme", []string{"http://example.com"}, "https://example.com", false},
		{"other port", []string{"http://localhost:8080"}, "http://localhost:3000", false},
		{"missing origin", []string{"http://example.com"}, "", false},
		{"malformed origin", []string{"http://example.com"}, "not-a-url", false},
		{"origin without host", []string{"*"}, "http://", false},
		{"wildcard", []string{"*"}, "https://anything.example", true},
		{"invalid entries are ignored", []string{"::bad", "http://ok.example"}, "http://ok.example", true},
		{"empty allow-list", nil, "http://example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newOriginPolicy(tt.allowed, logging.Discard())
			r := httptest.NewRequest("GET", "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, p.checkOrigin(r))
		})
	}
}
