package util

import (
	"net/http"
	"testing"
	"time"
)

func TestNewProxyFunc(t *testing.T) {
	proxy := NewProxyFunc("http://proxy:3128", "http://secure-proxy:3128", "internal.example.com")

	tests := []struct {
		url  string
		want string
	}{
		{"http://api.example.com/v1", "http://proxy:3128"},
		{"https://api.example.com/v1", "http://secure-proxy:3128"},
		{"https://internal.example.com/v1", ""},
	}

	for _, tt := range tests {
		req, _ := http.NewRequest(http.MethodGet, tt.url, nil)
		got, err := proxy(req)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tt.url, err)
		}
		if tt.want == "" {
			if got != nil {
				t.Errorf("%s: expected no proxy, got %v", tt.url, got)
			}
			continue
		}
		if got == nil || got.String() != tt.want {
			t.Errorf("%s: expected %s, got %v", tt.url, tt.want, got)
		}
	}
}

func TestNewHTTPClient(t *testing.T) {
	client := NewHTTPClient(5*time.Second, ProxySettings{})
	if client.Timeout != 5*time.Second {
		t.Errorf("Expected 5s timeout, got %v", client.Timeout)
	}
	if _, ok := client.Transport.(*http.Transport); !ok {
		t.Errorf("Expected *http.Transport, got %T", client.Transport)
	}
}
