package util

import (
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/http/httpproxy"
)

// ProxySettings holds explicit proxy configuration
type ProxySettings struct {
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// NewProxyFunc creates a proxy function based on configuration.
// If no proxy URLs are provided, falls back to environment variables.
// NoProxy uses the same syntax as the NO_PROXY variable.
func NewProxyFunc(httpProxy, httpsProxy, noProxy string) func(*http.Request) (*url.URL, error) {
	if httpProxy == "" && httpsProxy == "" {
		return http.ProxyFromEnvironment
	}

	cfg := &httpproxy.Config{
		HTTPProxy:  httpProxy,
		HTTPSProxy: httpsProxy,
		NoProxy:    noProxy,
	}
	proxyFor := cfg.ProxyFunc()

	return func(req *http.Request) (*url.URL, error) {
		return proxyFor(req.URL)
	}
}

// NewHTTPClient builds a client with the given timeout and proxy settings
func NewHTTPClient(timeout time.Duration, proxy ProxySettings) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: NewProxyFunc(proxy.HTTPProxy, proxy.HTTPSProxy, proxy.NoProxy),
		},
	}
}
