package httpclient

import (
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// New returns an http.Client with the given overall timeout. When proxyURL is
// set every request goes through it, otherwise the usual proxy environment
// variables apply.
func New(timeout time.Duration, proxyURL string) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("parse proxy url: %q has no scheme or host", proxyURL)
		}
		transport.Proxy = http.ProxyURL(u)
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}, nil
}
