// Package httpc provides the HTTP clients qrsnap uses for outbound calls.
// Use these instead of http.DefaultClient so every request has a timeout.
package httpc

import (
	"context"
	"net"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// Default timeouts for HTTP operations.
const (
	DefaultTimeout         = 30 * time.Second
	UploadTimeout          = 5 * time.Minute
	DefaultConnectTimeout  = 10 * time.Second
	DefaultKeepAlive       = 30 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second
)

// Client is the shared client for short API calls (token exchange, metadata).
var Client = New(DefaultTimeout)

// Uploads is the shared client for media uploads, which may take minutes
// for a large archive.
var Uploads = New(UploadTimeout)

// New creates a client with the given overall timeout.
func New(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   DefaultConnectTimeout,
				KeepAlive: DefaultKeepAlive,
			}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       DefaultIdleConnTimeout,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// OAuthContext returns ctx carrying c as the client oauth2 uses for token
// exchange and refresh. A nil c means Client.
func OAuthContext(ctx context.Context, c *http.Client) context.Context {
	if c == nil {
		c = Client
	}
	return context.WithValue(ctx, oauth2.HTTPClient, c)
}
