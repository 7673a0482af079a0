package provider

import (
	"net"
	"net/http"
	"time"
)

const (
	defaultRequestTimeout = 120 * time.Second
	dialTimeout           = 10 * time.Second
	idleConnTimeout       = 90 * time.Second
)

// newHTTPClient builds the pooled client behind one LLM endpoint.
//
// requestTimeout is llm.timeout: it caps a whole call, including reading a
// streamed reply to the end, and also how long the endpoint may take to send
// response headers. Connecting and the TLS handshake have their own shorter
// limit. Zero means two minutes. Cancelling the turn's context aborts the
// call earlier.
func newHTTPClient(requestTimeout time.Duration) *http.Client {
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	dialer := &net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}
	return &http.Client{
		Timeout: requestTimeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   dialTimeout,
			ResponseHeaderTimeout: requestTimeout,
			ExpectContinueTimeout: time.Second,
			MaxIdleConns:          20,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       idleConnTimeout,
		},
	}
}
