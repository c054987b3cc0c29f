package httpclient

import (
	"crypto/tls"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// New returns an http.Client with logging, trace propagation and optional
// retries layered over a pooled transport.
func New(cfg Config) (*http.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
	}

	var rt http.RoundTripper = &loggingTransport{base: base, userAgent: cfg.UserAgent, logger: logger}
	if cfg.RetryAttempts > 0 {
		rt = &retryTransport{
			base:        rt,
			maxAttempts: cfg.RetryAttempts + 1,
			baseBackoff: cfg.RetryBackoff,
			maxBackoff:  cfg.MaxBackoff,
		}
	}

	return &http.Client{Transport: rt, Timeout: cfg.Timeout}, nil
}
