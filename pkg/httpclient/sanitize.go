package httpclient

import (
	"net/url"
	"strings"
)

var sensitiveParams = []string{"key", "token", "secret", "password", "auth", "credential", "signature"}

// sanitizeURL redacts credential-like query parameters and userinfo.
func sanitizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	safe := *u
	safe.User = nil

	q := safe.Query()
	for param := range q {
		lower := strings.ToLower(param)
		for _, s := range sensitiveParams {
			if strings.Contains(lower, s) {
				q.Set(param, "[REDACTED]")
				break
			}
		}
	}
	safe.RawQuery = q.Encode()
	return safe.String()
}
