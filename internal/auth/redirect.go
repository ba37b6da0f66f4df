package auth

import (
	"net/http"
	"strings"
)

// redirectTransport adds the redirect_to query GoTrue reads when it mails a
// confirmation or recovery link. The typed requests have no field for it
type redirectTransport struct {
	base    http.RoundTripper
	siteURL string
}

func (t *redirectTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	target := ""
	if r.Method == http.MethodPost {
		switch {
		case strings.HasSuffix(r.URL.Path, "/signup"):
			target = t.siteURL + "/auth/callback"
		case strings.HasSuffix(r.URL.Path, "/recover"):
			target = t.siteURL + "/auth/reset-password"
		}
	}
	if target == "" {
		return t.base.RoundTrip(r)
	}

	r = r.Clone(r.Context())
	q := r.URL.Query()
	q.Set("redirect_to", target)
	r.URL.RawQuery = q.Encode()
	return t.base.RoundTrip(r)
}
