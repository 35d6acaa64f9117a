package reconcile

import (
	"net/url"
	"strings"

	"github.com/casthq/shophand/internal/core"
)

// CallbackURL builds the delivery address for a job: the worker's public URL
// with the bare job identity appended as a single escaped path segment.
func CallbackURL(publicURL, identity string) string {
	return strings.TrimRight(publicURL, "/") + "/" + url.PathEscape(core.StripLocationPrefix(identity))
}

// EmbeddedIdentity extracts the job identity a callback URL addresses. The
// identity normally lives in the URL path; older deployments embedded it in a
// "job" query parameter instead, which takes precedence when present. The
// second return is false when the URL does not deliver over HTTP(S) or
// carries no identity at all, such as Google Pub/Sub or EventBridge
// endpoints registered by other apps.
func EmbeddedIdentity(callback string) (string, bool) {
	u, err := url.Parse(callback)
	if err != nil {
		return "", false
	}
	if scheme := strings.ToLower(u.Scheme); scheme != "http" && scheme != "https" {
		return "", false
	}
	if job := u.Query().Get("job"); job != "" {
		return job, true
	}
	identity := strings.Trim(u.EscapedPath(), "/")
	if identity == "" {
		return "", false
	}
	return identity, true
}

// MatchIdentity reports whether two job identities name the same job. Either
// side may arrive percent-encoded or carrying a storage-location prefix from
// an older deployment, so the raw, decoded, and prefix-stripped forms of each
// side are compared pairwise before declaring a mismatch.
func MatchIdentity(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	for _, fa := range identityForms(a) {
		for _, fb := range identityForms(b) {
			if fa == fb {
				return true
			}
		}
	}
	return false
}

func identityForms(identity string) []string {
	forms := []string{identity}
	if decoded, err := url.PathUnescape(identity); err == nil && decoded != identity {
		forms = append(forms, decoded)
	}
	for _, form := range forms {
		if stripped := core.StripLocationPrefix(form); stripped != form {
			forms = append(forms, stripped)
		}
	}
	return forms
}

// sameEndpoint reports whether two URLs name the same origin and path.
// Paths compare in decoded form so re-encoded equivalents match; query
// strings are ignored.
func sameEndpoint(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return strings.EqualFold(ua.Scheme, ub.Scheme) &&
		strings.EqualFold(ua.Host, ub.Host) &&
		ua.Path == ub.Path
}
