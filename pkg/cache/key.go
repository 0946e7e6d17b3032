package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// AnonymousViewer is the viewer of requests without credentials.
const AnonymousViewer = "anon"

// Key identifies a cached response.
type Key struct {
	// Endpoint is the API path, e.g. "/api/researchhub_unified_document/get_unified_documents/"
	Endpoint string

	// Query are the query parameters of the request
	Query url.Values

	// Viewer scopes personalised responses; empty means AnonymousViewer
	Viewer string
}

// String generates a deterministic key.
// Format: feed:endpoint:query1=val1:query2=val2:viewer=id
//
// Example:
//
//	feed:api/researchhub_unified_document/get_unified_documents:ordering=hot:page=2:viewer=anon
func (k Key) String() string {
	parts := []string{"feed"}

	endpoint := strings.Trim(k.Endpoint, "/")
	if endpoint != "" {
		parts = append(parts, endpoint)
	}

	if len(k.Query) > 0 {
		names := make([]string, 0, len(k.Query))
		for name := range k.Query {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			values := append([]string(nil), k.Query[name]...)
			sort.Strings(values)
			parts = append(parts, name+"="+strings.Join(values, ","))
		}
	}

	viewer := k.Viewer
	if viewer == "" {
		viewer = AnonymousViewer
	}
	parts = append(parts, "viewer="+viewer)

	return strings.Join(parts, ":")
}

// KeyForURL builds the key of a request URL.
func KeyForURL(u *url.URL, viewer string) Key {
	return Key{
		Endpoint: u.Path,
		Query:    u.Query(),
		Viewer:   viewer,
	}
}

// ViewerFromToken derives a stable, non-reversible viewer id from an auth
// token. An empty token is the anonymous viewer.
func ViewerFromToken(token string) string {
	if token == "" {
		return AnonymousViewer
	}
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}
