package paywall

import "strings"

// DecisionKind is the outcome of classifying a request path.
type DecisionKind int

const (
	// DecisionPassThrough forwards the request unmodified.
	DecisionPassThrough DecisionKind = iota
	// DecisionNotFound short-circuits with 404: a protected pattern matched
	// but no resource exists. Never answered with a payment challenge.
	DecisionNotFound
	// DecisionProtected gates the request behind the resource's own payment
	// terms (payee = the resource author).
	DecisionProtected
	// DecisionPlatformFee gates the request behind the fixed platform
	// payee and price.
	DecisionPlatformFee
)

// Decision is the result of classifying one request.
type Decision struct {
	Kind DecisionKind
	Slug string
}

// companion sub-paths of a resource that stay unprotected: metadata and
// statistics endpoints that must be reachable before purchase.
var companionPaths = map[string]struct{}{
	"purchase": {},
	"rating":   {},
	"stats":    {},
}

// Classify maps an incoming (method, path) onto a payment decision using a
// point-in-time view of the catalog. It is a pure function: all routing
// precedence lives here, the middleware is only an adapter around it.
//
// Precedence, most specific first: exact protected resource path, then known
// unprotected companion sub-paths, then catalog/listing paths, then
// platform-fee paths, then pass-through.
func Classify(method, path string, exists func(slug string) bool) Decision {
	path = strings.TrimSuffix(path, "/")

	if rest, ok := strings.CutPrefix(path, "/resources"); ok {
		if rest != "" && !strings.HasPrefix(rest, "/") {
			// "/resourcesfoo" is not under the catalog prefix.
			return Decision{Kind: DecisionPassThrough}
		}
		switch rest {
		case "", "/stats":
			// Listing and bulk-stats endpoints are always unprotected.
			return Decision{Kind: DecisionPassThrough}
		}

		segments := strings.Split(strings.TrimPrefix(rest, "/"), "/")
		switch len(segments) {
		case 1:
			slug := segments[0]
			if method != "GET" {
				return Decision{Kind: DecisionPassThrough}
			}
			if !exists(slug) {
				return Decision{Kind: DecisionNotFound, Slug: slug}
			}
			return Decision{Kind: DecisionProtected, Slug: slug}
		case 2:
			if _, ok := companionPaths[segments[1]]; ok {
				return Decision{Kind: DecisionPassThrough}
			}
		}
		return Decision{Kind: DecisionPassThrough}
	}

	if path == "/publish" && method == "POST" {
		return Decision{Kind: DecisionPlatformFee}
	}

	return Decision{Kind: DecisionPassThrough}
}
