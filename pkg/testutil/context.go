package testutil

import (
	"net/http"

	id "ipx/pkg/domain"
	"ipx/pkg/requestcontext"
)

// WithPrincipal attaches principal to the request context the way the bearer
// auth middleware does. An invalid principal leaves the request anonymous.
func WithPrincipal(req *http.Request, principal string) *http.Request {
	p, err := id.ParsePrincipalID(principal)
	if err != nil {
		return req
	}
	return req.WithContext(requestcontext.WithPrincipal(req.Context(), p))
}
