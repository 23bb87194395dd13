package geo

import "errors"

// Sentinel errors returned by Lookup backends. Enricher never surfaces these;
// they exist so backends and their tests can tell failure kinds apart.
var (
	// ErrLookupFailed indicates the backend could not be reached or answered
	// with a non-success status.
	ErrLookupFailed = errors.New("geo: lookup failed")

	// ErrMalformedResponse indicates the backend answered with a body that
	// could not be decoded.
	ErrMalformedResponse = errors.New("geo: malformed response")

	// ErrNotFound indicates the backend has no record for the address.
	ErrNotFound = errors.New("geo: address not found")
)
