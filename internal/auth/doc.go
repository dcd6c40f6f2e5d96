// Package auth issues and verifies domain tokens.
//
// A domain token is an HS256-signed JWT minted when a domain is registered.
// The support widget presents it on every request; the gateway resolves the
// token's "sub" claim to the registered domain and from there to the domain
// key, so clients never supply domain identifiers directly.
package auth
