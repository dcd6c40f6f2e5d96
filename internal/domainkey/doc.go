// Package domainkey normalizes customer domains and derives their stable
// lookup keys.
//
// Registration input is messy: "https://www.Acme.COM/pricing" and "acme.com"
// must land on the same agent. Normalize canonicalizes the input and Derive
// hashes it, so every store and cache lookup uses one deterministic key per
// logical domain.
package domainkey
