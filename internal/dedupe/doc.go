// Package dedupe suppresses duplicate ask submissions.
//
// Chat widgets retry on slow networks and users double-click. A short TTL
// cache keyed on the session and question text lets the gateway reject the
// second copy of an in-flight question instead of billing two remote calls.
package dedupe
