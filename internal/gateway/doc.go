// Package gateway is the HTTP surface of the support gateway.
//
// # Endpoints
//
//	POST /api/domains                      register a domain, returns a domain token
//	POST /api/sessions                     start a chat session (token required)
//	GET  /api/sessions/{id}                session status (token required)
//	POST /api/ask                          ask the domain's agent (token required)
//	POST /api/knowledge-bases              add a crawl source to the agent (token required)
//	GET  /api/conversations/{sessionID}    transcript, JSON or ?format=html (token required)
//	GET  /api/agents                       agent records, credentials redacted
//	GET  /healthz                          liveness
//
// Registration responds immediately; agent provisioning runs in the
// background and /api/ask answers 503 with Retry-After until the deployment
// is confirmed. Sessions are scoped to the authenticated domain: a valid
// session ID presented with another domain's token reads as not found.
package gateway
