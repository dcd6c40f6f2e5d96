// Package conversation provides session and conversation-turn persistence.
//
// The Service sits between the HTTP handlers and the store. It owns session
// lifecycle (create, touch, list) and the append-only turn log. The agent
// registry deliberately does not depend on this package: chat handlers call
// RecordExchange after a successful turn, keeping conversation storage
// ownership separate from agent reconciliation.
package conversation
