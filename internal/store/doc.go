// Package store provides persistent storage for the gateway using SQLite.
//
// # Architecture
//
// The Store interface covers domain registration, agent records, knowledge
// bases, sessions, and conversation turns. SQLiteStore implements it for
// production; MockStore implements it in memory for tests.
//
// # Data Models
//
//   - Domain: a registered tenant, keyed by normalized domain name
//   - AgentRecord: the association between a domain key and a remote agent,
//     including its access credential and deployment status
//   - KnowledgeBaseRecord: a remote knowledge base linked to a domain key
//   - Session: one end user's conversation context against a domain
//   - ConversationTurn: append-only message log, ordered by timestamp
//
// # Concurrency
//
// CreateAgentRecord has atomic insert-if-absent semantics: the primary key on
// domain_key makes the database arbitrate creation races, and the loser
// receives ErrDuplicateAgent and re-reads the winner's record. The registry
// relies on this to guarantee at most one agent per domain key.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Timestamps are stored as RFC 3339 strings in UTC.
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: Requested entity does not exist
//   - ErrDuplicateDomain: Domain name already registered
//   - ErrDuplicateAgent: Agent record already exists for the domain key
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewMockStore() for unit tests, or NewSQLiteStore(":memory:") for
// integration tests with real SQLite.
package store
