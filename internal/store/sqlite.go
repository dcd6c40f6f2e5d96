// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides domain/agent/session persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS registered_domains (
			id          TEXT PRIMARY KEY,
			domain_name TEXT NOT NULL UNIQUE,
			domain_key  TEXT NOT NULL UNIQUE,
			created_at  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_domains_name ON registered_domains(domain_name);
		CREATE INDEX IF NOT EXISTS idx_domains_key ON registered_domains(domain_key);

		CREATE TABLE IF NOT EXISTS agent_records (
			domain_key             TEXT PRIMARY KEY,
			agent_id               TEXT NOT NULL,
			endpoint_url           TEXT NOT NULL DEFAULT '',
			access_key             TEXT NOT NULL DEFAULT '',
			credential_verified_at TEXT,
			knowledge_base_ids     TEXT NOT NULL DEFAULT '[]',
			status                 TEXT NOT NULL,
			created_at             TEXT NOT NULL,
			updated_at             TEXT NOT NULL,

			CHECK (status IN ('UNKNOWN', 'PROVISIONING', 'RUNNING', 'DEGRADED', 'FAILED'))
		);

		CREATE TABLE IF NOT EXISTS knowledge_bases (
			domain_key TEXT NOT NULL,
			kb_id      TEXT NOT NULL,
			label      TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,

			PRIMARY KEY (domain_key, kb_id)
		);

		CREATE INDEX IF NOT EXISTS idx_kbs_domain ON knowledge_bases(domain_key);

		CREATE TABLE IF NOT EXISTS sessions (
			id            TEXT PRIMARY KEY,
			user_id       TEXT NOT NULL,
			domain_key    TEXT NOT NULL,
			created_at    TEXT NOT NULL,
			last_activity TEXT NOT NULL,
			status        TEXT NOT NULL DEFAULT 'active',

			CHECK (status IN ('active', 'closed'))
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_domain ON sessions(domain_key);

		CREATE TABLE IF NOT EXISTS conversation_turns (
			id         TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			user_id    TEXT NOT NULL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at TEXT NOT NULL,

			CHECK (role IN ('user', 'assistant')),
			FOREIGN KEY (session_id) REFERENCES sessions(id)
		);

		CREATE INDEX IF NOT EXISTS idx_turns_session ON conversation_turns(session_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// CreateDomain inserts a new registered domain.
// Returns ErrDuplicateDomain if the domain name is already registered.
func (s *SQLiteStore) CreateDomain(ctx context.Context, domain *Domain) error {
	query := `
		INSERT INTO registered_domains (id, domain_name, domain_key, created_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		domain.ID,
		domain.Name,
		domain.Key,
		domain.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateDomain
		}
		return fmt.Errorf("inserting domain: %w", err)
	}

	s.logger.Debug("created domain", "id", domain.ID, "name", domain.Name)
	return nil
}

// GetDomain retrieves a domain by ID. Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetDomain(ctx context.Context, id string) (*Domain, error) {
	query := `SELECT id, domain_name, domain_key, created_at FROM registered_domains WHERE id = ?`
	return s.scanDomain(s.db.QueryRowContext(ctx, query, id))
}

// GetDomainByName retrieves a domain by its normalized name.
// Returns ErrNotFound if the domain is not registered.
func (s *SQLiteStore) GetDomainByName(ctx context.Context, name string) (*Domain, error) {
	query := `SELECT id, domain_name, domain_key, created_at FROM registered_domains WHERE domain_name = ?`
	return s.scanDomain(s.db.QueryRowContext(ctx, query, name))
}

// GetDomainByKey retrieves a domain by its derived domain key.
// Returns ErrNotFound if no registered domain maps to the key.
func (s *SQLiteStore) GetDomainByKey(ctx context.Context, key string) (*Domain, error) {
	query := `SELECT id, domain_name, domain_key, created_at FROM registered_domains WHERE domain_key = ?`
	return s.scanDomain(s.db.QueryRowContext(ctx, query, key))
}

func (s *SQLiteStore) scanDomain(row *sql.Row) (*Domain, error) {
	var domain Domain
	var createdAtStr string

	err := row.Scan(&domain.ID, &domain.Name, &domain.Key, &createdAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying domain: %w", err)
	}

	domain.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &domain, nil
}

// ListDomains retrieves all registered domains ordered by creation time.
func (s *SQLiteStore) ListDomains(ctx context.Context) ([]*Domain, error) {
	query := `SELECT id, domain_name, domain_key, created_at FROM registered_domains ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying domains: %w", err)
	}
	defer rows.Close()

	var domains []*Domain
	for rows.Next() {
		var domain Domain
		var createdAtStr string
		if err := rows.Scan(&domain.ID, &domain.Name, &domain.Key, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning domain: %w", err)
		}
		domain.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		domains = append(domains, &domain)
	}
	return domains, rows.Err()
}

// CreateAgentRecord inserts a new agent record with insert-if-absent semantics.
// Returns ErrDuplicateAgent if a record for the domain key already exists; the
// caller is expected to re-read the winner's record.
func (s *SQLiteStore) CreateAgentRecord(ctx context.Context, record *AgentRecord) error {
	kbJSON, err := json.Marshal(record.KnowledgeBaseIDs)
	if err != nil {
		return fmt.Errorf("encoding knowledge base ids: %w", err)
	}

	query := `
		INSERT INTO agent_records (domain_key, agent_id, endpoint_url, access_key,
		                           credential_verified_at, knowledge_base_ids, status,
		                           created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		record.DomainKey,
		record.AgentID,
		record.EndpointURL,
		record.AccessKey,
		formatNullableTime(record.CredentialVerifiedAt),
		string(kbJSON),
		string(record.Status),
		record.CreatedAt.UTC().Format(time.RFC3339),
		record.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateAgent
		}
		return fmt.Errorf("inserting agent record: %w", err)
	}

	s.logger.Debug("created agent record",
		"domain_key", record.DomainKey,
		"agent_id", record.AgentID,
		"status", record.Status)
	return nil
}

// GetAgentRecord retrieves the agent record for a domain key.
// Returns ErrNotFound if no record exists.
func (s *SQLiteStore) GetAgentRecord(ctx context.Context, domainKey string) (*AgentRecord, error) {
	query := `
		SELECT domain_key, agent_id, endpoint_url, access_key, credential_verified_at,
		       knowledge_base_ids, status, created_at, updated_at
		FROM agent_records
		WHERE domain_key = ?
	`

	row := s.db.QueryRowContext(ctx, query, domainKey)
	record, err := scanAgentRecord(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return record, err
}

// UpdateAgentRecord overwrites the stored record for its domain key.
// Returns ErrNotFound if the record doesn't exist.
func (s *SQLiteStore) UpdateAgentRecord(ctx context.Context, record *AgentRecord) error {
	kbJSON, err := json.Marshal(record.KnowledgeBaseIDs)
	if err != nil {
		return fmt.Errorf("encoding knowledge base ids: %w", err)
	}

	query := `
		UPDATE agent_records
		SET agent_id = ?, endpoint_url = ?, access_key = ?, credential_verified_at = ?,
		    knowledge_base_ids = ?, status = ?, updated_at = ?
		WHERE domain_key = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		record.AgentID,
		record.EndpointURL,
		record.AccessKey,
		formatNullableTime(record.CredentialVerifiedAt),
		string(kbJSON),
		string(record.Status),
		record.UpdatedAt.UTC().Format(time.RFC3339),
		record.DomainKey,
	)
	if err != nil {
		return fmt.Errorf("updating agent record: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated agent record",
		"domain_key", record.DomainKey,
		"status", record.Status)
	return nil
}

// ListAgentRecords retrieves all agent records ordered by creation time.
func (s *SQLiteStore) ListAgentRecords(ctx context.Context) ([]*AgentRecord, error) {
	query := `
		SELECT domain_key, agent_id, endpoint_url, access_key, credential_verified_at,
		       knowledge_base_ids, status, created_at, updated_at
		FROM agent_records
		ORDER BY created_at
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying agent records: %w", err)
	}
	defer rows.Close()

	var records []*AgentRecord
	for rows.Next() {
		record, err := scanAgentRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// scanAgentRecord scans a row into an AgentRecord using the provided scan func.
func scanAgentRecord(scan func(dest ...any) error) (*AgentRecord, error) {
	var record AgentRecord
	var verifiedAtStr sql.NullString
	var kbJSON, statusStr, createdAtStr, updatedAtStr string

	err := scan(
		&record.DomainKey,
		&record.AgentID,
		&record.EndpointURL,
		&record.AccessKey,
		&verifiedAtStr,
		&kbJSON,
		&statusStr,
		&createdAtStr,
		&updatedAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning agent record: %w", err)
	}

	if err := json.Unmarshal([]byte(kbJSON), &record.KnowledgeBaseIDs); err != nil {
		return nil, fmt.Errorf("decoding knowledge base ids: %w", err)
	}
	record.Status = DeploymentStatus(statusStr)

	if verifiedAtStr.Valid && verifiedAtStr.String != "" {
		record.CredentialVerifiedAt, err = time.Parse(time.RFC3339, verifiedAtStr.String)
		if err != nil {
			return nil, fmt.Errorf("parsing credential_verified_at: %w", err)
		}
	}
	record.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	record.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &record, nil
}

// formatNullableTime renders a time as RFC3339, or NULL for the zero value.
func formatNullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

// CreateKnowledgeBase records a remote knowledge base for a domain key.
// Inserting the same (domain_key, kb_id) pair twice is a no-op.
func (s *SQLiteStore) CreateKnowledgeBase(ctx context.Context, kb *KnowledgeBaseRecord) error {
	query := `
		INSERT OR IGNORE INTO knowledge_bases (domain_key, kb_id, label, created_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		kb.DomainKey,
		kb.KBID,
		kb.Label,
		kb.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting knowledge base: %w", err)
	}

	s.logger.Debug("created knowledge base", "domain_key", kb.DomainKey, "kb_id", kb.KBID)
	return nil
}

// ListKnowledgeBases retrieves all knowledge bases for a domain key.
func (s *SQLiteStore) ListKnowledgeBases(ctx context.Context, domainKey string) ([]*KnowledgeBaseRecord, error) {
	query := `
		SELECT domain_key, kb_id, label, created_at
		FROM knowledge_bases
		WHERE domain_key = ?
		ORDER BY created_at
	`

	rows, err := s.db.QueryContext(ctx, query, domainKey)
	if err != nil {
		return nil, fmt.Errorf("querying knowledge bases: %w", err)
	}
	defer rows.Close()

	var kbs []*KnowledgeBaseRecord
	for rows.Next() {
		var kb KnowledgeBaseRecord
		var createdAtStr string
		if err := rows.Scan(&kb.DomainKey, &kb.KBID, &kb.Label, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning knowledge base: %w", err)
		}
		kb.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		kbs = append(kbs, &kb)
	}
	return kbs, rows.Err()
}

// CreateSession inserts a new session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *Session) error {
	query := `
		INSERT INTO sessions (id, user_id, domain_key, created_at, last_activity, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		session.ID,
		session.UserID,
		session.DomainKey,
		session.CreatedAt.UTC().Format(time.RFC3339),
		session.LastActivity.UTC().Format(time.RFC3339),
		session.Status,
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}

	s.logger.Debug("created session", "id", session.ID, "user_id", session.UserID)
	return nil
}

// GetSession retrieves a session by ID. Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	query := `
		SELECT id, user_id, domain_key, created_at, last_activity, status
		FROM sessions
		WHERE id = ?
	`

	var session Session
	var createdAtStr, lastActivityStr string

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&session.ID,
		&session.UserID,
		&session.DomainKey,
		&createdAtStr,
		&lastActivityStr,
		&session.Status,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}

	session.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	session.LastActivity, err = time.Parse(time.RFC3339, lastActivityStr)
	if err != nil {
		return nil, fmt.Errorf("parsing last_activity: %w", err)
	}
	return &session, nil
}

// TouchSession updates a session's last-activity timestamp.
// Returns ErrNotFound if the session doesn't exist.
func (s *SQLiteStore) TouchSession(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE sessions SET last_activity = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, at.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSessions retrieves sessions for a domain key ordered by most recent activity.
// If domainKey is empty, sessions for all domains are returned.
// If limit is 0 or negative, a default limit of 100 is used.
func (s *SQLiteStore) ListSessions(ctx context.Context, domainKey string, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `
		SELECT id, user_id, domain_key, created_at, last_activity, status
		FROM sessions
		WHERE (? = '' OR domain_key = ?)
		ORDER BY last_activity DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, domainKey, domainKey, limit)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		var session Session
		var createdAtStr, lastActivityStr string
		if err := rows.Scan(
			&session.ID,
			&session.UserID,
			&session.DomainKey,
			&createdAtStr,
			&lastActivityStr,
			&session.Status,
		); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		session.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		session.LastActivity, err = time.Parse(time.RFC3339, lastActivityStr)
		if err != nil {
			return nil, fmt.Errorf("parsing last_activity: %w", err)
		}
		sessions = append(sessions, &session)
	}
	return sessions, rows.Err()
}

// SaveTurn appends a conversation turn. Turns are never updated or deleted.
func (s *SQLiteStore) SaveTurn(ctx context.Context, turn *ConversationTurn) error {
	query := `
		INSERT INTO conversation_turns (id, session_id, user_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		turn.ID,
		turn.SessionID,
		turn.UserID,
		turn.Role,
		turn.Content,
		turn.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting conversation turn: %w", err)
	}
	return nil
}

// GetSessionTurns retrieves conversation turns for a session ordered by timestamp.
// If limit is 0 or negative, a default limit of 200 is used.
func (s *SQLiteStore) GetSessionTurns(ctx context.Context, sessionID string, limit int) ([]*ConversationTurn, error) {
	if limit <= 0 {
		limit = 200
	}

	query := `
		SELECT id, session_id, user_id, role, content, created_at
		FROM conversation_turns
		WHERE session_id = ?
		ORDER BY created_at
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying conversation turns: %w", err)
	}
	defer rows.Close()

	var turns []*ConversationTurn
	for rows.Next() {
		var turn ConversationTurn
		var createdAtStr string
		if err := rows.Scan(
			&turn.ID,
			&turn.SessionID,
			&turn.UserID,
			&turn.Role,
			&turn.Content,
			&createdAtStr,
		); err != nil {
			return nil, fmt.Errorf("scanning conversation turn: %w", err)
		}
		turn.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		turns = append(turns, &turn)
	}
	return turns, rows.Err()
}
