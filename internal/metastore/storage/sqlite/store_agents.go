package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/recallkit/recallkit/internal/metastore/storage"
)

const agentColumns = `id, user_id, name, created_at, description, message_ids, memory, system, tools, agent_type, llm_config, embedding_config, metadata`

type agentColumnValues struct {
	messageIDs      sql.NullString
	memory          sql.NullString
	tools           sql.NullString
	llmConfig       sql.NullString
	embeddingConfig sql.NullString
	metadata        sql.NullString
}

func encodeAgentColumns(record storage.Agent) (agentColumnValues, error) {
	var cols agentColumnValues
	var err error
	if cols.messageIDs, err = encodeStringList(record.MessageIDs); err != nil {
		return cols, err
	}
	if cols.memory, err = encodeMemory(record.Memory); err != nil {
		return cols, err
	}
	if cols.tools, err = encodeStringList(record.Tools); err != nil {
		return cols, err
	}
	if cols.llmConfig, err = encodeLLMConfig(record.LLMConfig); err != nil {
		return cols, err
	}
	if cols.embeddingConfig, err = encodeEmbeddingConfig(record.EmbeddingConfig); err != nil {
		return cols, err
	}
	if cols.metadata, err = encodeMetadata(record.Metadata); err != nil {
		return cols, err
	}
	return cols, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (storage.Agent, error) {
	var rec storage.Agent
	var createdAt int64
	var cols agentColumnValues
	if err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.Name,
		&createdAt,
		&rec.Description,
		&cols.messageIDs,
		&cols.memory,
		&rec.System,
		&cols.tools,
		&rec.AgentType,
		&cols.llmConfig,
		&cols.embeddingConfig,
		&cols.metadata,
	); err != nil {
		return storage.Agent{}, err
	}
	rec.CreatedAt = fromMillis(createdAt)

	var err error
	if rec.MessageIDs, err = decodeStringList(cols.messageIDs); err != nil {
		return storage.Agent{}, err
	}
	if rec.Memory, err = decodeMemory(cols.memory); err != nil {
		return storage.Agent{}, err
	}
	if rec.Tools, err = decodeStringList(cols.tools); err != nil {
		return storage.Agent{}, err
	}
	if rec.LLMConfig, err = decodeLLMConfig(cols.llmConfig); err != nil {
		return storage.Agent{}, err
	}
	if rec.EmbeddingConfig, err = decodeEmbeddingConfig(cols.embeddingConfig); err != nil {
		return storage.Agent{}, err
	}
	if rec.Metadata, err = decodeMetadata(cols.metadata); err != nil {
		return storage.Agent{}, err
	}
	return rec, nil
}

// CreateAgent inserts an agent record. Names are unique per user; a
// duplicate fails with storage.ErrAlreadyExists before any row is written.
func (s *Store) CreateAgent(ctx context.Context, record storage.Agent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("agent id is required")
	}
	if strings.TrimSpace(record.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(record.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.now()
	}

	cols, err := encodeAgentColumns(record)
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var count int
	if err := tx.QueryRowContext(ctx, `
SELECT COUNT(*) FROM agents WHERE user_id = ? AND name = ?
`, record.UserID, record.Name).Scan(&count); err != nil {
		return fmt.Errorf("check agent name: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("create agent %q for user %s: %w", record.Name, record.UserID, storage.ErrAlreadyExists)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO agents (`+agentColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		record.ID,
		record.UserID,
		record.Name,
		toMillis(record.CreatedAt),
		record.Description,
		cols.messageIDs,
		cols.memory,
		record.System,
		cols.tools,
		record.AgentType,
		cols.llmConfig,
		cols.embeddingConfig,
		cols.metadata,
	); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create agent %q for user %s: %w", record.Name, record.UserID, storage.ErrAlreadyExists)
		}
		return fmt.Errorf("create agent: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit agent: %w", err)
	}
	return nil
}

// GetAgent fetches an agent by id, returning nil when no agent matches.
func (s *Store) GetAgent(ctx context.Context, agentID string) (*storage.Agent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return nil, fmt.Errorf("agent id is required")
	}

	return s.getOneAgent(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, agentID)
}

// GetAgentByName fetches an agent by its per-user unique name, returning
// nil when no agent matches.
func (s *Store) GetAgentByName(ctx context.Context, userID, name string) (*storage.Agent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	name = strings.TrimSpace(name)
	if userID == "" || name == "" {
		return nil, fmt.Errorf("user id and name are required")
	}

	return s.getOneAgent(ctx, `SELECT `+agentColumns+` FROM agents WHERE user_id = ? AND name = ?`, userID, name)
}

// getOneAgent runs a unique-key lookup: zero rows is nil, more than one row
// is an integrity violation that aborts the call.
func (s *Store) getOneAgent(ctx context.Context, query string, args ...any) (*storage.Agent, error) {
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	defer rows.Close()

	var found []storage.Agent
	for rows.Next() {
		rec, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		found = append(found, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	if len(found) == 0 {
		return nil, nil
	}
	if len(found) > 1 {
		return nil, fmt.Errorf("get agent: matched %d rows: %w", len(found), storage.ErrIntegrity)
	}
	return &found[0], nil
}

// UpdateAgent replaces the full row matching the record's id. A missing id
// matches zero rows and is a silent no-op; callers must not rely on update
// to signal not-found.
func (s *Store) UpdateAgent(ctx context.Context, record storage.Agent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("agent id is required")
	}

	cols, err := encodeAgentColumns(record)
	if err != nil {
		return fmt.Errorf("update agent: %w", err)
	}

	if _, err := s.sqlDB.ExecContext(ctx, `
UPDATE agents SET
	user_id = ?,
	name = ?,
	created_at = ?,
	description = ?,
	message_ids = ?,
	memory = ?,
	system = ?,
	tools = ?,
	agent_type = ?,
	llm_config = ?,
	embedding_config = ?,
	metadata = ?
WHERE id = ?
`,
		record.UserID,
		record.Name,
		toMillis(record.CreatedAt),
		record.Description,
		cols.messageIDs,
		cols.memory,
		record.System,
		cols.tools,
		record.AgentType,
		cols.llmConfig,
		cols.embeddingConfig,
		cols.metadata,
		record.ID,
	); err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	return nil
}

// DeleteAgent removes an agent and its source attachment rows in one
// transaction. Deleting a missing id is a no-op.
func (s *Store) DeleteAgent(ctx context.Context, agentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return fmt.Errorf("agent id is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, agentID); err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM agent_source_mappings WHERE agent_id = ?`, agentID); err != nil {
		return fmt.Errorf("delete agent mappings: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete agent: %w", err)
	}
	return nil
}

// ListAgentsByUser returns a page of the user's agents in ascending id
// order starting strictly after pageToken.
func (s *Store) ListAgentsByUser(ctx context.Context, userID string, pageSize int, pageToken string) (storage.AgentPage, error) {
	if err := ctx.Err(); err != nil {
		return storage.AgentPage{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.AgentPage{}, fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return storage.AgentPage{}, fmt.Errorf("user id is required")
	}
	if pageSize <= 0 {
		return storage.AgentPage{}, fmt.Errorf("page size must be greater than zero")
	}

	limit := pageSize + 1
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT `+agentColumns+` FROM agents WHERE user_id = ? AND id > ? ORDER BY id LIMIT ?
`, userID, strings.TrimSpace(pageToken), limit)
	if err != nil {
		return storage.AgentPage{}, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	page := storage.AgentPage{Agents: make([]storage.Agent, 0, pageSize)}
	for rows.Next() {
		rec, err := scanAgent(rows)
		if err != nil {
			return storage.AgentPage{}, fmt.Errorf("scan agent: %w", err)
		}
		page.Agents = append(page.Agents, rec)
	}
	if err := rows.Err(); err != nil {
		return storage.AgentPage{}, fmt.Errorf("list agents: %w", err)
	}
	if len(page.Agents) > pageSize {
		page.NextPageToken = page.Agents[pageSize-1].ID
		page.Agents = page.Agents[:pageSize]
	}
	return page, nil
}
