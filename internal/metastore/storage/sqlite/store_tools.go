package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/recallkit/recallkit/internal/metastore/storage"
)

const toolColumns = `id, name, user_id, description, source_type, source_code, json_schema, module, tags`

// A tool with an empty UserID is globally shared and stored with a NULL
// user_id column.
func toolUserValue(userID string) sql.NullString {
	if userID == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: userID, Valid: true}
}

func scanTool(row rowScanner) (storage.Tool, error) {
	var rec storage.Tool
	var userID sql.NullString
	var jsonSchema sql.NullString
	var tags sql.NullString
	if err := row.Scan(
		&rec.ID,
		&rec.Name,
		&userID,
		&rec.Description,
		&rec.SourceType,
		&rec.SourceCode,
		&jsonSchema,
		&rec.Module,
		&tags,
	); err != nil {
		return storage.Tool{}, err
	}
	rec.UserID = userID.String

	var err error
	if rec.JSONSchema, err = decodeMetadata(jsonSchema); err != nil {
		return storage.Tool{}, err
	}
	if rec.Tags, err = decodeStringList(tags); err != nil {
		return storage.Tool{}, err
	}
	return rec, nil
}

// CreateTool inserts a tool definition. Names are unique within one scope:
// a global tool does not block a per-user override of the same name, and
// vice versa.
func (s *Store) CreateTool(ctx context.Context, record storage.Tool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("tool id is required")
	}
	if strings.TrimSpace(record.Name) == "" {
		return fmt.Errorf("name is required")
	}

	jsonSchema, err := encodeMetadata(record.JSONSchema)
	if err != nil {
		return fmt.Errorf("create tool: %w", err)
	}
	tags, err := encodeStringList(record.Tags)
	if err != nil {
		return fmt.Errorf("create tool: %w", err)
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
SELECT COUNT(*) FROM tools WHERE name = ? AND COALESCE(user_id, '') = ?
`, record.Name, record.UserID).Scan(&count); err != nil {
		return fmt.Errorf("check tool name: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("create tool %q: %w", record.Name, storage.ErrAlreadyExists)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO tools (`+toolColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		record.ID,
		record.Name,
		toolUserValue(record.UserID),
		record.Description,
		record.SourceType,
		record.SourceCode,
		jsonSchema,
		record.Module,
		tags,
	); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create tool %q: %w", record.Name, storage.ErrAlreadyExists)
		}
		return fmt.Errorf("create tool: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tool: %w", err)
	}
	return nil
}

// GetTool fetches a tool by id, returning nil when no tool matches.
func (s *Store) GetTool(ctx context.Context, toolID string) (*storage.Tool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	toolID = strings.TrimSpace(toolID)
	if toolID == "" {
		return nil, fmt.Errorf("tool id is required")
	}

	return s.getOneTool(ctx, `SELECT `+toolColumns+` FROM tools WHERE id = ?`, toolID)
}

// GetToolByName resolves a tool name across both scopes visible to the
// user: the global scope and the user's own. When both scopes define the
// name the result is ambiguous and fails with storage.ErrIntegrity; use
// GetToolByNameAndUser to address one scope exactly.
func (s *Store) GetToolByName(ctx context.Context, userID, name string) (*storage.Tool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}

	return s.getOneTool(ctx, `
SELECT `+toolColumns+` FROM tools WHERE name = ? AND (user_id IS NULL OR user_id = ?)
`, name, userID)
}

// GetToolByNameAndUser fetches the tool with the given name in exactly one
// scope: the user's own when userID is non-empty, the global scope when it
// is empty. Returns nil when the scope has no such tool.
func (s *Store) GetToolByNameAndUser(ctx context.Context, userID, name string) (*storage.Tool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}

	return s.getOneTool(ctx, `
SELECT `+toolColumns+` FROM tools WHERE name = ? AND COALESCE(user_id, '') = ?
`, name, userID)
}

func (s *Store) getOneTool(ctx context.Context, query string, args ...any) (*storage.Tool, error) {
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get tool: %w", err)
	}
	defer rows.Close()

	var found []storage.Tool
	for rows.Next() {
		rec, err := scanTool(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tool: %w", err)
		}
		found = append(found, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get tool: %w", err)
	}
	if len(found) == 0 {
		return nil, nil
	}
	if len(found) > 1 {
		return nil, fmt.Errorf("get tool: matched %d rows: %w", len(found), storage.ErrIntegrity)
	}
	return &found[0], nil
}

// UpdateTool replaces the full row matching the record's id. A missing id
// matches zero rows and is a silent no-op.
func (s *Store) UpdateTool(ctx context.Context, record storage.Tool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("tool id is required")
	}

	jsonSchema, err := encodeMetadata(record.JSONSchema)
	if err != nil {
		return fmt.Errorf("update tool: %w", err)
	}
	tags, err := encodeStringList(record.Tags)
	if err != nil {
		return fmt.Errorf("update tool: %w", err)
	}

	if _, err := s.sqlDB.ExecContext(ctx, `
UPDATE tools SET
	name = ?,
	user_id = ?,
	description = ?,
	source_type = ?,
	source_code = ?,
	json_schema = ?,
	module = ?,
	tags = ?
WHERE id = ?
`,
		record.Name,
		toolUserValue(record.UserID),
		record.Description,
		record.SourceType,
		record.SourceCode,
		jsonSchema,
		record.Module,
		tags,
		record.ID,
	); err != nil {
		return fmt.Errorf("update tool: %w", err)
	}
	return nil
}

// DeleteTool removes a tool by id. Deleting a missing id is a no-op.
func (s *Store) DeleteTool(ctx context.Context, toolID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	toolID = strings.TrimSpace(toolID)
	if toolID == "" {
		return fmt.Errorf("tool id is required")
	}

	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM tools WHERE id = ?`, toolID); err != nil {
		return fmt.Errorf("delete tool: %w", err)
	}
	return nil
}

// ListTools returns a page of the tools visible to the user, global tools
// included, in ascending id order starting strictly after pageToken.
func (s *Store) ListTools(ctx context.Context, userID string, pageSize int, pageToken string) (storage.ToolPage, error) {
	if err := ctx.Err(); err != nil {
		return storage.ToolPage{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.ToolPage{}, fmt.Errorf("storage is not configured")
	}
	if pageSize <= 0 {
		return storage.ToolPage{}, fmt.Errorf("page size must be greater than zero")
	}

	limit := pageSize + 1
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT `+toolColumns+` FROM tools WHERE (user_id IS NULL OR user_id = ?) AND id > ? ORDER BY id LIMIT ?
`, userID, strings.TrimSpace(pageToken), limit)
	if err != nil {
		return storage.ToolPage{}, fmt.Errorf("list tools: %w", err)
	}
	defer rows.Close()

	page := storage.ToolPage{Tools: make([]storage.Tool, 0, pageSize)}
	for rows.Next() {
		rec, err := scanTool(rows)
		if err != nil {
			return storage.ToolPage{}, fmt.Errorf("scan tool: %w", err)
		}
		page.Tools = append(page.Tools, rec)
	}
	if err := rows.Err(); err != nil {
		return storage.ToolPage{}, fmt.Errorf("list tools: %w", err)
	}
	if len(page.Tools) > pageSize {
		page.NextPageToken = page.Tools[pageSize-1].ID
		page.Tools = page.Tools[:pageSize]
	}
	return page, nil
}
