package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/recallkit/recallkit/internal/metastore/storage"
)

const sourceColumns = `id, user_id, name, created_at, embedding_config, description, metadata`

func scanSource(row rowScanner) (storage.Source, error) {
	var rec storage.Source
	var createdAt int64
	var embeddingConfig sql.NullString
	var metadata sql.NullString
	if err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.Name,
		&createdAt,
		&embeddingConfig,
		&rec.Description,
		&metadata,
	); err != nil {
		return storage.Source{}, err
	}
	rec.CreatedAt = fromMillis(createdAt)

	var err error
	if rec.EmbeddingConfig, err = decodeEmbeddingConfig(embeddingConfig); err != nil {
		return storage.Source{}, err
	}
	if rec.Metadata, err = decodeMetadata(metadata); err != nil {
		return storage.Source{}, err
	}
	return rec, nil
}

// CreateSource inserts a source record. Names are unique per user; a
// duplicate fails with storage.ErrAlreadyExists before any row is written.
func (s *Store) CreateSource(ctx context.Context, record storage.Source) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("source id is required")
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

	embeddingConfig, err := encodeEmbeddingConfig(record.EmbeddingConfig)
	if err != nil {
		return fmt.Errorf("create source: %w", err)
	}
	metadata, err := encodeMetadata(record.Metadata)
	if err != nil {
		return fmt.Errorf("create source: %w", err)
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
SELECT COUNT(*) FROM sources WHERE user_id = ? AND name = ?
`, record.UserID, record.Name).Scan(&count); err != nil {
		return fmt.Errorf("check source name: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("create source %q for user %s: %w", record.Name, record.UserID, storage.ErrAlreadyExists)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO sources (`+sourceColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?)
`,
		record.ID,
		record.UserID,
		record.Name,
		toMillis(record.CreatedAt),
		embeddingConfig,
		record.Description,
		metadata,
	); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create source %q for user %s: %w", record.Name, record.UserID, storage.ErrAlreadyExists)
		}
		return fmt.Errorf("create source: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit source: %w", err)
	}
	return nil
}

// GetSource fetches a source by id, returning nil when no source matches.
func (s *Store) GetSource(ctx context.Context, sourceID string) (*storage.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	sourceID = strings.TrimSpace(sourceID)
	if sourceID == "" {
		return nil, fmt.Errorf("source id is required")
	}

	return s.getOneSource(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = ?`, sourceID)
}

// GetSourceByName fetches a source by its per-user unique name, returning
// nil when no source matches.
func (s *Store) GetSourceByName(ctx context.Context, userID, name string) (*storage.Source, error) {
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

	return s.getOneSource(ctx, `SELECT `+sourceColumns+` FROM sources WHERE user_id = ? AND name = ?`, userID, name)
}

func (s *Store) getOneSource(ctx context.Context, query string, args ...any) (*storage.Source, error) {
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get source: %w", err)
	}
	defer rows.Close()

	var found []storage.Source
	for rows.Next() {
		rec, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		found = append(found, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get source: %w", err)
	}
	if len(found) == 0 {
		return nil, nil
	}
	if len(found) > 1 {
		return nil, fmt.Errorf("get source: matched %d rows: %w", len(found), storage.ErrIntegrity)
	}
	return &found[0], nil
}

// UpdateSource replaces the full row matching the record's id. A missing
// id matches zero rows and is a silent no-op.
func (s *Store) UpdateSource(ctx context.Context, record storage.Source) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("source id is required")
	}

	embeddingConfig, err := encodeEmbeddingConfig(record.EmbeddingConfig)
	if err != nil {
		return fmt.Errorf("update source: %w", err)
	}
	metadata, err := encodeMetadata(record.Metadata)
	if err != nil {
		return fmt.Errorf("update source: %w", err)
	}

	if _, err := s.sqlDB.ExecContext(ctx, `
UPDATE sources SET
	user_id = ?,
	name = ?,
	created_at = ?,
	embedding_config = ?,
	description = ?,
	metadata = ?
WHERE id = ?
`,
		record.UserID,
		record.Name,
		toMillis(record.CreatedAt),
		embeddingConfig,
		record.Description,
		metadata,
		record.ID,
	); err != nil {
		return fmt.Errorf("update source: %w", err)
	}
	return nil
}

// DeleteSource removes a source and its attachment rows in one
// transaction. File metadata rows are deleted by explicit calls, not here.
// Deleting a missing id is a no-op.
func (s *Store) DeleteSource(ctx context.Context, sourceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	sourceID = strings.TrimSpace(sourceID)
	if sourceID == "" {
		return fmt.Errorf("source id is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, sourceID); err != nil {
		return fmt.Errorf("delete source: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM agent_source_mappings WHERE source_id = ?`, sourceID); err != nil {
		return fmt.Errorf("delete source mappings: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete source: %w", err)
	}
	return nil
}

// ListSourcesByUser returns a page of the user's sources in ascending id
// order starting strictly after pageToken.
func (s *Store) ListSourcesByUser(ctx context.Context, userID string, pageSize int, pageToken string) (storage.SourcePage, error) {
	if err := ctx.Err(); err != nil {
		return storage.SourcePage{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.SourcePage{}, fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return storage.SourcePage{}, fmt.Errorf("user id is required")
	}
	if pageSize <= 0 {
		return storage.SourcePage{}, fmt.Errorf("page size must be greater than zero")
	}

	limit := pageSize + 1
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT `+sourceColumns+` FROM sources WHERE user_id = ? AND id > ? ORDER BY id LIMIT ?
`, userID, strings.TrimSpace(pageToken), limit)
	if err != nil {
		return storage.SourcePage{}, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	page := storage.SourcePage{Sources: make([]storage.Source, 0, pageSize)}
	for rows.Next() {
		rec, err := scanSource(rows)
		if err != nil {
			return storage.SourcePage{}, fmt.Errorf("scan source: %w", err)
		}
		page.Sources = append(page.Sources, rec)
	}
	if err := rows.Err(); err != nil {
		return storage.SourcePage{}, fmt.Errorf("list sources: %w", err)
	}
	if len(page.Sources) > pageSize {
		page.NextPageToken = page.Sources[pageSize-1].ID
		page.Sources = page.Sources[:pageSize]
	}
	return page, nil
}
