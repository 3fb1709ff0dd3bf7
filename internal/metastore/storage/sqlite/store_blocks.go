package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/recallkit/recallkit/internal/metastore/storage"
)

const blockColumns = `id, name, value, char_limit, template, label, metadata, description, user_id`

func scanBlock(row rowScanner) (storage.Block, error) {
	var rec storage.Block
	var metadata sql.NullString
	if err := row.Scan(
		&rec.ID,
		&rec.Name,
		&rec.Value,
		&rec.Limit,
		&rec.Template,
		&rec.Label,
		&metadata,
		&rec.Description,
		&rec.UserID,
	); err != nil {
		return storage.Block{}, err
	}

	var err error
	if rec.Metadata, err = decodeMetadata(metadata); err != nil {
		return storage.Block{}, err
	}
	return rec, nil
}

// CreateBlock inserts a block record. Template blocks are unique per
// (user, label, name); non-template blocks may repeat names freely.
func (s *Store) CreateBlock(ctx context.Context, record storage.Block) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("block id is required")
	}
	if strings.TrimSpace(record.Name) == "" {
		return fmt.Errorf("name is required")
	}

	metadata, err := encodeMetadata(record.Metadata)
	if err != nil {
		return fmt.Errorf("create block: %w", err)
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if record.Template {
		var count int
		if err := tx.QueryRowContext(ctx, `
SELECT COUNT(*) FROM blocks WHERE user_id = ? AND label = ? AND name = ? AND template = 1
`, record.UserID, record.Label, record.Name).Scan(&count); err != nil {
			return fmt.Errorf("check block name: %w", err)
		}
		if count > 0 {
			return fmt.Errorf("create %s block %q for user %s: %w", record.Label, record.Name, record.UserID, storage.ErrAlreadyExists)
		}
	}

	if err := insertBlock(ctx, tx, record, metadata); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit block: %w", err)
	}
	return nil
}

func insertBlock(ctx context.Context, tx *sql.Tx, record storage.Block, metadata sql.NullString) error {
	if _, err := tx.ExecContext(ctx, `
INSERT INTO blocks (`+blockColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		record.ID,
		record.Name,
		record.Value,
		record.Limit,
		record.Template,
		record.Label,
		metadata,
		record.Description,
		record.UserID,
	); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create %s block %q for user %s: %w", record.Label, record.Name, record.UserID, storage.ErrAlreadyExists)
		}
		return fmt.Errorf("create block: %w", err)
	}
	return nil
}

// GetBlock fetches a block by id, returning nil when no block matches.
func (s *Store) GetBlock(ctx context.Context, blockID string) (*storage.Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	blockID = strings.TrimSpace(blockID)
	if blockID == "" {
		return nil, fmt.Errorf("block id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `SELECT `+blockColumns+` FROM blocks WHERE id = ?`, blockID)
	if err != nil {
		return nil, fmt.Errorf("get block: %w", err)
	}
	defer rows.Close()

	var found []storage.Block
	for rows.Next() {
		rec, err := scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		found = append(found, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get block: %w", err)
	}
	if len(found) == 0 {
		return nil, nil
	}
	if len(found) > 1 {
		return nil, fmt.Errorf("get block: matched %d rows: %w", len(found), storage.ErrIntegrity)
	}
	return &found[0], nil
}

// UpdateBlock replaces the full row matching the record's id. A missing id
// matches zero rows and is a silent no-op.
func (s *Store) UpdateBlock(ctx context.Context, record storage.Block) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("block id is required")
	}

	metadata, err := encodeMetadata(record.Metadata)
	if err != nil {
		return fmt.Errorf("update block: %w", err)
	}

	if _, err := s.sqlDB.ExecContext(ctx, `
UPDATE blocks SET
	name = ?,
	value = ?,
	char_limit = ?,
	template = ?,
	label = ?,
	metadata = ?,
	description = ?,
	user_id = ?
WHERE id = ?
`,
		record.Name,
		record.Value,
		record.Limit,
		record.Template,
		record.Label,
		metadata,
		record.Description,
		record.UserID,
		record.ID,
	); err != nil {
		return fmt.Errorf("update block: %w", err)
	}
	return nil
}

// UpsertBlock writes a block by id: an existing row is replaced in full, a
// missing row is inserted. The read and the write share one transaction.
func (s *Store) UpsertBlock(ctx context.Context, record storage.Block) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("block id is required")
	}

	metadata, err := encodeMetadata(record.Metadata)
	if err != nil {
		return fmt.Errorf("upsert block: %w", err)
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM blocks WHERE id = ?`, record.ID).Scan(&count); err != nil {
		return fmt.Errorf("check block: %w", err)
	}

	if count > 0 {
		if _, err := tx.ExecContext(ctx, `
UPDATE blocks SET
	name = ?,
	value = ?,
	char_limit = ?,
	template = ?,
	label = ?,
	metadata = ?,
	description = ?,
	user_id = ?
WHERE id = ?
`,
			record.Name,
			record.Value,
			record.Limit,
			record.Template,
			record.Label,
			metadata,
			record.Description,
			record.UserID,
			record.ID,
		); err != nil {
			return fmt.Errorf("upsert block: %w", err)
		}
	} else if err := insertBlock(ctx, tx, record, metadata); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert block: %w", err)
	}
	return nil
}

// DeleteBlock removes a block by id. Deleting a missing id is a no-op.
func (s *Store) DeleteBlock(ctx context.Context, blockID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	blockID = strings.TrimSpace(blockID)
	if blockID == "" {
		return fmt.Errorf("block id is required")
	}

	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM blocks WHERE id = ?`, blockID); err != nil {
		return fmt.Errorf("delete block: %w", err)
	}
	return nil
}

// ListBlocks returns a page of blocks matching the filter in ascending id
// order starting strictly after pageToken. Zero-valued filter fields do not
// constrain the result.
func (s *Store) ListBlocks(ctx context.Context, filter storage.BlockFilter, pageSize int, pageToken string) (storage.BlockPage, error) {
	if err := ctx.Err(); err != nil {
		return storage.BlockPage{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.BlockPage{}, fmt.Errorf("storage is not configured")
	}
	if pageSize <= 0 {
		return storage.BlockPage{}, fmt.Errorf("page size must be greater than zero")
	}

	query := `SELECT ` + blockColumns + ` FROM blocks WHERE id > ?`
	args := []any{strings.TrimSpace(pageToken)}
	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	if filter.Label != "" {
		query += ` AND label = ?`
		args = append(args, filter.Label)
	}
	if filter.Name != "" {
		query += ` AND name = ?`
		args = append(args, filter.Name)
	}
	if filter.TemplatesOnly {
		query += ` AND template = 1`
	}
	query += ` ORDER BY id LIMIT ?`
	args = append(args, pageSize+1)

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return storage.BlockPage{}, fmt.Errorf("list blocks: %w", err)
	}
	defer rows.Close()

	page := storage.BlockPage{Blocks: make([]storage.Block, 0, pageSize)}
	for rows.Next() {
		rec, err := scanBlock(rows)
		if err != nil {
			return storage.BlockPage{}, fmt.Errorf("scan block: %w", err)
		}
		page.Blocks = append(page.Blocks, rec)
	}
	if err := rows.Err(); err != nil {
		return storage.BlockPage{}, fmt.Errorf("list blocks: %w", err)
	}
	if len(page.Blocks) > pageSize {
		page.NextPageToken = page.Blocks[pageSize-1].ID
		page.Blocks = page.Blocks[:pageSize]
	}
	return page, nil
}
