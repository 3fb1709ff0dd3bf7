package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/recallkit/recallkit/internal/metastore/storage"
)

const fileColumns = `id, user_id, source_id, file_name, file_path, file_type, file_size, file_creation_date, file_last_modified_date, created_at`

func scanFile(row rowScanner) (storage.FileMetadata, error) {
	var rec storage.FileMetadata
	var createdAt int64
	if err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.SourceID,
		&rec.FileName,
		&rec.FilePath,
		&rec.FileType,
		&rec.FileSize,
		&rec.FileCreationDate,
		&rec.FileLastModifiedDate,
		&createdAt,
	); err != nil {
		return storage.FileMetadata{}, err
	}
	rec.CreatedAt = fromMillis(createdAt)
	return rec, nil
}

// CreateFile records metadata for a file ingested into a source. The
// source id is not validated here; file rows reference sources weakly.
func (s *Store) CreateFile(ctx context.Context, record storage.FileMetadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("file id is required")
	}
	if strings.TrimSpace(record.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(record.SourceID) == "" {
		return fmt.Errorf("source id is required")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.now()
	}

	if _, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO files (`+fileColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		record.ID,
		record.UserID,
		record.SourceID,
		record.FileName,
		record.FilePath,
		record.FileType,
		record.FileSize,
		record.FileCreationDate,
		record.FileLastModifiedDate,
		toMillis(record.CreatedAt),
	); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create file %s: %w", record.ID, storage.ErrAlreadyExists)
		}
		return fmt.Errorf("create file: %w", err)
	}
	return nil
}

// GetFile fetches a file record by id, returning nil when no file matches.
func (s *Store) GetFile(ctx context.Context, fileID string) (*storage.FileMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	fileID = strings.TrimSpace(fileID)
	if fileID == "" {
		return nil, fmt.Errorf("file id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `SELECT `+fileColumns+` FROM files WHERE id = ?`, fileID)
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	defer rows.Close()

	var found []storage.FileMetadata
	for rows.Next() {
		rec, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		found = append(found, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	if len(found) == 0 {
		return nil, nil
	}
	if len(found) > 1 {
		return nil, fmt.Errorf("get file: matched %d rows: %w", len(found), storage.ErrIntegrity)
	}
	return &found[0], nil
}

// ListFilesBySource returns a page of the source's file records in
// ascending id order starting strictly after pageToken.
func (s *Store) ListFilesBySource(ctx context.Context, sourceID string, pageSize int, pageToken string) (storage.FilePage, error) {
	if err := ctx.Err(); err != nil {
		return storage.FilePage{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.FilePage{}, fmt.Errorf("storage is not configured")
	}
	sourceID = strings.TrimSpace(sourceID)
	if sourceID == "" {
		return storage.FilePage{}, fmt.Errorf("source id is required")
	}
	if pageSize <= 0 {
		return storage.FilePage{}, fmt.Errorf("page size must be greater than zero")
	}

	limit := pageSize + 1
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT `+fileColumns+` FROM files WHERE source_id = ? AND id > ? ORDER BY id LIMIT ?
`, sourceID, strings.TrimSpace(pageToken), limit)
	if err != nil {
		return storage.FilePage{}, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	page := storage.FilePage{Files: make([]storage.FileMetadata, 0, pageSize)}
	for rows.Next() {
		rec, err := scanFile(rows)
		if err != nil {
			return storage.FilePage{}, fmt.Errorf("scan file: %w", err)
		}
		page.Files = append(page.Files, rec)
	}
	if err := rows.Err(); err != nil {
		return storage.FilePage{}, fmt.Errorf("list files: %w", err)
	}
	if len(page.Files) > pageSize {
		page.NextPageToken = page.Files[pageSize-1].ID
		page.Files = page.Files[:pageSize]
	}
	return page, nil
}

// DeleteFileFromSource removes one file record scoped to a source and
// user. Deleting a file that does not match all three ids is a no-op.
func (s *Store) DeleteFileFromSource(ctx context.Context, sourceID, fileID, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	sourceID = strings.TrimSpace(sourceID)
	fileID = strings.TrimSpace(fileID)
	userID = strings.TrimSpace(userID)
	if sourceID == "" || fileID == "" || userID == "" {
		return fmt.Errorf("source, file, and user ids are required")
	}

	if _, err := s.sqlDB.ExecContext(ctx, `
DELETE FROM files WHERE id = ? AND source_id = ? AND user_id = ?
`, fileID, sourceID, userID); err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}
