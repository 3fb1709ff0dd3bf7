package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/recallkit/recallkit/internal/metastore/storage"
)

const jobColumns = `id, user_id, status, created_at, completed_at, metadata`

func scanJob(row rowScanner) (storage.Job, error) {
	var rec storage.Job
	var createdAt int64
	var completedAt sql.NullInt64
	var metadata sql.NullString
	if err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.Status,
		&createdAt,
		&completedAt,
		&metadata,
	); err != nil {
		return storage.Job{}, err
	}
	rec.CreatedAt = fromMillis(createdAt)
	if completedAt.Valid {
		done := fromMillis(completedAt.Int64)
		rec.CompletedAt = &done
	}

	var err error
	if rec.Metadata, err = decodeMetadata(metadata); err != nil {
		return storage.Job{}, err
	}
	return rec, nil
}

func completedAtValue(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

// CreateJob inserts a job record. A zero status defaults to pending.
func (s *Store) CreateJob(ctx context.Context, record storage.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("job id is required")
	}
	if record.Status == "" {
		record.Status = storage.JobStatusPending
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.now()
	}

	metadata, err := encodeMetadata(record.Metadata)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}

	if _, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO jobs (`+jobColumns+`)
VALUES (?, ?, ?, ?, ?, ?)
`,
		record.ID,
		record.UserID,
		record.Status,
		toMillis(record.CreatedAt),
		completedAtValue(record.CompletedAt),
		metadata,
	); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create job %s: %w", record.ID, storage.ErrAlreadyExists)
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// GetJob fetches a job by id, returning nil when no job matches.
func (s *Store) GetJob(ctx context.Context, jobID string) (*storage.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, fmt.Errorf("job id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	defer rows.Close()

	var found []storage.Job
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		found = append(found, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if len(found) == 0 {
		return nil, nil
	}
	if len(found) > 1 {
		return nil, fmt.Errorf("get job: matched %d rows: %w", len(found), storage.ErrIntegrity)
	}
	return &found[0], nil
}

// UpdateJob replaces the full row matching the record's id. A missing id
// matches zero rows and is a silent no-op.
func (s *Store) UpdateJob(ctx context.Context, record storage.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("job id is required")
	}

	metadata, err := encodeMetadata(record.Metadata)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}

	if _, err := s.sqlDB.ExecContext(ctx, `
UPDATE jobs SET
	user_id = ?,
	status = ?,
	created_at = ?,
	completed_at = ?,
	metadata = ?
WHERE id = ?
`,
		record.UserID,
		record.Status,
		toMillis(record.CreatedAt),
		completedAtValue(record.CompletedAt),
		metadata,
		record.ID,
	); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// UpdateJobStatus sets a job's status. The completion timestamp is stamped
// in the same statement, and only on the transition to completed; every
// other status leaves completed_at untouched.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID string, status storage.JobStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return fmt.Errorf("job id is required")
	}

	if status == storage.JobStatusCompleted {
		if _, err := s.sqlDB.ExecContext(ctx, `
UPDATE jobs SET status = ?, completed_at = ? WHERE id = ?
`, status, toMillis(s.now()), jobID); err != nil {
			return fmt.Errorf("update job status: %w", err)
		}
		return nil
	}

	if _, err := s.sqlDB.ExecContext(ctx, `
UPDATE jobs SET status = ? WHERE id = ?
`, status, jobID); err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	return nil
}

// DeleteJob removes a job by id. Deleting a missing id is a no-op.
func (s *Store) DeleteJob(ctx context.Context, jobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return fmt.Errorf("job id is required")
	}

	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, jobID); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

// ListJobsByUser returns a page of the user's jobs in ascending id order
// starting strictly after pageToken.
func (s *Store) ListJobsByUser(ctx context.Context, userID string, pageSize int, pageToken string) (storage.JobPage, error) {
	if err := ctx.Err(); err != nil {
		return storage.JobPage{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.JobPage{}, fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return storage.JobPage{}, fmt.Errorf("user id is required")
	}
	if pageSize <= 0 {
		return storage.JobPage{}, fmt.Errorf("page size must be greater than zero")
	}

	limit := pageSize + 1
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT `+jobColumns+` FROM jobs WHERE user_id = ? AND id > ? ORDER BY id LIMIT ?
`, userID, strings.TrimSpace(pageToken), limit)
	if err != nil {
		return storage.JobPage{}, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	page := storage.JobPage{Jobs: make([]storage.Job, 0, pageSize)}
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return storage.JobPage{}, fmt.Errorf("scan job: %w", err)
		}
		page.Jobs = append(page.Jobs, rec)
	}
	if err := rows.Err(); err != nil {
		return storage.JobPage{}, fmt.Errorf("list jobs: %w", err)
	}
	if len(page.Jobs) > pageSize {
		page.NextPageToken = page.Jobs[pageSize-1].ID
		page.Jobs = page.Jobs[:pageSize]
	}
	return page, nil
}
