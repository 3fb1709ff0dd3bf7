package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/recallkit/recallkit/internal/metastore/storage"
)

// CreateUser inserts a user record, failing if the id is already taken.
func (s *Store) CreateUser(ctx context.Context, record storage.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("user id is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE id = ?`, record.ID).Scan(&count); err != nil {
		return fmt.Errorf("check user exists: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("create user %s: %w", record.ID, storage.ErrAlreadyExists)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO users (id, organization_id, name) VALUES (?, ?, ?)
`, record.ID, record.OrganizationID, record.Name); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create user %s: %w", record.ID, storage.ErrAlreadyExists)
		}
		return fmt.Errorf("create user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit user: %w", err)
	}
	return nil
}

// GetUser fetches a user by id, returning nil when no user matches.
func (s *Store) GetUser(ctx context.Context, userID string) (*storage.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, organization_id, name FROM users WHERE id = ?
`, userID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	defer rows.Close()

	var found []storage.User
	for rows.Next() {
		var rec storage.User
		if err := rows.Scan(&rec.ID, &rec.OrganizationID, &rec.Name); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		found = append(found, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if len(found) == 0 {
		return nil, nil
	}
	if len(found) > 1 {
		return nil, fmt.Errorf("get user %s: matched %d rows: %w", userID, len(found), storage.ErrIntegrity)
	}
	return &found[0], nil
}

// UpdateUser replaces the full row matching the record's id. A missing id
// matches zero rows and is a silent no-op.
func (s *Store) UpdateUser(ctx context.Context, record storage.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("user id is required")
	}

	if _, err := s.sqlDB.ExecContext(ctx, `
UPDATE users SET organization_id = ?, name = ? WHERE id = ?
`, record.OrganizationID, record.Name, record.ID); err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

// DeleteUser removes a user together with its agents, sources, and
// attachment rows in one transaction. Deleting a missing id is a no-op.
func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("user id is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, userID); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM agents WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete user agents: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sources WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete user sources: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM agent_source_mappings WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete user mappings: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete user: %w", err)
	}
	return nil
}

// ListUsers returns a page of users in ascending id order starting strictly
// after pageToken.
func (s *Store) ListUsers(ctx context.Context, pageSize int, pageToken string) (storage.UserPage, error) {
	if err := ctx.Err(); err != nil {
		return storage.UserPage{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.UserPage{}, fmt.Errorf("storage is not configured")
	}
	if pageSize <= 0 {
		return storage.UserPage{}, fmt.Errorf("page size must be greater than zero")
	}

	limit := pageSize + 1
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, organization_id, name FROM users WHERE id > ? ORDER BY id LIMIT ?
`, strings.TrimSpace(pageToken), limit)
	if err != nil {
		return storage.UserPage{}, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	page := storage.UserPage{Users: make([]storage.User, 0, pageSize)}
	for rows.Next() {
		var rec storage.User
		if err := rows.Scan(&rec.ID, &rec.OrganizationID, &rec.Name); err != nil {
			return storage.UserPage{}, fmt.Errorf("scan user: %w", err)
		}
		page.Users = append(page.Users, rec)
	}
	if err := rows.Err(); err != nil {
		return storage.UserPage{}, fmt.Errorf("list users: %w", err)
	}
	if len(page.Users) > pageSize {
		page.NextPageToken = page.Users[pageSize-1].ID
		page.Users = page.Users[:pageSize]
	}
	return page, nil
}
