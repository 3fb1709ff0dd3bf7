package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/recallkit/recallkit/internal/metastore/storage"
	platformid "github.com/recallkit/recallkit/internal/platform/id"
)

// CreateAPIKey generates a credential for the user and persists it. The
// generated token must be globally unique; on the (theoretically possible)
// collision the call fails with storage.ErrAlreadyExists and the caller may
// retry. The uniqueness check and the insert share one transaction.
func (s *Store) CreateAPIKey(ctx context.Context, userID, name string) (*storage.APIKey, error) {
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

	key, err := s.generateKey(s.keyPrefix, s.keyLength)
	if err != nil {
		return nil, fmt.Errorf("generate api key: %w", err)
	}
	recordID, err := platformid.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate api key id: %w", err)
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM api_keys WHERE key = ?`, key).Scan(&count); err != nil {
		return nil, fmt.Errorf("check api key exists: %w", err)
	}
	if count > 0 {
		return nil, fmt.Errorf("create api key: token collision: %w", storage.ErrAlreadyExists)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO api_keys (id, user_id, key, name) VALUES (?, ?, ?, ?)
`, recordID, userID, key, name); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("create api key: token collision: %w", storage.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("create api key: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit api key: %w", err)
	}

	return &storage.APIKey{ID: recordID, UserID: userID, Key: key, Name: name}, nil
}

// GetAPIKey fetches a credential by its token, returning nil when no row
// matches.
func (s *Store) GetAPIKey(ctx context.Context, key string) (*storage.APIKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("api key is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, user_id, key, name FROM api_keys WHERE key = ?
`, key)
	if err != nil {
		return nil, fmt.Errorf("get api key: %w", err)
	}
	defer rows.Close()

	var found []storage.APIKey
	for rows.Next() {
		var rec storage.APIKey
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Key, &rec.Name); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		found = append(found, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get api key: %w", err)
	}
	if len(found) == 0 {
		return nil, nil
	}
	if len(found) > 1 {
		return nil, fmt.Errorf("get api key: matched %d rows: %w", len(found), storage.ErrIntegrity)
	}
	return &found[0], nil
}

// GetUserForAPIKey resolves the owning user of a token. Both an unknown
// token and a token whose user row is gone resolve to nil.
func (s *Store) GetUserForAPIKey(ctx context.Context, key string) (*storage.User, error) {
	rec, err := s.GetAPIKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	return s.GetUser(ctx, rec.UserID)
}

// ListAPIKeysByUser returns a page of the user's credentials in ascending
// id order starting strictly after pageToken.
func (s *Store) ListAPIKeysByUser(ctx context.Context, userID string, pageSize int, pageToken string) (storage.APIKeyPage, error) {
	if err := ctx.Err(); err != nil {
		return storage.APIKeyPage{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.APIKeyPage{}, fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return storage.APIKeyPage{}, fmt.Errorf("user id is required")
	}
	if pageSize <= 0 {
		return storage.APIKeyPage{}, fmt.Errorf("page size must be greater than zero")
	}

	limit := pageSize + 1
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, user_id, key, name FROM api_keys WHERE user_id = ? AND id > ? ORDER BY id LIMIT ?
`, userID, strings.TrimSpace(pageToken), limit)
	if err != nil {
		return storage.APIKeyPage{}, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	page := storage.APIKeyPage{Keys: make([]storage.APIKey, 0, pageSize)}
	for rows.Next() {
		var rec storage.APIKey
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Key, &rec.Name); err != nil {
			return storage.APIKeyPage{}, fmt.Errorf("scan api key: %w", err)
		}
		page.Keys = append(page.Keys, rec)
	}
	if err := rows.Err(); err != nil {
		return storage.APIKeyPage{}, fmt.Errorf("list api keys: %w", err)
	}
	if len(page.Keys) > pageSize {
		page.NextPageToken = page.Keys[pageSize-1].ID
		page.Keys = page.Keys[:pageSize]
	}
	return page, nil
}

// DeleteAPIKey removes a credential by token. Deleting an unknown token is
// a no-op.
func (s *Store) DeleteAPIKey(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("api key is required")
	}

	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM api_keys WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	return nil
}
