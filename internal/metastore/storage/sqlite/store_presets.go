package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/recallkit/recallkit/internal/metastore/storage"
)

const presetColumns = `id, user_id, name, description, system, human, human_name, persona, persona_name, created_at, functions_schema`

func scanPreset(row rowScanner) (storage.Preset, error) {
	var rec storage.Preset
	var createdAt int64
	var functionsSchema sql.NullString
	if err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.Name,
		&rec.Description,
		&rec.System,
		&rec.Human,
		&rec.HumanName,
		&rec.Persona,
		&rec.PersonaName,
		&createdAt,
		&functionsSchema,
	); err != nil {
		return storage.Preset{}, err
	}
	rec.CreatedAt = fromMillis(createdAt)

	var err error
	if rec.FunctionsSchema, err = decodeFunctionsSchema(functionsSchema); err != nil {
		return storage.Preset{}, err
	}
	return rec, nil
}

// CreatePreset inserts a preset. Reusing an existing preset id fails with
// storage.ErrAlreadyExists.
func (s *Store) CreatePreset(ctx context.Context, record storage.Preset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("preset id is required")
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

	functionsSchema, err := encodeFunctionsSchema(record.FunctionsSchema)
	if err != nil {
		return fmt.Errorf("create preset: %w", err)
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM presets WHERE id = ?`, record.ID).Scan(&count); err != nil {
		return fmt.Errorf("check preset: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("create preset %s: %w", record.ID, storage.ErrAlreadyExists)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO presets (`+presetColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		record.ID,
		record.UserID,
		record.Name,
		record.Description,
		record.System,
		record.Human,
		record.HumanName,
		record.Persona,
		record.PersonaName,
		toMillis(record.CreatedAt),
		functionsSchema,
	); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create preset %s: %w", record.ID, storage.ErrAlreadyExists)
		}
		return fmt.Errorf("create preset: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit preset: %w", err)
	}
	return nil
}

// GetPreset fetches a preset by id, returning nil when no preset matches.
func (s *Store) GetPreset(ctx context.Context, presetID string) (*storage.Preset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	presetID = strings.TrimSpace(presetID)
	if presetID == "" {
		return nil, fmt.Errorf("preset id is required")
	}

	return s.getOnePreset(ctx, `SELECT `+presetColumns+` FROM presets WHERE id = ?`, presetID)
}

// GetPresetByName fetches a user's preset by name, returning nil when no
// preset matches.
func (s *Store) GetPresetByName(ctx context.Context, userID, name string) (*storage.Preset, error) {
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

	return s.getOnePreset(ctx, `SELECT `+presetColumns+` FROM presets WHERE user_id = ? AND name = ?`, userID, name)
}

func (s *Store) getOnePreset(ctx context.Context, query string, args ...any) (*storage.Preset, error) {
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get preset: %w", err)
	}
	defer rows.Close()

	var found []storage.Preset
	for rows.Next() {
		rec, err := scanPreset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan preset: %w", err)
		}
		found = append(found, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get preset: %w", err)
	}
	if len(found) == 0 {
		return nil, nil
	}
	if len(found) > 1 {
		return nil, fmt.Errorf("get preset: matched %d rows: %w", len(found), storage.ErrIntegrity)
	}
	return &found[0], nil
}

// ListPresetsByUser returns a page of the user's presets in ascending id
// order starting strictly after pageToken.
func (s *Store) ListPresetsByUser(ctx context.Context, userID string, pageSize int, pageToken string) (storage.PresetPage, error) {
	if err := ctx.Err(); err != nil {
		return storage.PresetPage{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.PresetPage{}, fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return storage.PresetPage{}, fmt.Errorf("user id is required")
	}
	if pageSize <= 0 {
		return storage.PresetPage{}, fmt.Errorf("page size must be greater than zero")
	}

	limit := pageSize + 1
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT `+presetColumns+` FROM presets WHERE user_id = ? AND id > ? ORDER BY id LIMIT ?
`, userID, strings.TrimSpace(pageToken), limit)
	if err != nil {
		return storage.PresetPage{}, fmt.Errorf("list presets: %w", err)
	}
	defer rows.Close()

	page := storage.PresetPage{Presets: make([]storage.Preset, 0, pageSize)}
	for rows.Next() {
		rec, err := scanPreset(rows)
		if err != nil {
			return storage.PresetPage{}, fmt.Errorf("scan preset: %w", err)
		}
		page.Presets = append(page.Presets, rec)
	}
	if err := rows.Err(); err != nil {
		return storage.PresetPage{}, fmt.Errorf("list presets: %w", err)
	}
	if len(page.Presets) > pageSize {
		page.NextPageToken = page.Presets[pageSize-1].ID
		page.Presets = page.Presets[:pageSize]
	}
	return page, nil
}

// DeletePreset removes a user's preset by name along with its source
// mappings. Deleting a missing name is a no-op.
func (s *Store) DeletePreset(ctx context.Context, userID, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	name = strings.TrimSpace(name)
	if userID == "" || name == "" {
		return fmt.Errorf("user id and name are required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `
DELETE FROM preset_source_mappings WHERE preset_id IN (
	SELECT id FROM presets WHERE user_id = ? AND name = ?
)
`, userID, name); err != nil {
		return fmt.Errorf("delete preset mappings: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
DELETE FROM presets WHERE user_id = ? AND name = ?
`, userID, name); err != nil {
		return fmt.Errorf("delete preset: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete preset: %w", err)
	}
	return nil
}

// SetPresetSources replaces the set of sources a preset draws on. The
// preset must exist; the old mapping rows are swapped for the new set in
// one transaction.
func (s *Store) SetPresetSources(ctx context.Context, presetID string, sourceIDs []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	presetID = strings.TrimSpace(presetID)
	if presetID == "" {
		return fmt.Errorf("preset id is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var userID string
	var count int
	if err := tx.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(MAX(user_id), '') FROM presets WHERE id = ?
`, presetID).Scan(&count, &userID); err != nil {
		return fmt.Errorf("check preset: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("set preset sources: preset %s not found", presetID)
	}

	if _, err := tx.ExecContext(ctx, `
DELETE FROM preset_source_mappings WHERE preset_id = ?
`, presetID); err != nil {
		return fmt.Errorf("clear preset sources: %w", err)
	}
	for _, sourceID := range sourceIDs {
		sourceID = strings.TrimSpace(sourceID)
		if sourceID == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO preset_source_mappings (id, user_id, preset_id, source_id)
VALUES (?, ?, ?, ?)
`, mappingID(userID, presetID, sourceID), userID, presetID, sourceID); err != nil {
			return fmt.Errorf("set preset source: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit preset sources: %w", err)
	}
	return nil
}

// ListPresetSources returns the ids of the sources mapped to a preset.
func (s *Store) ListPresetSources(ctx context.Context, presetID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	presetID = strings.TrimSpace(presetID)
	if presetID == "" {
		return nil, fmt.Errorf("preset id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT source_id FROM preset_source_mappings WHERE preset_id = ? ORDER BY source_id
`, presetID)
	if err != nil {
		return nil, fmt.Errorf("list preset sources: %w", err)
	}
	defer rows.Close()

	var sourceIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan preset mapping: %w", err)
		}
		sourceIDs = append(sourceIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list preset sources: %w", err)
	}
	return sourceIDs, nil
}
