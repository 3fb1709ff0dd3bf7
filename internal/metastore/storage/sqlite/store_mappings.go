package sqlite

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"strings"

	"github.com/recallkit/recallkit/internal/metastore/storage"
)

// mappingID derives a deterministic row id from the triple. Parts are
// length-prefixed before hashing so ids containing separators cannot make
// two distinct triples collide.
func mappingID(userID, agentID, sourceID string) string {
	h := sha256.New()
	for _, part := range []string{userID, agentID, sourceID} {
		fmt.Fprintf(h, "%d:%s", len(part), part)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// AttachSource records that an agent uses a source. The mapping id is
// derived from the (user, agent, source) triple, so a repeat attach fails
// with storage.ErrAlreadyExists. Both endpoints must exist at attach time.
func (s *Store) AttachSource(ctx context.Context, userID, agentID, sourceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	agentID = strings.TrimSpace(agentID)
	sourceID = strings.TrimSpace(sourceID)
	if userID == "" || agentID == "" || sourceID == "" {
		return fmt.Errorf("user, agent, and source ids are required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents WHERE id = ?`, agentID).Scan(&count); err != nil {
		return fmt.Errorf("check agent: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("attach source: agent %s not found", agentID)
	}
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sources WHERE id = ?`, sourceID).Scan(&count); err != nil {
		return fmt.Errorf("check source: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("attach source: source %s not found", sourceID)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO agent_source_mappings (id, user_id, agent_id, source_id)
VALUES (?, ?, ?, ?)
`, mappingID(userID, agentID, sourceID), userID, agentID, sourceID); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("attach source %s to agent %s: %w", sourceID, agentID, storage.ErrAlreadyExists)
		}
		return fmt.Errorf("attach source: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit attach: %w", err)
	}
	return nil
}

// DetachSource removes the mapping between an agent and a source. Detaching
// a pair that is not attached is a no-op.
func (s *Store) DetachSource(ctx context.Context, userID, agentID, sourceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	agentID = strings.TrimSpace(agentID)
	sourceID = strings.TrimSpace(sourceID)
	if userID == "" || agentID == "" || sourceID == "" {
		return fmt.Errorf("user, agent, and source ids are required")
	}

	if _, err := s.sqlDB.ExecContext(ctx, `
DELETE FROM agent_source_mappings WHERE user_id = ? AND agent_id = ? AND source_id = ?
`, userID, agentID, sourceID); err != nil {
		return fmt.Errorf("detach source: %w", err)
	}
	return nil
}

// ListAttachedSources resolves the sources attached to an agent. Mappings
// whose source row no longer exists are skipped with a diagnostic rather
// than failing the read; the dangling mapping row itself is left in place.
func (s *Store) ListAttachedSources(ctx context.Context, agentID string) ([]storage.Source, error) {
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

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT source_id FROM agent_source_mappings WHERE agent_id = ? ORDER BY source_id
`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list attached sources: %w", err)
	}
	defer rows.Close()

	var sourceIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		sourceIDs = append(sourceIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list attached sources: %w", err)
	}

	sources := make([]storage.Source, 0, len(sourceIDs))
	for _, id := range sourceIDs {
		src, err := s.GetSource(ctx, id)
		if err != nil {
			return nil, err
		}
		if src == nil {
			log.Printf("agent %s references missing source %s, skipping", agentID, id)
			continue
		}
		sources = append(sources, *src)
	}
	return sources, nil
}

// ListAttachedAgents returns the ids of agents attached to a source.
// Mappings whose agent row no longer exists are skipped with a diagnostic.
func (s *Store) ListAttachedAgents(ctx context.Context, sourceID string) ([]string, error) {
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

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT agent_id FROM agent_source_mappings WHERE source_id = ? ORDER BY agent_id
`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("list attached agents: %w", err)
	}
	defer rows.Close()

	var agentIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		agentIDs = append(agentIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list attached agents: %w", err)
	}

	present := make([]string, 0, len(agentIDs))
	for _, id := range agentIDs {
		var count int
		if err := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents WHERE id = ?`, id).Scan(&count); err != nil {
			return nil, fmt.Errorf("check agent: %w", err)
		}
		if count == 0 {
			log.Printf("source %s references missing agent %s, skipping", sourceID, id)
			continue
		}
		present = append(present, id)
	}
	return present, nil
}
