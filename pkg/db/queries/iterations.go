package queries

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ASHISH26940/scene-orchestrator-api/pkg/db"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
)

const iterationColumns = `id, seq, scene_id, project_id, operation, prompt, code_before, code_after, duration_before, duration_after, metadata, message_id, created_at`

// insertIteration appends to the ledger. Iterations are never updated.
func insertIteration(ctx context.Context, tx *sqlx.Tx, it *db.Iteration) error {
	if it.ID == uuid.Nil {
		it.ID = uuid.New()
	}
	var metadata sql.NullString
	if len(it.Metadata) > 0 {
		metadata = sql.NullString{String: string(it.Metadata), Valid: true}
	}

	query := `
		INSERT INTO scene_iterations (id, scene_id, project_id, operation, prompt, code_before, code_after,
			duration_before, duration_after, metadata, message_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11)
		RETURNING seq, created_at`
	err := tx.QueryRowxContext(ctx, query,
		it.ID, it.SceneID, it.ProjectID, string(it.Operation), it.Prompt, it.CodeBefore, it.CodeAfter,
		it.DurationBefore, it.DurationAfter, metadata, it.MessageID,
	).Scan(&it.Seq, &it.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record iteration: %w", err)
	}
	return nil
}

// GetIteration retrieves one ledger entry.
func (s *Store) GetIteration(ctx context.Context, id uuid.UUID) (*db.Iteration, error) {
	it := &db.Iteration{}
	query := `SELECT ` + iterationColumns + ` FROM scene_iterations WHERE id = $1`
	if err := s.DB.GetContext(ctx, it, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debugf("Iteration with ID '%s' not found.", id.String())
			return nil, db.ErrNotFound
		}
		log.Errorf("Error finding iteration '%s': %v", id.String(), err)
		return nil, fmt.Errorf("error finding iteration: %w", err)
	}
	return it, nil
}

// ListIterationsByMessage returns the changes caused by one chat message.
func (s *Store) ListIterationsByMessage(ctx context.Context, messageID uuid.UUID) ([]db.Iteration, error) {
	var its []db.Iteration
	query := `SELECT ` + iterationColumns + ` FROM scene_iterations WHERE message_id = $1 ORDER BY created_at ASC, seq ASC`
	if err := s.DB.SelectContext(ctx, &its, query, messageID); err != nil {
		log.Errorf("Error listing iterations for message '%s': %v", messageID.String(), err)
		return nil, fmt.Errorf("error listing iterations by message: %w", err)
	}
	return its, nil
}

// ListIterationsByScene returns a scene's history, oldest first.
func (s *Store) ListIterationsByScene(ctx context.Context, sceneID uuid.UUID) ([]db.Iteration, error) {
	var its []db.Iteration
	query := `SELECT ` + iterationColumns + ` FROM scene_iterations WHERE scene_id = $1 ORDER BY created_at ASC, seq ASC`
	if err := s.DB.SelectContext(ctx, &its, query, sceneID); err != nil {
		log.Errorf("Error listing iterations for scene '%s': %v", sceneID.String(), err)
		return nil, fmt.Errorf("error listing iterations by scene: %w", err)
	}
	return its, nil
}
