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

const messageColumns = `id, project_id, role, content, status, sequence, correlation_id, scene_id, error_text, created_at, updated_at`

// CreateMessage inserts a message once per (project, correlation id) and
// assigns the next project sequence number.
func (s *Store) CreateMessage(ctx context.Context, msg *db.Message) (*db.Message, bool, error) {
	stored := *msg
	created := false

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := lockProject(ctx, tx, msg.ProjectID); err != nil {
			return err
		}

		existing := db.Message{}
		err := tx.GetContext(ctx, &existing,
			`SELECT `+messageColumns+` FROM messages WHERE project_id = $1 AND correlation_id = $2`,
			msg.ProjectID, msg.CorrelationID)
		if err == nil {
			stored = existing
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to look up message by correlation id: %w", err)
		}

		if err := tx.GetContext(ctx, &stored.Sequence,
			`SELECT COALESCE(MAX(sequence), 0) + 1 FROM messages WHERE project_id = $1`, msg.ProjectID); err != nil {
			return fmt.Errorf("failed to allocate message sequence: %w", err)
		}
		if stored.ID == uuid.Nil {
			stored.ID = uuid.New()
		}
		if stored.Status == "" {
			stored.Status = db.MessageStatusPending
		}

		query := `
			INSERT INTO messages (id, project_id, role, content, status, sequence, correlation_id, scene_id, error_text)
			VALUES (:id, :project_id, :role, :content, :status, :sequence, :correlation_id, :scene_id, :error_text)
			RETURNING created_at, updated_at`
		rows, err := sqlx.NamedQueryContext(ctx, tx, query, &stored)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		defer rows.Close()
		if !rows.Next() {
			return fmt.Errorf("no rows returned after message creation")
		}
		if err := rows.StructScan(&stored); err != nil {
			return fmt.Errorf("error scanning message after creation: %w", err)
		}
		created = true
		return nil
	})
	if err != nil {
		log.Errorf("Error creating message for project '%s': %v", msg.ProjectID.String(), err)
		return nil, false, err
	}
	return &stored, created, nil
}

// GetMessage retrieves a message by its ID.
func (s *Store) GetMessage(ctx context.Context, id uuid.UUID) (*db.Message, error) {
	msg := &db.Message{}
	err := s.DB.GetContext(ctx, msg, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, db.ErrNotFound
		}
		log.Errorf("Error finding message '%s': %v", id.String(), err)
		return nil, fmt.Errorf("error finding message: %w", err)
	}
	return msg, nil
}

// ListMessages returns the latest limit messages of a project in sequence order.
func (s *Store) ListMessages(ctx context.Context, projectID uuid.UUID, limit int) ([]db.Message, error) {
	var msgs []db.Message
	query := `
		SELECT ` + messageColumns + ` FROM (
			SELECT ` + messageColumns + ` FROM messages WHERE project_id = $1 ORDER BY sequence DESC LIMIT $2
		) recent ORDER BY sequence ASC`
	if err := s.DB.SelectContext(ctx, &msgs, query, projectID, limit); err != nil {
		log.Errorf("Error listing messages for project '%s': %v", projectID.String(), err)
		return nil, fmt.Errorf("error listing messages: %w", err)
	}
	return msgs, nil
}

// UpdateMessageStatus finalizes a pending message.
func (s *Store) UpdateMessageStatus(ctx context.Context, id uuid.UUID, status, errorText string) error {
	query := `
		UPDATE messages
		SET status = $1, error_text = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4`
	result, err := s.DB.ExecContext(ctx, query, status, db.NullString(errorText), id, db.MessageStatusPending)
	if err != nil {
		log.Errorf("Error updating status of message '%s': %v", id.String(), err)
		return fmt.Errorf("failed to update message status: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		if _, err := s.GetMessage(ctx, id); err != nil {
			return err
		}
		return db.ErrInvalidTransition
	}
	return nil
}
