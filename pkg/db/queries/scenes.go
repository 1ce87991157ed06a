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

const sceneColumns = `id, project_id, name, scene_order, duration, tsx_code, js_url, build_status, build_error, layout_json, version, created_at, updated_at`

// ListScenes returns a project's storyboard in playback order.
func (s *Store) ListScenes(ctx context.Context, projectID uuid.UUID) ([]db.Scene, error) {
	var scenes []db.Scene
	query := `SELECT ` + sceneColumns + ` FROM scenes WHERE project_id = $1 ORDER BY scene_order ASC, created_at ASC`
	if err := s.DB.SelectContext(ctx, &scenes, query, projectID); err != nil {
		log.Errorf("Error listing scenes for project '%s': %v", projectID.String(), err)
		return nil, fmt.Errorf("error listing scenes: %w", err)
	}
	return scenes, nil
}

// GetScene retrieves a scene by its ID.
func (s *Store) GetScene(ctx context.Context, id uuid.UUID) (*db.Scene, error) {
	return getScene(ctx, s.DB, id)
}

func getScene(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID) (*db.Scene, error) {
	scene := &db.Scene{}
	query := `SELECT ` + sceneColumns + ` FROM scenes WHERE id = $1`
	err := sqlx.GetContext(ctx, q, scene, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debugf("Scene with ID '%s' not found.", id.String())
			return nil, db.ErrNotFound
		}
		log.Errorf("Error finding scene by ID '%s': %v", id.String(), err)
		return nil, fmt.Errorf("error finding scene by ID: %w", err)
	}
	return scene, nil
}

// ListScenesByStatus returns scenes in the given build status, oldest first.
func (s *Store) ListScenesByStatus(ctx context.Context, status string, limit int) ([]db.Scene, error) {
	var scenes []db.Scene
	query := `SELECT ` + sceneColumns + ` FROM scenes WHERE build_status = $1 ORDER BY updated_at ASC LIMIT $2`
	if err := s.DB.SelectContext(ctx, &scenes, query, status, limit); err != nil {
		log.Errorf("Error listing scenes with status '%s': %v", status, err)
		return nil, fmt.Errorf("error listing scenes by status: %w", err)
	}
	return scenes, nil
}

// MarkSceneError flips a scene to the error state unless it is already there.
func (s *Store) MarkSceneError(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	query := `
		UPDATE scenes
		SET build_status = $1, build_error = $2, updated_at = NOW()
		WHERE id = $3 AND build_status <> $1`
	result, err := s.DB.ExecContext(ctx, query, db.SceneStatusError, reason, id)
	if err != nil {
		log.Errorf("Error flagging scene '%s' as failed: %v", id.String(), err)
		return false, fmt.Errorf("failed to flag scene: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		if _, err := s.GetScene(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	log.Warnf("Scene '%s' flagged for rebuild: %s", id.String(), reason)
	return true, nil
}

// UpdateSceneBuild stores a rebuilt artifact without touching the source.
func (s *Store) UpdateSceneBuild(ctx context.Context, id uuid.UUID, expectedVersion int, jsURL, status, buildError string) error {
	query := `
		UPDATE scenes
		SET js_url = $1, build_status = $2, build_error = $3, updated_at = NOW()
		WHERE id = $4 AND version = $5`
	result, err := s.DB.ExecContext(ctx, query, db.NullString(jsURL), status, db.NullString(buildError), id, expectedVersion)
	if err != nil {
		log.Errorf("Error updating build of scene '%s': %v", id.String(), err)
		return fmt.Errorf("failed to update scene build: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return s.missOrConflict(ctx, s.DB, id)
	}
	log.Infof("Scene '%s' build updated to '%s'.", id.String(), status)
	return nil
}

// missOrConflict explains why a versioned write matched no rows.
func (s *Store) missOrConflict(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID) error {
	if _, err := getScene(ctx, q, id); err != nil {
		return err
	}
	return db.ErrVersionConflict
}

func insertScene(ctx context.Context, tx *sqlx.Tx, scene *db.Scene) error {
	if err := lockProject(ctx, tx, scene.ProjectID); err != nil {
		return err
	}
	if err := tx.GetContext(ctx, &scene.Order,
		`SELECT COALESCE(MAX(scene_order), 0) + 1 FROM scenes WHERE project_id = $1`, scene.ProjectID); err != nil {
		return fmt.Errorf("failed to allocate scene order: %w", err)
	}
	if scene.ID == uuid.Nil {
		scene.ID = uuid.New()
	}
	if scene.Status == "" {
		scene.Status = db.SceneStatusBuilding
	}

	query := `
		INSERT INTO scenes (id, project_id, name, scene_order, duration, tsx_code, js_url, build_status, build_error, layout_json)
		VALUES (:id, :project_id, :name, :scene_order, :duration, :tsx_code, :js_url, :build_status, :build_error, :layout_json)
		RETURNING version, created_at, updated_at`
	rows, err := sqlx.NamedQueryContext(ctx, tx, query, scene)
	if err != nil {
		return fmt.Errorf("failed to insert scene: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return fmt.Errorf("no rows returned after scene creation")
	}
	if err := rows.StructScan(scene); err != nil {
		return fmt.Errorf("error scanning scene after creation: %w", err)
	}
	return nil
}

func (s *Store) updateScene(ctx context.Context, tx *sqlx.Tx, scene *db.Scene, expectedVersion int) error {
	query := `
		UPDATE scenes
		SET name = $1, duration = $2, tsx_code = $3, js_url = $4, build_status = $5, build_error = $6,
		    layout_json = $7, version = version + 1, updated_at = NOW()
		WHERE id = $8 AND version = $9
		RETURNING ` + sceneColumns
	err := tx.GetContext(ctx, scene, query,
		scene.Name, scene.Duration, scene.Code, scene.JSURL, scene.Status, scene.BuildError,
		scene.Layout, scene.ID, expectedVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return s.missOrConflict(ctx, tx, scene.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update scene: %w", err)
	}
	return nil
}

func (s *Store) deleteScene(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, expectedVersion int) error {
	result, err := tx.ExecContext(ctx, `DELETE FROM scenes WHERE id = $1 AND version = $2`, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to delete scene: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return s.missOrConflict(ctx, tx, id)
	}
	return nil
}

// CommitChange applies one structural change and appends its iteration.
func (s *Store) CommitChange(ctx context.Context, change db.SceneChange) (*db.Scene, *db.Iteration, error) {
	scene := change.Scene
	iteration := change.Iteration

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		switch change.Kind {
		case db.ChangeInsert:
			if err := insertScene(ctx, tx, &scene); err != nil {
				return err
			}
		case db.ChangeUpdate:
			if err := s.updateScene(ctx, tx, &scene, change.ExpectedVersion); err != nil {
				return err
			}
		case db.ChangeDelete:
			if err := s.deleteScene(ctx, tx, scene.ID, change.ExpectedVersion); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown change kind %d", change.Kind)
		}

		iteration.SceneID = scene.ID
		if iteration.ProjectID == uuid.Nil {
			iteration.ProjectID = scene.ProjectID
		}
		return insertIteration(ctx, tx, &iteration)
	})
	if err != nil {
		if !errors.Is(err, db.ErrVersionConflict) && !errors.Is(err, db.ErrNotFound) {
			log.Errorf("CommitChange: %s of scene '%s' failed: %v", iteration.Operation, scene.ID.String(), err)
		}
		return nil, nil, err
	}

	log.Infof("Scene '%s' %s committed as iteration '%s'.", scene.ID.String(), iteration.Operation, iteration.ID.String())
	if change.Kind == db.ChangeDelete {
		return nil, &iteration, nil
	}
	return &scene, &iteration, nil
}
