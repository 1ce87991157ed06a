package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Scene build states.
const (
	SceneStatusBuilding = "building"
	SceneStatusReady    = "ready"
	SceneStatusError    = "error"
)

// Message roles and statuses.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	MessageStatusPending = "pending"
	MessageStatusSuccess = "success"
	MessageStatusError   = "error"
)

// Operation is the structural change recorded by an Iteration.
type Operation string

const (
	OpCreate Operation = "create"
	OpEdit   Operation = "edit"
	OpDelete Operation = "delete"
	OpTrim   Operation = "trim"
)

// Scene is one timed, independently coded segment of a project's video.
type Scene struct {
	ID         uuid.UUID      `db:"id" json:"id"`
	ProjectID  uuid.UUID      `db:"project_id" json:"project_id"`
	Name       string         `db:"name" json:"name"`
	Order      int            `db:"scene_order" json:"order"`
	Duration   int            `db:"duration" json:"duration"` // frames
	Code       string         `db:"tsx_code" json:"code"`
	JSURL      sql.NullString `db:"js_url" json:"-"`
	Status     string         `db:"build_status" json:"status"`
	BuildError sql.NullString `db:"build_error" json:"-"`
	Layout     []byte         `db:"layout_json" json:"layout,omitempty"`
	Version    int            `db:"version" json:"version"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at" json:"updated_at"`
}

// Message is one chat turn inside a project.
type Message struct {
	ID            uuid.UUID      `db:"id" json:"id"`
	ProjectID     uuid.UUID      `db:"project_id" json:"project_id"`
	Role          string         `db:"role" json:"role"`
	Content       string         `db:"content" json:"content"`
	Status        string         `db:"status" json:"status"`
	Sequence      int64          `db:"sequence" json:"sequence"`
	CorrelationID string         `db:"correlation_id" json:"correlation_id"`
	SceneID       uuid.NullUUID  `db:"scene_id" json:"scene_id"`
	ErrorText     sql.NullString `db:"error_text" json:"-"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

// Iteration is the immutable audit record of one structural change.
type Iteration struct {
	ID             uuid.UUID      `db:"id" json:"id"`
	Seq            int64          `db:"seq" json:"seq"`
	SceneID        uuid.UUID      `db:"scene_id" json:"scene_id"`
	ProjectID      uuid.UUID      `db:"project_id" json:"project_id"`
	Operation      Operation      `db:"operation" json:"operation"`
	Prompt         string         `db:"prompt" json:"prompt"`
	CodeBefore     sql.NullString `db:"code_before" json:"-"`
	CodeAfter      sql.NullString `db:"code_after" json:"-"`
	DurationBefore sql.NullInt64  `db:"duration_before" json:"-"`
	DurationAfter  sql.NullInt64  `db:"duration_after" json:"-"`
	Metadata       []byte         `db:"metadata" json:"metadata,omitempty"`
	MessageID      uuid.NullUUID  `db:"message_id" json:"message_id"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
}

// CodeChanged reports whether the iteration altered the scene's source.
func (it *Iteration) CodeChanged() bool {
	return it.CodeBefore.Valid != it.CodeAfter.Valid || it.CodeBefore.String != it.CodeAfter.String
}

// DurationChanged reports whether the iteration altered the scene's duration.
func (it *Iteration) DurationChanged() bool {
	return it.DurationBefore.Valid && it.DurationAfter.Valid && it.DurationBefore.Int64 != it.DurationAfter.Int64
}

// NullString wraps s, treating the empty string as NULL.
func NullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// NullInt wraps n as a valid NullInt64.
func NullInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: true}
}

// NullUUID wraps id, treating uuid.Nil as NULL.
func NullUUID(id uuid.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: id, Valid: id != uuid.Nil}
}
