package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
)

// schema is idempotent so Migrate can run on every start.
const schema = `
CREATE TABLE IF NOT EXISTS scenes (
	id           UUID PRIMARY KEY,
	project_id   UUID NOT NULL,
	name         TEXT NOT NULL DEFAULT '',
	scene_order  INTEGER NOT NULL,
	duration     INTEGER NOT NULL CHECK (duration >= 1),
	tsx_code     TEXT NOT NULL,
	js_url       TEXT,
	build_status TEXT NOT NULL DEFAULT 'building',
	build_error  TEXT,
	layout_json  BYTEA,
	version      INTEGER NOT NULL DEFAULT 1,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS scenes_project_order_idx ON scenes (project_id, scene_order);
CREATE INDEX IF NOT EXISTS scenes_status_idx ON scenes (build_status);

CREATE TABLE IF NOT EXISTS messages (
	id             UUID PRIMARY KEY,
	project_id     UUID NOT NULL,
	role           TEXT NOT NULL,
	content        TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'pending',
	sequence       BIGINT NOT NULL,
	correlation_id TEXT NOT NULL,
	scene_id       UUID,
	error_text     TEXT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (project_id, correlation_id),
	UNIQUE (project_id, sequence)
);

CREATE TABLE IF NOT EXISTS scene_iterations (
	id              UUID PRIMARY KEY,
	seq             BIGSERIAL NOT NULL,
	scene_id        UUID NOT NULL,
	project_id      UUID NOT NULL,
	operation       TEXT NOT NULL CHECK (operation IN ('create', 'edit', 'delete', 'trim')),
	prompt          TEXT NOT NULL,
	code_before     TEXT,
	code_after      TEXT,
	duration_before INTEGER,
	duration_after  INTEGER,
	metadata        JSONB,
	message_id      UUID REFERENCES messages (id),
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS scene_iterations_scene_idx ON scene_iterations (scene_id, created_at, seq);
CREATE INDEX IF NOT EXISTS scene_iterations_message_idx ON scene_iterations (message_id);
`

// Migrate creates the tables the pipeline writes to.
func Migrate(conn *sqlx.DB) error {
	if _, err := conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	log.Info("Database schema is up to date.")
	return nil
}
