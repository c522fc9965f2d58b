package database

import (
	"context"
	"fmt"

	"thresholder/internal/alarm"
)

// Schema creates the alarm tables when they do not exist.
const Schema = `
CREATE TABLE IF NOT EXISTS alarm (
	id           TEXT PRIMARY KEY,
	tenant_id    TEXT NOT NULL,
	name         TEXT NOT NULL,
	expression   TEXT NOT NULL,
	state        TEXT NOT NULL DEFAULT 'UNDETERMINED',
	state_reason TEXT NOT NULL DEFAULT '',
	deleted_at   TIMESTAMPTZ,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS sub_alarm (
	id          TEXT PRIMARY KEY,
	alarm_id    TEXT NOT NULL REFERENCES alarm(id) ON DELETE CASCADE,
	position    INT NOT NULL DEFAULT 0,
	metric_name TEXT NOT NULL,
	expression  TEXT NOT NULL,
	state       TEXT NOT NULL DEFAULT 'UNDETERMINED',
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

ALTER TABLE sub_alarm ADD COLUMN IF NOT EXISTS position INT NOT NULL DEFAULT 0;

CREATE INDEX IF NOT EXISTS idx_sub_alarm_metric_name ON sub_alarm (metric_name);
CREATE INDEX IF NOT EXISTS idx_alarm_tenant ON alarm (tenant_id) WHERE deleted_at IS NULL;
`

// EnsureSchema applies Schema.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// InsertAlarm stores an alarm and its sub-alarms in one transaction.
func (db *DB) InsertAlarm(ctx context.Context, a *alarm.Alarm) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO alarm (id, tenant_id, name, expression, state, state_reason, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`, a.ID, a.TenantID, a.Name, a.Expression.String(), string(a.State), a.StateChangeReason)
	if err != nil {
		return fmt.Errorf("failed to insert alarm %s: %w", a.ID, err)
	}

	for i, sa := range a.SubAlarms() {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sub_alarm (id, alarm_id, position, metric_name, expression, state, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW())
		`, sa.ID, a.ID, i, sa.Expression.Definition.Name, sa.Expression.String(), string(sa.State))
		if err != nil {
			return fmt.Errorf("failed to insert sub-alarm %s: %w", sa.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit alarm %s: %w", a.ID, err)
	}
	return nil
}

// DeleteAllAlarms removes every alarm and sub-alarm.
func (db *DB) DeleteAllAlarms(ctx context.Context) error {
	for _, query := range []string{"DELETE FROM sub_alarm", "DELETE FROM alarm"} {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute %s: %w", query, err)
		}
	}
	return nil
}
