package database

import (
	"context"
	"fmt"
	"log/slog"

	"thresholder/internal/domain"
)

// SubAlarmDefinition ties a sub-alarm id to the metric stream it watches.
type SubAlarmDefinition struct {
	SubAlarmID string
	AlarmID    string
	Key        domain.MetricDefinitionAndTenantID
}

// FindSubAlarms returns the sub-alarms of live alarms whose metric definition equals the
// definition of key. Rows with unparsable expressions are skipped.
func (db *DB) FindSubAlarms(ctx context.Context, key domain.MetricDefinitionAndTenantID) ([]*domain.SubAlarm, error) {
	query := `
		SELECT sa.id, sa.alarm_id, sa.expression, sa.state
		FROM sub_alarm sa
		JOIN alarm a ON a.id = sa.alarm_id
		WHERE a.tenant_id = $1 AND sa.metric_name = $2 AND a.deleted_at IS NULL
		ORDER BY sa.id
	`
	rows, err := db.conn.QueryContext(ctx, query, key.TenantID, key.Definition.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to query sub-alarms: %w", err)
	}
	defer rows.Close()

	var subAlarms []*domain.SubAlarm
	for rows.Next() {
		var id, alarmID, expression, state string
		if err := rows.Scan(&id, &alarmID, &expression, &state); err != nil {
			return nil, fmt.Errorf("failed to scan sub-alarm: %w", err)
		}
		expr, err := domain.ParseSubExpression(expression)
		if err != nil {
			slog.Warn("Skipping sub-alarm with invalid expression", "sub_alarm_id", id, "error", err)
			continue
		}
		if !expr.Definition.Equal(key.Definition) {
			continue
		}
		alarmState, err := domain.ParseAlarmState(state)
		if err != nil {
			slog.Warn("Sub-alarm has unknown state, treating as UNDETERMINED", "sub_alarm_id", id, "state", state)
			alarmState = domain.StateUndetermined
		}
		subAlarms = append(subAlarms, domain.NewSubAlarmWithState(id, alarmID, expr, alarmState))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sub-alarms: %w", err)
	}
	return subAlarms, nil
}

// FindSubAlarmDefinitions returns the metric stream of every sub-alarm of a live alarm.
// It seeds the metric filter at startup.
func (db *DB) FindSubAlarmDefinitions(ctx context.Context) ([]SubAlarmDefinition, error) {
	query := `
		SELECT sa.id, sa.alarm_id, a.tenant_id, sa.expression
		FROM sub_alarm sa
		JOIN alarm a ON a.id = sa.alarm_id
		WHERE a.deleted_at IS NULL
	`
	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query sub-alarm definitions: %w", err)
	}
	defer rows.Close()

	var defs []SubAlarmDefinition
	for rows.Next() {
		var id, alarmID, tenantID, expression string
		if err := rows.Scan(&id, &alarmID, &tenantID, &expression); err != nil {
			return nil, fmt.Errorf("failed to scan sub-alarm definition: %w", err)
		}
		expr, err := domain.ParseSubExpression(expression)
		if err != nil {
			slog.Warn("Skipping sub-alarm with invalid expression", "sub_alarm_id", id, "error", err)
			continue
		}
		defs = append(defs, SubAlarmDefinition{
			SubAlarmID: id,
			AlarmID:    alarmID,
			Key:        domain.MetricDefinitionAndTenantID{Definition: expr.Definition, TenantID: tenantID},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sub-alarm definitions: %w", err)
	}
	return defs, nil
}

// UpdateSubAlarmState persists the state of one sub-alarm.
func (db *DB) UpdateSubAlarmState(ctx context.Context, subAlarmID string, state domain.AlarmState) error {
	query := `UPDATE sub_alarm SET state = $2, updated_at = NOW() WHERE id = $1`
	if _, err := db.conn.ExecContext(ctx, query, subAlarmID, string(state)); err != nil {
		return fmt.Errorf("failed to update sub-alarm %s state: %w", subAlarmID, err)
	}
	return nil
}
