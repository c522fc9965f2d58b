package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"thresholder/internal/alarm"
	"thresholder/internal/domain"
)

// FindAlarm loads a live alarm together with its sub-alarms. Sub-alarms are bound to the
// expression leaves by their canonical expression.
func (db *DB) FindAlarm(ctx context.Context, alarmID string) (*alarm.Alarm, error) {
	query := `
		SELECT id, tenant_id, name, expression, state
		FROM alarm
		WHERE id = $1 AND deleted_at IS NULL
	`
	var id, tenantID, name, expression, state string
	err := db.conn.QueryRowContext(ctx, query, alarmID).Scan(&id, &tenantID, &name, &expression, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", alarm.ErrAlarmNotFound, alarmID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query alarm: %w", err)
	}

	expr, err := domain.ParseAlarmExpression(expression)
	if err != nil {
		return nil, fmt.Errorf("alarm %s has an invalid expression: %w", alarmID, err)
	}
	alarmState, err := domain.ParseAlarmState(state)
	if err != nil {
		return nil, fmt.Errorf("alarm %s: %w", alarmID, err)
	}

	subAlarms, err := db.findSubAlarmsOfAlarm(ctx, alarmID)
	if err != nil {
		return nil, err
	}
	return alarm.NewAlarm(id, tenantID, name, expr, subAlarms, alarmState), nil
}

func (db *DB) findSubAlarmsOfAlarm(ctx context.Context, alarmID string) ([]*domain.SubAlarm, error) {
	query := `
		SELECT id, expression, state
		FROM sub_alarm
		WHERE alarm_id = $1
		ORDER BY position, id
	`
	rows, err := db.conn.QueryContext(ctx, query, alarmID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sub-alarms of alarm %s: %w", alarmID, err)
	}
	defer rows.Close()

	var subAlarms []*domain.SubAlarm
	for rows.Next() {
		var id, expression, state string
		if err := rows.Scan(&id, &expression, &state); err != nil {
			return nil, fmt.Errorf("failed to scan sub-alarm: %w", err)
		}
		expr, err := domain.ParseSubExpression(expression)
		if err != nil {
			return nil, fmt.Errorf("sub-alarm %s has an invalid expression: %w", id, err)
		}
		subState, err := domain.ParseAlarmState(state)
		if err != nil {
			return nil, fmt.Errorf("sub-alarm %s: %w", id, err)
		}
		subAlarms = append(subAlarms, domain.NewSubAlarmWithState(id, alarmID, expr, subState))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sub-alarms: %w", err)
	}
	return subAlarms, nil
}

// UpdateAlarmState persists an alarm state and the reason of the transition.
func (db *DB) UpdateAlarmState(ctx context.Context, alarmID string, state domain.AlarmState, reason string) error {
	query := `
		UPDATE alarm
		SET state = $2, state_reason = $3, updated_at = NOW()
		WHERE id = $1
	`
	result, err := db.conn.ExecContext(ctx, query, alarmID, string(state), reason)
	if err != nil {
		return fmt.Errorf("failed to update alarm %s state: %w", alarmID, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", alarm.ErrAlarmNotFound, alarmID)
	}
	return nil
}

var _ alarm.Store = (*DB)(nil)
