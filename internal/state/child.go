package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/flowline/flowline/pkg/models"
)

// Child flow operations. Each flow type owns its child records; the shared
// schema keys them by (flow_id, flow_type) so one master always has exactly
// one child of the matching type.

// GetChildFlow retrieves the child record for a flow. Returns ErrNotFound
// if absent.
func (db *DB) GetChildFlow(flowID, flowType string) (*models.ChildFlow, error) {
	row := db.QueryRow(`
		SELECT flow_id, flow_type, status, phase_completion, phase_data, updated_at
		FROM child_flows WHERE flow_id = ? AND flow_type = ?
	`, flowID, flowType)

	var c models.ChildFlow
	var status string
	var completion, data sql.NullString
	var updatedAt string
	err := row.Scan(&c.FlowID, &c.FlowType, &status, &completion, &data, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get child flow: %w", err)
	}

	c.Status = models.ChildStatus(status)
	if completion.Valid && completion.String != "" {
		json.Unmarshal([]byte(completion.String), &c.PhaseCompletion)
	}
	if data.Valid && data.String != "" {
		json.Unmarshal([]byte(data.String), &c.PhaseData)
	}
	c.UpdatedAt, _ = parseTime(updatedAt)
	return &c, nil
}

// UpdateChildStatus writes a new child status outside of any master
// transition. Used by the event path.
func (db *DB) UpdateChildStatus(flowID, flowType string, status models.ChildStatus) error {
	res, err := db.Exec(`
		UPDATE child_flows SET status = ?, updated_at = ? WHERE flow_id = ? AND flow_type = ?
	`, string(status), formatTime(time.Now()), flowID, flowType)
	if err != nil {
		return fmt.Errorf("update child status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("child rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateChildPhases replaces the phase completion map and merges phase data
// for a child record.
func (db *DB) UpdateChildPhases(flowID, flowType string, completion map[string]bool, data map[string]any) error {
	c, err := db.GetChildFlow(flowID, flowType)
	if err != nil {
		return err
	}

	if c.PhaseData == nil {
		c.PhaseData = make(map[string]any)
	}
	for k, v := range data {
		c.PhaseData[k] = v
	}

	rawCompletion, _ := json.Marshal(completion)
	rawData, _ := json.Marshal(c.PhaseData)
	_, err = db.Exec(`
		UPDATE child_flows SET phase_completion = ?, phase_data = ?, updated_at = ?
		WHERE flow_id = ? AND flow_type = ?
	`, string(rawCompletion), string(rawData), formatTime(time.Now()), flowID, flowType)
	if err != nil {
		return fmt.Errorf("update child phases: %w", err)
	}
	return nil
}
