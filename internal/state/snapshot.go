package state

import (
	"database/sql"
	"fmt"
	"time"
)

// Controller snapshots: the serialized state of a phase controller, written
// after every transition so a paused flow can be reconstructed and resumed
// in a fresh process.

// SaveSnapshot stores the serialized controller state for a flow.
func (db *DB) SaveSnapshot(flowID, flowType string, snapshot []byte) error {
	_, err := db.Exec(`
		INSERT INTO flow_snapshots (flow_id, flow_type, snapshot, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(flow_id) DO UPDATE SET flow_type = excluded.flow_type, snapshot = excluded.snapshot, updated_at = excluded.updated_at
	`, flowID, flowType, string(snapshot), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// GetSnapshot loads the serialized controller state for a flow.
// Returns ErrNotFound if no snapshot has been written.
func (db *DB) GetSnapshot(flowID string) ([]byte, error) {
	row := db.QueryRow("SELECT snapshot FROM flow_snapshots WHERE flow_id = ?", flowID)

	var snapshot string
	err := row.Scan(&snapshot)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return []byte(snapshot), nil
}

// DeleteSnapshot removes the snapshot for a flow.
func (db *DB) DeleteSnapshot(flowID string) error {
	_, err := db.Exec("DELETE FROM flow_snapshots WHERE flow_id = ?", flowID)
	if err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}
