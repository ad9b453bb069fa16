package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/flowline/flowline/pkg/models"
)

// ErrNotFound indicates the requested flow record does not exist.
var ErrNotFound = errors.New("flow not found")

// ErrFlowDeleted indicates a write was rejected because the master flow
// status is the sticky terminal "deleted".
var ErrFlowDeleted = errors.New("flow is deleted")

// CreateFlow creates the master record and its matching child record in a
// single transaction. Exactly one master exists per flow ID, and one child
// of the matching type per master.
func (db *DB) CreateFlow(m *models.MasterFlow, c *models.ChildFlow) error {
	metadata, err := json.Marshal(m.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	completion, _ := json.Marshal(c.PhaseCompletion)
	data, _ := json.Marshal(c.PhaseData)

	now := formatTime(time.Now())
	return db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			INSERT INTO master_flows (flow_id, flow_type, status, client_id, engagement_id, metadata, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, m.FlowID, m.FlowType, string(m.Status), m.Tenant.ClientID, m.Tenant.EngagementID, string(metadata), now, now); err != nil {
			return fmt.Errorf("insert master flow: %w", err)
		}
		if _, err := tx.Exec(`
			INSERT INTO child_flows (flow_id, flow_type, status, phase_completion, phase_data, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, c.FlowID, c.FlowType, string(c.Status), string(completion), string(data), now); err != nil {
			return fmt.Errorf("insert child flow: %w", err)
		}
		return nil
	})
}

// GetMasterFlow retrieves a master flow by ID. Returns ErrNotFound if absent.
func (db *DB) GetMasterFlow(flowID string) (*models.MasterFlow, error) {
	row := db.QueryRow(`
		SELECT flow_id, flow_type, status, client_id, engagement_id, metadata, created_at, updated_at
		FROM master_flows WHERE flow_id = ?
	`, flowID)
	return scanMasterFlow(row.Scan)
}

// UpdateMasterStatus writes a new master status. The sticky "deleted"
// status is never overwritten; the guard lives in the UPDATE itself so
// callers running without the flow lock cannot revive a flow deleted
// between a read and the write. Returns ErrFlowDeleted when the guard
// blocked the write.
func (db *DB) UpdateMasterStatus(flowID string, status models.MasterStatus) error {
	guard := string(models.MasterDeleted)
	if status == models.MasterDeleted {
		// Writing deleted is always allowed and idempotent.
		guard = ""
	}

	res, err := db.Exec(`
		UPDATE master_flows SET status = ?, updated_at = ? WHERE flow_id = ? AND status != ?
	`, string(status), formatTime(time.Now()), flowID, guard)
	if err != nil {
		return fmt.Errorf("update master status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("master rows affected: %w", err)
	}
	if affected == 0 {
		// Distinguish a missing row from the deleted guard.
		if _, err := db.GetMasterFlow(flowID); err != nil {
			return err
		}
		return ErrFlowDeleted
	}
	return nil
}

// ApplyStatusTransition writes the master and child status in one
// transaction. Either both writes commit or neither does. The master must
// exist (ErrNotFound) and must not be deleted (ErrFlowDeleted) unless the
// transition itself is a delete.
func (db *DB) ApplyStatusTransition(flowID, flowType string, master models.MasterStatus, child models.ChildStatus, metadata map[string]any) error {
	now := formatTime(time.Now())
	return db.Transaction(func(tx *sql.Tx) error {
		row := tx.QueryRow("SELECT status, metadata FROM master_flows WHERE flow_id = ?", flowID)
		var current string
		var rawMeta sql.NullString
		if err := row.Scan(&current, &rawMeta); err == sql.ErrNoRows {
			return ErrNotFound
		} else if err != nil {
			return fmt.Errorf("load master flow: %w", err)
		}
		if models.MasterStatus(current) == models.MasterDeleted && master != models.MasterDeleted {
			return ErrFlowDeleted
		}

		merged := mergeMetadata(rawMeta, metadata)
		if _, err := tx.Exec(`
			UPDATE master_flows SET status = ?, metadata = ?, updated_at = ? WHERE flow_id = ?
		`, string(master), merged, now, flowID); err != nil {
			return fmt.Errorf("update master status: %w", err)
		}

		res, err := tx.Exec(`
			UPDATE child_flows SET status = ?, updated_at = ? WHERE flow_id = ? AND flow_type = ?
		`, string(child), now, flowID, flowType)
		if err != nil {
			return fmt.Errorf("update child status: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("child rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("child flow %s/%s: %w", flowID, flowType, ErrNotFound)
		}
		return nil
	})
}

// ListMasterFlows lists all non-deleted master flows for a tenant,
// oldest first.
func (db *DB) ListMasterFlows(tenant models.TenantKey) ([]models.MasterFlow, error) {
	rows, err := db.Query(`
		SELECT flow_id, flow_type, status, client_id, engagement_id, metadata, created_at, updated_at
		FROM master_flows
		WHERE client_id = ? AND engagement_id = ? AND status != ?
		ORDER BY created_at
	`, tenant.ClientID, tenant.EngagementID, string(models.MasterDeleted))
	if err != nil {
		return nil, fmt.Errorf("list master flows: %w", err)
	}
	defer rows.Close()

	var flows []models.MasterFlow
	for rows.Next() {
		m, err := scanMasterFlow(rows.Scan)
		if err != nil {
			return nil, err
		}
		flows = append(flows, *m)
	}
	return flows, rows.Err()
}

// PurgeDeletedFlows removes deleted master flows (and their child records
// and snapshots) older than the given duration. Returns the number of
// master records removed.
func (db *DB) PurgeDeletedFlows(olderThan time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))

	var purged int64
	err := db.Transaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			DELETE FROM master_flows WHERE status = ? AND updated_at < ?
		`, string(models.MasterDeleted), cutoff)
		if err != nil {
			return fmt.Errorf("purge master flows: %w", err)
		}
		purged, _ = res.RowsAffected()

		if _, err := tx.Exec(`
			DELETE FROM child_flows WHERE flow_id NOT IN (SELECT flow_id FROM master_flows)
		`); err != nil {
			return fmt.Errorf("purge child flows: %w", err)
		}
		if _, err := tx.Exec(`
			DELETE FROM flow_snapshots WHERE flow_id NOT IN (SELECT flow_id FROM master_flows)
		`); err != nil {
			return fmt.Errorf("purge snapshots: %w", err)
		}
		return nil
	})
	return purged, err
}

// scanMasterFlow scans one master row via the given scan function.
func scanMasterFlow(scan func(dest ...any) error) (*models.MasterFlow, error) {
	var m models.MasterFlow
	var status string
	var metadata sql.NullString
	var createdAt, updatedAt string

	err := scan(&m.FlowID, &m.FlowType, &status, &m.Tenant.ClientID, &m.Tenant.EngagementID, &metadata, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan master flow: %w", err)
	}

	m.Status = models.MasterStatus(status)
	if metadata.Valid && metadata.String != "" {
		json.Unmarshal([]byte(metadata.String), &m.Metadata)
	}
	m.CreatedAt, _ = parseTime(createdAt)
	m.UpdatedAt, _ = parseTime(updatedAt)
	return &m, nil
}

// mergeMetadata overlays updates onto the stored metadata JSON.
func mergeMetadata(raw sql.NullString, updates map[string]any) string {
	merged := make(map[string]any)
	if raw.Valid && raw.String != "" {
		json.Unmarshal([]byte(raw.String), &merged)
	}
	for k, v := range updates {
		merged[k] = v
	}
	out, _ := json.Marshal(merged)
	return string(out)
}
