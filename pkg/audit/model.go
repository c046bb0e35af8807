// Package audit persists an append-only trail of gateway operations. Every
// mutating request (action phases and approval decisions) produces one Event;
// reads are not recorded. The trail is queryable through the system audit API
// and pruned by a retention worker.
package audit

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JSONAny is a custom GORM type for map[string]any stored as JSON.
type JSONAny map[string]any

// Scan implements the sql.Scanner interface for JSONAny.
func (m *JSONAny) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case string:
		bytes = []byte(v)
	case []byte:
		bytes = v
	default:
		return fmt.Errorf("unsupported type for JSONAny: %T", value)
	}
	return json.Unmarshal(bytes, m)
}

// Value implements the driver.Valuer interface for JSONAny.
func (m JSONAny) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Event is an immutable audit log entry for one mediated request.
type Event struct {
	ID            string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	AgentID       string    `gorm:"column:agent_id;index:idx_audit_agent_time,priority:1;not null"`
	Plugin        string    `gorm:"column:plugin;index:idx_audit_plugin_time,priority:1"`
	Resource      string    `gorm:"column:resource"`
	ResourceID    string    `gorm:"column:resource_id"`
	Action        string    `gorm:"column:action;index:idx_audit_action_time,priority:1"`
	Phase         string    `gorm:"column:phase"`
	Method        string    `gorm:"column:method;not null"`
	Path          string    `gorm:"column:path;not null"`
	Outcome       string    `gorm:"column:outcome;index:idx_audit_outcome_time,priority:1;not null"` // success, pending_approval, denied, failure
	StatusCode    int       `gorm:"column:status_code"`
	RequestID     string    `gorm:"column:request_id;index"`
	DurationMS    int64     `gorm:"column:duration_ms"`
	EventMetadata JSONAny   `gorm:"column:metadata;type:text"`
	CreatedAt     time.Time `gorm:"column:created_at;index:idx_audit_agent_time,priority:2;index:idx_audit_plugin_time,priority:2;index:idx_audit_action_time,priority:2;index:idx_audit_outcome_time,priority:2;autoCreateTime"`
}

// TableName returns the GORM table name.
func (Event) TableName() string { return "audit_events" }
