package domain

import (
	"encoding/json"
	"time"
)

// Change is emitted after every successful job mutation. Fields carries only
// the columns the mutation touched.
type Change struct {
	JobID     string                     `json:"job_id"`
	UserID    string                     `json:"user_id,omitempty"`
	Status    Status                     `json:"status"`
	Previous  Status                     `json:"previous_status,omitempty"`
	Fields    map[string]json.RawMessage `json:"fields"`
	Deleted   bool                       `json:"deleted,omitempty"`
	Timestamp time.Time                  `json:"ts"`
}

// StatusChanged reports whether the mutation wrote a new status. Previous is
// empty for creations and for unguarded status writes.
func (c Change) StatusChanged() bool {
	return !c.Deleted && c.Previous != c.Status
}
