package domain

import "time"

// Standard history actions.
const (
	ActionIngested      = "Query Ingested"
	ActionStatusChanged = "Status Changed"
	ActionAssigned      = "Assigned"
	ActionUnassigned    = "Unassigned"
	ActionUpdate        = "Update"
)

// DefaultChangeDetails is used when a client changes a query without describing why.
const DefaultChangeDetails = "Status/Assignment change"

// HistoryEntry is an immutable audit trail entry.
type HistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
}
