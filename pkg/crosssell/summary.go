package crosssell

import "time"

// RunStatus is the terminal state of an orchestrator run.
type RunStatus string

const (
	StatusSuccess RunStatus = "success"
	StatusPartial RunStatus = "partial_success"
	StatusError   RunStatus = "error"
)

// Run types, recorded in the report so the status page can label entries.
const (
	RunTypeWeekly = "weekly_scan"
	RunTypeDryRun = "dry_run"
	RunTypeCheck  = "manual_check"
)

// ProposedUpdate describes one write the scanner would perform. Dry runs
// return these instead of touching the store.
type ProposedUpdate struct {
	Email             string    `json:"email"`
	Collection        string    `json:"collection"`
	PurchaseDate      time.Time `json:"purchase_date"`
	TriggeringProduct string    `json:"purchased_product"`
	Recommendations   []string  `json:"recommendations"`
}

// CollectionResult summarizes one collection's share of a run.
type CollectionResult struct {
	CollectionID int64            `json:"collection_id"`
	Title        string           `json:"title"`
	Products     int              `json:"products"`
	Eligible     int              `json:"eligible"`
	Updated      int              `json:"updated"`
	Skipped      bool             `json:"skipped,omitempty"` // empty collection, nothing to recommend
	Proposed     []ProposedUpdate `json:"proposed,omitempty"`
}

// RunSummary is created once per orchestrator invocation and handed to the
// report sink, including for failed runs.
type RunSummary struct {
	RunID        string             `json:"run_id"`
	Timestamp    time.Time          `json:"timestamp"`
	Type         string             `json:"type"`
	Status       RunStatus          `json:"status"`
	DryRun       bool               `json:"dry_run,omitempty"`
	Collections  []CollectionResult `json:"collections"`
	TotalUpdated int                `json:"total_updated"`
	Errors       []string           `json:"errors,omitempty"`
}
