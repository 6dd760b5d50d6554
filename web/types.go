package web

import (
	"github.com/jnesss/proc-enforcer/database"
)

// EventStore is the read side of the audit database.
type EventStore interface {
	RunID() string
	Recent(kind string, limit int) ([]database.EventRow, error)
	CountByKind() (map[string]int64, error)
}

// Summary is returned by /api/summary.
type Summary struct {
	RunID  string           `json:"runId"`
	Counts map[string]int64 `json:"counts"`
}

// RuleRow describes a Sigma rule file for the web API.
type RuleRow struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Level       string   `json:"level"`
	Author      string   `json:"author"`
	Tags        []string `json:"tags"`
	Filename    string   `json:"filename"`
	Enabled     bool     `json:"enabled"`
}
