package models

import (
	"encoding/json"
	"time"
)

// Progress is the ephemeral state of one long-running job. The worker mutates
// it throughout execution; interactive callers poll it by job id.
type Progress struct {
	JobID     string          `json:"jobId"`
	Phase     string          `json:"phase"`
	Percent   int             `json:"percent"`
	Processed int             `json:"processed"`
	Total     int             `json:"total"`
	Status    string          `json:"status,omitempty"`
	Done      bool            `json:"done"`
	Results   json.RawMessage `json:"results,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
}
