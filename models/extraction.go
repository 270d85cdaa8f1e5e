package models

import (
	"time"
)

// ExtractionCheckpoint is the persisted cursor of the extraction job
type ExtractionCheckpoint struct {
	ResumeOffset   int       `json:"resumeOffset" bson:"resume_offset"`
	TotalExtracted int       `json:"totalExtracted" bson:"total_extracted"`
	UpdatedAt      time.Time `json:"updatedAt,omitempty" bson:"updated_at"`
}

// FailedCase describes one record that could not be extracted
type FailedCase struct {
	CaseID string `json:"caseId" bson:"case_id"`
	URL    string `json:"url,omitempty" bson:"url,omitempty"`
	Error  string `json:"error" bson:"error"`
}

// FailureReport is written once per batch that had failures
type FailureReport struct {
	RunID              string       `json:"runId" bson:"run_id"`
	BatchNumber        int          `json:"batchNumber" bson:"batch_number"`
	Timestamp          time.Time    `json:"timestamp" bson:"timestamp"`
	TotalCases         int          `json:"totalCases" bson:"total_cases"`
	FailedCases        int          `json:"failedCases" bson:"failed_cases"`
	FailedCaseDetails  []FailedCase `json:"failedCaseDetails" bson:"failed_case_details"`
	SkippedCaseDetails []FailedCase `json:"skippedCaseDetails,omitempty" bson:"skipped_case_details,omitempty"`
}
