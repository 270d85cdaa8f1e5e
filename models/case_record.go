package models

import (
	"time"
)

// CaseRecord is the canonical judgment record. Absent string fields are empty, never null.
type CaseRecord struct {
	ID           string    `json:"id"`
	DiaryNumber  string    `json:"diaryNumber"`
	Court        string    `json:"court"`
	Bench        string    `json:"bench"`
	CaseType     string    `json:"caseType"`
	City         string    `json:"city"`
	District     string    `json:"district"`
	CaseNumber   string    `json:"caseNumber"`
	Parties      string    `json:"parties"`
	Advocates    string    `json:"advocates"`
	JudgmentBy   string    `json:"judgmentBy"`
	JudgmentDate string    `json:"judgmentDate"`
	JudgmentType string    `json:"judgmentType"`
	JudgmentURL  []string  `json:"judgmentUrl"`
	JudgmentText []string  `json:"judgmentText"`
	FilePath     string    `json:"filePath,omitempty"`
	SerialNumber string    `json:"serialNumber"`
	CreatedAt    time.Time `json:"createdAt,omitempty"`
}

// Fields returns the record keyed by its machine field names
func (c CaseRecord) Fields() map[string]any {
	urls := make([]any, 0, len(c.JudgmentURL))
	for _, u := range c.JudgmentURL {
		urls = append(urls, u)
	}
	texts := make([]any, 0, len(c.JudgmentText))
	for _, t := range c.JudgmentText {
		texts = append(texts, t)
	}
	return map[string]any{
		"id":           c.ID,
		"diaryNumber":  c.DiaryNumber,
		"court":        c.Court,
		"bench":        c.Bench,
		"caseType":     c.CaseType,
		"city":         c.City,
		"district":     c.District,
		"caseNumber":   c.CaseNumber,
		"parties":      c.Parties,
		"advocates":    c.Advocates,
		"judgmentBy":   c.JudgmentBy,
		"judgmentDate": c.JudgmentDate,
		"judgmentType": c.JudgmentType,
		"judgmentUrl":  urls,
		"judgmentText": texts,
		"filePath":     c.FilePath,
		"serialNumber": c.SerialNumber,
	}
}

// CaseKey identifies the record set a scrape result belongs to
type CaseKey struct {
	DiaryNumber string
	Court       string
	Bench       string
	CaseType    string
}

// Key returns the dedup key of the record
func (c CaseRecord) Key() CaseKey {
	return CaseKey{
		DiaryNumber: c.DiaryNumber,
		Court:       c.Court,
		Bench:       c.Bench,
		CaseType:    c.CaseType,
	}
}

// CaseFilters are the optional exact-lookup filters. Empty values are ignored.
type CaseFilters struct {
	City         string
	Bench        string
	CaseType     string // substring match
	JudgmentType string // comma-separated, any may match
}

// BacklogRecord is a source row waiting for document extraction
type BacklogRecord struct {
	ID        string         `json:"id"`
	Category  string         `json:"category"`
	Raw       map[string]any `json:"raw"`
	CreatedAt time.Time      `json:"created_at"`
}
