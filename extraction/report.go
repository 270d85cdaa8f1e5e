package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"judgments-backend/models"

	"go.mongodb.org/mongo-driver/mongo"
)

// ReportSink receives one report per batch that had failures or problematic documents
type ReportSink interface {
	WriteReport(ctx context.Context, report models.FailureReport) error
}

// FileReportSink writes each report as an indented JSON file
type FileReportSink struct {
	dir string
}

// NewFileReportSink creates the report directory if needed
func NewFileReportSink(dir string) (*FileReportSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create failure log directory: %w", err)
	}
	return &FileReportSink{dir: dir}, nil
}

// WriteReport implements ReportSink
func (s *FileReportSink) WriteReport(ctx context.Context, report models.FailureReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode failure report: %w", err)
	}

	name := fmt.Sprintf("failures_%s_%s_batch_%04d.json",
		report.Timestamp.UTC().Format("20060102T150405Z"), report.RunID, report.BatchNumber)
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0644); err != nil {
		return fmt.Errorf("write failure report: %w", err)
	}
	return nil
}

// MongoReportSink stores reports in a collection for querying across runs
type MongoReportSink struct {
	coll *mongo.Collection
}

// NewMongoReportSink writes to coll
func NewMongoReportSink(coll *mongo.Collection) *MongoReportSink {
	return &MongoReportSink{coll: coll}
}

// WriteReport implements ReportSink
func (s *MongoReportSink) WriteReport(ctx context.Context, report models.FailureReport) error {
	if _, err := s.coll.InsertOne(ctx, report); err != nil {
		return fmt.Errorf("insert failure report: %w", err)
	}
	return nil
}
