package services

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"phishguard/internal/models"
)

// ExportService renders verdict history for download.
type ExportService struct{}

// ExportFormat represents supported export formats.
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatJSON ExportFormat = "json"
)

// ExportRequest represents export parameters.
type ExportRequest struct {
	Format      ExportFormat `json:"format"`
	DateFrom    *time.Time   `json:"dateFrom,omitempty"`
	DateTo      *time.Time   `json:"dateTo,omitempty"`
	Limit       int          `json:"limit"`
	OnlyThreats bool         `json:"onlyThreats"`
}

// ExportResponse represents export result.
type ExportResponse struct {
	Content     string    `json:"content,omitempty"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"contentType"`
	Count       int       `json:"count"`
	ExportedAt  time.Time `json:"exportedAt"`
}

func NewExportService() *ExportService {
	return &ExportService{}
}

// ExportVerdicts exports verdict history in the requested format.
func (e *ExportService) ExportVerdicts(verdicts []models.VerdictRecord, req ExportRequest) (*ExportResponse, error) {
	filtered := e.filterVerdicts(verdicts, req)

	switch req.Format {
	case FormatCSV:
		content, err := e.generateCSV(filtered)
		if err != nil {
			return nil, err
		}
		return &ExportResponse{
			Content:     content,
			Filename:    e.generateFilename(FormatCSV),
			ContentType: "text/csv",
			Count:       len(filtered),
			ExportedAt:  time.Now().UTC(),
		}, nil

	case FormatJSON:
		content, err := e.generateJSON(filtered)
		if err != nil {
			return nil, err
		}
		return &ExportResponse{
			Content:     content,
			Filename:    e.generateFilename(FormatJSON),
			ContentType: "application/json",
			Count:       len(filtered),
			ExportedAt:  time.Now().UTC(),
		}, nil

	default:
		return nil, fmt.Errorf("unsupported export format: %s", req.Format)
	}
}

func (e *ExportService) generateCSV(verdicts []models.VerdictRecord) (string, error) {
	var csvContent strings.Builder
	writer := csv.NewWriter(&csvContent)

	header := []string{
		"Date",
		"Prefix",
		"Label",
		"Method",
		"Confidence",
		"Combined Score",
		"ML Score",
		"Reasons",
		"Model",
		"Analysis Time (ms)",
	}
	if err := writer.Write(header); err != nil {
		return "", fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, v := range verdicts {
		row := []string{
			v.CreatedAt.Format("2006-01-02 15:04:05"),
			v.Prefix,
			v.Label,
			v.Method,
			fmt.Sprintf("%.2f", v.Confidence),
			fmt.Sprintf("%.4f", v.Combined),
			fmt.Sprintf("%.4f", v.MLScore),
			strings.Join(v.Reasons, "; "),
			v.ModelID,
			fmt.Sprintf("%.2f", float64(v.AnalysisTime)/float64(time.Millisecond)),
		}
		if err := writer.Write(row); err != nil {
			return "", fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return "", fmt.Errorf("CSV writer error: %w", err)
	}
	return csvContent.String(), nil
}

func (e *ExportService) generateJSON(verdicts []models.VerdictRecord) (string, error) {
	exportData := map[string]interface{}{
		"export_info": map[string]interface{}{
			"exported_at": time.Now().UTC(),
			"format":      "json",
			"count":       len(verdicts),
		},
		"verdicts": verdicts,
	}

	jsonBytes, err := json.MarshalIndent(exportData, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(jsonBytes), nil
}

func (e *ExportService) filterVerdicts(verdicts []models.VerdictRecord, req ExportRequest) []models.VerdictRecord {
	filtered := make([]models.VerdictRecord, 0)
	for _, v := range verdicts {
		if req.DateFrom != nil && v.CreatedAt.Before(*req.DateFrom) {
			continue
		}
		if req.DateTo != nil && v.CreatedAt.After(*req.DateTo) {
			continue
		}
		if req.OnlyThreats && v.Label != models.LabelPhishing {
			continue
		}
		filtered = append(filtered, v)
	}

	if req.Limit > 0 && len(filtered) > req.Limit {
		filtered = filtered[:req.Limit]
	}
	return filtered
}

func (e *ExportService) generateFilename(format ExportFormat) string {
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	return fmt.Sprintf("detection_history_%s.%s", timestamp, string(format))
}

// ValidateExportRequest validates export request parameters.
func (e *ExportService) ValidateExportRequest(req ExportRequest) error {
	if req.Format != FormatCSV && req.Format != FormatJSON {
		return fmt.Errorf("unsupported format: %s. Supported formats: csv, json", req.Format)
	}
	if req.Limit < 0 || req.Limit > 10000 {
		return fmt.Errorf("limit must be between 0 and 10000")
	}
	if req.DateFrom != nil && req.DateTo != nil && req.DateFrom.After(*req.DateTo) {
		return fmt.Errorf("dateFrom cannot be after dateTo")
	}
	return nil
}
