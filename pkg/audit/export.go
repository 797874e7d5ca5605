package audit

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// ParseExportFormat validates a format name; empty means JSON
func ParseExportFormat(s string) (ExportFormat, error) {
	switch ExportFormat(s) {
	case "", ExportFormatJSON:
		return ExportFormatJSON, nil
	case ExportFormatCSV, ExportFormatNDJSON:
		return ExportFormat(s), nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

// ContentType returns the MIME type of the format
func (f ExportFormat) ContentType() string {
	switch f {
	case ExportFormatCSV:
		return "text/csv"
	case ExportFormatNDJSON:
		return "application/x-ndjson"
	default:
		return "application/json"
	}
}

// Export writes records to w in the given format
func Export(w io.Writer, records []Record, format ExportFormat) error {
	switch format {
	case ExportFormatJSON, "":
		return exportJSON(w, records)
	case ExportFormatNDJSON:
		return exportNDJSON(w, records)
	case ExportFormatCSV:
		return exportCSV(w, records)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

// exportJSON exports records as a JSON array
func exportJSON(w io.Writer, records []Record) error {
	if records == nil {
		records = []Record{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

// exportNDJSON exports records as newline-delimited JSON
func exportNDJSON(w io.Writer, records []Record) error {
	enc := json.NewEncoder(w)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("failed to encode record: %w", err)
		}
	}
	return nil
}

var csvHeader = []string{
	"id",
	"event",
	"auditable_type",
	"auditable_id",
	"user_id",
	"old_values",
	"new_values",
	"url",
	"ip_address",
	"user_agent",
	"created_at",
}

// exportCSV exports records as CSV; attribute maps are embedded as JSON
func exportCSV(w io.Writer, records []Record) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, r := range records {
		oldJSON, err := json.Marshal(orEmpty(r.oldValues))
		if err != nil {
			return err
		}
		newJSON, err := json.Marshal(orEmpty(r.newValues))
		if err != nil {
			return err
		}
		url, _ := r.URL()
		ip, _ := r.IPAddress()
		ua, _ := r.UserAgent()

		userID := ""
		if !r.userID.IsNull() {
			userID = r.userID.Text()
		}

		row := []string{
			r.id.String(),
			string(r.event),
			r.auditableType,
			r.auditableID,
			userID,
			string(oldJSON),
			string(newJSON),
			url,
			ip,
			ua,
			r.createdAt.Format(time.RFC3339Nano),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("CSV writer error: %w", err)
	}
	return nil
}
