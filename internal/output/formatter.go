// Package output provides formatting options for check results
package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/commjoen/dnsbl/pkg/models"
)

// Formatter defines the interface for output formatters
type Formatter interface {
	Format(report *models.CheckReport) (string, error)
	Write(w io.Writer, report *models.CheckReport) error
}

// TextFormatter formats results as human-readable text tables
type TextFormatter struct{}

// JSONFormatter formats results as JSON
type JSONFormatter struct {
	Pretty bool
}

// CSVFormatter formats results as CSV, one row per evaluated zone
type CSVFormatter struct{}

// NewFormatter creates a new formatter based on the format type
func NewFormatter(format string) (Formatter, error) {
	switch strings.ToLower(format) {
	case "text", "":
		return &TextFormatter{}, nil
	case "json":
		return &JSONFormatter{Pretty: true}, nil
	case "csv":
		return &CSVFormatter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

// zoneStatus distinguishes a failed query from a clean answer
func zoneStatus(d models.ZoneDetail) string {
	switch {
	case d.Records == nil:
		return "no-answer"
	case d.Listed:
		return "listed"
	default:
		return "clean"
	}
}

func formatString(f Formatter, report *models.CheckReport) (string, error) {
	var sb strings.Builder
	if err := f.Write(&sb, report); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// Format returns the formatted string
func (f *TextFormatter) Format(report *models.CheckReport) (string, error) {
	return formatString(f, report)
}

// Write writes the formatted output to the writer
func (f *TextFormatter) Write(w io.Writer, report *models.CheckReport) error {
	separator := strings.Repeat("=", 80)
	lineSeparator := strings.Repeat("-", 80)

	for _, r := range report.Results {
		fmt.Fprintf(w, "Candidate: %s (%s)\n", r.Candidate, r.Mode)
		fmt.Fprintln(w, separator)

		if r.Error != "" {
			fmt.Fprintf(w, "Error: %s\n", r.Error)
			fmt.Fprintln(w, separator)
			continue
		}

		fmt.Fprintf(w, "%-36s %-10s %s\n", "Zone", "Status", "Reasons")
		fmt.Fprintln(w, lineSeparator)
		for _, d := range r.Details {
			zone := d.Zone
			if len(zone) > 34 {
				zone = zone[:31] + "..."
			}
			reasons := "-"
			if len(d.Reasons) > 0 {
				reasons = strings.Join(d.Reasons, "; ")
			}
			fmt.Fprintf(w, "%-36s %-10s %s\n", zone, zoneStatus(d), reasons)
		}
		fmt.Fprintln(w, separator)

		if r.Listed {
			fmt.Fprintf(w, "LISTED on %s\n\n", strings.Join(r.ListingBlacklists, ", "))
		} else {
			fmt.Fprint(w, "Not listed\n\n")
		}
	}

	if report.Summary != nil {
		fmt.Fprintf(w, "Checked %d candidates | %d listed | %d clean | %d invalid\n",
			report.Summary.TotalCandidates,
			report.Summary.Listed,
			report.Summary.Clean,
			report.Summary.Invalid)
	}

	return nil
}

// Format returns the formatted string
func (f *JSONFormatter) Format(report *models.CheckReport) (string, error) {
	return formatString(f, report)
}

// Write writes the formatted output to the writer
func (f *JSONFormatter) Write(w io.Writer, report *models.CheckReport) error {
	encoder := json.NewEncoder(w)
	if f.Pretty {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(report)
}

// Format returns the formatted string
func (f *CSVFormatter) Format(report *models.CheckReport) (string, error) {
	return formatString(f, report)
}

// Write writes the formatted output to the writer
func (f *CSVFormatter) Write(w io.Writer, report *models.CheckReport) error {
	writer := csv.NewWriter(w)

	header := []string{"candidate", "mode", "zone", "status", "reasons", "error"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, r := range report.Results {
		// Candidates without zone rows still get one line
		if len(r.Details) == 0 {
			if err := writer.Write([]string{r.Candidate, r.Mode, "", "", "", r.Error}); err != nil {
				return err
			}
			continue
		}
		for _, d := range r.Details {
			row := []string{r.Candidate, r.Mode, d.Zone, zoneStatus(d), strings.Join(d.Reasons, "; "), r.Error}
			if err := writer.Write(row); err != nil {
				return err
			}
		}
	}

	writer.Flush()
	return writer.Error()
}
