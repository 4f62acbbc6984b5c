package ingest

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/deskhand-io/deskhand/internal/ticket"
)

// LoadPDFReport loads tickets from a PDF ticket report, the kind some
// helpdesk systems produce instead of a structured export.
func LoadPDFReport(path string) ([]ticket.Ticket, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return nil, fmt.Errorf("extracting text from %s: %w", path, err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return nil, fmt.Errorf("reading text from %s: %w", path, err)
	}

	return ParseTicketReport(buf.String())
}

// ParseTicketReport parses the plain text of a ticket report into tickets.
// A report is a sequence of blocks, each starting with a "Ticket ID:" line
// followed by "Description:", "Resolution:", "Status:", "Date:", and
// "Agent:" lines. Lines without a field label continue the previous field.
func ParseTicketReport(text string) ([]ticket.Ticket, error) {
	var recs []map[string]string
	var current map[string]string
	var field string

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		key, value, ok := splitReportLine(line)
		if key == "ticket_id" {
			if current != nil {
				recs = append(recs, current)
			}
			current = map[string]string{"ticket_id": value}
			field = ""
			continue
		}
		if current == nil {
			// preamble before the first ticket block
			continue
		}
		if ok {
			current[key] = value
			field = key
			continue
		}
		if field != "" {
			current[field] = strings.TrimSpace(current[field] + " " + line)
		}
	}
	if current != nil {
		recs = append(recs, current)
	}

	if len(recs) == 0 {
		return nil, fmt.Errorf("no ticket blocks found in report")
	}
	return ticketsFromRecords(recs)
}

// reportFields maps report line labels to normalized record keys.
var reportFields = map[string]string{
	"ticket id":   "ticket_id",
	"description": "description",
	"issue":       "issue",
	"resolution":  "resolution",
	"status":      "status",
	"resolved":    "resolved",
	"date":        "date",
	"agent":       "agent_name",
	"agent name":  "agent_name",
}

func splitReportLine(line string) (key, value string, ok bool) {
	label, rest, found := strings.Cut(line, ":")
	if !found {
		return "", "", false
	}
	key, ok = reportFields[strings.ToLower(strings.TrimSpace(label))]
	if !ok {
		return "", "", false
	}
	return key, strings.TrimSpace(rest), true
}
