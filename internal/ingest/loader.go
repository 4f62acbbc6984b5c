// Package ingest loads historical ticket dumps into the store and runs the
// corpus rebuild worker. Supported dump formats are CSV, JSON, and
// plain-text PDF ticket reports; column names are normalized so exports
// from different helpdesk systems map onto the same fields.
package ingest

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/deskhand-io/deskhand/internal/ticket"
)

// LoadFile loads a ticket dump. The format is chosen by file extension:
// .csv, .json, or .pdf. XLSX dumps are not supported and must be exported
// to CSV first.
func LoadFile(path string) ([]ticket.Ticket, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		recs, err := loadCSV(f)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
		return ticketsFromRecords(recs)
	case ".json":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		recs, err := loadJSON(f)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
		return ticketsFromRecords(recs)
	case ".pdf":
		return LoadPDFReport(path)
	default:
		return nil, fmt.Errorf("unsupported dump format %q (expected .csv, .json, or .pdf)", filepath.Ext(path))
	}
}

// loadCSV reads a header-first CSV dump into normalized field maps.
func loadCSV(r io.Reader) ([]map[string]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	for i, h := range header {
		header[i] = normalizeKey(h)
	}

	var recs []map[string]string
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row %d: %w", len(recs)+2, err)
		}
		rec := make(map[string]string, len(header))
		for i, v := range row {
			if i < len(header) {
				rec[header[i]] = strings.TrimSpace(v)
			}
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// loadJSON reads a JSON array of ticket objects into normalized field maps.
// Values may be strings, numbers, or booleans.
func loadJSON(r io.Reader) ([]map[string]string, error) {
	var raw []map[string]any
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding JSON: %w", err)
	}

	recs := make([]map[string]string, len(raw))
	for i, obj := range raw {
		rec := make(map[string]string, len(obj))
		for k, v := range obj {
			switch val := v.(type) {
			case string:
				rec[normalizeKey(k)] = strings.TrimSpace(val)
			case bool:
				rec[normalizeKey(k)] = strconv.FormatBool(val)
			case float64:
				rec[normalizeKey(k)] = strconv.FormatFloat(val, 'f', -1, 64)
			case nil:
				// skip
			default:
				rec[normalizeKey(k)] = fmt.Sprintf("%v", val)
			}
		}
		recs[i] = rec
	}
	return recs, nil
}

// normalizeKey lowercases a column name and replaces spaces with
// underscores, so "Ticket ID" and "ticket_id" address the same field.
func normalizeKey(k string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(k)), " ", "_")
}

// ticketsFromRecords assembles tickets from normalized field maps. Records
// without any description text are rejected; records without an ID get a
// generated one.
func ticketsFromRecords(recs []map[string]string) ([]ticket.Ticket, error) {
	tickets := make([]ticket.Ticket, 0, len(recs))
	for i, rec := range recs {
		t, err := ticketFromRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i+1, err)
		}
		tickets = append(tickets, t)
	}
	return tickets, nil
}

func ticketFromRecord(rec map[string]string) (ticket.Ticket, error) {
	id := rec["ticket_id"]
	if id == "" {
		id = rec["id"]
	}
	if id == "" {
		id = uuid.New().String()
	}

	// Older dumps split the text across "issue" and "description".
	description := stripMarkup(strings.TrimSpace(strings.Join(nonEmpty(rec["issue"], rec["description"]), " ")))
	resolution := stripMarkup(rec["resolution"])

	resolved := parseBool(rec["resolved"])
	if rec["status"] != "" {
		resolved = rec["status"] == string(ticket.StatusResolved)
	}

	date := parseDate(rec["date"])

	if resolved {
		t, err := ticket.NewResolved(id, description, resolution, date)
		if err != nil {
			return ticket.Ticket{}, err
		}
		t.AgentName = rec["agent_name"]
		return t, nil
	}

	t, err := ticket.New(id, description)
	if err != nil {
		return ticket.Ticket{}, err
	}
	if !date.IsZero() {
		t.CreatedAt = date
	}
	return t, nil
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, strings.TrimSpace(v))
		}
	}
	return out
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "y", "1":
		return true
	default:
		return false
	}
}

// dateLayouts covers the timestamp formats seen in helpdesk exports.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
}

func parseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
