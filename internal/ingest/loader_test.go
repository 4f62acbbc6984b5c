package ingest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/deskhand-io/deskhand/internal/ticket"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLoadFile_CSV(t *testing.T) {
	csv := `Ticket ID,Issue,Description,Resolution,Status,Date,Agent Name
T-100,Printer offline,Office printer shows offline after driver update,Rolled back the driver,resolved,2024-03-10,alice
T-101,VPN drops,,,open,2024-03-11,
`
	path := writeTempFile(t, "dump.csv", csv)

	got, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d tickets, want 2", len(got))
	}

	first := got[0]
	if first.ID != "T-100" {
		t.Errorf("ID = %q", first.ID)
	}
	// Issue and Description columns merge into one description.
	if first.Description != "Printer offline Office printer shows offline after driver update" {
		t.Errorf("Description = %q", first.Description)
	}
	if first.Status != ticket.StatusResolved || first.Resolution != "Rolled back the driver" {
		t.Errorf("resolution fields = %q/%q", first.Status, first.Resolution)
	}
	if first.AgentName != "alice" {
		t.Errorf("AgentName = %q", first.AgentName)
	}
	want := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	if !first.ResolvedAt.Equal(want) {
		t.Errorf("ResolvedAt = %v, want %v", first.ResolvedAt, want)
	}

	second := got[1]
	if second.Status != ticket.StatusOpen {
		t.Errorf("second status = %q, want open", second.Status)
	}
	if second.Description != "VPN drops" {
		t.Errorf("second description = %q", second.Description)
	}
}

func TestLoadFile_JSON(t *testing.T) {
	dump := `[
		{"id": 42, "description": "Email not syncing on phone", "resolved": true,
		 "resolution": "Re-added the account", "date": "2024-02-01T09:30:00Z"},
		{"description": "Mouse double clicks", "resolved": false}
	]`
	path := writeTempFile(t, "dump.json", dump)

	got, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d tickets, want 2", len(got))
	}

	// Numeric IDs are formatted, not dropped.
	if got[0].ID != "42" {
		t.Errorf("ID = %q, want 42", got[0].ID)
	}
	if got[0].Status != ticket.StatusResolved {
		t.Errorf("status = %q, want resolved", got[0].Status)
	}
	want := time.Date(2024, 2, 1, 9, 30, 0, 0, time.UTC)
	if !got[0].ResolvedAt.Equal(want) {
		t.Errorf("ResolvedAt = %v, want %v", got[0].ResolvedAt, want)
	}

	// Records without an ID get a generated one.
	if got[1].ID == "" {
		t.Error("missing ID was not generated")
	}
}

func TestLoadFile_UnsupportedExtension(t *testing.T) {
	path := writeTempFile(t, "dump.xlsx", "not really a spreadsheet")
	_, err := LoadFile(path)
	if err == nil || !strings.Contains(err.Error(), "unsupported dump format") {
		t.Fatalf("err = %v, want unsupported format error", err)
	}
}

func TestLoadFile_RejectsRecordWithoutDescription(t *testing.T) {
	path := writeTempFile(t, "dump.csv", "ticket_id,description\nT-1,\n")
	if _, err := LoadFile(path); err == nil {
		t.Fatal("record without description accepted")
	}
}

func TestStripMarkup(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain text stays", "plain text stays"},
		{"<p>Printer <b>offline</b> again</p>", "Printer offline again"},
		{"<div>first</div>\n<div>second</div>", "first second"},
		{"<script>alert(1)</script>visible", "visible"},
		{"a < b but still plain-ish", "a < b but still plain-ish"},
	}
	for _, tt := range tests {
		if got := stripMarkup(tt.in); got != tt.want {
			t.Errorf("stripMarkup(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-03-10T08:00:00Z", time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)},
		{"2024-03-10 08:00:00", time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)},
		{"2024-03-10", time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)},
		{"03/10/2024", time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)},
		{"yesterday", time.Time{}},
		{"", time.Time{}},
	}
	for _, tt := range tests {
		if got := parseDate(tt.in); !got.Equal(tt.want) {
			t.Errorf("parseDate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseTicketReport(t *testing.T) {
	report := `Helpdesk Ticket Report
Generated 2024-04-01

Ticket ID: T-200
Description: Laptop fan runs at full speed
even when idle
Resolution: Cleaned the fan and reapplied thermal paste
Status: resolved
Date: 2024-03-20
Agent: carol

Ticket ID: T-201
Description: Second monitor not detected
Status: open
`
	got, err := ParseTicketReport(report)
	if err != nil {
		t.Fatalf("ParseTicketReport: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d tickets, want 2", len(got))
	}

	first := got[0]
	if first.ID != "T-200" {
		t.Errorf("ID = %q", first.ID)
	}
	// Unlabelled lines continue the previous field.
	if first.Description != "Laptop fan runs at full speed even when idle" {
		t.Errorf("Description = %q", first.Description)
	}
	if first.Status != ticket.StatusResolved || first.AgentName != "carol" {
		t.Errorf("status/agent = %q/%q", first.Status, first.AgentName)
	}

	if got[1].ID != "T-201" || got[1].Status != ticket.StatusOpen {
		t.Errorf("second ticket = %+v", got[1])
	}
}

func TestParseTicketReport_NoBlocks(t *testing.T) {
	_, err := ParseTicketReport("just a cover page\nwith no tickets")
	if err == nil || !strings.Contains(err.Error(), "no ticket blocks") {
		t.Fatalf("err = %v, want no-ticket-blocks error", err)
	}
}
