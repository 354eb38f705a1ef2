package export

import (
	"bytes"
	"encoding/csv"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/upkeep-io/upkeep/internal/store"
	"github.com/upkeep-io/upkeep/pkg/protocol"
)

func ts(h, m, s int) time.Time {
	return time.Date(2025, 3, 10, h, m, s, 0, time.UTC)
}

func tsp(h, m, s int) *time.Time {
	v := ts(h, m, s)
	return &v
}

func TestDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, ""},
		{-time.Minute, ""},
		{42 * time.Second, "00:42"},
		{5*time.Minute + 7*time.Second, "05:07"},
		{59*time.Minute + 59*time.Second, "59:59"},
		{time.Hour, "01:00:00"},
		{26*time.Hour + 3*time.Minute + 4*time.Second, "26:03:04"},
	}
	for _, tt := range tests {
		if got := Duration(tt.d); got != tt.want {
			t.Errorf("Duration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestBuildRowDurations(t *testing.T) {
	closed := &protocol.Ticket{
		ID:           "A1B2C3D4",
		AuthorID:     100,
		AuthorName:   "Автор",
		ExecutorID:   20,
		ExecutorName: "Исполнитель",
		CurrentGroup: protocol.GroupSVS,
		Category:     "Засор",
		Status:       protocol.TicketClosed,
		CreatedAt:    ts(9, 0, 0),
		QueuedAt:     tsp(9, 1, 30),
		AcceptedAt:   tsp(9, 31, 30),
		ClosedAt:     tsp(11, 31, 30),
	}

	r := BuildRow(closed)
	if r.TimeToQueue != "01:30" {
		t.Errorf("time_to_queue = %q", r.TimeToQueue)
	}
	if r.TimeToAccept != "30:00" {
		t.Errorf("time_to_accept = %q", r.TimeToAccept)
	}
	if r.TimeInProgress != "02:00:00" {
		t.Errorf("time_in_progress = %q", r.TimeInProgress)
	}
	if r.TotalTime != "02:31:30" {
		t.Errorf("total_time = %q", r.TotalTime)
	}
	if r.TimeToClarify != "" {
		t.Errorf("time_to_clarify = %q for a ticket without clarification", r.TimeToClarify)
	}
}

func TestBuildRowRejectedTotal(t *testing.T) {
	rejected := &protocol.Ticket{
		ID:           "B1B2C3D4",
		CurrentGroup: protocol.GroupSGE,
		Status:       protocol.TicketRejected,
		RejectReason: protocol.ReasonNoRoomAccess,
		CreatedAt:    ts(9, 0, 0),
		QueuedAt:     tsp(9, 2, 0),
		RejectedAt:   tsp(10, 0, 0),
	}

	r := BuildRow(rejected)
	if r.TotalTime != "01:00:00" {
		t.Errorf("total_time = %q, want rejection end", r.TotalTime)
	}
	if r.TimeInProgress != "" {
		t.Errorf("time_in_progress = %q for never-accepted ticket", r.TimeInProgress)
	}
}

func TestBuildRowOpenTicketHasNoTotal(t *testing.T) {
	open := &protocol.Ticket{
		ID:        "C1B2C3D4",
		Status:    protocol.TicketAccepted,
		CreatedAt: ts(9, 0, 0),
		QueuedAt:  tsp(9, 1, 0),
	}
	if r := BuildRow(open); r.TotalTime != "" {
		t.Errorf("total_time = %q for an open ticket", r.TotalTime)
	}
}

func TestWriteCSV(t *testing.T) {
	rows := BuildRows([]*protocol.Ticket{
		{
			ID:           "LATER123",
			CurrentGroup: protocol.GroupSST,
			Category:     "Другое",
			Status:       protocol.TicketQueued,
			CreatedAt:    ts(10, 0, 0),
		},
		{
			ID:            "EARLY456",
			CurrentGroup:  protocol.GroupSVS,
			Category:      "Засор; прочее",
			Status:        protocol.TicketRejected,
			RejectReason:  protocol.ReasonNotApplicable,
			RejectComment: "не наш профиль",
			CreatedAt:     ts(9, 0, 0),
			RejectedAt:    tsp(9, 30, 0),
		},
	})

	var buf bytes.Buffer
	if err := WriteCSV(&buf, rows); err != nil {
		t.Fatal(err)
	}

	cr := csv.NewReader(&buf)
	cr.Comma = ';'
	records, err := cr.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Fatalf("records = %d", len(records))
	}
	if records[0][0] != "ticket_id" {
		t.Errorf("header = %v", records[0])
	}
	// Oldest first.
	if records[1][0] != "EARLY456" || records[2][0] != "LATER123" {
		t.Errorf("order = %s, %s", records[1][0], records[2][0])
	}
	// The delimiter inside a field survives quoting.
	if records[1][2] != "Засор; прочее" {
		t.Errorf("category = %q", records[1][2])
	}
	if records[1][18] != string(protocol.ReasonNotApplicable) {
		t.Errorf("reject_reason = %q", records[1][18])
	}
}

func TestWriteCSVEmptyStillHasHeader(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, nil); err != nil {
		t.Fatal(err)
	}
	line := strings.TrimSpace(buf.String())
	if !strings.HasPrefix(line, "ticket_id;group;category") {
		t.Errorf("header line = %q", line)
	}
}

func TestServiceIncremental(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "tickets.db"))
	if err != nil {
		t.Fatal(err)
	}

	put := func(id string, updated time.Time) {
		tk := &protocol.Ticket{
			ID:           id,
			CurrentGroup: protocol.GroupSVS,
			Status:       protocol.TicketQueued,
			CreatedAt:    updated,
			UpdatedAt:    updated,
		}
		if err := st.Save(tk); err != nil {
			t.Fatal(err)
		}
	}

	svc := NewService(st)
	put("AAAA0001", ts(9, 0, 0))

	_, n, err := svc.Incremental(ts(9, 30, 0))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("first run rows = %d", n)
	}

	// Nothing changed since the watermark.
	_, n, err = svc.Incremental(ts(10, 0, 0))
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("second run rows = %d", n)
	}

	put("AAAA0002", ts(10, 30, 0))
	_, n, err = svc.Incremental(ts(11, 0, 0))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("third run rows = %d", n)
	}

	data, n, err := svc.CSV()
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("full export rows = %d", n)
	}
	if !bytes.Contains(data, []byte("AAAA0001")) || !bytes.Contains(data, []byte("AAAA0002")) {
		t.Error("full export missing tickets")
	}
}
