// Package export turns ticket snapshots into the operations CSV:
// one row per ticket with lifecycle timestamps and stage durations.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/upkeep-io/upkeep/internal/store"
	"github.com/upkeep-io/upkeep/pkg/protocol"
)

// header is the fixed CSV column order.
var header = []string{
	"ticket_id", "group", "category", "author_id", "author_name",
	"executor_id", "executor_name",
	"created_ts", "queued_ts", "accepted_ts", "rejected_ts", "closed_ts",
	"time_to_queue", "time_to_accept", "time_in_progress", "time_to_clarify", "total_time",
	"final_status", "reject_reason", "reject_comment",
}

// Row is one aggregated export line.
type Row struct {
	TicketID     string
	Group        protocol.Group
	Category     string
	AuthorID     int64
	AuthorName   string
	ExecutorID   int64
	ExecutorName string

	CreatedAt  time.Time
	QueuedAt   *time.Time
	AcceptedAt *time.Time
	RejectedAt *time.Time
	ClosedAt   *time.Time

	TimeToQueue    string
	TimeToAccept   string
	TimeInProgress string
	TimeToClarify  string
	TotalTime      string

	FinalStatus   protocol.TicketStatus
	RejectReason  protocol.RejectReason
	RejectComment string
}

// Duration renders a stage duration as HH:MM:SS, or MM:SS when under
// an hour. Zero and negative durations render empty.
func Duration(d time.Duration) string {
	total := int(d.Seconds())
	if total <= 0 {
		return ""
	}
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// between renders the duration between two optional timestamps.
func between(from, to *time.Time) string {
	if from == nil || to == nil {
		return ""
	}
	return Duration(to.Sub(*from))
}

// BuildRow aggregates one ticket snapshot.
func BuildRow(t *protocol.Ticket) Row {
	created := t.CreatedAt
	r := Row{
		TicketID:     t.ID,
		Group:        t.CurrentGroup,
		Category:     t.Category,
		AuthorID:     t.AuthorID,
		AuthorName:   t.AuthorName,
		ExecutorID:   t.ExecutorID,
		ExecutorName: t.ExecutorName,

		CreatedAt:  created,
		QueuedAt:   t.QueuedAt,
		AcceptedAt: t.AcceptedAt,
		RejectedAt: t.RejectedAt,
		ClosedAt:   t.ClosedAt,

		TimeToQueue:    between(&created, t.QueuedAt),
		TimeToAccept:   between(t.QueuedAt, t.AcceptedAt),
		TimeInProgress: between(t.AcceptedAt, t.ClosedAt),
		TimeToClarify:  between(t.ClarifyRequestedAt, t.ClarifyAnsweredAt),

		FinalStatus:   t.Status,
		RejectReason:  t.RejectReason,
		RejectComment: t.RejectComment,
	}

	// Total time runs to the terminal transition, whichever it was.
	end := t.ClosedAt
	if end == nil {
		end = t.RejectedAt
	}
	r.TotalTime = between(&created, end)
	return r
}

// BuildRows aggregates snapshots, oldest first.
func BuildRows(tickets []*protocol.Ticket) []Row {
	rows := make([]Row, 0, len(tickets))
	for _, t := range tickets {
		rows = append(rows, BuildRow(t))
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].CreatedAt.Before(rows[j].CreatedAt) })
	return rows
}

// WriteCSV writes rows with the semicolon delimiter the downstream
// spreadsheet tooling expects. The header goes out even for no rows.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	cw.Comma = ';'

	if err := cw.Write(header); err != nil {
		return fmt.Errorf("export: write header: %w", err)
	}
	for _, r := range rows {
		record := []string{
			r.TicketID, string(r.Group), r.Category,
			strconv.FormatInt(r.AuthorID, 10), r.AuthorName,
			formatID(r.ExecutorID), r.ExecutorName,
			formatTS(&r.CreatedAt), formatTS(r.QueuedAt), formatTS(r.AcceptedAt),
			formatTS(r.RejectedAt), formatTS(r.ClosedAt),
			r.TimeToQueue, r.TimeToAccept, r.TimeInProgress, r.TimeToClarify, r.TotalTime,
			string(r.FinalStatus), string(r.RejectReason), r.RejectComment,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("export: write row %s: %w", r.TicketID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatTS(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02T15:04:05")
}

func formatID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}

// Service produces exports from the ticket store. The watermark makes
// the scheduled digest incremental: each run covers tickets updated
// since the previous one.
type Service struct {
	store store.Store

	mu        sync.Mutex
	watermark time.Time
}

// NewService creates an export service.
func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// CSV renders the full export. Returns the bytes and the row count.
func (s *Service) CSV() ([]byte, int, error) {
	return s.csvSince(time.Time{})
}

// Incremental renders tickets updated since the previous incremental
// run and advances the watermark.
func (s *Service) Incremental(now time.Time) ([]byte, int, error) {
	s.mu.Lock()
	since := s.watermark
	s.mu.Unlock()

	data, n, err := s.csvSince(since)
	if err != nil {
		return nil, 0, err
	}

	s.mu.Lock()
	s.watermark = now
	s.mu.Unlock()
	return data, n, nil
}

func (s *Service) csvSince(since time.Time) ([]byte, int, error) {
	tickets, err := s.store.List(store.Filter{UpdatedSince: since})
	if err != nil {
		return nil, 0, fmt.Errorf("export: list tickets: %w", err)
	}
	rows := BuildRows(tickets)

	var buf bytes.Buffer
	if err := WriteCSV(&buf, rows); err != nil {
		return nil, 0, err
	}
	return buf.Bytes(), len(rows), nil
}
