package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/upkeep-io/upkeep/pkg/protocol"
)

// migrations is the ordered list of forward-only schema migrations.
// PRAGMA user_version tracks the last applied index + 1, so an old
// on-disk database is upgraded automatically at startup.
var migrations = []string{
	// v1: event log + the original minimal snapshot.
	`CREATE TABLE IF NOT EXISTS events (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		ticket_id  TEXT NOT NULL,
		kind       TEXT NOT NULL,
		ts         TEXT NOT NULL,
		actor_id   INTEGER,
		actor_name TEXT,
		payload    TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_events_ticket_ts ON events(ticket_id, ts);

	CREATE TABLE IF NOT EXISTS tickets (
		id               TEXT PRIMARY KEY,
		author_id        INTEGER,
		author_name      TEXT,
		author_chat_id   INTEGER,
		text             TEXT,
		initial_group    TEXT,
		current_group    TEXT,
		category         TEXT,
		status           TEXT NOT NULL DEFAULT 'created',
		executor_id      INTEGER,
		executor_name    TEXT,
		group_chat_id    INTEGER,
		group_message_id INTEGER,
		created_ts       TEXT,
		queued_ts        TEXT,
		accepted_ts      TEXT,
		closed_ts        TEXT,
		updated_ts       TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets(status);`,

	// v2: rejection approval workflow.
	`ALTER TABLE tickets ADD COLUMN reject_reason TEXT;
	ALTER TABLE tickets ADD COLUMN reject_comment TEXT;
	ALTER TABLE tickets ADD COLUMN pending_reject TEXT;
	ALTER TABLE tickets ADD COLUMN rejected_ts TEXT;
	ALTER TABLE tickets ADD COLUMN leader_id INTEGER;
	ALTER TABLE tickets ADD COLUMN leader_name TEXT;
	ALTER TABLE tickets ADD COLUMN leader_decision_ts TEXT;`,

	// v3: clarification exchange + re-routing provenance.
	`ALTER TABLE tickets ADD COLUMN clarify_question TEXT;
	ALTER TABLE tickets ADD COLUMN clarify_requested_ts TEXT;
	ALTER TABLE tickets ADD COLUMN clarify_answer TEXT;
	ALTER TABLE tickets ADD COLUMN clarify_answered_ts TEXT;
	ALTER TABLE tickets ADD COLUMN rerouted_to_group TEXT;
	ALTER TABLE tickets ADD COLUMN rerouted_ts TEXT;`,

	// v4: incremental export watermark.
	`CREATE INDEX IF NOT EXISTS idx_tickets_updated ON tickets(updated_ts);`,
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
	// Physical snapshot columns, captured after migration. Upserts
	// project onto this set so a write never fails on a column the
	// on-disk schema doesn't have.
	columns map[string]bool
}

// NewSQLite opens (or creates) a SQLite database and applies pending
// migrations.
func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	// Enable WAL mode for better concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: wal: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.loadColumns(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("store: read schema version: %w", err)
	}
	for i := version; i < len(migrations); i++ {
		if _, err := s.db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("store: migration %d: %w", i+1, err)
		}
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			return fmt.Errorf("store: bump schema version: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) loadColumns() error {
	rows, err := s.db.Query("PRAGMA table_info(tickets)")
	if err != nil {
		return fmt.Errorf("store: inspect schema: %w", err)
	}
	defer rows.Close()

	s.columns = make(map[string]bool)
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return fmt.Errorf("store: inspect schema: %w", err)
		}
		s.columns[name] = true
	}
	return rows.Err()
}

// Record appends an event and upserts the snapshot in one transaction.
// The two tables must never diverge, so a failure in either statement
// rolls back both.
func (s *SQLiteStore) Record(ev *protocol.Event, t *protocol.Ticket) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: record: %w", err)
	}
	defer tx.Rollback()

	payload := "{}"
	if len(ev.Payload) > 0 {
		b, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("store: record: encode payload: %w", err)
		}
		payload = string(b)
	}

	res, err := tx.Exec(
		`INSERT INTO events (ticket_id, kind, ts, actor_id, actor_name, payload) VALUES (?, ?, ?, ?, ?, ?)`,
		ev.TicketID, string(ev.Kind), ev.Timestamp.UTC().Format(time.RFC3339),
		nullInt64(ev.ActorID), nullString(ev.ActorName), payload,
	)
	if err != nil {
		return fmt.Errorf("store: record event: %w", err)
	}
	ev.Seq, _ = res.LastInsertId()

	if err := s.upsert(tx, t); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: record: commit: %w", err)
	}
	return nil
}

// Save upserts the snapshot without touching the event log.
func (s *SQLiteStore) Save(t *protocol.Ticket) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: save: %w", err)
	}
	defer tx.Rollback()
	if err := s.upsert(tx, t); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: save: commit: %w", err)
	}
	return nil
}

// snapshotFields returns the declared snapshot columns and their
// values for a ticket, in a fixed order. The upsert intersects this
// with the columns that physically exist.
func snapshotFields(t *protocol.Ticket) ([]string, []any) {
	var pending any
	if t.PendingReject != nil {
		if b, err := json.Marshal(t.PendingReject); err == nil {
			pending = string(b)
		}
	}

	cols := []string{
		"author_id", "author_name", "author_chat_id", "text",
		"initial_group", "current_group", "category", "status",
		"executor_id", "executor_name",
		"reject_reason", "reject_comment", "pending_reject",
		"leader_id", "leader_name", "leader_decision_ts",
		"rerouted_to_group", "rerouted_ts",
		"clarify_question", "clarify_requested_ts", "clarify_answer", "clarify_answered_ts",
		"group_chat_id", "group_message_id",
		"created_ts", "queued_ts", "accepted_ts", "rejected_ts", "closed_ts", "updated_ts",
	}
	vals := []any{
		t.AuthorID, nullString(t.AuthorName), t.AuthorChatID, t.Text,
		nullString(string(t.InitialGroup)), string(t.CurrentGroup), t.Category, string(t.Status),
		nullInt64(t.ExecutorID), nullString(t.ExecutorName),
		nullString(string(t.RejectReason)), nullString(t.RejectComment), pending,
		nullInt64(t.LeaderID), nullString(t.LeaderName), encodeTimePtr(t.LeaderDecisionAt),
		nullString(string(t.ReroutedToGroup)), encodeTimePtr(t.ReroutedAt),
		nullString(t.ClarifyQuestion), encodeTimePtr(t.ClarifyRequestedAt),
		nullString(t.ClarifyAnswer), encodeTimePtr(t.ClarifyAnsweredAt),
		t.Binding.ChatID, t.Binding.MessageID,
		t.CreatedAt.UTC().Format(time.RFC3339), encodeTimePtr(t.QueuedAt),
		encodeTimePtr(t.AcceptedAt), encodeTimePtr(t.RejectedAt), encodeTimePtr(t.ClosedAt),
		t.UpdatedAt.UTC().Format(time.RFC3339),
	}
	return cols, vals
}

func (s *SQLiteStore) upsert(tx *sql.Tx, t *protocol.Ticket) error {
	declared, values := snapshotFields(t)

	cols := []string{"id"}
	args := []any{t.ID}
	for i, c := range declared {
		if s.columns[c] {
			cols = append(cols, c)
			args = append(args, values[i])
		}
	}

	var sets []string
	for _, c := range cols[1:] {
		sets = append(sets, c+"=excluded."+c)
	}
	query := fmt.Sprintf(
		"INSERT INTO tickets (%s) VALUES (%s) ON CONFLICT(id) DO UPDATE SET %s",
		strings.Join(cols, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "),
		strings.Join(sets, ", "),
	)
	if _, err := tx.Exec(query, args...); err != nil {
		return fmt.Errorf("store: upsert %s: %w", t.ID, err)
	}
	return nil
}

const selectTicket = `SELECT id, author_id, author_name, author_chat_id, text,
	initial_group, current_group, category, status,
	executor_id, executor_name,
	reject_reason, reject_comment, pending_reject,
	leader_id, leader_name, leader_decision_ts,
	rerouted_to_group, rerouted_ts,
	clarify_question, clarify_requested_ts, clarify_answer, clarify_answered_ts,
	group_chat_id, group_message_id,
	created_ts, queued_ts, accepted_ts, rejected_ts, closed_ts, updated_ts
	FROM tickets`

func (s *SQLiteStore) Get(id string) (*protocol.Ticket, error) {
	row := s.db.QueryRow(selectTicket+" WHERE id = ?", id)
	t, err := scanTicket(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("ticket %q not found", id)
		}
		return nil, fmt.Errorf("store: get: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) List(filter Filter) ([]*protocol.Ticket, error) {
	query := selectTicket + " WHERE 1=1"
	var args []any

	if filter.Status != nil {
		query += " AND status = ?"
		args = append(args, string(*filter.Status))
	}
	if filter.Group != "" {
		query += " AND current_group = ?"
		args = append(args, string(filter.Group))
	}
	if !filter.UpdatedSince.IsZero() {
		query += " AND updated_ts > ?"
		args = append(args, filter.UpdatedSince.UTC().Format(time.RFC3339))
	}
	query += " ORDER BY created_ts"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	var tickets []*protocol.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list scan: %w", err)
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func (s *SQLiteStore) Events(ticketID string) ([]protocol.Event, error) {
	rows, err := s.db.Query(
		`SELECT seq, ticket_id, kind, ts, actor_id, actor_name, payload FROM events WHERE ticket_id = ? ORDER BY seq`,
		ticketID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: events: %w", err)
	}
	defer rows.Close()

	var events []protocol.Event
	for rows.Next() {
		var e protocol.Event
		var kind, ts, payload string
		var actorID sql.NullInt64
		var actorName sql.NullString
		if err := rows.Scan(&e.Seq, &e.TicketID, &kind, &ts, &actorID, &actorName, &payload); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		e.Kind = protocol.EventKind(kind)
		e.Timestamp, _ = time.Parse(time.RFC3339, ts)
		e.ActorID = actorID.Int64
		e.ActorName = actorName.String
		if payload != "" && payload != "{}" {
			json.Unmarshal([]byte(payload), &e.Payload)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// eventTimestampColumn maps an event kind to the snapshot column it
// establishes. Used by the backfill path.
var eventTimestampColumn = map[protocol.EventKind]string{
	protocol.EventNewText:          "created_ts",
	protocol.EventQueuedToGroup:    "queued_ts",
	protocol.EventAccepted:         "accepted_ts",
	protocol.EventRejected:         "rejected_ts",
	protocol.EventClosedByExecutor: "closed_ts",
}

// RebuildSnapshots derives core timestamps from the event log (MIN ts
// per event kind, grouped by ticket) and fills snapshot columns that
// are NULL. Snapshots missing entirely get a stub row.
func (s *SQLiteStore) RebuildSnapshots() (int, error) {
	rows, err := s.db.Query(`SELECT ticket_id, kind, MIN(ts) FROM events GROUP BY ticket_id, kind`)
	if err != nil {
		return 0, fmt.Errorf("store: rebuild: %w", err)
	}
	type fix struct{ column, ts string }
	fixes := make(map[string][]fix)
	for rows.Next() {
		var ticketID, kind, ts string
		if err := rows.Scan(&ticketID, &kind, &ts); err != nil {
			rows.Close()
			return 0, fmt.Errorf("store: rebuild scan: %w", err)
		}
		col, ok := eventTimestampColumn[protocol.EventKind(kind)]
		if !ok {
			continue
		}
		fixes[ticketID] = append(fixes[ticketID], fix{col, ts})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("store: rebuild: %w", err)
	}

	fixed := 0
	for ticketID, fs := range fixes {
		var exists int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM tickets WHERE id = ?`, ticketID).Scan(&exists); err != nil {
			return fixed, fmt.Errorf("store: rebuild: %w", err)
		}
		if exists == 0 {
			if _, err := s.db.Exec(`INSERT INTO tickets (id, status, updated_ts) VALUES (?, 'created', ?)`,
				ticketID, time.Now().UTC().Format(time.RFC3339)); err != nil {
				return fixed, fmt.Errorf("store: rebuild insert: %w", err)
			}
		}
		changed := false
		for _, f := range fs {
			res, err := s.db.Exec(
				fmt.Sprintf(`UPDATE tickets SET %s = ? WHERE id = ? AND %s IS NULL`, f.column, f.column),
				f.ts, ticketID,
			)
			if err != nil {
				return fixed, fmt.Errorf("store: rebuild update: %w", err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				changed = true
			}
		}
		if exists == 0 || changed {
			fixed++
		}
	}
	return fixed, nil
}

// DB returns the underlying database connection (for testing or
// direct access).
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// --- scan helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func scanTicket(row scannable) (*protocol.Ticket, error) {
	var t protocol.Ticket
	var authorID, authorChatID, groupChatID sql.NullInt64
	var groupMessageID sql.NullInt64
	var executorID, leaderID sql.NullInt64
	var authorName, text, initialGroup, currentGroup, category sql.NullString
	var status string
	var executorName, rejectReason, rejectComment, pendingJSON sql.NullString
	var leaderName, reroutedTo, clarifyQ, clarifyA sql.NullString
	var createdTS, queuedTS, acceptedTS, rejectedTS, closedTS, updatedTS sql.NullString
	var leaderTS, reroutedTS, clarifyReqTS, clarifyAnsTS sql.NullString

	err := row.Scan(&t.ID, &authorID, &authorName, &authorChatID, &text,
		&initialGroup, &currentGroup, &category, &status,
		&executorID, &executorName,
		&rejectReason, &rejectComment, &pendingJSON,
		&leaderID, &leaderName, &leaderTS,
		&reroutedTo, &reroutedTS,
		&clarifyQ, &clarifyReqTS, &clarifyA, &clarifyAnsTS,
		&groupChatID, &groupMessageID,
		&createdTS, &queuedTS, &acceptedTS, &rejectedTS, &closedTS, &updatedTS)
	if err != nil {
		return nil, err
	}

	t.AuthorID = authorID.Int64
	t.AuthorName = authorName.String
	t.AuthorChatID = authorChatID.Int64
	t.Text = text.String
	t.InitialGroup = protocol.Group(initialGroup.String)
	t.CurrentGroup = protocol.Group(currentGroup.String)
	t.Category = category.String
	t.Status = protocol.TicketStatus(status)
	t.ExecutorID = executorID.Int64
	t.ExecutorName = executorName.String
	t.RejectReason = protocol.RejectReason(rejectReason.String)
	t.RejectComment = rejectComment.String
	if pendingJSON.Valid && pendingJSON.String != "" {
		var pr protocol.PendingReject
		if json.Unmarshal([]byte(pendingJSON.String), &pr) == nil {
			t.PendingReject = &pr
		}
	}
	t.LeaderID = leaderID.Int64
	t.LeaderName = leaderName.String
	t.LeaderDecisionAt = decodeTimePtr(leaderTS)
	t.ReroutedToGroup = protocol.Group(reroutedTo.String)
	t.ReroutedAt = decodeTimePtr(reroutedTS)
	t.ClarifyQuestion = clarifyQ.String
	t.ClarifyRequestedAt = decodeTimePtr(clarifyReqTS)
	t.ClarifyAnswer = clarifyA.String
	t.ClarifyAnsweredAt = decodeTimePtr(clarifyAnsTS)
	t.Binding = protocol.MessageRef{ChatID: groupChatID.Int64, MessageID: int(groupMessageID.Int64)}
	if createdTS.Valid {
		t.CreatedAt, _ = time.Parse(time.RFC3339, createdTS.String)
	}
	t.QueuedAt = decodeTimePtr(queuedTS)
	t.AcceptedAt = decodeTimePtr(acceptedTS)
	t.RejectedAt = decodeTimePtr(rejectedTS)
	t.ClosedAt = decodeTimePtr(closedTS)
	if updatedTS.Valid {
		t.UpdatedAt, _ = time.Parse(time.RFC3339, updatedTS.String)
	}
	return &t, nil
}

func encodeTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func decodeTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt64(n int64) any {
	if n == 0 {
		return nil
	}
	return n
}
