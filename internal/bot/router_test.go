package bot

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/upkeep-io/upkeep/internal/authz"
	"github.com/upkeep-io/upkeep/internal/classify"
	"github.com/upkeep-io/upkeep/internal/connector"
	"github.com/upkeep-io/upkeep/internal/engine"
	"github.com/upkeep-io/upkeep/internal/registry"
	"github.com/upkeep-io/upkeep/internal/store"
	"github.com/upkeep-io/upkeep/pkg/protocol"
)

type fakeConn struct {
	sent   []connector.Outbound
	refs   []protocol.MessageRef
	acks   []string
	docs   []string
	nextID int
}

func (f *fakeConn) Name() string                    { return "fake" }
func (f *fakeConn) Start(ctx context.Context) error { return nil }
func (f *fakeConn) Stop() error                     { return nil }

func (f *fakeConn) Send(_ context.Context, out connector.Outbound) (protocol.MessageRef, error) {
	f.nextID++
	ref := protocol.MessageRef{ChatID: out.ChatID, MessageID: f.nextID}
	f.sent = append(f.sent, out)
	f.refs = append(f.refs, ref)
	return ref, nil
}

func (f *fakeConn) Edit(context.Context, protocol.MessageRef, string, [][]connector.Action) error {
	return nil
}

func (f *fakeConn) AnswerCallback(_ context.Context, _, text string) error {
	f.acks = append(f.acks, text)
	return nil
}

func (f *fakeConn) SendDocument(_ context.Context, _ int64, filename string, _ []byte, _ string) error {
	f.docs = append(f.docs, filename)
	return nil
}

func (f *fakeConn) lastText() string {
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1].Text
}

type fakeExporter struct {
	data []byte
	n    int
	err  error
}

func (f *fakeExporter) CSV() ([]byte, int, error) {
	if f.err != nil {
		return nil, 0, f.err
	}
	return f.data, f.n, nil
}

const (
	adminID    = int64(1)
	authorID   = int64(100)
	executorID = int64(20)
	svsChat    = int64(-1001)
)

func newRouter(t *testing.T, exp Exporter) (*Router, *fakeConn) {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "tickets.db"))
	if err != nil {
		t.Fatal(err)
	}

	az := authz.New(authz.Roles{
		Admins: []int64{adminID},
		Groups: map[protocol.Group]authz.GroupRoles{
			protocol.GroupSVS: {Executors: []int64{executorID}},
		},
	})
	groupChats := map[protocol.Group]int64{protocol.GroupSVS: svsChat}

	conn := &fakeConn{}
	eng := engine.New(engine.Config{
		Registry:   registry.New(nil),
		Store:      st,
		Authz:      az,
		Classifier: classify.NewKeyword(),
		Surface:    conn,
		GroupChats: groupChats,
	})

	r := New(Config{
		Engine:     eng,
		Authz:      az,
		Exporter:   exp,
		GroupChats: groupChats,
		AuditChat:  -1009,
		Now:        func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) },
	})
	r.Bind(conn)
	return r, conn
}

func privateText(actorID int64, text string) connector.Inbound {
	return connector.Inbound{
		Actor:   protocol.Actor{ID: actorID, Name: "Автор"},
		ChatID:  actorID,
		Private: true,
		Text:    text,
	}
}

func command(actorID int64, cmd string) connector.Inbound {
	in := privateText(actorID, "/"+cmd)
	in.Command = cmd
	return in
}

func TestCommands(t *testing.T) {
	r, conn := newRouter(t, &fakeExporter{})
	ctx := context.Background()

	r.Handle(ctx, command(authorID, "start"))
	if !strings.Contains(conn.lastText(), "Напишите заявку") {
		t.Errorf("start reply = %q", conn.lastText())
	}

	r.Handle(ctx, command(authorID, "help"))
	if !strings.Contains(conn.lastText(), "/export_csv") {
		t.Errorf("help reply = %q", conn.lastText())
	}

	r.Handle(ctx, command(authorID, "whoami"))
	if !strings.Contains(conn.lastText(), "user_id: 100") {
		t.Errorf("whoami reply = %q", conn.lastText())
	}

	r.Handle(ctx, command(authorID, "nosuch"))
	if !strings.Contains(conn.lastText(), "Неизвестная команда") {
		t.Errorf("unknown command reply = %q", conn.lastText())
	}
}

func TestAdminOnlyCommands(t *testing.T) {
	r, conn := newRouter(t, &fakeExporter{})
	ctx := context.Background()

	r.Handle(ctx, command(authorID, "echo_chat_id"))
	if conn.lastText() != "Только для админов." {
		t.Errorf("non-admin reply = %q", conn.lastText())
	}

	r.Handle(ctx, command(adminID, "echo_chat_id"))
	if !strings.Contains(conn.lastText(), "chat_id: 1") {
		t.Errorf("admin reply = %q", conn.lastText())
	}

	r.Handle(ctx, command(adminID, "debug_env"))
	if !strings.Contains(conn.lastText(), "СВС: -1001") || !strings.Contains(conn.lastText(), "аудит: -1009") {
		t.Errorf("debug_env reply = %q", conn.lastText())
	}
}

func TestPrivateTextCreatesTicket(t *testing.T) {
	r, conn := newRouter(t, &fakeExporter{})

	r.Handle(context.Background(), privateText(authorID, "засор в раковине"))

	if !strings.Contains(conn.lastText(), "Предварительная классификация") {
		t.Errorf("confirm prompt = %q", conn.lastText())
	}
	last := conn.sent[len(conn.sent)-1]
	if len(last.Actions) != 2 {
		t.Errorf("confirm keyboard rows = %d", len(last.Actions))
	}
}

func TestGroupChatterIgnored(t *testing.T) {
	r, conn := newRouter(t, &fakeExporter{})

	in := connector.Inbound{
		Actor:  protocol.Actor{ID: executorID, Name: "Исполнитель"},
		ChatID: svsChat,
		Text:   "обычное обсуждение",
	}
	r.Handle(context.Background(), in)
	if len(conn.sent) != 0 {
		t.Errorf("group chatter produced %d sends", len(conn.sent))
	}
}

func TestConfirmCallbackDispatches(t *testing.T) {
	r, conn := newRouter(t, &fakeExporter{})
	ctx := context.Background()

	r.Handle(ctx, privateText(authorID, "засор в раковине"))
	confirm := conn.sent[len(conn.sent)-1]
	confirmRef := conn.refs[len(conn.refs)-1]
	data := confirm.Actions[0][0].Data

	r.Handle(ctx, connector.Inbound{
		Actor:   protocol.Actor{ID: authorID, Name: "Автор"},
		ChatID:  authorID,
		Private: true,
		Callback: &connector.Callback{
			ID:   "cb1",
			Data: data,
			Ref:  confirmRef,
		},
	})

	if len(conn.acks) != 1 || conn.acks[0] != "Заявка отправлена в группу." {
		t.Errorf("acks = %v", conn.acks)
	}
	found := false
	for _, out := range conn.sent {
		if out.ChatID == svsChat && strings.Contains(out.Text, "🆕 Заявка #") {
			found = true
		}
	}
	if !found {
		t.Error("group card not posted")
	}
}

func TestCallbackErrorBecomesNotice(t *testing.T) {
	r, conn := newRouter(t, &fakeExporter{})

	r.Handle(context.Background(), connector.Inbound{
		Actor:  protocol.Actor{ID: executorID, Name: "Исполнитель"},
		ChatID: svsChat,
		Callback: &connector.Callback{
			ID:   "cb1",
			Data: "t:accept:MISSING1",
			Ref:  protocol.MessageRef{ChatID: svsChat, MessageID: 5},
		},
	})

	if len(conn.acks) != 1 || !strings.Contains(conn.acks[0], "не найдена") {
		t.Errorf("acks = %v", conn.acks)
	}
}

func TestExportCSV(t *testing.T) {
	r, conn := newRouter(t, &fakeExporter{data: []byte("ticket_id;group\n"), n: 3})
	r.Handle(context.Background(), command(adminID, "export_csv"))

	if len(conn.docs) != 1 || !strings.HasPrefix(conn.docs[0], "tickets-") {
		t.Errorf("docs = %v", conn.docs)
	}
}

func TestExportCSVEmpty(t *testing.T) {
	r, conn := newRouter(t, &fakeExporter{n: 0})
	r.Handle(context.Background(), command(authorID, "export_csv"))

	if conn.lastText() != "Пока нет данных для экспорта." {
		t.Errorf("reply = %q", conn.lastText())
	}
	if len(conn.docs) != 0 {
		t.Errorf("docs = %v", conn.docs)
	}
}

func TestExportCSVFailure(t *testing.T) {
	r, conn := newRouter(t, &fakeExporter{err: errors.New("disk gone")})
	r.Handle(context.Background(), command(authorID, "export_csv"))

	if !strings.Contains(conn.lastText(), "Не удалось отправить CSV") {
		t.Errorf("reply = %q", conn.lastText())
	}
}

type panickyExporter struct{}

func (panickyExporter) CSV() ([]byte, int, error) { panic("boom") }

func TestPanicContained(t *testing.T) {
	r, conn := newRouter(t, panickyExporter{})

	r.Handle(context.Background(), command(authorID, "export_csv"))
	if !strings.Contains(conn.lastText(), "Что-то пошло не так") {
		t.Errorf("reply = %q", conn.lastText())
	}
}
