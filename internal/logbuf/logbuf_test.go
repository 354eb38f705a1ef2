package logbuf

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func fill(b *Buffer, base time.Time, n int) {
	for i := 0; i < n; i++ {
		b.Write(Entry{
			Time:    base.Add(time.Duration(i) * time.Second),
			Level:   "INFO",
			Message: "msg",
			Attrs:   map[string]any{"i": i},
		})
	}
}

func TestRingEviction(t *testing.T) {
	buf := New(3)
	fill(buf, time.Now(), 5)

	entries := buf.Query(time.Time{}, slog.LevelDebug, 0)
	if len(entries) != 3 {
		t.Fatalf("kept %d entries, ring holds 3", len(entries))
	}
	if entries[0].Attrs["i"] != 2 || entries[2].Attrs["i"] != 4 {
		t.Errorf("oldest-first walk broken: %v ... %v", entries[0].Attrs, entries[2].Attrs)
	}
}

func TestQuerySince(t *testing.T) {
	buf := New(10)
	base := time.Now()
	fill(buf, base, 5)

	entries := buf.Query(base.Add(3*time.Second), slog.LevelDebug, 0)
	if len(entries) != 2 {
		t.Fatalf("since filter kept %d entries, want 2", len(entries))
	}
}

func TestQueryMinLevel(t *testing.T) {
	buf := New(10)
	now := time.Now()
	for _, lvl := range []string{"DEBUG", "INFO", "WARN", "ERROR"} {
		buf.Write(Entry{Time: now, Level: lvl, Message: lvl})
	}

	entries := buf.Query(time.Time{}, slog.LevelWarn, 0)
	if len(entries) != 2 {
		t.Fatalf("level filter kept %d entries, want 2", len(entries))
	}
	if entries[0].Message != "WARN" || entries[1].Message != "ERROR" {
		t.Errorf("entries = %v", entries)
	}
}

func TestQueryLimitKeepsNewest(t *testing.T) {
	buf := New(10)
	fill(buf, time.Now(), 8)

	entries := buf.Query(time.Time{}, slog.LevelDebug, 3)
	if len(entries) != 3 {
		t.Fatalf("limit kept %d entries, want 3", len(entries))
	}
	if entries[2].Attrs["i"] != 7 {
		t.Errorf("newest entry = %v, want i=7", entries[2].Attrs)
	}
}

func TestHandlerTees(t *testing.T) {
	buf := New(10)
	h := NewHandler(slog.NewTextHandler(io.Discard, nil), buf)
	logger := slog.New(h).With("component", "test")

	logger.Info("hello", "key", "value")

	entries := buf.Query(time.Time{}, slog.LevelDebug, 0)
	if len(entries) != 1 {
		t.Fatalf("captured %d entries", len(entries))
	}
	e := entries[0]
	if e.Message != "hello" || e.Level != "INFO" {
		t.Errorf("entry = %+v", e)
	}
	if e.Attrs["key"] != "value" || e.Attrs["component"] != "test" {
		t.Errorf("attrs = %v", e.Attrs)
	}
}

func TestHandlerKeepsDebugWhenStdoutFiltered(t *testing.T) {
	buf := New(10)
	inner := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn})
	logger := slog.New(NewHandler(inner, buf))

	logger.Debug("debug msg")
	logger.Info("info msg")
	logger.Warn("warn msg")

	entries := buf.Query(time.Time{}, slog.LevelDebug, 0)
	if len(entries) != 3 {
		t.Fatalf("buffer kept %d entries, want all 3", len(entries))
	}
}
