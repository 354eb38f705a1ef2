package classify

import (
	"testing"

	"github.com/upkeep-io/upkeep/pkg/protocol"
)

func TestClassify(t *testing.T) {
	c := NewKeyword()

	tests := []struct {
		text     string
		group    protocol.Group
		category string
	}{
		{"засор в раковине", protocol.GroupSVS, "Засор"},
		{"перегорела лампочка в коридоре", protocol.GroupSGE, "Замена освещения"},
		{"музыка играет слишком громко, сделайте тише", protocol.GroupSST, "Выключить / включить музыку"},
		{"в кабинете очень душно, настройте кондиционер", protocol.GroupSVS, "Настройка температуры / обдува"},
		{"искрит розетка у окна", protocol.GroupSGE, "Неисправность / монтаж розетки"},
	}

	for _, tt := range tests {
		got := c.Classify(tt.text)
		if got.Group != tt.group {
			t.Errorf("Classify(%q) group = %q, want %q", tt.text, got.Group, tt.group)
		}
		if got.Category != tt.category {
			t.Errorf("Classify(%q) category = %q, want %q", tt.text, got.Category, tt.category)
		}
	}
}

func TestClassifyUnmatched(t *testing.T) {
	c := NewKeyword()
	got := c.Classify("qwerty")
	if got.Group != protocol.GroupUnknown {
		t.Errorf("expected sentinel group, got %q", got.Group)
	}
	if got.Category != "Другое" {
		t.Errorf("expected sentinel category, got %q", got.Category)
	}
}

func TestClassifyDeterministicOnTies(t *testing.T) {
	c := NewKeyword()

	// "спринклер" scores for СВС, "сирена" for ССТ: a cross-group tie.
	first := c.Classify("сирена и спринклер")
	for i := 0; i < 100; i++ {
		got := c.Classify("сирена и спринклер")
		if got.Group != first.Group || got.Category != first.Category {
			t.Fatalf("run %d: %s / %s, first run gave %s / %s",
				i, got.Group, got.Category, first.Group, first.Category)
		}
	}
	if first.Group != protocol.GroupSVS {
		t.Errorf("tie resolved to %s, want the earliest group in scan order", first.Group)
	}
}

func TestPartialRatio(t *testing.T) {
	if got := partialRatio("засор", "засор в раковине"); got != 100 {
		t.Errorf("verbatim substring ratio = %d", got)
	}
	if got := partialRatio("розетка", "искрят розетки у окна"); got < 85 {
		t.Errorf("one-letter-off ratio = %d", got)
	}
	// A short title must not score on unrelated text that merely
	// contains its letters in order.
	if got := partialRatio("засор", "музыка играет слишком громко, сделайте тише"); got >= 85 {
		t.Errorf("unrelated text ratio = %d", got)
	}
	if got := partialRatio("", "что угодно"); got != 0 {
		t.Errorf("empty needle ratio = %d", got)
	}
}

func TestClassifyScoresRecorded(t *testing.T) {
	c := NewKeyword()
	got := c.Classify("протечка на потолке, капает вода")
	if got.Group != protocol.GroupSVS || got.Category != "Протечки" {
		t.Fatalf("unexpected classification: %+v", got)
	}
	if got.Scores["СВС:Протечки"] < 3 {
		t.Errorf("expected at least 3 keyword hits, got %d", got.Scores["СВС:Протечки"])
	}
}
