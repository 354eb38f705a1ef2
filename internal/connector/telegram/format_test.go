package telegram

import (
	"testing"

	"github.com/upkeep-io/upkeep/internal/connector"
)

func TestEscapeHTML(t *testing.T) {
	got := EscapeHTML(`кран <сломан> & течёт`)
	want := `кран &lt;сломан&gt; &amp; течёт`
	if got != want {
		t.Errorf("EscapeHTML = %q, want %q", got, want)
	}
}

func TestUserLink(t *testing.T) {
	got := UserLink(42, "Иван <QA>")
	want := `<a href="tg://user?id=42">Иван &lt;QA&gt;</a>`
	if got != want {
		t.Errorf("UserLink = %q, want %q", got, want)
	}
}

func TestStripTags(t *testing.T) {
	in := `<b>Заявка</b> от <a href="tg://user?id=42">Иван</a>: кран &amp; труба`
	want := `Заявка от Иван: кран & труба`
	if got := StripTags(in); got != want {
		t.Errorf("StripTags = %q, want %q", got, want)
	}
}

func TestKeyboard(t *testing.T) {
	if kb := keyboard(nil); kb != nil {
		t.Error("no actions should produce no markup")
	}

	kb := keyboard([][]connector.Action{
		{{Label: "Принять", Data: "t:accept:A1"}, {Label: "Отклонить", Data: "t:reject:A1"}},
		{{Label: "Уточнить", Data: "t:clarify:A1"}},
	})
	if kb == nil {
		t.Fatal("expected markup")
	}
	if len(kb.InlineKeyboard) != 2 || len(kb.InlineKeyboard[0]) != 2 {
		t.Errorf("keyboard shape = %v", kb.InlineKeyboard)
	}
	if got := kb.InlineKeyboard[1][0].CallbackData; got == nil || *got != "t:clarify:A1" {
		t.Errorf("callback data = %v", got)
	}
}
