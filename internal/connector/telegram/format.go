package telegram

import (
	"fmt"
	"regexp"
	"strings"
)

// EscapeHTML escapes the characters Telegram's HTML parse mode treats
// specially. User-provided text must pass through this before being
// embedded in a rendering.
func EscapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// UserLink renders a tg://user mention so group chats can ping the
// actor without knowing their username.
func UserLink(id int64, name string) string {
	return fmt.Sprintf(`<a href="tg://user?id=%d">%s</a>`, id, EscapeHTML(name))
}

var reTag = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)

// StripTags removes HTML markup for the plain-text send fallback.
func StripTags(s string) string {
	s = reTag.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&gt;", ">")
	s = strings.ReplaceAll(s, "&amp;", "&")
	return s
}
