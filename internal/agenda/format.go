package agenda

import (
	"fmt"
	"strings"
)

const (
	separator = "━━━━━━━━━━━━━━━"
	reminder  = "🔔 Не забудь заранее подготовиться к встречам и проверить ссылки на звонки."
)

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")

// EscapeHTML escapes text for Telegram's HTML parse mode.
func EscapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}

// Format renders a day's events as a Telegram HTML message. The label is
// trusted text ("сегодня", "завтра"); every event field is escaped.
func Format(label string, events []Event) string {
	if len(events) == 0 {
		return fmt.Sprintf("📅 На %s встреч нет 🎉", label)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📅 <b>План на %s</b>\n", label)
	sb.WriteString(separator)
	sb.WriteString("\n\n")

	for _, e := range events {
		fmt.Fprintf(&sb, "🕘 %s–%s\n", EscapeHTML(e.Start), EscapeHTML(e.End))
		fmt.Fprintf(&sb, "<b>%s</b>\n", EscapeHTML(e.Subject))
		if e.Organizer != "" {
			fmt.Fprintf(&sb, "👤 %s\n", EscapeHTML(e.Organizer))
		}
		sb.WriteString("\n")
	}

	sb.WriteString(separator)
	sb.WriteString("\n")
	sb.WriteString(reminder)
	return sb.String()
}

// FormatDay is Format with the day's own label.
func FormatDay(day Day, events []Event) string {
	return Format(day.Label(), events)
}
