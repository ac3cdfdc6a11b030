package agenda

import (
	"log"
	"strings"

	ical "github.com/arran4/golang-ical"
)

const allDayStart = "Весь день"

var icsUnescaper = strings.NewReplacer(`\,`, ",", `\;`, ";", `\n`, "\n", `\N`, "\n", `\\`, `\`)

func isCalendar(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), "BEGIN:VCALENDAR")
}

// decodeCalendar turns each VEVENT into an Event, keeping document order.
// Recurrences are not expanded; times are shown in the event's own zone.
func decodeCalendar(s string) Batch {
	cal, err := ical.ParseCalendar(strings.NewReader(s))
	if err != nil {
		log.Printf("[agenda] parse calendar failed: %v", err)
		return Batch{Shape: ShapeUnrecognized}
	}

	vevents := cal.Events()
	b := Batch{Shape: ShapeCalendar, Events: make([]Event, 0, len(vevents))}
	for _, ve := range vevents {
		b.Events = append(b.Events, calendarEvent(ve))
	}
	return b
}

func calendarEvent(ve *ical.VEvent) Event {
	ev := Event{Start: DefaultStart, Subject: DefaultSubject}

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil && p.Value != "" {
		ev.Subject = icsUnescaper.Replace(p.Value)
	}

	allDay := false
	if p := ve.GetProperty(ical.ComponentPropertyDtStart); p != nil {
		allDay = !strings.Contains(p.Value, "T")
		if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
			allDay = true
		}
	}

	if allDay {
		ev.Start = allDayStart
	} else {
		if start, err := ve.GetStartAt(); err == nil {
			ev.Start = start.Format("15:04")
		}
		if end, err := ve.GetEndAt(); err == nil {
			ev.End = end.Format("15:04")
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyOrganizer); p != nil {
		if cn, ok := p.ICalParameters["CN"]; ok && len(cn) > 0 && strings.TrimSpace(cn[0]) != "" {
			ev.Organizer = strings.Trim(strings.TrimSpace(cn[0]), `"`)
		} else {
			ev.Organizer = strings.TrimPrefix(strings.TrimPrefix(p.Value, "mailto:"), "MAILTO:")
		}
	}
	return ev
}
