package agenda

import (
	"strings"

	"github.com/tidwall/gjson"
)

const (
	DefaultStart   = "??"
	DefaultSubject = "Без темы"
)

// Event is one calendar entry after normalization.
type Event struct {
	Start     string `json:"start"`
	End       string `json:"end"`
	Subject   string `json:"subject"`
	Organizer string `json:"organizer,omitempty"`
}

// Shape tells which payload layout Decode recognized.
type Shape int

const (
	ShapeUnrecognized Shape = iota
	ShapeWrapped            // {"body": [...]}
	ShapeList               // [...]
	ShapeEncoded            // "<json of a wrapped object or a list>"
	ShapeCalendar           // iCalendar text
)

func (s Shape) String() string {
	switch s {
	case ShapeWrapped:
		return "wrapped"
	case ShapeList:
		return "list"
	case ShapeEncoded:
		return "encoded"
	case ShapeCalendar:
		return "calendar"
	default:
		return "unrecognized"
	}
}

// Batch is the decoded form of one events payload.
type Batch struct {
	Shape  Shape
	Events []Event
	// Skipped counts list elements that were not objects.
	Skipped int
}

// Normalize returns the events of a payload in the order received.
// Undecodable or unexpected payloads produce an empty slice.
func Normalize(raw []byte) []Event {
	return Decode(raw).Events
}

// Decode classifies the payload and extracts its events. It never fails:
// anything it cannot read is reported as ShapeUnrecognized with no events.
func Decode(raw []byte) Batch {
	if !gjson.ValidBytes(raw) {
		// Not JSON at all; the only text form we read directly is a calendar.
		return decodeText(string(raw), false)
	}
	return decodeValue(gjson.ParseBytes(raw), true)
}

func decodeValue(v gjson.Result, allowEncoded bool) Batch {
	if v.IsObject() {
		if body := v.Get("body"); body.IsArray() {
			return fromElements(ShapeWrapped, body.Array())
		}
		return Batch{Shape: ShapeUnrecognized}
	}
	if v.IsArray() {
		return fromElements(ShapeList, v.Array())
	}
	if v.Type == gjson.String && allowEncoded {
		return decodeText(v.Str, true)
	}
	return Batch{Shape: ShapeUnrecognized}
}

// decodeText handles a string payload: JSON text holding a wrapped object or
// a list, or an iCalendar document.
func decodeText(s string, encoded bool) Batch {
	if isCalendar(s) {
		return decodeCalendar(s)
	}
	if !encoded || !gjson.Valid(s) {
		return Batch{Shape: ShapeUnrecognized}
	}
	inner := decodeValue(gjson.Parse(s), false)
	if inner.Shape == ShapeUnrecognized {
		return inner
	}
	inner.Shape = ShapeEncoded
	return inner
}

func fromElements(shape Shape, elems []gjson.Result) Batch {
	b := Batch{Shape: shape, Events: make([]Event, 0, len(elems))}
	for _, el := range elems {
		if !el.IsObject() {
			b.Skipped++
			continue
		}
		b.Events = append(b.Events, Event{
			Start:     field(el, "start", DefaultStart),
			End:       field(el, "end", ""),
			Subject:   field(el, "subject", DefaultSubject),
			Organizer: organizer(el.Get("organizer")),
		})
	}
	return b
}

func field(el gjson.Result, key, def string) string {
	v := el.Get(key)
	if !v.Exists() || v.Type == gjson.Null {
		return def
	}
	return v.String()
}

// organizer accepts a plain string or the Graph form
// {"emailAddress": {"name": ..., "address": ...}}.
func organizer(v gjson.Result) string {
	switch {
	case v.Type == gjson.String:
		return strings.TrimSpace(v.Str)
	case v.IsObject():
		if name := strings.TrimSpace(v.Get("emailAddress.name").String()); name != "" {
			return name
		}
		if addr := strings.TrimSpace(v.Get("emailAddress.address").String()); addr != "" {
			return addr
		}
		return strings.TrimSpace(v.Get("name").String())
	default:
		return ""
	}
}
