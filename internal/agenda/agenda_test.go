package agenda

import (
	"reflect"
	"strings"
	"testing"
)

func TestParseDay(t *testing.T) {
	tests := []struct {
		input   string
		want    Day
		wantErr bool
	}{
		{"", Today, false},
		{"today", Today, false},
		{" Tomorrow ", Tomorrow, false},
		{"TODAY", Today, false},
		{"yesterday", Today, true},
	}

	for _, tt := range tests {
		got, err := ParseDay(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDay(%q) err = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDay(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestDay_StringAndLabel(t *testing.T) {
	if Today.String() != "today" || Tomorrow.String() != "tomorrow" {
		t.Errorf("unexpected day names: %s, %s", Today, Tomorrow)
	}
	if Today.Label() != "сегодня" || Tomorrow.Label() != "завтра" {
		t.Errorf("unexpected labels: %s, %s", Today.Label(), Tomorrow.Label())
	}
}

func TestNormalize_Wrapped(t *testing.T) {
	got := Normalize([]byte(`{"body":[{"start":"9:00","end":"9:30","subject":"Sync"}]}`))
	want := []Event{{Start: "9:00", End: "9:30", Subject: "Sync"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Normalize = %+v, want %+v", got, want)
	}
}

func TestNormalize_EncodedMatchesWrapped(t *testing.T) {
	wrapped := Normalize([]byte(`{"body":[{"start":"9:00","end":"9:30","subject":"Sync"}]}`))
	encoded := Decode([]byte(`"{\"body\":[{\"start\":\"9:00\",\"end\":\"9:30\",\"subject\":\"Sync\"}]}"`))

	if encoded.Shape != ShapeEncoded {
		t.Errorf("shape = %v, want encoded", encoded.Shape)
	}
	if !reflect.DeepEqual(encoded.Events, wrapped) {
		t.Errorf("encoded = %+v, want %+v", encoded.Events, wrapped)
	}
}

func TestNormalize_EncodedList(t *testing.T) {
	b := Decode([]byte(`"[{\"start\":\"11:00\",\"subject\":\"1:1\"}]"`))
	if b.Shape != ShapeEncoded || len(b.Events) != 1 {
		t.Fatalf("Decode = %+v", b)
	}
	if b.Events[0].Subject != "1:1" {
		t.Errorf("subject = %q", b.Events[0].Subject)
	}
}

func TestNormalize_Unrecognized(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"plain text", "not json"},
		{"encoded text", `"not json"`},
		{"number", `42`},
		{"null", `null`},
		{"object without body", `{"events":[]}`},
		{"body not a list", `{"body":"x"}`},
		{"encoded string of string", `"\"[]\""`},
		{"empty", ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := Decode([]byte(tt.input))
			if b.Shape != ShapeUnrecognized {
				t.Errorf("shape = %v, want unrecognized", b.Shape)
			}
			if len(b.Events) != 0 {
				t.Errorf("events = %+v, want none", b.Events)
			}
		})
	}
}

func TestNormalize_Defaults(t *testing.T) {
	got := Normalize([]byte(`[{}, {"start": null, "subject": "Demo", "organizer": "Anna"}]`))
	want := []Event{
		{Start: DefaultStart, End: "", Subject: DefaultSubject},
		{Start: DefaultStart, End: "", Subject: "Demo", Organizer: "Anna"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Normalize = %+v, want %+v", got, want)
	}
}

func TestNormalize_SkipsNonObjects(t *testing.T) {
	b := Decode([]byte(`[1, "two", {"start":"10:00","subject":"Keep"}, null]`))
	if b.Shape != ShapeList {
		t.Errorf("shape = %v, want list", b.Shape)
	}
	if b.Skipped != 3 {
		t.Errorf("skipped = %d, want 3", b.Skipped)
	}
	if len(b.Events) != 1 || b.Events[0].Subject != "Keep" {
		t.Errorf("events = %+v", b.Events)
	}
}

func TestNormalize_PreservesOrder(t *testing.T) {
	got := Normalize([]byte(`[{"start":"15:00","subject":"C"},{"start":"09:00","subject":"A"},{"start":"12:00","subject":"B"}]`))
	var subjects []string
	for _, e := range got {
		subjects = append(subjects, e.Subject)
	}
	if strings.Join(subjects, ",") != "C,A,B" {
		t.Errorf("order = %v, want C,A,B", subjects)
	}
}

func TestNormalize_GraphOrganizer(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`[{"organizer":{"emailAddress":{"name":"Ivan","address":"ivan@co.com"}}}]`, "Ivan"},
		{`[{"organizer":{"emailAddress":{"address":"ivan@co.com"}}}]`, "ivan@co.com"},
		{`[{"organizer":"  Olga "}]`, "Olga"},
		{`[{"organizer":7}]`, ""},
	}

	for _, tt := range tests {
		got := Normalize([]byte(tt.input))
		if len(got) != 1 || got[0].Organizer != tt.want {
			t.Errorf("Normalize(%s) organizer = %+v, want %q", tt.input, got, tt.want)
		}
	}
}

func TestNormalize_Calendar(t *testing.T) {
	ics := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//EN",
		"BEGIN:VEVENT",
		"UID:1@test",
		"DTSTART:20250101T100000Z",
		"DTEND:20250101T103000Z",
		"SUMMARY:Standup",
		"ORGANIZER;CN=Anna:mailto:anna@co.com",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:2@test",
		"DTSTART;VALUE=DATE:20250101",
		"SUMMARY:Offsite",
		"END:VEVENT",
		"END:VCALENDAR",
		"",
	}, "\r\n")

	for _, raw := range [][]byte{[]byte(ics), []byte(`"` + strings.ReplaceAll(ics, "\r\n", `\r\n`) + `"`)} {
		b := Decode(raw)
		if b.Shape != ShapeCalendar {
			t.Fatalf("shape = %v, want calendar", b.Shape)
		}
		if len(b.Events) != 2 {
			t.Fatalf("len(events) = %d, want 2", len(b.Events))
		}
		first := b.Events[0]
		if first.Start != "10:00" || first.End != "10:30" || first.Subject != "Standup" || first.Organizer != "Anna" {
			t.Errorf("first = %+v", first)
		}
		if b.Events[1].Start != allDayStart || b.Events[1].Subject != "Offsite" {
			t.Errorf("second = %+v", b.Events[1])
		}
	}
}

func TestFormat_Empty(t *testing.T) {
	got := Format("сегодня", nil)
	if got != "📅 На сегодня встреч нет 🎉" {
		t.Errorf("Format(empty) = %q", got)
	}
	if Format("сегодня", []Event{}) != got {
		t.Error("nil and empty slices should render the same")
	}
}

func TestFormat_Events(t *testing.T) {
	got := Format("сегодня", []Event{
		{Start: "10:00", End: "10:30", Subject: "Standup", Organizer: "Anna"},
		{Start: "12:00", End: "13:00", Subject: "Lunch"},
	})

	for _, want := range []string{
		"📅 <b>План на сегодня</b>",
		"🕘 10:00–10:30\n<b>Standup</b>\n👤 Anna\n\n",
		"🕘 12:00–13:00\n<b>Lunch</b>\n\n",
		reminder,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Count(got, separator) != 2 {
		t.Errorf("expected 2 separators, got %d", strings.Count(got, separator))
	}
	if strings.Index(got, "Standup") > strings.Index(got, "Lunch") {
		t.Error("events rendered out of order")
	}
}

func TestFormat_EscapesUserText(t *testing.T) {
	got := Format("завтра", []Event{{
		Start:     "<i>9",
		End:       "10",
		Subject:   "<script>alert(1)</script>",
		Organizer: `Tom & "Jerry" <tj@co.com>`,
	}})

	if strings.Contains(got, "<script>") || strings.Contains(got, "<i>") || strings.Contains(got, "<tj@co.com>") {
		t.Errorf("unescaped markup in output:\n%s", got)
	}
	for _, want := range []string{
		"&lt;script&gt;alert(1)&lt;/script&gt;",
		"Tom &amp; &quot;Jerry&quot; &lt;tj@co.com&gt;",
		"&lt;i&gt;9–10",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestFormat_Deterministic(t *testing.T) {
	events := []Event{{Start: "1", End: "2", Subject: "x"}}
	if Format("сегодня", events) != Format("сегодня", events) {
		t.Error("Format should be deterministic")
	}
	if FormatDay(Tomorrow, events) != Format("завтра", events) {
		t.Error("FormatDay should use the day label")
	}
}
