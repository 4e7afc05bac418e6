package calendar

import (
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-ical"
)

func TestParseEvent(t *testing.T) {
	ev := ical.NewEvent()
	ev.Props.SetText(ical.PropUID, "abc-123")
	ev.Props.SetText(ical.PropSummary, "Dentist")
	ev.Props.SetText(ical.PropLocation, "High Street")
	ev.Props.SetDateTime(ical.PropDateTimeStart, time.Date(2026, 5, 15, 9, 30, 0, 0, time.UTC))
	ev.Props.SetDateTime(ical.PropDateTimeEnd, time.Date(2026, 5, 15, 10, 0, 0, 0, time.UTC))

	got, err := parseEvent(ical.Event{Component: ev.Component})
	if err != nil {
		t.Fatalf("parseEvent: %v", err)
	}
	if got.UID != "abc-123" || got.Summary != "Dentist" || got.Location != "High Street" {
		t.Errorf("unexpected event fields: %+v", got)
	}
	if got.AllDay {
		t.Error("timed event marked all-day")
	}
	if !got.End.After(got.Start) {
		t.Errorf("end %v not after start %v", got.End, got.Start)
	}
}

func TestParseEventAllDay(t *testing.T) {
	ev := ical.NewEvent()
	ev.Props.SetText(ical.PropUID, "allday-1")
	ev.Props.SetText(ical.PropSummary, "Conference")
	setDateOnly(ev.Props, ical.PropDateTimeStart, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	setDateOnly(ev.Props, ical.PropDateTimeEnd, time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC))

	got, err := parseEvent(ical.Event{Component: ev.Component})
	if err != nil {
		t.Fatalf("parseEvent: %v", err)
	}
	if !got.AllDay {
		t.Error("date-only event not marked all-day")
	}
}

func TestFormatEvents(t *testing.T) {
	out := FormatEvents(nil)
	if !strings.Contains(out, "No events") {
		t.Errorf("empty list output = %q", out)
	}

	events := []Event{
		{Summary: "Standup", Start: time.Date(2026, 5, 15, 9, 0, 0, 0, time.UTC)},
		{Summary: "Offsite", Start: time.Date(2026, 5, 16, 0, 0, 0, 0, time.UTC), AllDay: true, Location: "Lakeside"},
	}
	out = FormatEvents(events)
	if !strings.Contains(out, "Fri 15 May 2026 09:00: Standup") {
		t.Errorf("timed event missing from output:\n%s", out)
	}
	if !strings.Contains(out, "(all day): Offsite @ Lakeside") {
		t.Errorf("all-day event missing from output:\n%s", out)
	}
}
