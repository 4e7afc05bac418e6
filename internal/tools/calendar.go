package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/parley-agent/parley/internal/calendar"
)

// RegisterCalendarTools adds the event listing and creation tools
// backed by the CalDAV client. now is injectable for tests.
func RegisterCalendarTools(r *Registry, client *calendar.Client, now func() time.Time) error {
	if now == nil {
		now = time.Now
	}

	listEvents := &Tool{
		Name:        "list_events",
		Description: "List calendar events in a date range. Dates use DD/MM/YYYY or YYYY-MM-DD format. With no arguments, lists the next 7 days.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"start_date": map[string]any{
					"type":        "string",
					"description": "First day of the range. Defaults to today.",
				},
				"end_date": map[string]any{
					"type":        "string",
					"description": "Last day of the range (inclusive). Defaults to start_date plus 7 days.",
				},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			today := now()
			start := startOfDay(today)
			if s, ok := args["start_date"].(string); ok && s != "" {
				parsed, err := parseDate(s)
				if err != nil {
					return "", err
				}
				start = parsed
			}

			end := start.AddDate(0, 0, 7)
			if s, ok := args["end_date"].(string); ok && s != "" {
				parsed, err := parseDate(s)
				if err != nil {
					return "", err
				}
				end = parsed.AddDate(0, 0, 1)
			}
			if !end.After(start) {
				return "", fmt.Errorf("end_date must not be before start_date")
			}

			events, err := client.ListEvents(ctx, start, end)
			if err != nil {
				return "", fmt.Errorf("list events: %w", err)
			}
			return calendar.FormatEvents(events), nil
		},
	}

	createEvent := &Tool{
		Name:        "create_event",
		Description: "Create a calendar event. Provide a date (DD/MM/YYYY or YYYY-MM-DD) and optionally a start time (HH:MM, 24-hour). Events without a time are created as all-day.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"summary": map[string]any{
					"type":        "string",
					"description": "Event title.",
				},
				"date": map[string]any{
					"type":        "string",
					"description": "Event date.",
				},
				"time": map[string]any{
					"type":        "string",
					"description": "Start time in HH:MM 24-hour format. Omit for an all-day event.",
				},
				"duration_minutes": map[string]any{
					"type":        "integer",
					"description": "Event length in minutes (default 60). Ignored for all-day events.",
				},
				"location": map[string]any{
					"type":        "string",
					"description": "Event location.",
				},
			},
			"required": []string{"summary", "date"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			summary, _ := args["summary"].(string)
			if strings.TrimSpace(summary) == "" {
				return "", fmt.Errorf("summary must not be empty")
			}
			dateStr, _ := args["date"].(string)
			day, err := parseDate(dateStr)
			if err != nil {
				return "", err
			}

			ev := calendar.Event{Summary: summary}
			if loc, ok := args["location"].(string); ok {
				ev.Location = loc
			}

			if timeStr, ok := args["time"].(string); ok && timeStr != "" {
				clock, err := time.Parse("15:04", timeStr)
				if err != nil {
					return "", fmt.Errorf("time must be HH:MM, got %q", timeStr)
				}
				ev.Start = time.Date(day.Year(), day.Month(), day.Day(),
					clock.Hour(), clock.Minute(), 0, 0, time.Local)
				minutes := intArg(args, "duration_minutes")
				if minutes <= 0 {
					minutes = 60
				}
				ev.End = ev.Start.Add(time.Duration(minutes) * time.Minute)
			} else {
				ev.AllDay = true
				ev.Start = day
				ev.End = day.AddDate(0, 0, 1)
			}

			uid, err := client.CreateEvent(ctx, ev)
			if err != nil {
				return "", fmt.Errorf("create event: %w", err)
			}
			when := ev.Start.Format("Mon 02 Jan 2006")
			if !ev.AllDay {
				when = ev.Start.Format("Mon 02 Jan 2006 15:04")
			}
			return fmt.Sprintf("Created event %q on %s (id %s)", summary, when, uid), nil
		},
	}

	if err := r.Register(listEvents); err != nil {
		return err
	}
	return r.Register(createEvent)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
