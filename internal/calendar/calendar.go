// Package calendar provides a CalDAV client used by the calendar
// tools to list and create events on a remote calendar server.
package calendar

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"

	"github.com/parley-agent/parley/internal/httpkit"
)

// Config holds the CalDAV server connection settings.
type Config struct {
	// URL is the CalDAV endpoint, e.g. "https://cal.example.com/dav/".
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Calendar selects a calendar by display name. Empty selects the
	// first calendar found.
	Calendar string `yaml:"calendar"`
}

// Enabled reports whether a CalDAV server is configured.
func (c Config) Enabled() bool {
	return c.URL != ""
}

// Event is a single calendar entry.
type Event struct {
	UID      string
	Summary  string
	Location string
	Start    time.Time
	End      time.Time
	AllDay   bool
}

// Client talks to a CalDAV server. The calendar collection path is
// discovered on first use and cached.
type Client struct {
	cfg Config
	dav *caldav.Client

	mu   sync.Mutex
	path string
}

// NewClient builds a CalDAV client for the configured server.
func NewClient(cfg Config) (*Client, error) {
	httpClient := httpkit.NewClient(httpkit.WithTimeout(30 * time.Second))
	var hc webdav.HTTPClient = httpClient
	if cfg.Username != "" {
		hc = webdav.HTTPClientWithBasicAuth(httpClient, cfg.Username, cfg.Password)
	}
	dav, err := caldav.NewClient(hc, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("caldav client: %w", err)
	}
	return &Client{cfg: cfg, dav: dav}, nil
}

// calendarPath discovers the collection path for the configured
// calendar via principal and home-set lookup.
func (c *Client) calendarPath(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.path != "" {
		return c.path, nil
	}

	principal, err := c.dav.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("find principal: %w", err)
	}
	homeSet, err := c.dav.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return "", fmt.Errorf("find calendar home: %w", err)
	}
	calendars, err := c.dav.FindCalendars(ctx, homeSet)
	if err != nil {
		return "", fmt.Errorf("list calendars: %w", err)
	}
	if len(calendars) == 0 {
		return "", fmt.Errorf("no calendars found at %s", c.cfg.URL)
	}

	if c.cfg.Calendar == "" {
		c.path = calendars[0].Path
		return c.path, nil
	}
	for _, cal := range calendars {
		if strings.EqualFold(cal.Name, c.cfg.Calendar) {
			c.path = cal.Path
			return c.path, nil
		}
	}
	return "", fmt.Errorf("calendar %q not found", c.cfg.Calendar)
}

// ListEvents returns events overlapping the [start, end) window,
// sorted by start time.
func (c *Client) ListEvents(ctx context.Context, start, end time.Time) ([]Event, error) {
	path, err := c.calendarPath(ctx)
	if err != nil {
		return nil, err
	}

	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name: "VCALENDAR",
			Comps: []caldav.CalendarCompRequest{{
				Name:  "VEVENT",
				Props: []string{"UID", "SUMMARY", "LOCATION", "DTSTART", "DTEND"},
			}},
		},
		CompFilter: caldav.CompFilter{
			Name: "VCALENDAR",
			Comps: []caldav.CompFilter{{
				Name:  "VEVENT",
				Start: start,
				End:   end,
			}},
		},
	}

	objects, err := c.dav.QueryCalendar(ctx, path, query)
	if err != nil {
		return nil, fmt.Errorf("query calendar: %w", err)
	}

	var events []Event
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		for _, ev := range obj.Data.Events() {
			parsed, err := parseEvent(ev)
			if err != nil {
				continue
			}
			events = append(events, parsed)
		}
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].Start.Before(events[j].Start)
	})
	return events, nil
}

// CreateEvent adds a new event to the calendar and returns its UID.
func (c *Client) CreateEvent(ctx context.Context, ev Event) (string, error) {
	path, err := c.calendarPath(ctx)
	if err != nil {
		return "", err
	}

	uid := ev.UID
	if uid == "" {
		uid = uuid.NewString()
	}

	vevent := ical.NewEvent()
	vevent.Props.SetText(ical.PropUID, uid)
	vevent.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	vevent.Props.SetText(ical.PropSummary, ev.Summary)
	if ev.Location != "" {
		vevent.Props.SetText(ical.PropLocation, ev.Location)
	}
	if ev.AllDay {
		setDateOnly(vevent.Props, ical.PropDateTimeStart, ev.Start)
		end := ev.End
		if end.IsZero() {
			end = ev.Start.AddDate(0, 0, 1)
		}
		setDateOnly(vevent.Props, ical.PropDateTimeEnd, end)
	} else {
		vevent.Props.SetDateTime(ical.PropDateTimeStart, ev.Start)
		end := ev.End
		if end.IsZero() {
			end = ev.Start.Add(time.Hour)
		}
		vevent.Props.SetDateTime(ical.PropDateTimeEnd, end)
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropProductID, "-//Parley//Agent//EN")
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Children = append(cal.Children, vevent.Component)

	objPath := strings.TrimSuffix(path, "/") + "/" + uid + ".ics"
	if _, err := c.dav.PutCalendarObject(ctx, objPath, cal); err != nil {
		return "", fmt.Errorf("put calendar object: %w", err)
	}
	return uid, nil
}

func setDateOnly(props ical.Props, name string, t time.Time) {
	prop := ical.NewProp(name)
	prop.SetValueType(ical.ValueDate)
	prop.Value = t.Format("20060102")
	props.Set(prop)
}

func parseEvent(ev ical.Event) (Event, error) {
	out := Event{}
	if p := ev.Props.Get(ical.PropUID); p != nil {
		out.UID = p.Value
	}
	if p := ev.Props.Get(ical.PropSummary); p != nil {
		out.Summary = p.Value
	}
	if p := ev.Props.Get(ical.PropLocation); p != nil {
		out.Location = p.Value
	}

	start, err := ev.DateTimeStart(time.Local)
	if err != nil {
		return Event{}, fmt.Errorf("event start: %w", err)
	}
	out.Start = start
	if p := ev.Props.Get(ical.PropDateTimeStart); p != nil {
		out.AllDay = p.ValueType() == ical.ValueDate
	}

	if end, err := ev.DateTimeEnd(time.Local); err == nil && !end.IsZero() {
		out.End = end
	}
	return out, nil
}

// FormatEvents renders events as a compact human-readable list for
// tool observations.
func FormatEvents(events []Event) string {
	if len(events) == 0 {
		return "No events found in that time range."
	}
	var b strings.Builder
	for _, ev := range events {
		if ev.AllDay {
			fmt.Fprintf(&b, "- %s (all day): %s", ev.Start.Format("Mon 02 Jan 2006"), ev.Summary)
		} else {
			fmt.Fprintf(&b, "- %s: %s", ev.Start.Format("Mon 02 Jan 2006 15:04"), ev.Summary)
		}
		if ev.Location != "" {
			fmt.Fprintf(&b, " @ %s", ev.Location)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
