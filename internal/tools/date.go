package tools

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
)

const defaultDateLayout = "02/01/2006"

var weekdayNames = [...]string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// RegisterDateTools adds the date arithmetic tools. now is injectable
// for tests; pass time.Now in production wiring.
func RegisterDateTools(r *Registry, now func() time.Time) error {
	if now == nil {
		now = time.Now
	}

	dateAdd := &Tool{
		Name:        "date_add",
		Description: "Compute a date relative to today. Provide days and/or weeks to offset from today (negative values go backwards), or weekday (0=Monday..6=Sunday) to find the next occurrence of that weekday. With no arguments, returns today's date.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"days": map[string]any{
					"type":        "integer",
					"description": "Days to add (positive) or subtract (negative). Takes priority over weekday when non-zero.",
				},
				"weeks": map[string]any{
					"type":        "integer",
					"description": "Weeks to add (positive) or subtract (negative). Takes priority over weekday when non-zero.",
				},
				"weekday": map[string]any{
					"type":        "integer",
					"description": "Weekday to find the next occurrence of: 0=Monday through 6=Sunday. Used only when days and weeks are zero or absent.",
				},
				"format": map[string]any{
					"type":        "string",
					"description": "Output layout using Go reference time (default 02/01/2006).",
				},
			},
		},
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			return dateAddHandler(now(), args)
		},
	}

	dateDiff := &Tool{
		Name:        "date_difference",
		Description: "Compute the number of days between two dates in DD/MM/YYYY or YYYY-MM-DD format. If date2 is omitted, today is used.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"date1": map[string]any{
					"type":        "string",
					"description": "First date.",
				},
				"date2": map[string]any{
					"type":        "string",
					"description": "Second date. Defaults to today.",
				},
			},
			"required": []string{"date1"},
		},
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			return dateDifferenceHandler(now(), args)
		},
	}

	if err := r.Register(dateAdd); err != nil {
		return err
	}
	return r.Register(dateDiff)
}

func dateAddHandler(today time.Time, args map[string]any) (string, error) {
	days := intArg(args, "days")
	weeks := intArg(args, "weeks")
	layout, _ := args["format"].(string)
	if layout == "" {
		layout = defaultDateLayout
	}

	result := today

	switch {
	case days != 0 || weeks != 0:
		result = today.AddDate(0, 0, days+weeks*7)

	case args["weekday"] != nil:
		weekday := intArg(args, "weekday")
		if weekday < 0 || weekday > 6 {
			return "", fmt.Errorf("weekday %d out of range 0 (Monday) to 6 (Sunday)", weekday)
		}
		// Go counts Sunday as 0; our contract counts Monday as 0.
		current := (int(today.Weekday()) + 6) % 7
		ahead := weekday - current
		if ahead <= 0 {
			ahead += 7
		}
		result = today.AddDate(0, 0, ahead)
		return fmt.Sprintf("next %s is %s", weekdayNames[weekday], result.Format(layout)), nil
	}

	return result.Format(layout), nil
}

func dateDifferenceHandler(today time.Time, args map[string]any) (string, error) {
	date1Str, _ := args["date1"].(string)
	d1, err := parseDate(date1Str)
	if err != nil {
		return "", err
	}

	y, m, d := today.Date()
	d2 := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	if date2Str, ok := args["date2"].(string); ok && date2Str != "" {
		d2, err = parseDate(date2Str)
		if err != nil {
			return "", err
		}
	}

	days := int(math.Round(d1.Sub(d2).Hours() / 24))
	if days < 0 {
		days = -days
	}
	if days == 1 {
		return "1 day", nil
	}
	return fmt.Sprintf("%d days", days), nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{defaultDateLayout, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q, expected DD/MM/YYYY or YYYY-MM-DD", s)
}

// intArg reads an integer argument. JSON numbers decode as float64.
func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}
