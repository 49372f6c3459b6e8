package tools

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// RegisterDateTools wires the date resolution tools onto the registry.
// The now function supplies the current time; pass time.Now in production.
// Spoken dates ("tomorrow", "next Friday", "in three days") are resolved by
// the model through these tools rather than parsed server-side.
func RegisterDateTools(r *Registry, now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	r.MustRegister(getCurrentDateTool(now))
	r.MustRegister(getDateInDaysTool(now))
	r.MustRegister(getNextWeekdayTool(now))
	r.MustRegister(daysBetweenTool())
}

const dateLayout = "2006-01-02"

func getCurrentDateTool(now func() time.Time) *Definition {
	return &Definition{
		Name:        "get_current_date",
		Description: "Get today's date and weekday.",
		Schema: `{
			"type": "object",
			"additionalProperties": false
		}`,
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			t := now()
			return &Result{
				Success: true,
				Output: jsonOut(map[string]string{
					"date":    t.Format(dateLayout),
					"weekday": t.Weekday().String(),
				}),
			}, nil
		},
	}
}

func getDateInDaysTool(now func() time.Time) *Definition {
	return &Definition{
		Name:        "get_date_in_days",
		Description: "Get the date a number of days from today. Use 1 for tomorrow. Negative values look back.",
		Schema: `{
			"type": "object",
			"properties": {
				"days": {"type": "integer"}
			},
			"required": ["days"],
			"additionalProperties": false
		}`,
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			var args struct {
				Days int `json:"days"`
			}
			if err := inv.Bind(&args); err != nil {
				return nil, err
			}

			t := now().AddDate(0, 0, args.Days)
			return &Result{
				Success: true,
				Output: jsonOut(map[string]string{
					"date":    t.Format(dateLayout),
					"weekday": t.Weekday().String(),
				}),
			}, nil
		},
	}
}

func getNextWeekdayTool(now func() time.Time) *Definition {
	return &Definition{
		Name:        "get_next_weekday",
		Description: "Get the date of the next occurrence of a weekday. Asking on that weekday returns the date a week out.",
		Schema: `{
			"type": "object",
			"properties": {
				"weekday": {"type": "string", "enum": ["monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"]}
			},
			"required": ["weekday"],
			"additionalProperties": false
		}`,
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			var args struct {
				Weekday string `json:"weekday"`
			}
			if err := inv.Bind(&args); err != nil {
				return nil, err
			}

			target, err := parseWeekday(args.Weekday)
			if err != nil {
				return nil, err
			}

			t := now()
			daysAhead := (int(target) - int(t.Weekday()) + 7) % 7
			if daysAhead == 0 {
				daysAhead = 7
			}
			next := t.AddDate(0, 0, daysAhead)

			return &Result{
				Success: true,
				Output: jsonOut(map[string]string{
					"date":    next.Format(dateLayout),
					"weekday": next.Weekday().String(),
				}),
			}, nil
		},
	}
}

func daysBetweenTool() *Definition {
	return &Definition{
		Name:        "days_between",
		Description: "Count the days from one date to another. Negative when `to` is before `from`.",
		Schema: `{
			"type": "object",
			"properties": {
				"from": {"type": "string", "pattern": "^\\d{4}-\\d{2}-\\d{2}$"},
				"to": {"type": "string", "pattern": "^\\d{4}-\\d{2}-\\d{2}$"}
			},
			"required": ["from", "to"],
			"additionalProperties": false
		}`,
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			var args struct {
				From string `json:"from"`
				To   string `json:"to"`
			}
			if err := inv.Bind(&args); err != nil {
				return nil, err
			}

			from, err := time.Parse(dateLayout, args.From)
			if err != nil {
				return nil, fmt.Errorf("invalid from date: %s", args.From)
			}
			to, err := time.Parse(dateLayout, args.To)
			if err != nil {
				return nil, fmt.Errorf("invalid to date: %s", args.To)
			}

			days := int(to.Sub(from).Hours() / 24)
			return &Result{
				Success: true,
				Output:  jsonOut(map[string]int{"days": days}),
			}, nil
		},
	}
}

func parseWeekday(name string) (time.Weekday, error) {
	switch strings.ToLower(name) {
	case "sunday":
		return time.Sunday, nil
	case "monday":
		return time.Monday, nil
	case "tuesday":
		return time.Tuesday, nil
	case "wednesday":
		return time.Wednesday, nil
	case "thursday":
		return time.Thursday, nil
	case "friday":
		return time.Friday, nil
	case "saturday":
		return time.Saturday, nil
	default:
		return 0, fmt.Errorf("unknown weekday: %s", name)
	}
}
