// Package calendar reads the user's calendar through the provider API using
// an access token obtained from the token lifecycle manager.
package calendar

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// Event is the trimmed-down view the API returns to the frontend.
type Event struct {
	ID       string    `json:"id"`
	Summary  string    `json:"summary"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	AllDay   bool      `json:"allDay"`
	Location string    `json:"location,omitempty"`
}

// Service lists calendar events. Extra client options are only used in tests
// (endpoint override, no auth).
type Service struct {
	opts []option.ClientOption
}

func NewService(opts ...option.ClientOption) *Service {
	return &Service{opts: opts}
}

// UpcomingEvents returns up to max events starting from now, soonest first.
// calendarID may be empty, which means the user's primary calendar.
func (s *Service) UpcomingEvents(ctx context.Context, accessToken, calendarID string, max int64) ([]Event, error) {
	opts := append([]option.ClientOption{
		option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})),
	}, s.opts...)
	srv, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar client: %w", err)
	}

	if calendarID == "" {
		calendarID = "primary"
	}
	if max <= 0 {
		max = 10
	}

	res, err := srv.Events.List(calendarID).
		SingleEvents(true).
		OrderBy("startTime").
		TimeMin(time.Now().Format(time.RFC3339)).
		MaxResults(max).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	out := make([]Event, 0, len(res.Items))
	for _, it := range res.Items {
		ev := Event{ID: it.Id, Summary: it.Summary, Location: it.Location}
		ev.Start, ev.AllDay = parseEventTime(it.Start)
		ev.End, _ = parseEventTime(it.End)
		out = append(out, ev)
	}
	return out, nil
}

// parseEventTime handles both timed (DateTime) and all-day (Date) events
func parseEventTime(t *gcal.EventDateTime) (time.Time, bool) {
	if t == nil {
		return time.Time{}, false
	}
	if t.DateTime != "" {
		ts, err := time.Parse(time.RFC3339, t.DateTime)
		if err != nil {
			return time.Time{}, false
		}
		return ts, false
	}
	if t.Date != "" {
		ts, err := time.Parse("2006-01-02", t.Date)
		if err != nil {
			return time.Time{}, false
		}
		return ts, true
	}
	return time.Time{}, false
}
