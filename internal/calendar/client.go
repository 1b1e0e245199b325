package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ErrTransient marks a network or server-side failure that should be retried
// on the next poll tick rather than surfaced to the user.
var ErrTransient = errors.New("transient calendar error")

// IsTransient reports whether err is a retryable calendar failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// Source is the read-only calendar collaborator the sync engine polls.
type Source interface {
	// FetchActiveEvent returns the event active at asOf for the given
	// calendar identity, or nil if the calendar is clear. When multiple
	// events overlap, the authoritative one is returned.
	FetchActiveEvent(ctx context.Context, calendarID string, asOf time.Time) (*Snapshot, error)
}

// Client talks to the calendar service's REST API using a single
// service-level bearer credential.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a calendar client. httpClient may be nil, in which case
// http.DefaultClient is used; callers are expected to bound each call with a
// context deadline.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, token: token, http: httpClient}
}

type calendarView struct {
	Events []Event `json:"events"`
}

// FetchActiveEvent implements Source against
// GET {base}/users/{calendarID}/calendar/view?at={asOf}.
func (c *Client) FetchActiveEvent(ctx context.Context, calendarID string, asOf time.Time) (*Snapshot, error) {
	u := fmt.Sprintf("%s/users/%s/calendar/view?at=%s",
		c.baseURL, url.PathEscape(calendarID), url.QueryEscape(asOf.UTC().Format(time.RFC3339)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build calendar request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		// Unknown calendar identity; treated the same as a clear calendar.
		return nil, nil
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: calendar returned %d", ErrTransient, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("calendar returned %d for %s", resp.StatusCode, calendarID)
	}

	var view calendarView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		return nil, fmt.Errorf("decode calendar view: %w", err)
	}

	active := view.Events[:0:0]
	for _, e := range view.Events {
		if !e.StartsAt.After(asOf) && e.EndsAt.After(asOf) {
			active = append(active, e)
		}
	}
	e := Authoritative(active)
	if e == nil {
		return nil, nil
	}
	return &Snapshot{
		EventID:  e.ID,
		Subject:  e.Subject,
		StartsAt: e.StartsAt,
		EndsAt:   e.EndsAt,
		ShowAs:   e.ShowAs,
	}, nil
}
