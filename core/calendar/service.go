package calendar

import (
	"context"
	"sort"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/pkg/errors"

	"github.com/hilcoe/rms/core"
)

var (
	NowFunc = time.Now // mockable

	ErrNotFound = core.NewError(core.ReasonNotFound, "event not found")
)

const dateLayout = "2006-01-02"

type (
	// Store is the read side of the scheduling subsystem.
	Store interface {
		Events(ctx context.Context, w Window) ([]Event, error)
		Event(ctx context.Context, id string) (Event, error) // ErrNotFound
	}

	// Aggregator projects the schedule into filtered, conflict-checked calendars.
	Aggregator struct {
		store     Store
		loc       *time.Location
		productID string
	}
)

func NewAggregator(store Store, conf *core.Config) *Aggregator {
	return &Aggregator{
		store:     store,
		loc:       conf.Calendar.DisplayLocation(),
		productID: conf.Calendar.ProductID,
	}
}

// Location is the display timezone used to read date-only bounds.
func (agg *Aggregator) Location() *time.Location { return agg.loc }

// Query returns the events matching q, ordered by start time.
func (agg *Aggregator) Query(ctx context.Context, q Query) ([]Event, error) {
	if q.From.IsZero() || q.To.IsZero() {
		return nil, core.NewValidationError(nil, core.FieldError{Field: "from", Error: "from and to are required"})
	}
	if q.To.Before(q.From) {
		return nil, core.NewValidationError(nil, core.FieldError{Field: "to", Error: "to must not be before from"})
	}

	events, err := agg.store.Events(ctx, q.Window)
	if err != nil {
		return nil, errors.Wrap(err, "reading schedule")
	}

	var people map[string]struct{}
	switch {
	case len(q.People) > 0:
		people = make(map[string]struct{}, len(q.People))
		for _, key := range q.People {
			people[key] = struct{}{}
			people[strings.ToLower(key)] = struct{}{}
		}
	case q.Mine != "" || q.MineEmail != "":
		people = make(map[string]struct{}, 2)
		if q.Mine != "" {
			people[q.Mine] = struct{}{}
		}
		if q.MineEmail != "" {
			people[strings.ToLower(q.MineEmail)] = struct{}{}
		}
	}

	out := make([]Event, 0, len(events))
	for _, e := range events {
		if !q.Window.Contains(e) {
			continue
		}
		if q.Role != "" && !e.hasRole(q.Role) {
			continue
		}
		if people != nil && !e.hasParticipant(people) {
			continue
		}
		out = append(out, e)
	}
	sortByStart(out)
	return out, nil
}

func (agg *Aggregator) Event(ctx context.Context, id string) (Event, error) {
	return agg.store.Event(ctx, id)
}

// DetectConflicts reports, per participant, the events that overlap an earlier one. Touching events
// (one ending when the next starts) do not conflict. Overlaps are advisory only.
func DetectConflicts(events []Event) []Conflict {
	byPerson := make(map[string][]Event)
	var ids []string
	for _, e := range events {
		if e.IsCancelled() {
			continue
		}
		seen := make(map[string]struct{}, len(e.Participants))
		for _, p := range e.Participants {
			if _, ok := seen[p.ID]; ok || p.ID == "" {
				continue
			}
			seen[p.ID] = struct{}{}
			if _, ok := byPerson[p.ID]; !ok {
				ids = append(ids, p.ID)
			}
			byPerson[p.ID] = append(byPerson[p.ID], e)
		}
	}
	sort.Strings(ids)

	conflicts := make([]Conflict, 0)
	for _, id := range ids {
		for _, pair := range Overlaps(byPerson[id]) {
			conflicts = append(conflicts, Conflict{ParticipantID: id, First: pair[0].ID, Second: pair[1].ID})
		}
	}
	return conflicts
}

// Overlaps sweeps events by start time and returns each event paired with the earlier event still running
// when it starts.
func Overlaps(events []Event) [][2]Event {
	sorted := make([]Event, len(events))
	copy(sorted, events)
	sortByStart(sorted)

	var (
		pairs   [][2]Event
		longest Event // the earlier event ending last
	)
	for i, e := range sorted {
		if i > 0 && longest.EndAt.After(e.StartAt) {
			pairs = append(pairs, [2]Event{longest, e})
		}
		if i == 0 || e.EndAt.After(longest.EndAt) {
			longest = e
		}
	}
	return pairs
}

// ToCalendarFile serializes e as a single event iCalendar file. Times are written in UTC.
func (agg *Aggregator) ToCalendarFile(e Event) string {
	cal := ics.NewCalendar()
	cal.SetProductId(agg.productID)
	cal.SetMethod(ics.MethodPublish)

	ev := cal.AddEvent(e.ID)
	ev.SetDtStampTime(NowFunc().UTC())
	ev.SetStartAt(e.StartAt.UTC())
	ev.SetEndAt(e.EndAt.UTC())
	summary := strings.TrimSpace(e.Title)
	if summary == "" {
		summary = "Event"
	}
	ev.SetSummary(summary)
	if e.Venue != "" {
		ev.SetLocation(e.Venue)
	}
	if e.Link != "" {
		ev.SetURL(e.Link)
	}
	if e.Notes != "" {
		ev.SetDescription(e.Notes)
	}
	if e.IsCancelled() {
		ev.SetStatus(ics.ObjectStatusCancelled)
	}
	return cal.Serialize()
}

// FileName is the attachment name of the calendar file of e.
func FileName(e Event) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ':
			return '-'
		}
		return -1
	}, e.Title)
	if name == "" {
		name = "event"
	}
	return name + ".ics"
}

// ParseBound reads a calendar bound: RFC 3339, or a date read in loc. A date used as an upper
// bound covers the whole day.
func ParseBound(s string, loc *time.Location, upper bool) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	d, err := time.ParseInLocation(dateLayout, s, loc)
	if err != nil {
		return time.Time{}, errors.Errorf("%q is neither a date nor an RFC 3339 time", s)
	}
	if upper {
		d = d.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return d.UTC(), nil
}

func sortByStart(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].StartAt.Equal(events[j].StartAt) {
			return events[i].StartAt.Before(events[j].StartAt)
		}
		return events[i].ID < events[j].ID
	})
}
