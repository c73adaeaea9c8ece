package calendar

import (
	"strings"
	"time"
)

type EventType string

const (
	TypeSynopsis EventType = "synopsis"
	TypeDefense  EventType = "defense"
	TypeOther    EventType = "other"
)

// StatusCancelled events are hidden unless asked for.
const StatusCancelled = "cancelled"

// Participant roles
const (
	RoleCandidate  = "Candidate"
	RolePanelist   = "Panelist"
	RoleSupervisor = "Supervisor"
	RoleResearcher = "Researcher"
	RoleReviewer   = "Reviewer"
)

// Participant is a person taking part in an event. ID is the schedule store's id for the person; Email,
// when known, ties them to an account.
type Participant struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role"`
}

// Event is a scheduled session read from the schedule store. Times are UTC.
type Event struct {
	ID           string        `json:"id"`
	Type         EventType     `json:"type"`
	Title        string        `json:"title"`
	StartAt      time.Time     `json:"start_at"`
	EndAt        time.Time     `json:"end_at"`
	Venue        string        `json:"venue,omitempty"`
	Link         string        `json:"link,omitempty"`
	Notes        string        `json:"notes,omitempty"`
	Status       string        `json:"status"`
	Participants []Participant `json:"participants"`
}

func (e Event) IsCancelled() bool {
	return strings.EqualFold(e.Status, StatusCancelled)
}

// hasParticipant matches participants by id or by email, ignoring case.
func (e Event) hasParticipant(keys map[string]struct{}) bool {
	for _, p := range e.Participants {
		if _, ok := keys[p.ID]; ok {
			return true
		}
		if p.Email == "" {
			continue
		}
		if _, ok := keys[strings.ToLower(p.Email)]; ok {
			return true
		}
	}
	return false
}

func (e Event) hasRole(role string) bool {
	role = strings.ToLower(role)
	for _, p := range e.Participants {
		if strings.Contains(strings.ToLower(p.Role), role) {
			return true
		}
	}
	return false
}

// Window selects events by start time. Stores apply it; Zero bounds are open.
type Window struct {
	From             time.Time
	To               time.Time
	Types            []EventType
	Venue            string
	IncludeCancelled bool
}

// Wants reports whether events of type t are selected.
func (w Window) Wants(t EventType) bool {
	if len(w.Types) == 0 {
		return true
	}
	for _, typ := range w.Types {
		if typ == t {
			return true
		}
	}
	return false
}

// Contains reports whether e falls in the window.
func (w Window) Contains(e Event) bool {
	if !w.From.IsZero() && e.StartAt.Before(w.From) {
		return false
	}
	if !w.To.IsZero() && e.StartAt.After(w.To) {
		return false
	}
	if w.Venue != "" && e.Venue != w.Venue {
		return false
	}
	if !w.IncludeCancelled && e.IsCancelled() {
		return false
	}
	return w.Wants(e.Type)
}

// Query is a calendar request. From and To are required.
type Query struct {
	Window
	// Role keeps events with a participant whose role contains it, ignoring case.
	Role string
	// People keeps events involving any of these participant IDs or emails. It takes precedence over Mine.
	People []string
	// Mine keeps events involving this account, matched by ID or by MineEmail.
	Mine      string
	MineEmail string
}

// Conflict reports two overlapping events of one participant.
type Conflict struct {
	ParticipantID string `json:"participant_id"`
	First         string `json:"first"`
	Second        string `json:"second"`
}
