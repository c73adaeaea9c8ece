package mongostore

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/hilcoe/rms/core/calendar"
)

// userDoc is the part of a scheduling service user shown on the calendar.
type userDoc struct {
	ID    primitive.ObjectID `bson:"_id"`
	Name  string             `bson:"name"`
	Email string             `bson:"email"`
}

// directory resolves user refs loaded by a query. Unknown refs keep their id only.
type directory map[primitive.ObjectID]userDoc

func (dir directory) participant(ref primitive.ObjectID, role string) (calendar.Participant, bool) {
	if ref.IsZero() {
		return calendar.Participant{}, false
	}
	u := dir[ref]
	return calendar.Participant{ID: ref.Hex(), Name: u.Name, Email: u.Email, Role: role}, true
}

type defenseDoc struct {
	ID          primitive.ObjectID   `bson:"_id"`
	Title       string               `bson:"title"`
	Candidate   primitive.ObjectID   `bson:"candidate"`
	Panelists   []primitive.ObjectID `bson:"panelists"`
	Supervisor  *primitive.ObjectID  `bson:"supervisor"`
	StartAt     time.Time            `bson:"start_at"`
	EndAt       time.Time            `bson:"end_at"`
	Venue       string               `bson:"venue"`
	MeetingLink string               `bson:"meeting_link"`
	Notes       string               `bson:"notes"`
	Status      string               `bson:"status"`
}

func (d defenseDoc) refs() []primitive.ObjectID {
	refs := append([]primitive.ObjectID{d.Candidate}, d.Panelists...)
	if d.Supervisor != nil {
		refs = append(refs, *d.Supervisor)
	}
	return refs
}

func (d defenseDoc) event(dir directory) calendar.Event {
	people := make([]calendar.Participant, 0, len(d.Panelists)+2)
	if p, ok := dir.participant(d.Candidate, calendar.RoleCandidate); ok {
		people = append(people, p)
	}
	for _, ref := range d.Panelists {
		if p, ok := dir.participant(ref, calendar.RolePanelist); ok {
			people = append(people, p)
		}
	}
	if d.Supervisor != nil {
		if p, ok := dir.participant(*d.Supervisor, calendar.RoleSupervisor); ok {
			people = append(people, p)
		}
	}

	return calendar.Event{
		ID:           defensePrefix + d.ID.Hex(),
		Type:         calendar.TypeDefense,
		Title:        d.Title,
		StartAt:      d.StartAt.UTC(),
		EndAt:        d.EndAt.UTC(),
		Venue:        d.Venue,
		Link:         d.MeetingLink,
		Notes:        d.Notes,
		Status:       d.Status,
		Participants: people,
	}
}

// submissionDoc is a stage submission; the first stage carries the synopsis session.
type submissionDoc struct {
	ID                   primitive.ObjectID  `bson:"_id"`
	Researcher           primitive.ObjectID  `bson:"researcher"`
	Reviewer             *primitive.ObjectID `bson:"reviewer"`
	StageIndex           int                 `bson:"stage_index"`
	ScheduledAt          time.Time           `bson:"scheduled_at"`
	ScheduledEndAt       *time.Time          `bson:"scheduled_end_at"`
	ScheduledVenue       string              `bson:"scheduled_venue"`
	ScheduledMeetingLink string              `bson:"scheduled_meeting_link"`
	Status               string              `bson:"status"`
}

func (d submissionDoc) refs() []primitive.ObjectID {
	refs := []primitive.ObjectID{d.Researcher}
	if d.Reviewer != nil {
		refs = append(refs, *d.Reviewer)
	}
	return refs
}

func (d submissionDoc) event(dir directory) calendar.Event {
	end := d.ScheduledAt.Add(defaultSynopsisLength)
	if d.ScheduledEndAt != nil && !d.ScheduledEndAt.IsZero() {
		end = *d.ScheduledEndAt
	}

	people := make([]calendar.Participant, 0, 2)
	name := "Researcher"
	if p, ok := dir.participant(d.Researcher, calendar.RoleResearcher); ok {
		people = append(people, p)
		if p.Name != "" {
			name = p.Name
		}
	}
	if d.Reviewer != nil {
		if p, ok := dir.participant(*d.Reviewer, calendar.RoleReviewer); ok {
			people = append(people, p)
		}
	}

	return calendar.Event{
		ID:           synopsisPrefix + d.ID.Hex(),
		Type:         calendar.TypeSynopsis,
		Title:        name + " - Synopsis",
		StartAt:      d.ScheduledAt.UTC(),
		EndAt:        end.UTC(),
		Venue:        d.ScheduledVenue,
		Link:         d.ScheduledMeetingLink,
		Status:       d.Status,
		Participants: people,
	}
}

// uniqueRefs drops zero and repeated refs, keeping first-seen order.
func uniqueRefs(refs []primitive.ObjectID) []primitive.ObjectID {
	seen := make(map[primitive.ObjectID]struct{}, len(refs))
	out := make([]primitive.ObjectID, 0, len(refs))
	for _, ref := range refs {
		if _, ok := seen[ref]; ok || ref.IsZero() {
			continue
		}
		seen[ref] = struct{}{}
		out = append(out, ref)
	}
	return out
}
