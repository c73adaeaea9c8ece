package mongostore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/hilcoe/rms/core/calendar"
)

// decode round-trips a raw document the way the driver hands it to cursor.All.
func decode(t *testing.T, raw bson.M, out interface{}) {
	t.Helper()
	data, err := bson.Marshal(raw)
	require.NoError(t, err)
	require.NoError(t, bson.Unmarshal(data, out))
}

func TestDefenseDoc_event(t *testing.T) {
	var (
		oid       = primitive.NewObjectID()
		candidate = primitive.NewObjectID()
		panelist  = primitive.NewObjectID()
		outsider  = primitive.NewObjectID()
		creator   = primitive.NewObjectID()
		start     = time.Date(2025, 6, 2, 7, 0, 0, 0, time.UTC)
	)
	raw := bson.M{
		"_id":          oid,
		"title":        "Thesis defense",
		"candidate":    candidate,
		"panelists":    bson.A{panelist, outsider},
		"supervisor":   nil,
		"start_at":     start,
		"end_at":       start.Add(2 * time.Hour),
		"venue":        "Room 301",
		"meeting_link": "https://meet.example/x",
		"modality":     "hybrid",
		"buffer_mins":  15,
		"status":       "scheduled",
		"created_by":   creator,
		"responses":    bson.A{bson.M{"user": panelist, "status": "accept", "note": ""}},
	}

	var doc defenseDoc
	decode(t, raw, &doc)
	assert.Equal(t, []primitive.ObjectID{candidate, panelist, outsider}, doc.refs())

	dir := directory{
		candidate: {ID: candidate, Name: "Rhea Researcher", Email: "rhea@example.com"},
		panelist:  {ID: panelist, Name: "P One", Email: "p1@example.com"},
	}
	e := doc.event(dir)
	assert.Equal(t, "defense:"+oid.Hex(), e.ID)
	assert.Equal(t, calendar.TypeDefense, e.Type)
	assert.Equal(t, "https://meet.example/x", e.Link)
	assert.True(t, start.Equal(e.StartAt))
	assert.Equal(t, []calendar.Participant{
		{ID: candidate.Hex(), Name: "Rhea Researcher", Email: "rhea@example.com", Role: calendar.RoleCandidate},
		{ID: panelist.Hex(), Name: "P One", Email: "p1@example.com", Role: calendar.RolePanelist},
		{ID: outsider.Hex(), Role: calendar.RolePanelist},
	}, e.Participants)
}

func TestDefenseDoc_supervisor(t *testing.T) {
	candidate, supervisor := primitive.NewObjectID(), primitive.NewObjectID()
	var doc defenseDoc
	decode(t, bson.M{
		"_id":        primitive.NewObjectID(),
		"title":      "Defense",
		"candidate":  candidate,
		"panelists":  bson.A{},
		"supervisor": supervisor,
		"start_at":   time.Now(),
		"end_at":     time.Now().Add(time.Hour),
		"status":     "scheduled",
	}, &doc)

	e := doc.event(directory{})
	require.Len(t, e.Participants, 2)
	assert.Equal(t, calendar.Participant{ID: supervisor.Hex(), Role: calendar.RoleSupervisor}, e.Participants[1])
}

func TestSubmissionDoc_event(t *testing.T) {
	var (
		oid        = primitive.NewObjectID()
		researcher = primitive.NewObjectID()
		reviewer   = primitive.NewObjectID()
		at         = time.Date(2025, 6, 3, 6, 30, 0, 0, time.UTC)
	)
	dir := directory{researcher: {ID: researcher, Name: "Rhea Researcher", Email: "rhea@example.com"}}

	tests := []struct {
		name       string
		raw        bson.M
		wantTitle  string
		wantEnd    time.Time
		wantPeople int
	}{
		{
			"default length",
			bson.M{
				"_id": oid, "researcher": researcher, "reviewer": nil, "stage_index": 0, "stage_key": "synopsis",
				"title": "Synopsis draft", "status": "under_review", "scheduled_at": at,
				"file": bson.M{"filename": "s.pdf", "path": "/u/s.pdf", "mimetype": "application/pdf", "size": 10},
			},
			"Rhea Researcher - Synopsis",
			at.Add(time.Hour),
			1,
		},
		{
			"explicit end, unknown researcher",
			bson.M{
				"_id": oid, "researcher": primitive.NewObjectID(), "reviewer": reviewer, "stage_index": 0,
				"scheduled_at": at, "scheduled_end_at": at.Add(90 * time.Minute), "scheduled_venue": "Lab",
			},
			"Researcher - Synopsis",
			at.Add(90 * time.Minute),
			2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var doc submissionDoc
			decode(t, tt.raw, &doc)

			e := doc.event(dir)
			assert.Equal(t, "synopsis:"+oid.Hex(), e.ID)
			assert.Equal(t, calendar.TypeSynopsis, e.Type)
			assert.Equal(t, tt.wantTitle, e.Title)
			assert.True(t, tt.wantEnd.Equal(e.EndAt), "end = %v", e.EndAt)
			assert.Len(t, e.Participants, tt.wantPeople)
			assert.Equal(t, calendar.RoleResearcher, e.Participants[0].Role)
		})
	}
}

func TestUserDoc_decode(t *testing.T) {
	id := primitive.NewObjectID()
	var u userDoc
	decode(t, bson.M{
		"_id": id, "name": "Rhea Researcher", "email": "rhea@example.com", "role": primitive.NewObjectID(),
		"status": "active", "password": bson.M{"salt": "x", "hash": "y"},
	}, &u)
	assert.Equal(t, userDoc{ID: id, Name: "Rhea Researcher", Email: "rhea@example.com"}, u)
}

func TestUniqueRefs(t *testing.T) {
	a, b := primitive.NewObjectID(), primitive.NewObjectID()
	assert.Equal(t, []primitive.ObjectID{a, b}, uniqueRefs([]primitive.ObjectID{a, primitive.NilObjectID, b, a}))
	assert.Equal(t, bson.M{"_id": bson.M{"$in": []primitive.ObjectID{a}}}, usersFilter([]primitive.ObjectID{a}))
}

func TestCollections(t *testing.T) {
	assert.Equal(t, "defenses", defensesCollection)
	assert.Equal(t, "stage_submissions", submissionsCollection)
	assert.Equal(t, "users", usersCollection)
}

func TestFilters(t *testing.T) {
	from := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, bson.M{
		"start_at": bson.M{"$gte": from, "$lte": to},
		"status":   bson.M{"$ne": calendar.StatusCancelled},
	}, defenseFilter(calendar.Window{From: from, To: to}))

	assert.Equal(t, bson.M{"venue": "Room 301"}, defenseFilter(calendar.Window{Venue: "Room 301", IncludeCancelled: true}))

	assert.Equal(t, bson.M{
		"stage_index":     0,
		"scheduled_at":    bson.M{"$ne": nil, "$gte": from},
		"status":          bson.M{"$ne": calendar.StatusCancelled},
		"scheduled_venue": "Lab",
	}, synopsisFilter(calendar.Window{From: from, Venue: "Lab"}))
}
