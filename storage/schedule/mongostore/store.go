// Package mongostore reads the schedule kept by the scheduling service in MongoDB: thesis defenses and
// synopsis sessions (the first stage submission of a researcher). People are refs to its users collection;
// their names and emails are resolved with a second query.
package mongostore

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hilcoe/rms/core"
	"github.com/hilcoe/rms/core/calendar"
)

const (
	defensesCollection    = "defenses"
	submissionsCollection = "stage_submissions"
	usersCollection       = "users"

	defensePrefix  = "defense:"
	synopsisPrefix = "synopsis:"

	// synopsis sessions without an end last an hour
	defaultSynopsisLength = 60 * time.Minute
)

type Store struct {
	client      *mongo.Client
	defenses    *mongo.Collection
	submissions *mongo.Collection
	users       *mongo.Collection
}

var _ calendar.Store = (*Store)(nil) // interface compliance check

// Connect opens the schedule database and checks it answers.
func Connect(ctx context.Context, conf *core.Config) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(conf.Mongo.URI))
	if err != nil {
		return nil, errors.Wrap(err, "connecting to mongo")
	}
	if err = client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "pinging mongo")
	}

	db := client.Database(conf.Mongo.Database)
	return &Store{
		client:      client,
		defenses:    db.Collection(defensesCollection),
		submissions: db.Collection(submissionsCollection),
		users:       db.Collection(usersCollection),
	}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) Events(ctx context.Context, w calendar.Window) ([]calendar.Event, error) {
	var (
		defenses []defenseDoc
		sessions []submissionDoc
		refs     []primitive.ObjectID
	)
	if w.Wants(calendar.TypeDefense) {
		if err := s.find(ctx, s.defenses, defenseFilter(w), &defenses); err != nil {
			return nil, errors.Wrap(err, "finding defenses")
		}
		for _, d := range defenses {
			refs = append(refs, d.refs()...)
		}
	}
	if w.Wants(calendar.TypeSynopsis) {
		if err := s.find(ctx, s.submissions, synopsisFilter(w), &sessions); err != nil {
			return nil, errors.Wrap(err, "finding synopsis sessions")
		}
		for _, d := range sessions {
			refs = append(refs, d.refs()...)
		}
	}

	dir, err := s.lookup(ctx, refs)
	if err != nil {
		return nil, err
	}
	events := make([]calendar.Event, 0, len(defenses)+len(sessions))
	for _, d := range defenses {
		events = append(events, d.event(dir))
	}
	for _, d := range sessions {
		events = append(events, d.event(dir))
	}
	return events, nil
}

func (s *Store) Event(ctx context.Context, id string) (calendar.Event, error) {
	switch {
	case strings.HasPrefix(id, defensePrefix):
		oid, err := primitive.ObjectIDFromHex(strings.TrimPrefix(id, defensePrefix))
		if err != nil {
			return calendar.Event{}, calendar.ErrNotFound
		}
		var doc defenseDoc
		if err = s.defenses.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
			return calendar.Event{}, trapNoDocsErr(err, "finding defense")
		}
		dir, err := s.lookup(ctx, doc.refs())
		if err != nil {
			return calendar.Event{}, err
		}
		return doc.event(dir), nil

	case strings.HasPrefix(id, synopsisPrefix):
		oid, err := primitive.ObjectIDFromHex(strings.TrimPrefix(id, synopsisPrefix))
		if err != nil {
			return calendar.Event{}, calendar.ErrNotFound
		}
		var doc submissionDoc
		filter := bson.M{"_id": oid, "stage_index": 0, "scheduled_at": bson.M{"$ne": nil}}
		if err = s.submissions.FindOne(ctx, filter).Decode(&doc); err != nil {
			return calendar.Event{}, trapNoDocsErr(err, "finding synopsis session")
		}
		dir, err := s.lookup(ctx, doc.refs())
		if err != nil {
			return calendar.Event{}, err
		}
		return doc.event(dir), nil
	}
	return calendar.Event{}, calendar.ErrNotFound
}

// lookup loads the names and emails of the referenced users in one query.
func (s *Store) lookup(ctx context.Context, refs []primitive.ObjectID) (directory, error) {
	refs = uniqueRefs(refs)
	dir := make(directory, len(refs))
	if len(refs) == 0 {
		return dir, nil
	}

	var users []userDoc
	opts := options.Find().SetProjection(bson.M{"name": 1, "email": 1})
	cursor, err := s.users.Find(ctx, usersFilter(refs), opts)
	if err != nil {
		return nil, errors.Wrap(err, "finding participants")
	}
	//goland:noinspection GoUnhandledErrorResult
	defer cursor.Close(ctx)
	if err = cursor.All(ctx, &users); err != nil {
		return nil, errors.Wrap(err, "decoding participants")
	}
	for _, u := range users {
		dir[u.ID] = u
	}
	return dir, nil
}

func (s *Store) find(ctx context.Context, coll *mongo.Collection, filter bson.M, out interface{}) error {
	cursor, err := coll.Find(ctx, filter)
	if err != nil {
		return err
	}
	//goland:noinspection GoUnhandledErrorResult
	defer cursor.Close(ctx)
	return cursor.All(ctx, out)
}

func trapNoDocsErr(err error, msg string) error {
	if err == mongo.ErrNoDocuments {
		return calendar.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

// timeRange bounds a date field by the window, if it has bounds.
func timeRange(w calendar.Window, cond bson.M) bson.M {
	if !w.From.IsZero() {
		cond["$gte"] = w.From.UTC()
	}
	if !w.To.IsZero() {
		cond["$lte"] = w.To.UTC()
	}
	return cond
}

func usersFilter(refs []primitive.ObjectID) bson.M {
	return bson.M{"_id": bson.M{"$in": refs}}
}

func defenseFilter(w calendar.Window) bson.M {
	filter := bson.M{}
	if r := timeRange(w, bson.M{}); len(r) > 0 {
		filter["start_at"] = r
	}
	if !w.IncludeCancelled {
		filter["status"] = bson.M{"$ne": calendar.StatusCancelled}
	}
	if w.Venue != "" {
		filter["venue"] = w.Venue
	}
	return filter
}

func synopsisFilter(w calendar.Window) bson.M {
	filter := bson.M{
		"stage_index":  0,
		"scheduled_at": timeRange(w, bson.M{"$ne": nil}),
	}
	if !w.IncludeCancelled {
		filter["status"] = bson.M{"$ne": calendar.StatusCancelled}
	}
	if w.Venue != "" {
		filter["scheduled_venue"] = w.Venue
	}
	return filter
}
