// Package storage opens the stores selected by the configuration.
package storage

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/hilcoe/rms/core"
	"github.com/hilcoe/rms/core/account"
	"github.com/hilcoe/rms/core/calendar"
	"github.com/hilcoe/rms/core/notification"
	"github.com/hilcoe/rms/core/roster"
	"github.com/hilcoe/rms/core/supervision"
	"github.com/hilcoe/rms/storage/database"
	inmemdb "github.com/hilcoe/rms/storage/database/inmem"
	sqlxrepos "github.com/hilcoe/rms/storage/database/sqlx"
	"github.com/hilcoe/rms/storage/schedule/memstore"
	"github.com/hilcoe/rms/storage/schedule/mongostore"
)

// EngineMemory keeps everything in process memory. Nothing survives a restart.
const EngineMemory = "memory"

type (
	Stores struct {
		Tx            core.Transactor
		Accounts      account.Repository
		Roster        roster.Repository
		Supervision   supervision.Repository
		Notifications notification.Repository
		Schedule      calendar.Store
		// SQL is the relational connection, nil with the memory engine.
		SQL *sqlx.DB

		closers []func() error
	}

	Options struct {
		// Migrate creates the database when missing and applies pending migrations.
		Migrate bool
		// SkipSchedule leaves Schedule nil.
		SkipSchedule bool
	}
)

// Open connects the relational and schedule stores of conf.
func Open(ctx context.Context, conf *core.Config, logger core.Logger, opts Options) (*Stores, error) {
	s := new(Stores)

	if conf.Database.Engine == EngineMemory {
		logger.Warn("using the in-memory database: data is lost on exit")
		s.useMemory(inmemdb.NewDB())
	} else if err := s.openSQL(conf, opts.Migrate); err != nil {
		return nil, err
	}

	if !opts.SkipSchedule {
		if conf.Mongo.URI == "" {
			logger.Warn("no schedule database configured: the calendar is empty")
			s.Schedule = memstore.New()
		} else {
			store, err := mongostore.Connect(ctx, conf)
			if err != nil {
				_ = s.Close()
				return nil, err
			}
			s.Schedule = store
			s.closers = append(s.closers, func() error { return store.Close(context.Background()) })
		}
	}
	return s, nil
}

// NewMemory returns stores kept in process memory, for development and tests.
func NewMemory(schedule calendar.Store) *Stores {
	s := &Stores{Schedule: schedule}
	s.useMemory(inmemdb.NewDB())
	return s
}

func (s *Stores) useMemory(db *inmemdb.DB) {
	s.Tx = db
	s.Accounts = inmemdb.NewAccountRepository(db)
	s.Roster = inmemdb.NewRosterRepository(db)
	s.Supervision = inmemdb.NewSupervisionRepository(db)
	s.Notifications = inmemdb.NewNotificationRepository(db)
}

func (s *Stores) openSQL(conf *core.Config, migrate bool) error {
	if migrate {
		if err := database.CreateIfNotExist(conf); err != nil {
			return errors.Wrap(err, "creating database")
		}
	}
	db, err := database.Open(conf)
	if err != nil {
		return err
	}
	s.SQL = db
	s.closers = append(s.closers, db.Close)

	if migrate {
		if err = database.Migrate(db.DB); err != nil {
			_ = db.Close()
			return errors.Wrap(err, "migrating database")
		}
	}

	s.Tx = sqlxrepos.NewTransactor(db)
	s.Accounts = sqlxrepos.NewAccountRepository(db)
	s.Roster = sqlxrepos.NewRosterRepository(db)
	s.Supervision = sqlxrepos.NewSupervisionRepository(db)
	s.Notifications = sqlxrepos.NewNotificationRepository(db)
	return nil
}

// Close releases every connection, returning the first failure.
func (s *Stores) Close() error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && first == nil {
			first = errors.Wrap(err, "closing store")
		}
	}
	s.closers = nil
	return first
}
