package inmemdb

import (
	"context"
	"sync"

	"github.com/hilcoe/rms/core"
	"github.com/hilcoe/rms/core/account"
	"github.com/hilcoe/rms/core/roster"
	"github.com/hilcoe/rms/core/supervision"
)

type txKey struct{}

// entryRecord is a roster entry along with its assignment side.
type entryRecord struct {
	roster.Entry
	assignment *supervision.Assignment
	version    int
}

type tables struct {
	accounts      map[string]account.Account     // {id: account}
	entries       map[string]entryRecord         // {upper(student_id): entry}
	profiles      map[string]supervision.Profile // {supervisor_id: profile}
	notifications []notificationRecord
	seq           int64
}

// DB is an in-memory store for development and tests. Units of work are serialized: one runs at a time
// and other callers wait for it to end. A failed unit of work leaves the store as it found it.
type DB struct {
	txMu sync.Mutex // held for the whole of a unit of work
	mu   sync.Mutex // held for each single operation
	t    tables
}

var _ core.Transactor = (*DB)(nil) // interface compliance check

func NewDB() *DB {
	return &DB{t: tables{
		accounts: make(map[string]account.Account),
		entries:  make(map[string]entryRecord),
		profiles: make(map[string]supervision.Profile),
	}}
}

func (db *DB) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}

	db.txMu.Lock()
	defer db.txMu.Unlock()

	db.mu.Lock()
	snapshot := db.t.clone()
	db.mu.Unlock()

	committed := false
	defer func() {
		if !committed {
			db.mu.Lock()
			db.t = snapshot
			db.mu.Unlock()
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		return err
	}
	committed = true
	return nil
}

// run calls fn with exclusive access to the tables, waiting for any unit of work not carried by ctx.
func (db *DB) run(ctx context.Context, fn func(t *tables) error) error {
	if !inTx(ctx) {
		db.txMu.Lock()
		defer db.txMu.Unlock()
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	return fn(&db.t)
}

func inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{}).(bool)
	return v
}

func (t tables) clone() tables {
	c := tables{
		accounts:      make(map[string]account.Account, len(t.accounts)),
		entries:       make(map[string]entryRecord, len(t.entries)),
		profiles:      make(map[string]supervision.Profile, len(t.profiles)),
		notifications: make([]notificationRecord, len(t.notifications)),
		seq:           t.seq,
	}
	for k, v := range t.accounts {
		c.accounts[k] = v
	}
	for k, v := range t.entries {
		if v.assignment != nil {
			a := *v.assignment
			v.assignment = &a
		}
		c.entries[k] = v
	}
	for k, v := range t.profiles {
		v.Specializations = append([]string(nil), v.Specializations...)
		c.profiles[k] = v
	}
	copy(c.notifications, t.notifications)
	return c
}
