package inmemdb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/hilcoe/rms/core/roster"
)

type rosterRepository struct {
	db *DB
}

var _ roster.Repository = (*rosterRepository)(nil) // interface compliance check

func NewRosterRepository(db *DB) *rosterRepository {
	return &rosterRepository{db: db}
}

func entryKey(studentID string) string {
	return strings.ToUpper(strings.TrimSpace(studentID))
}

func (repo *rosterRepository) CreateEntry(ctx context.Context, e roster.Entry) (roster.Entry, error) {
	err := repo.db.run(ctx, func(t *tables) error {
		key := entryKey(e.StudentID)
		if _, ok := t.entries[key]; ok {
			return roster.ErrDuplicateID
		}
		t.entries[key] = entryRecord{Entry: e}
		return nil
	})
	if err != nil {
		return roster.Entry{}, err
	}
	return e, nil
}

func (repo *rosterRepository) GetEntry(ctx context.Context, studentID string) (roster.Entry, error) {
	var (
		rec entryRecord
		ok  bool
	)
	_ = repo.db.run(ctx, func(t *tables) error {
		rec, ok = t.entries[entryKey(studentID)]
		return nil
	})
	if !ok {
		return roster.Entry{}, roster.ErrNotFound
	}
	return rec.Entry, nil
}

func (repo *rosterRepository) GetEntryBySignupToken(ctx context.Context, tokenHash string) (roster.Entry, error) {
	var (
		entry roster.Entry
		found bool
	)
	_ = repo.db.run(ctx, func(t *tables) error {
		for _, rec := range t.entries {
			if rec.SignupTokenHash != "" && rec.SignupTokenHash == tokenHash {
				entry, found = rec.Entry, true
				break
			}
		}
		return nil
	})
	if !found {
		return roster.Entry{}, roster.ErrNotFound
	}
	return entry, nil
}

func (repo *rosterRepository) QueryEntries(ctx context.Context, filter roster.QueryFilter) ([]roster.Entry, int, error) {
	search := strings.ToLower(filter.Search)
	matches := func(e roster.Entry) bool {
		if filter.Verified != nil && e.IsVerified() != *filter.Verified {
			return false
		}
		if search == "" {
			return true
		}
		for _, s := range []string{e.StudentID, e.FirstName, e.MiddleName, e.LastName} {
			if strings.Contains(strings.ToLower(s), search) {
				return true
			}
		}
		return false
	}

	entries := make([]roster.Entry, 0)
	_ = repo.db.run(ctx, func(t *tables) error {
		for _, rec := range t.entries {
			if matches(rec.Entry) {
				entries = append(entries, rec.Entry)
			}
		}
		return nil
	})
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.After(entries[j].CreatedAt)
		}
		return entries[i].StudentID < entries[j].StudentID
	})

	total := len(entries)
	return paginate(entries, filter.Offset(), filter.Limit), total, nil
}

func (repo *rosterRepository) UpdateEntry(ctx context.Context, e roster.Entry) (roster.Entry, error) {
	var updated roster.Entry
	err := repo.db.run(ctx, func(t *tables) error {
		key := entryKey(e.StudentID)
		rec, ok := t.entries[key]
		if !ok {
			return roster.ErrNotFound
		}
		rec.FirstName = e.FirstName
		rec.MiddleName = e.MiddleName
		rec.LastName = e.LastName
		rec.Program = e.Program
		rec.UpdatedAt = e.UpdatedAt
		t.entries[key] = rec
		updated = rec.Entry
		return nil
	})
	return updated, err
}

func (repo *rosterRepository) DeleteEntry(ctx context.Context, studentID string) error {
	return repo.db.run(ctx, func(t *tables) error {
		key := entryKey(studentID)
		if _, ok := t.entries[key]; !ok {
			return roster.ErrNotFound
		}
		delete(t.entries, key)
		return nil
	})
}

func (repo *rosterRepository) IssueSignupToken(ctx context.Context, studentID, tokenHash string, expiresAt time.Time) (roster.Entry, error) {
	var updated roster.Entry
	err := repo.db.run(ctx, func(t *tables) error {
		key := entryKey(studentID)
		rec, ok := t.entries[key]
		if !ok {
			return roster.ErrNotFound
		}
		if rec.IsVerified() {
			return roster.ErrAlreadyVerified
		}
		exp := expiresAt.UTC()
		rec.SignupTokenHash = tokenHash
		rec.SignupTokenExpiresAt = &exp
		rec.UpdatedAt = time.Now().UTC()
		t.entries[key] = rec
		updated = rec.Entry
		return nil
	})
	return updated, err
}

func (repo *rosterRepository) MarkVerified(ctx context.Context, studentID, email string, at time.Time) (roster.Entry, error) {
	var updated roster.Entry
	err := repo.db.run(ctx, func(t *tables) error {
		key := entryKey(studentID)
		rec, ok := t.entries[key]
		if !ok || rec.IsVerified() {
			return roster.ErrAlreadyVerified
		}
		at = at.UTC()
		rec.VerifiedEmail = email
		rec.VerifiedAt = &at
		rec.SignupTokenHash = ""
		rec.SignupTokenExpiresAt = nil
		rec.UpdatedAt = at
		t.entries[key] = rec
		updated = rec.Entry
		return nil
	})
	return updated, err
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return items[:0]
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
