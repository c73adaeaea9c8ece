package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/hilcoe/rms/core/roster"
)

const entryColumns = `student_id, first_name, middle_name, last_name, program, verified_email, verified_at,
	signup_token, signup_token_expires_at, created_at, updated_at`

type entryRow struct {
	StudentID            string      `db:"student_id"`
	FirstName            string      `db:"first_name"`
	MiddleName           string      `db:"middle_name"`
	LastName             string      `db:"last_name"`
	Program              string      `db:"program"`
	VerifiedEmail        null.String `db:"verified_email"`
	VerifiedAt           null.Time   `db:"verified_at"`
	SignupToken          null.String `db:"signup_token"`
	SignupTokenExpiresAt null.Time   `db:"signup_token_expires_at"`
	CreatedAt            time.Time   `db:"created_at"`
	UpdatedAt            time.Time   `db:"updated_at"`
}

func (r entryRow) entry() roster.Entry {
	e := roster.Entry{
		StudentID:       r.StudentID,
		FirstName:       r.FirstName,
		MiddleName:      r.MiddleName,
		LastName:        r.LastName,
		Program:         r.Program,
		VerifiedEmail:   r.VerifiedEmail.String,
		SignupTokenHash: r.SignupToken.String,
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
	if r.VerifiedAt.Valid {
		t := r.VerifiedAt.Time.UTC()
		e.VerifiedAt = &t
	}
	if r.SignupTokenExpiresAt.Valid {
		t := r.SignupTokenExpiresAt.Time.UTC()
		e.SignupTokenExpiresAt = &t
	}
	return e
}

type rosterRepository struct {
	db *sqlx.DB
}

var _ roster.Repository = (*rosterRepository)(nil) // interface compliance check

func NewRosterRepository(db *sqlx.DB) *rosterRepository {
	return &rosterRepository{db: db}
}

func (repo rosterRepository) CreateEntry(ctx context.Context, e roster.Entry) (roster.Entry, error) {
	q := `INSERT INTO roster_entries (student_id, first_name, middle_name, last_name, program, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + entryColumns

	var row entryRow
	err := sqlx.GetContext(ctx, executor(ctx, repo.db), &row, q,
		e.StudentID, e.FirstName, e.MiddleName, e.LastName, e.Program, e.CreatedAt.UTC(), e.UpdatedAt.UTC())
	if err != nil {
		if code, _ := violation(err); code == uniqueViolation {
			return roster.Entry{}, roster.ErrDuplicateID
		}
		return roster.Entry{}, errors.Wrap(err, "inserting roster entry")
	}
	return row.entry(), nil
}

func (repo rosterRepository) GetEntry(ctx context.Context, studentID string) (roster.Entry, error) {
	var row entryRow
	q := `SELECT ` + entryColumns + ` FROM roster_entries WHERE lower(student_id) = lower($1)`
	if err := sqlx.GetContext(ctx, executor(ctx, repo.db), &row, q, studentID); err != nil {
		return roster.Entry{}, trapNoRowsErr(err, roster.ErrNotFound, "finding roster entry")
	}
	return row.entry(), nil
}

func (repo rosterRepository) GetEntryBySignupToken(ctx context.Context, tokenHash string) (roster.Entry, error) {
	var row entryRow
	q := `SELECT ` + entryColumns + ` FROM roster_entries WHERE signup_token = $1` + forUpdate(ctx)
	if err := sqlx.GetContext(ctx, executor(ctx, repo.db), &row, q, tokenHash); err != nil {
		return roster.Entry{}, trapNoRowsErr(err, roster.ErrNotFound, "finding roster entry by token")
	}
	return row.entry(), nil
}

func (repo rosterRepository) QueryEntries(ctx context.Context, filter roster.QueryFilter) ([]roster.Entry, int, error) {
	q := `SELECT ` + entryColumns + `, count(*) OVER () AS total
		FROM roster_entries
		WHERE ($1 = '' OR student_id ILIKE '%' || $1 || '%' OR first_name ILIKE '%' || $1 || '%'
				OR middle_name ILIKE '%' || $1 || '%' OR last_name ILIKE '%' || $1 || '%')
			AND ($2::boolean IS NULL OR (verified_email IS NOT NULL) = $2)
		ORDER BY created_at DESC, student_id
		LIMIT $3 OFFSET $4`

	var rows []struct {
		entryRow
		Total int `db:"total"`
	}
	err := sqlx.SelectContext(ctx, executor(ctx, repo.db), &rows, q,
		filter.Search, null.BoolFromPtr(filter.Verified), filter.Limit, filter.Offset())
	if err != nil {
		return nil, 0, errors.Wrap(err, "querying roster entries")
	}

	entries := make([]roster.Entry, 0, len(rows))
	var total int
	for _, r := range rows {
		entries = append(entries, r.entry())
		total = r.Total
	}
	if len(rows) == 0 && filter.Offset() > 0 {
		// past the last page: count separately
		cq := `SELECT count(*) FROM roster_entries
			WHERE ($1 = '' OR student_id ILIKE '%' || $1 || '%' OR first_name ILIKE '%' || $1 || '%'
					OR middle_name ILIKE '%' || $1 || '%' OR last_name ILIKE '%' || $1 || '%')
				AND ($2::boolean IS NULL OR (verified_email IS NOT NULL) = $2)`
		if err = sqlx.GetContext(ctx, executor(ctx, repo.db), &total, cq, filter.Search, null.BoolFromPtr(filter.Verified)); err != nil {
			return nil, 0, errors.Wrap(err, "counting roster entries")
		}
	}
	return entries, total, nil
}

func (repo rosterRepository) UpdateEntry(ctx context.Context, e roster.Entry) (roster.Entry, error) {
	q := `UPDATE roster_entries
		SET first_name = $2, middle_name = $3, last_name = $4, program = $5, updated_at = $6
		WHERE lower(student_id) = lower($1)
		RETURNING ` + entryColumns

	var row entryRow
	err := sqlx.GetContext(ctx, executor(ctx, repo.db), &row, q,
		e.StudentID, e.FirstName, e.MiddleName, e.LastName, e.Program, e.UpdatedAt.UTC())
	if err != nil {
		return roster.Entry{}, trapNoRowsErr(err, roster.ErrNotFound, "updating roster entry")
	}
	return row.entry(), nil
}

func (repo rosterRepository) DeleteEntry(ctx context.Context, studentID string) error {
	res, err := executor(ctx, repo.db).ExecContext(ctx, `DELETE FROM roster_entries WHERE lower(student_id) = lower($1)`, studentID)
	if err != nil {
		return errors.Wrap(err, "deleting roster entry")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return roster.ErrNotFound
	}
	return nil
}

func (repo rosterRepository) IssueSignupToken(ctx context.Context, studentID, tokenHash string, expiresAt time.Time) (roster.Entry, error) {
	q := `UPDATE roster_entries
		SET signup_token = $2, signup_token_expires_at = $3, updated_at = now()
		WHERE lower(student_id) = lower($1) AND verified_email IS NULL
		RETURNING ` + entryColumns

	var row entryRow
	err := sqlx.GetContext(ctx, executor(ctx, repo.db), &row, q, studentID, tokenHash, expiresAt.UTC())
	if err == nil {
		return row.entry(), nil
	}
	if err = trapNoRowsErr(err, roster.ErrNotFound, "issuing signup token"); err != roster.ErrNotFound {
		return roster.Entry{}, err
	}
	// either gone or verified in the meantime
	if _, err = repo.GetEntry(ctx, studentID); err != nil {
		return roster.Entry{}, err
	}
	return roster.Entry{}, roster.ErrAlreadyVerified
}

func (repo rosterRepository) MarkVerified(ctx context.Context, studentID, email string, at time.Time) (roster.Entry, error) {
	q := `UPDATE roster_entries
		SET verified_email = $2, verified_at = $3, signup_token = NULL, signup_token_expires_at = NULL, updated_at = $3
		WHERE lower(student_id) = lower($1) AND verified_email IS NULL
		RETURNING ` + entryColumns

	var row entryRow
	if err := sqlx.GetContext(ctx, executor(ctx, repo.db), &row, q, studentID, email, at.UTC()); err != nil {
		return roster.Entry{}, trapNoRowsErr(err, roster.ErrAlreadyVerified, "marking roster entry verified")
	}
	return row.entry(), nil
}
