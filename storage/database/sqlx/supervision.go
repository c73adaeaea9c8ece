package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/hilcoe/rms/core"
	"github.com/hilcoe/rms/core/supervision"
)

const (
	profileColumns = `supervisor_id, first_name, middle_name, last_name, email, specializations, created_at, updated_at`
	studentColumns = `student_id, first_name, middle_name, last_name, assigned_supervisor_id, assigned_supervisor_name,
	assigned_at, assigned_by, assignment_version`
	profileSearch = `($1 = '' OR supervisor_id ILIKE '%' || $1 || '%' OR email ILIKE '%' || $1 || '%'
	OR first_name ILIKE '%' || $1 || '%' OR middle_name ILIKE '%' || $1 || '%' OR last_name ILIKE '%' || $1 || '%')`
)

type profileRow struct {
	SupervisorID    string         `db:"supervisor_id"`
	FirstName       string         `db:"first_name"`
	MiddleName      string         `db:"middle_name"`
	LastName        string         `db:"last_name"`
	Email           string         `db:"email"`
	Specializations pq.StringArray `db:"specializations"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func (r profileRow) profile() supervision.Profile {
	return supervision.Profile{
		SupervisorID:    r.SupervisorID,
		FirstName:       r.FirstName,
		MiddleName:      r.MiddleName,
		LastName:        r.LastName,
		Email:           r.Email,
		Specializations: []string(r.Specializations),
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
}

type studentRow struct {
	StudentID              string      `db:"student_id"`
	FirstName              string      `db:"first_name"`
	MiddleName             string      `db:"middle_name"`
	LastName               string      `db:"last_name"`
	AssignedSupervisorID   null.String `db:"assigned_supervisor_id"`
	AssignedSupervisorName null.String `db:"assigned_supervisor_name"`
	AssignedAt             null.Time   `db:"assigned_at"`
	AssignedBy             null.String `db:"assigned_by"`
	AssignmentVersion      int         `db:"assignment_version"`
}

func (r studentRow) student() supervision.Student {
	s := supervision.Student{
		StudentID:         r.StudentID,
		Name:              core.JoinNames(r.FirstName, r.MiddleName, r.LastName),
		AssignmentVersion: r.AssignmentVersion,
	}
	if r.AssignedSupervisorID.Valid {
		s.AssignedSupervisor = &supervision.Assignment{
			SupervisorID:   r.AssignedSupervisorID.String,
			SupervisorName: r.AssignedSupervisorName.String,
			AssignedAt:     r.AssignedAt.Time.UTC(),
			AssignedBy:     r.AssignedBy.String,
		}
	}
	return s
}

type supervisionRepository struct {
	db *sqlx.DB
}

var _ supervision.Repository = (*supervisionRepository)(nil) // interface compliance check

func NewSupervisionRepository(db *sqlx.DB) *supervisionRepository {
	return &supervisionRepository{db: db}
}

func (repo supervisionRepository) trapWriteErr(err error, msg string) error {
	if code, constraint := violation(err); code == uniqueViolation {
		if constraint == "ux_supervisor_profiles_email" {
			return supervision.ErrEmailTaken
		}
		return supervision.ErrDuplicateID
	}
	return errors.Wrap(err, msg)
}

func (repo supervisionRepository) CreateProfile(ctx context.Context, p supervision.Profile) (supervision.Profile, error) {
	q := `INSERT INTO supervisor_profiles (` + profileColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + profileColumns

	var row profileRow
	err := sqlx.GetContext(ctx, executor(ctx, repo.db), &row, q, p.SupervisorID, p.FirstName, p.MiddleName,
		p.LastName, p.Email, pq.Array(p.Specializations), p.CreatedAt.UTC(), p.UpdatedAt.UTC())
	if err != nil {
		return supervision.Profile{}, repo.trapWriteErr(err, "inserting supervisor profile")
	}
	return row.profile(), nil
}

func (repo supervisionRepository) GetProfile(ctx context.Context, supervisorID string) (supervision.Profile, error) {
	var row profileRow
	q := `SELECT ` + profileColumns + ` FROM supervisor_profiles WHERE supervisor_id = $1` + forUpdate(ctx)
	if err := sqlx.GetContext(ctx, executor(ctx, repo.db), &row, q, supervisorID); err != nil {
		return supervision.Profile{}, trapNoRowsErr(err, supervision.ErrSupervisorNotFound, "finding supervisor profile")
	}
	return row.profile(), nil
}

func (repo supervisionRepository) UpdateProfile(ctx context.Context, p supervision.Profile) (supervision.Profile, error) {
	q := `UPDATE supervisor_profiles
		SET first_name = $2, middle_name = $3, last_name = $4, email = $5, specializations = $6, updated_at = $7
		WHERE supervisor_id = $1
		RETURNING ` + profileColumns

	var row profileRow
	err := sqlx.GetContext(ctx, executor(ctx, repo.db), &row, q, p.SupervisorID, p.FirstName, p.MiddleName,
		p.LastName, p.Email, pq.Array(p.Specializations), p.UpdatedAt.UTC())
	if err != nil {
		if code, _ := violation(err); code == uniqueViolation {
			return supervision.Profile{}, repo.trapWriteErr(err, "updating supervisor profile")
		}
		return supervision.Profile{}, trapNoRowsErr(err, supervision.ErrSupervisorNotFound, "updating supervisor profile")
	}
	return row.profile(), nil
}

func (repo supervisionRepository) DeleteProfile(ctx context.Context, supervisorID string) error {
	res, err := executor(ctx, repo.db).ExecContext(ctx, `DELETE FROM supervisor_profiles WHERE supervisor_id = $1`, supervisorID)
	if err != nil {
		return errors.Wrap(err, "deleting supervisor profile")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return supervision.ErrSupervisorNotFound
	}
	return nil
}

func (repo supervisionRepository) QueryProfiles(ctx context.Context, filter supervision.QueryFilter) ([]supervision.Profile, int, error) {
	exec := executor(ctx, repo.db)

	var total int
	if err := sqlx.GetContext(ctx, exec, &total, `SELECT count(*) FROM supervisor_profiles WHERE `+profileSearch, filter.Search); err != nil {
		return nil, 0, errors.Wrap(err, "counting supervisor profiles")
	}

	q := `SELECT ` + profileColumns + `,
			(SELECT count(*) FROM roster_entries r WHERE r.assigned_supervisor_id = p.supervisor_id) AS assigned_count
		FROM supervisor_profiles p
		WHERE ` + profileSearch + `
		ORDER BY lower(last_name), lower(first_name), supervisor_id
		LIMIT $2 OFFSET $3`

	var rows []struct {
		profileRow
		AssignedCount int `db:"assigned_count"`
	}
	if err := sqlx.SelectContext(ctx, exec, &rows, q, filter.Search, filter.Limit, filter.Offset()); err != nil {
		return nil, 0, errors.Wrap(err, "querying supervisor profiles")
	}
	profiles := make([]supervision.Profile, 0, len(rows))
	for _, r := range rows {
		p := r.profile()
		p.AssignedCount = r.AssignedCount
		profiles = append(profiles, p)
	}
	return profiles, total, nil
}

func (repo supervisionRepository) AllProfiles(ctx context.Context) ([]supervision.Profile, error) {
	var rows []profileRow
	q := `SELECT ` + profileColumns + ` FROM supervisor_profiles ORDER BY created_at, supervisor_id`
	if err := sqlx.SelectContext(ctx, executor(ctx, repo.db), &rows, q); err != nil {
		return nil, errors.Wrap(err, "listing supervisor profiles")
	}
	profiles := make([]supervision.Profile, 0, len(rows))
	for _, r := range rows {
		profiles = append(profiles, r.profile())
	}
	return profiles, nil
}

func (repo supervisionRepository) CountAssigned(ctx context.Context, ids ...string) (map[string]int, error) {
	counts := make(map[string]int, len(ids))
	if len(ids) == 0 {
		return counts, nil
	}

	var rows []struct {
		SupervisorID string `db:"assigned_supervisor_id"`
		Count        int    `db:"count"`
	}
	q := `SELECT assigned_supervisor_id, count(*) AS count
		FROM roster_entries
		WHERE assigned_supervisor_id = ANY($1)
		GROUP BY assigned_supervisor_id`
	if err := sqlx.SelectContext(ctx, executor(ctx, repo.db), &rows, q, pq.Array(ids)); err != nil {
		return nil, errors.Wrap(err, "counting assigned students")
	}
	for _, r := range rows {
		counts[r.SupervisorID] = r.Count
	}
	return counts, nil
}

func (repo supervisionRepository) Specializations(ctx context.Context) ([]string, error) {
	var specs []string
	q := `SELECT DISTINCT unnest(specializations) FROM supervisor_profiles`
	if err := sqlx.SelectContext(ctx, executor(ctx, repo.db), &specs, q); err != nil {
		return nil, errors.Wrap(err, "listing specializations")
	}
	return specs, nil
}

func (repo supervisionRepository) GetStudent(ctx context.Context, studentID string) (supervision.Student, error) {
	var row studentRow
	q := `SELECT ` + studentColumns + ` FROM roster_entries WHERE lower(student_id) = lower($1)` + forUpdate(ctx)
	if err := sqlx.GetContext(ctx, executor(ctx, repo.db), &row, q, studentID); err != nil {
		return supervision.Student{}, trapNoRowsErr(err, supervision.ErrStudentNotFound, "finding student")
	}
	return row.student(), nil
}

func (repo supervisionRepository) SetAssignment(ctx context.Context, studentID string, a *supervision.Assignment, expectedVersion *int) (supervision.Student, error) {
	var (
		supID, supName, by null.String
		at                 null.Time
	)
	if a != nil {
		supID = null.StringFrom(a.SupervisorID)
		supName = null.StringFrom(a.SupervisorName)
		by = null.StringFrom(a.AssignedBy)
		at = null.TimeFrom(a.AssignedAt.UTC())
	}

	q := `UPDATE roster_entries
		SET assigned_supervisor_id = $2, assigned_supervisor_name = $3, assigned_at = $4, assigned_by = $5,
			assignment_version = assignment_version + 1, updated_at = now()
		WHERE lower(student_id) = lower($1) AND ($6::integer IS NULL OR assignment_version = $6)
		RETURNING ` + studentColumns

	var row studentRow
	err := sqlx.GetContext(ctx, executor(ctx, repo.db), &row, q, studentID, supID, supName, at, by,
		null.IntFromPtr(expectedVersion))
	if err == nil {
		return row.student(), nil
	}
	if code, _ := violation(err); code == foreignKeyViolation {
		return supervision.Student{}, supervision.ErrSupervisorNotFound
	}
	if err = trapNoRowsErr(err, supervision.ErrStudentNotFound, "assigning supervisor"); err != supervision.ErrStudentNotFound || expectedVersion == nil {
		return supervision.Student{}, err
	}
	// the student exists but moved on
	if _, err = repo.GetStudent(ctx, studentID); err != nil {
		return supervision.Student{}, err
	}
	return supervision.Student{}, supervision.ErrConflict
}

func (repo supervisionRepository) ClearAssignments(ctx context.Context, supervisorID string) ([]supervision.Student, error) {
	exec := executor(ctx, repo.db)

	var rows []studentRow
	q := `SELECT ` + studentColumns + ` FROM roster_entries WHERE assigned_supervisor_id = $1 ORDER BY student_id` + forUpdate(ctx)
	if err := sqlx.SelectContext(ctx, exec, &rows, q, supervisorID); err != nil {
		return nil, errors.Wrap(err, "listing assigned students")
	}

	_, err := exec.ExecContext(ctx, `UPDATE roster_entries
		SET assigned_supervisor_id = NULL, assigned_supervisor_name = NULL, assigned_at = NULL, assigned_by = NULL,
			assignment_version = assignment_version + 1, updated_at = now()
		WHERE assigned_supervisor_id = $1`, supervisorID)
	if err != nil {
		return nil, errors.Wrap(err, "clearing assignments")
	}

	students := make([]supervision.Student, 0, len(rows))
	for _, r := range rows {
		students = append(students, r.student())
	}
	return students, nil
}

func (repo supervisionRepository) RenameAssignments(ctx context.Context, supervisorID, name string) error {
	_, err := executor(ctx, repo.db).ExecContext(ctx,
		`UPDATE roster_entries SET assigned_supervisor_name = $2 WHERE assigned_supervisor_id = $1`, supervisorID, name)
	return errors.Wrap(err, "renaming assignments")
}
