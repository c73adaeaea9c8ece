package inmemdb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/hilcoe/rms/core/supervision"
)

type supervisionRepository struct {
	db *DB
}

var _ supervision.Repository = (*supervisionRepository)(nil) // interface compliance check

func NewSupervisionRepository(db *DB) *supervisionRepository {
	return &supervisionRepository{db: db}
}

func (repo *supervisionRepository) checkUnique(t *tables, p supervision.Profile, update bool) error {
	if _, ok := t.profiles[p.SupervisorID]; ok && !update {
		return supervision.ErrDuplicateID
	}
	for id, other := range t.profiles {
		if id != p.SupervisorID && strings.EqualFold(other.Email, p.Email) {
			return supervision.ErrEmailTaken
		}
	}
	return nil
}

func (repo *supervisionRepository) CreateProfile(ctx context.Context, p supervision.Profile) (supervision.Profile, error) {
	err := repo.db.run(ctx, func(t *tables) error {
		if err := repo.checkUnique(t, p, false); err != nil {
			return err
		}
		p.Specializations = append([]string(nil), p.Specializations...)
		t.profiles[p.SupervisorID] = p
		return nil
	})
	if err != nil {
		return supervision.Profile{}, err
	}
	return p, nil
}

func (repo *supervisionRepository) GetProfile(ctx context.Context, supervisorID string) (supervision.Profile, error) {
	var (
		p  supervision.Profile
		ok bool
	)
	_ = repo.db.run(ctx, func(t *tables) error {
		p, ok = t.profiles[supervisorID]
		return nil
	})
	if !ok {
		return supervision.Profile{}, supervision.ErrSupervisorNotFound
	}
	return p, nil
}

func (repo *supervisionRepository) UpdateProfile(ctx context.Context, p supervision.Profile) (supervision.Profile, error) {
	err := repo.db.run(ctx, func(t *tables) error {
		orig, ok := t.profiles[p.SupervisorID]
		if !ok {
			return supervision.ErrSupervisorNotFound
		}
		if err := repo.checkUnique(t, p, true); err != nil {
			return err
		}
		p.CreatedAt = orig.CreatedAt
		p.AccountID, p.AssignedCount = "", 0
		p.Specializations = append([]string(nil), p.Specializations...)
		t.profiles[p.SupervisorID] = p
		return nil
	})
	if err != nil {
		return supervision.Profile{}, err
	}
	return p, nil
}

func (repo *supervisionRepository) DeleteProfile(ctx context.Context, supervisorID string) error {
	return repo.db.run(ctx, func(t *tables) error {
		if _, ok := t.profiles[supervisorID]; !ok {
			return supervision.ErrSupervisorNotFound
		}
		delete(t.profiles, supervisorID)
		// mirror ON DELETE SET NULL
		for key, rec := range t.entries {
			if rec.assignment != nil && rec.assignment.SupervisorID == supervisorID {
				rec.assignment = nil
				t.entries[key] = rec
			}
		}
		return nil
	})
}

func (repo *supervisionRepository) QueryProfiles(ctx context.Context, filter supervision.QueryFilter) ([]supervision.Profile, int, error) {
	search := strings.ToLower(filter.Search)
	profiles := make([]supervision.Profile, 0)
	_ = repo.db.run(ctx, func(t *tables) error {
		counts := countAssigned(t)
		for _, p := range t.profiles {
			if search != "" && !containsAny(search, p.SupervisorID, p.Email, p.FirstName, p.MiddleName, p.LastName) {
				continue
			}
			p.AssignedCount = counts[p.SupervisorID]
			profiles = append(profiles, p)
		}
		return nil
	})
	sort.Slice(profiles, func(i, j int) bool {
		a, b := profiles[i], profiles[j]
		if la, lb := strings.ToLower(a.LastName), strings.ToLower(b.LastName); la != lb {
			return la < lb
		}
		if fa, fb := strings.ToLower(a.FirstName), strings.ToLower(b.FirstName); fa != fb {
			return fa < fb
		}
		return a.SupervisorID < b.SupervisorID
	})
	total := len(profiles)
	return paginate(profiles, filter.Offset(), filter.Limit), total, nil
}

func (repo *supervisionRepository) AllProfiles(ctx context.Context) ([]supervision.Profile, error) {
	profiles := make([]supervision.Profile, 0)
	_ = repo.db.run(ctx, func(t *tables) error {
		for _, p := range t.profiles {
			profiles = append(profiles, p)
		}
		return nil
	})
	sort.Slice(profiles, func(i, j int) bool {
		if !profiles[i].CreatedAt.Equal(profiles[j].CreatedAt) {
			return profiles[i].CreatedAt.Before(profiles[j].CreatedAt)
		}
		return profiles[i].SupervisorID < profiles[j].SupervisorID
	})
	return profiles, nil
}

func (repo *supervisionRepository) CountAssigned(ctx context.Context, ids ...string) (map[string]int, error) {
	counts := make(map[string]int, len(ids))
	_ = repo.db.run(ctx, func(t *tables) error {
		all := countAssigned(t)
		for _, id := range ids {
			if n, ok := all[id]; ok {
				counts[id] = n
			}
		}
		return nil
	})
	return counts, nil
}

func (repo *supervisionRepository) Specializations(ctx context.Context) ([]string, error) {
	var specs []string
	_ = repo.db.run(ctx, func(t *tables) error {
		for _, p := range t.profiles {
			specs = append(specs, p.Specializations...)
		}
		return nil
	})
	return specs, nil
}

func (repo *supervisionRepository) GetStudent(ctx context.Context, studentID string) (supervision.Student, error) {
	var (
		rec entryRecord
		ok  bool
	)
	_ = repo.db.run(ctx, func(t *tables) error {
		rec, ok = t.entries[entryKey(studentID)]
		return nil
	})
	if !ok {
		return supervision.Student{}, supervision.ErrStudentNotFound
	}
	return toStudent(rec), nil
}

func (repo *supervisionRepository) SetAssignment(ctx context.Context, studentID string, a *supervision.Assignment, expectedVersion *int) (supervision.Student, error) {
	var student supervision.Student
	err := repo.db.run(ctx, func(t *tables) error {
		key := entryKey(studentID)
		rec, ok := t.entries[key]
		if !ok {
			return supervision.ErrStudentNotFound
		}
		if expectedVersion != nil && *expectedVersion != rec.version {
			return supervision.ErrConflict
		}
		if a != nil {
			if _, ok = t.profiles[a.SupervisorID]; !ok {
				return supervision.ErrSupervisorNotFound
			}
			cp := *a
			cp.AssignedAt = cp.AssignedAt.UTC()
			a = &cp
		}
		rec.assignment = a
		rec.version++
		rec.UpdatedAt = time.Now().UTC()
		t.entries[key] = rec
		student = toStudent(rec)
		return nil
	})
	return student, err
}

func (repo *supervisionRepository) ClearAssignments(ctx context.Context, supervisorID string) ([]supervision.Student, error) {
	students := make([]supervision.Student, 0)
	_ = repo.db.run(ctx, func(t *tables) error {
		now := time.Now().UTC()
		for key, rec := range t.entries {
			if rec.assignment == nil || rec.assignment.SupervisorID != supervisorID {
				continue
			}
			students = append(students, toStudent(rec))
			rec.assignment = nil
			rec.version++
			rec.UpdatedAt = now
			t.entries[key] = rec
		}
		return nil
	})
	sort.Slice(students, func(i, j int) bool { return students[i].StudentID < students[j].StudentID })
	return students, nil
}

func (repo *supervisionRepository) RenameAssignments(ctx context.Context, supervisorID, name string) error {
	return repo.db.run(ctx, func(t *tables) error {
		for key, rec := range t.entries {
			if rec.assignment != nil && rec.assignment.SupervisorID == supervisorID {
				a := *rec.assignment
				a.SupervisorName = name
				rec.assignment = &a
				t.entries[key] = rec
			}
		}
		return nil
	})
}

func toStudent(rec entryRecord) supervision.Student {
	s := supervision.Student{
		StudentID:         rec.StudentID,
		Name:              rec.FullName(),
		AssignmentVersion: rec.version,
	}
	if rec.assignment != nil {
		a := *rec.assignment
		s.AssignedSupervisor = &a
	}
	return s
}

func countAssigned(t *tables) map[string]int {
	counts := make(map[string]int)
	for _, rec := range t.entries {
		if rec.assignment != nil {
			counts[rec.assignment.SupervisorID]++
		}
	}
	return counts
}

func containsAny(needle string, haystack ...string) bool {
	for _, s := range haystack {
		if strings.Contains(strings.ToLower(s), needle) {
			return true
		}
	}
	return false
}

