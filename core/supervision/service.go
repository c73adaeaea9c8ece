package supervision

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/hilcoe/rms/core"
	"github.com/hilcoe/rms/core/account"
	"github.com/hilcoe/rms/core/notification"
)

var (
	NowFunc = time.Now // mockable

	// errors
	ErrSupervisorNotFound   = core.NewError(core.ReasonSupervisorNotFound, "supervisor not found")
	ErrStudentNotFound      = core.NewError(core.ReasonNotFound, "student not found")
	ErrSupervisorAtCapacity = core.NewError(core.ReasonSupervisorAtCapacity, "supervisor has no capacity left")
	ErrConflict             = core.NewError(core.ReasonConflict, "the assignment changed since it was read, reload and try again")
	ErrDuplicateID          = core.NewError(core.ReasonDuplicateID, "a supervisor with this ID already exists")
	ErrEmailTaken           = core.NewError(core.ReasonEmailTaken, "a supervisor with this email already exists")
	ErrNotSupervising       = core.NewError(core.ReasonNotFound, "student not found among your researchers")
)

type (
	// Repository persists supervisor profiles and the assignment side of roster entries.
	// When ctx carries a unit of work, GetProfile locks the returned profile until it ends.
	Repository interface {
		CreateProfile(ctx context.Context, p Profile) (Profile, error) // ErrDuplicateID / ErrEmailTaken
		GetProfile(ctx context.Context, supervisorID string) (Profile, error)
		UpdateProfile(ctx context.Context, p Profile) (Profile, error) // ErrEmailTaken
		DeleteProfile(ctx context.Context, supervisorID string) error
		QueryProfiles(ctx context.Context, filter QueryFilter) ([]Profile, int, error)
		AllProfiles(ctx context.Context) ([]Profile, error)
		// CountAssigned returns how many students each of ids supervises. Missing ids count 0.
		CountAssigned(ctx context.Context, ids ...string) (map[string]int, error)
		Specializations(ctx context.Context) ([]string, error)

		GetStudent(ctx context.Context, studentID string) (Student, error)
		// SetAssignment replaces the assignment of a student in one write and bumps its version.
		// A nil assignment clears it. With expectedVersion set, a stale version fails with ErrConflict.
		SetAssignment(ctx context.Context, studentID string, a *Assignment, expectedVersion *int) (Student, error)
		// ClearAssignments unassigns every student of supervisorID and returns them as they were.
		ClearAssignments(ctx context.Context, supervisorID string) ([]Student, error)
		RenameAssignments(ctx context.Context, supervisorID, name string) error
	}

	AccountDirectory interface {
		Create(ctx context.Context, na account.NewAccount) (account.Account, error)
		Find(ctx context.Context, filter account.GetFilter) (account.Account, error)
		Query(ctx context.Context, filter account.QueryFilter) ([]account.Account, error)
	}

	Publisher interface {
		Publish(ctx context.Context, recipientID string, p notification.Payload) (notification.Notification, error)
	}

	// Arbiter keeps the researcher to supervisor links consistent.
	Arbiter struct {
		repo           Repository
		tx             core.Transactor
		accounts       AccountDirectory
		publisher      Publisher
		validate       *validator.Validate
		logger         core.Logger
		maxResearchers int
	}
)

func NewArbiter(repo Repository, tx core.Transactor, accounts AccountDirectory, publisher Publisher,
	validate *validator.Validate, logger core.Logger, conf *core.Config) *Arbiter {
	return &Arbiter{
		repo:           repo,
		tx:             tx,
		accounts:       accounts,
		publisher:      publisher,
		validate:       validate,
		logger:         logger,
		maxResearchers: conf.Supervision.MaxResearchers,
	}
}

// Assign links a student to a supervisor and returns the student as stored.
// Assigning the supervisor a student already has changes nothing.
func (arb *Arbiter) Assign(ctx context.Context, ar AssignRequest, actor Actor) (Student, error) {
	if err := ar.Validate(arb.validate); err != nil {
		return Student{}, err
	}

	var (
		student  Student
		previous *Assignment
		changed  bool
	)
	err := arb.tx.WithinTx(ctx, func(ctx context.Context) error {
		profile, err := arb.repo.GetProfile(ctx, ar.SupervisorID)
		if err != nil {
			if errors.Cause(err) == ErrSupervisorNotFound {
				return err
			}
			return errors.Wrap(err, "locking supervisor profile")
		}

		if student, err = arb.repo.GetStudent(ctx, ar.StudentID); err != nil {
			return err
		}
		if ar.ExpectedVersion != nil && *ar.ExpectedVersion != student.AssignmentVersion {
			return ErrConflict
		}
		if cur := student.AssignedSupervisor; cur != nil && cur.SupervisorID == profile.SupervisorID {
			return nil
		}

		if arb.maxResearchers > 0 {
			counts, err := arb.repo.CountAssigned(ctx, profile.SupervisorID)
			if err != nil {
				return errors.Wrap(err, "counting assigned students")
			}
			if counts[profile.SupervisorID] >= arb.maxResearchers {
				return ErrSupervisorAtCapacity
			}
		}

		previous = student.AssignedSupervisor
		student, err = arb.repo.SetAssignment(ctx, student.StudentID, &Assignment{
			SupervisorID:   profile.SupervisorID,
			SupervisorName: profile.FullName(),
			AssignedAt:     NowFunc().UTC(),
			AssignedBy:     actor.Name,
		}, ar.ExpectedVersion)
		changed = err == nil
		return err
	})
	if err != nil {
		return Student{}, err
	}

	if changed {
		a := student.AssignedSupervisor
		if previous != nil {
			arb.notifySupervisor(ctx, previous.SupervisorID, notification.StudentUnassigned{
				StudentID: student.StudentID, StudentName: student.Name, ActorID: actor.AccountID, ActorName: actor.Name,
			})
		}
		arb.notifySupervisor(ctx, a.SupervisorID, notification.StudentAssigned{
			StudentID: student.StudentID, StudentName: student.Name, ActorID: actor.AccountID, ActorName: actor.Name,
		})
		arb.notifyResearcher(ctx, student.StudentID, notification.SupervisorAssigned{
			SupervisorID: a.SupervisorID, SupervisorName: a.SupervisorName, ActorID: actor.AccountID, ActorName: actor.Name,
		})
	}
	return student, nil
}

// Unassign clears the assignment of a student. Unassigning an unassigned student changes nothing.
func (arb *Arbiter) Unassign(ctx context.Context, ur UnassignRequest, actor Actor) (Student, error) {
	if err := ur.Validate(arb.validate); err != nil {
		return Student{}, err
	}

	var (
		student  Student
		previous *Assignment
	)
	err := arb.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if student, err = arb.repo.GetStudent(ctx, ur.StudentID); err != nil {
			return err
		}
		if ur.ExpectedVersion != nil && *ur.ExpectedVersion != student.AssignmentVersion {
			return ErrConflict
		}
		if student.AssignedSupervisor == nil {
			return nil
		}
		previous = student.AssignedSupervisor
		student, err = arb.repo.SetAssignment(ctx, student.StudentID, nil, ur.ExpectedVersion)
		return err
	})
	if err != nil {
		return Student{}, err
	}

	if previous != nil {
		arb.notifySupervisor(ctx, previous.SupervisorID, notification.StudentUnassigned{
			StudentID: student.StudentID, StudentName: student.Name, ActorID: actor.AccountID, ActorName: actor.Name,
		})
		arb.notifyResearcher(ctx, student.StudentID, notification.SupervisorUnassigned{
			SupervisorID: previous.SupervisorID, SupervisorName: previous.SupervisorName, ActorID: actor.AccountID, ActorName: actor.Name,
		})
	}
	return student, nil
}

// DeleteSupervisor removes a supervisor profile and unassigns all of its students in the same unit of work.
// The supervisor's account, if any, is left in place.
func (arb *Arbiter) DeleteSupervisor(ctx context.Context, supervisorID string, actor Actor) ([]Student, error) {
	supervisorID = NormalizeSupervisorID(supervisorID)

	var (
		profile  Profile
		affected []Student
	)
	err := arb.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if profile, err = arb.repo.GetProfile(ctx, supervisorID); err != nil {
			return err
		}
		if affected, err = arb.repo.ClearAssignments(ctx, supervisorID); err != nil {
			return errors.Wrap(err, "clearing assignments")
		}
		return arb.repo.DeleteProfile(ctx, supervisorID)
	})
	if err != nil {
		return nil, err
	}

	for _, s := range affected {
		arb.notifyResearcher(ctx, s.StudentID, notification.SupervisorRemoved{
			SupervisorID: profile.SupervisorID, SupervisorName: profile.FullName(), ActorID: actor.AccountID, ActorName: actor.Name,
		})
	}
	return affected, nil
}

// ListAvailable returns the supervisors a student can be assigned to. Supervisor accounts without a profile
// are matched to a profile by link or email; a human present in both stores is listed once, keyed by email
// then by supervisor ID. Supervisors at capacity are left out.
func (arb *Arbiter) ListAvailable(ctx context.Context) ([]Profile, error) {
	profiles, err := arb.repo.AllProfiles(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "listing supervisor profiles")
	}
	accounts, err := arb.accounts.Query(ctx, account.QueryFilter{Roles: []string{account.RoleSupervisor}})
	if err != nil {
		return nil, errors.Wrap(err, "listing supervisor accounts")
	}

	byEmail := make(map[string]int, len(profiles)) // {lower(email): index in out}
	byID := make(map[string]int, len(profiles))
	out := make([]Profile, 0, len(profiles))
	for _, p := range profiles {
		email := strings.ToLower(p.Email)
		if _, ok := byEmail[email]; ok {
			continue
		}
		if _, ok := byID[p.SupervisorID]; ok {
			continue
		}
		byEmail[email] = len(out)
		byID[p.SupervisorID] = len(out)
		out = append(out, p)
	}
	// an email match beats a link match; accounts with no profile cannot be assigned
	for _, byLink := range []bool{false, true} {
		for _, acc := range accounts {
			if !acc.IsActive {
				continue
			}
			var (
				idx int
				ok  bool
			)
			if byLink {
				if acc.SupervisorID != "" {
					idx, ok = byID[NormalizeSupervisorID(acc.SupervisorID)]
				}
			} else {
				idx, ok = byEmail[strings.ToLower(acc.Email)]
			}
			if ok && out[idx].AccountID == "" {
				out[idx].AccountID = acc.ID
			}
		}
	}

	ids := make([]string, len(out))
	for i, p := range out {
		ids[i] = p.SupervisorID
	}
	counts, err := arb.repo.CountAssigned(ctx, ids...)
	if err != nil {
		return nil, errors.Wrap(err, "counting assigned students")
	}

	available := out[:0]
	for _, p := range out {
		p.AssignedCount = counts[p.SupervisorID]
		if arb.maxResearchers > 0 && p.AssignedCount >= arb.maxResearchers {
			continue
		}
		available = append(available, p)
	}
	sortProfiles(available)
	return available, nil
}

// CreateSupervisor adds a supervisor profile along with its Supervisor account, in one unit of work.
func (arb *Arbiter) CreateSupervisor(ctx context.Context, np NewProfile) (Profile, account.Account, error) {
	if err := np.Validate(arb.validate); err != nil {
		return Profile{}, account.Account{}, err
	}
	if np.SupervisorID == "" {
		id, err := newSupervisorID()
		if err != nil {
			return Profile{}, account.Account{}, errors.Wrap(err, "generating supervisor ID")
		}
		np.SupervisorID = id
	}

	var (
		profile Profile
		acc     account.Account
	)
	err := arb.tx.WithinTx(ctx, func(ctx context.Context) error {
		now := NowFunc().UTC()
		var err error
		profile, err = arb.repo.CreateProfile(ctx, Profile{
			SupervisorID:    np.SupervisorID,
			FirstName:       np.FirstName,
			MiddleName:      np.MiddleName,
			LastName:        np.LastName,
			Email:           np.Email,
			Specializations: np.Specializations,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
		if err != nil {
			return err
		}
		acc, err = arb.accounts.Create(ctx, account.NewAccount{
			Email:    np.Email,
			Phone:    np.Phone,
			Name:     profile.FullName(),
			Password: np.Password,
			Role:     account.RoleSupervisor,
			Link:     account.Link{SupervisorID: profile.SupervisorID},
		})
		return err
	})
	if err != nil {
		return Profile{}, account.Account{}, err
	}
	profile.AccountID = acc.ID
	return profile, acc, nil
}

// Update edits a supervisor profile. Name changes are carried over to the students it supervises.
func (arb *Arbiter) Update(ctx context.Context, supervisorID string, up UpdateProfile) (Profile, error) {
	var profile Profile
	err := arb.tx.WithinTx(ctx, func(ctx context.Context) error {
		orig, err := arb.repo.GetProfile(ctx, NormalizeSupervisorID(supervisorID))
		if err != nil {
			return err
		}
		if profile, err = up.Validate(orig, arb.validate); err != nil {
			return err
		}
		profile.UpdatedAt = NowFunc().UTC()
		if profile, err = arb.repo.UpdateProfile(ctx, profile); err != nil {
			return err
		}
		if name := profile.FullName(); name != orig.FullName() {
			return errors.Wrap(arb.repo.RenameAssignments(ctx, profile.SupervisorID, name), "renaming assignments")
		}
		return nil
	})
	if err != nil {
		return Profile{}, err
	}
	return profile, nil
}

func (arb *Arbiter) Get(ctx context.Context, supervisorID string) (Profile, error) {
	profile, err := arb.repo.GetProfile(ctx, NormalizeSupervisorID(supervisorID))
	if err != nil {
		return Profile{}, err
	}
	counts, err := arb.repo.CountAssigned(ctx, profile.SupervisorID)
	if err != nil {
		return Profile{}, errors.Wrap(err, "counting assigned students")
	}
	profile.AssignedCount = counts[profile.SupervisorID]
	return profile, nil
}

func (arb *Arbiter) Query(ctx context.Context, filter QueryFilter) ([]Profile, int, error) {
	filter.Clean()
	return arb.repo.QueryProfiles(ctx, filter)
}

func (arb *Arbiter) GetStudent(ctx context.Context, studentID string) (Student, error) {
	return arb.repo.GetStudent(ctx, strings.ToUpper(core.CleanString(studentID)))
}

// Specializations returns the default specializations merged with those in use, sorted.
func (arb *Arbiter) Specializations(ctx context.Context) ([]string, error) {
	used, err := arb.repo.Specializations(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "listing specializations")
	}
	all := NormalizeSpecializations(append(append([]string{}, DefaultSpecializations...), used...))
	sort.Slice(all, func(i, j int) bool { return strings.ToLower(all[i]) < strings.ToLower(all[j]) })
	return all, nil
}

// NotifyMilestone tells a researcher that one of their milestones changed. Only managers and the
// researcher's assigned supervisor may do so.
func (arb *Arbiter) NotifyMilestone(ctx context.Context, mu MilestoneUpdate, actor account.Account) error {
	if err := mu.Validate(arb.validate); err != nil {
		return err
	}
	student, err := arb.repo.GetStudent(ctx, mu.StudentID)
	if err != nil {
		return err
	}
	if !actor.IsManager() {
		a := student.AssignedSupervisor
		if a == nil || !strings.EqualFold(a.SupervisorID, actor.SupervisorID) {
			return ErrNotSupervising
		}
	}
	researcher, err := arb.accounts.Find(ctx, account.GetFilter{StudentID: student.StudentID})
	if err != nil {
		return err
	}
	_, err = arb.publisher.Publish(ctx, researcher.ID, notification.MilestoneUpdated{
		StudentID: student.StudentID, Milestone: mu.Milestone, Status: mu.Status, ActorID: actor.ID, ActorName: actor.Name,
	})
	return err
}

// notifySupervisor publishes p to the account of supervisorID, if it has one.
func (arb *Arbiter) notifySupervisor(ctx context.Context, supervisorID string, p notification.Payload) {
	arb.notify(ctx, account.GetFilter{SupervisorID: supervisorID}, p)
}

// notifyResearcher publishes p to the account registered for studentID, if any.
func (arb *Arbiter) notifyResearcher(ctx context.Context, studentID string, p notification.Payload) {
	arb.notify(ctx, account.GetFilter{StudentID: studentID}, p)
}

func (arb *Arbiter) notify(ctx context.Context, filter account.GetFilter, p notification.Payload) {
	acc, err := arb.accounts.Find(ctx, filter)
	if err != nil {
		if errors.Cause(err) != account.ErrNotFound {
			arb.logger.Error("finding notification recipient: "+err.Error(), err)
		}
		return
	}
	if _, err = arb.publisher.Publish(ctx, acc.ID, p); err != nil {
		arb.logger.Error("publishing "+string(p.Kind())+": "+err.Error(), err, acc)
	}
}

func newSupervisorID() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "SUP-" + strings.ToUpper(hex.EncodeToString(b)), nil
}
