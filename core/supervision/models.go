package supervision

import (
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/hilcoe/rms/core"
)

// DefaultSpecializations are always offered when editing a supervisor.
var DefaultSpecializations = []string{
	"Artificial Intelligence & Machine Learning",
	"Data Science",
	"Computer Networks",
	"Cybersecurity",
	"Software Engineering",
	"Database Systems",
	"Human-Computer Interaction",
}

type Profile struct {
	SupervisorID    string    `json:"supervisor_id"`
	FirstName       string    `json:"first_name"`
	MiddleName      string    `json:"middle_name"`
	LastName        string    `json:"last_name"`
	Email           string    `json:"email"`
	Specializations []string  `json:"specializations"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	// filled by listings
	AccountID     string `json:"account_id,omitempty"`
	AssignedCount int    `json:"assigned_count"`
}

func (p Profile) FullName() string {
	return core.JoinNames(p.FirstName, p.MiddleName, p.LastName)
}

// Assignment links a student to a supervisor. It lives on the student record.
type Assignment struct {
	SupervisorID   string    `json:"supervisor_id"`
	SupervisorName string    `json:"supervisor_name"`
	AssignedAt     time.Time `json:"assigned_at"`
	AssignedBy     string    `json:"assigned_by"`
}

// Student is the assignment view of a roster entry. AssignmentVersion grows with every effective
// assignment change.
type Student struct {
	StudentID          string      `json:"student_id"`
	Name               string      `json:"name"`
	AssignedSupervisor *Assignment `json:"assigned_supervisor"`
	AssignmentVersion  int         `json:"assignment_version"`
}

// Actor is the coordinator performing a change.
type Actor struct {
	AccountID string
	Name      string
}

// NormalizeSupervisorID trims id and folds its case.
func NormalizeSupervisorID(id string) string {
	return strings.ToUpper(core.CleanString(id))
}

// NormalizeSpecializations trims every specialization and drops blanks and case-insensitive repeats.
func NormalizeSpecializations(specs []string) []string {
	seen := make(map[string]struct{}, len(specs))
	out := make([]string, 0, len(specs))
	for _, s := range specs {
		s = core.CleanName(s)
		key := strings.ToLower(s)
		if _, ok := seen[key]; ok || s == "" {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}

// NewProfile contains information needed to add a supervisor and their Supervisor account.
type NewProfile struct {
	SupervisorID    string   `json:"supervisor_id" validate:"omitempty,max=64,studentid"`
	FirstName       string   `json:"first_name" validate:"required,max=100"`
	MiddleName      string   `json:"middle_name" validate:"max=100"`
	LastName        string   `json:"last_name" validate:"required,max=100"`
	Email           string   `json:"email" validate:"required,email"`
	Phone           string   `json:"phone" validate:"omitempty,max=32"`
	Specializations []string `json:"specializations" validate:"required,min=1,dive,nonblank"`
	Password        string   `json:"password" validate:"required"`
}

func (np *NewProfile) Validate(validate *validator.Validate) error {
	np.SupervisorID = NormalizeSupervisorID(np.SupervisorID)
	np.FirstName = core.CleanName(np.FirstName)
	np.MiddleName = core.CleanName(np.MiddleName)
	np.LastName = core.CleanName(np.LastName)
	np.Email = core.CleanString(np.Email, true /* lower */)
	np.Phone = core.CleanString(np.Phone)
	np.Specializations = NormalizeSpecializations(np.Specializations)
	return validate.Struct(np)
}

// UpdateProfile defines what may be changed on a Profile. Empty fields are left untouched.
type UpdateProfile struct {
	FirstName       string   `json:"first_name" validate:"max=100"`
	MiddleName      *string  `json:"middle_name" validate:"omitempty,max=100"`
	LastName        string   `json:"last_name" validate:"max=100"`
	Email           string   `json:"email" validate:"omitempty,email"`
	Specializations []string `json:"specializations" validate:"omitempty,min=1,dive,nonblank"`
}

func (up *UpdateProfile) Validate(orig Profile, validate *validator.Validate) (Profile, error) {
	up.Email = core.CleanString(up.Email, true /* lower */)
	if up.Specializations != nil {
		up.Specializations = NormalizeSpecializations(up.Specializations)
		if len(up.Specializations) == 0 {
			return Profile{}, core.NewValidationError(nil, core.FieldError{
				Field: "specializations",
				Error: "at least one specialization is required",
			})
		}
	}
	if err := validate.Struct(up); err != nil {
		return Profile{}, err
	}

	if name := core.CleanName(up.FirstName); name != "" {
		orig.FirstName = name
	}
	if up.MiddleName != nil {
		orig.MiddleName = core.CleanName(*up.MiddleName)
	}
	if name := core.CleanName(up.LastName); name != "" {
		orig.LastName = name
	}
	if up.Email != "" {
		orig.Email = up.Email
	}
	if up.Specializations != nil {
		orig.Specializations = up.Specializations
	}
	return orig, nil
}

type AssignRequest struct {
	StudentID    string `json:"studentId" validate:"required,max=64"`
	SupervisorID string `json:"supervisorId" validate:"required,max=64"`
	// ExpectedVersion, when set, rejects the write with ErrConflict if the student's assignment changed.
	ExpectedVersion *int `json:"expectedVersion" validate:"omitempty,min=0"`
}

func (ar *AssignRequest) Validate(validate *validator.Validate) error {
	ar.StudentID = strings.ToUpper(core.CleanString(ar.StudentID))
	ar.SupervisorID = NormalizeSupervisorID(ar.SupervisorID)
	return validate.Struct(ar)
}

type UnassignRequest struct {
	StudentID       string `json:"studentId" validate:"required,max=64"`
	ExpectedVersion *int   `json:"expectedVersion" validate:"omitempty,min=0"`
}

func (ur *UnassignRequest) Validate(validate *validator.Validate) error {
	ur.StudentID = strings.ToUpper(core.CleanString(ur.StudentID))
	return validate.Struct(ur)
}

type QueryFilter struct {
	// Search does a case-insensitive match on the supervisor ID, email or any name field.
	Search string `query:"search"`
	core.Page
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.Page.Clean()
}

// sortProfiles orders profiles by last name, first name then ID.
func sortProfiles(profiles []Profile) {
	sort.SliceStable(profiles, func(i, j int) bool {
		a, b := profiles[i], profiles[j]
		if la, lb := strings.ToLower(a.LastName), strings.ToLower(b.LastName); la != lb {
			return la < lb
		}
		if fa, fb := strings.ToLower(a.FirstName), strings.ToLower(b.FirstName); fa != fb {
			return fa < fb
		}
		return a.SupervisorID < b.SupervisorID
	})
}

// MilestoneUpdate announces a change to one of a researcher's milestones.
type MilestoneUpdate struct {
	StudentID string `json:"studentId" validate:"required,max=64"`
	Milestone string `json:"milestone" validate:"required,max=200"`
	Status    string `json:"status" validate:"required,max=64"`
}

func (mu *MilestoneUpdate) Validate(validate *validator.Validate) error {
	mu.StudentID = strings.ToUpper(core.CleanString(mu.StudentID))
	mu.Milestone = core.CleanName(mu.Milestone)
	mu.Status = core.CleanString(mu.Status)
	return validate.Struct(mu)
}
