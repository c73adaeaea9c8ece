package roster

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/hilcoe/rms/core"
)

// Entry is an eligible student pre-loaded into the roster.
// SignupTokenHash is only set while a verification window is open and is always cleared once
// VerifiedEmail is set.
type Entry struct {
	StudentID            string     `json:"student_id"`
	FirstName            string     `json:"first_name"`
	MiddleName           string     `json:"middle_name"`
	LastName             string     `json:"last_name"`
	Program              string     `json:"program"`
	VerifiedEmail        string     `json:"verified_email,omitempty"`
	VerifiedAt           *time.Time `json:"verified_at,omitempty"`
	SignupTokenHash      string     `json:"-"`
	SignupTokenExpiresAt *time.Time `json:"-"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

func (e Entry) FullName() string {
	return core.JoinNames(e.FirstName, e.MiddleName, e.LastName)
}

func (e Entry) IsVerified() bool {
	return e.VerifiedEmail != ""
}

// Identity is the roster view of an Entry returned by a successful verification.
type Identity struct {
	StudentID  string `json:"student_id"`
	FirstName  string `json:"first_name"`
	MiddleName string `json:"middle_name"`
	LastName   string `json:"last_name"`
	Program    string `json:"program"`
}

func (e Entry) Identity() Identity {
	return Identity{
		StudentID:  e.StudentID,
		FirstName:  e.FirstName,
		MiddleName: e.MiddleName,
		LastName:   e.LastName,
		Program:    e.Program,
	}
}

// NormalizeStudentID trims id and folds its case. Student IDs are compared case-insensitively.
func NormalizeStudentID(id string) string {
	return strings.ToUpper(core.CleanString(id))
}

// VerifyRequest is a name + student ID identity claim.
type VerifyRequest struct {
	FirstName  string `json:"first_name" validate:"required,max=100"`
	MiddleName string `json:"middle_name" validate:"max=100"`
	LastName   string `json:"last_name" validate:"required,max=100"`
	StudentID  string `json:"student_id" validate:"required,max=64,studentid"`
}

func (vr *VerifyRequest) Validate(validate *validator.Validate) error {
	vr.FirstName = core.CleanName(vr.FirstName)
	vr.MiddleName = core.CleanName(vr.MiddleName)
	vr.LastName = core.CleanName(vr.LastName)
	vr.StudentID = NormalizeStudentID(vr.StudentID)
	return validate.Struct(vr)
}

// VerifyResult is either AlreadyRegistered with a LoginHint, or a freshly issued token.
type VerifyResult struct {
	AlreadyRegistered bool       `json:"already_registered"`
	LoginHint         string     `json:"login_hint,omitempty"`
	VerificationToken string     `json:"verification_token,omitempty"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	Student           *Identity  `json:"student,omitempty"`
}

type RegisterRequest struct {
	VerificationToken string `json:"verification_token" validate:"required"`
	Email             string `json:"email" validate:"required,email"`
	Phone             string `json:"phone" validate:"omitempty,max=32"`
	Password          string `json:"password" validate:"required"`
}

func (rr *RegisterRequest) Validate(validate *validator.Validate) error {
	rr.VerificationToken = core.CleanString(rr.VerificationToken)
	rr.Email = core.CleanString(rr.Email, true /* lower */)
	rr.Phone = core.CleanString(rr.Phone)
	return validate.Struct(rr)
}

// NewEntry contains information needed to add a student to the roster.
type NewEntry struct {
	StudentID  string `json:"student_id" validate:"required,max=64,studentid"`
	FirstName  string `json:"first_name" validate:"required,max=100"`
	MiddleName string `json:"middle_name" validate:"max=100"`
	LastName   string `json:"last_name" validate:"required,max=100"`
	Program    string `json:"program" validate:"max=200"`
}

func (ne *NewEntry) Clean() {
	ne.StudentID = NormalizeStudentID(ne.StudentID)
	ne.FirstName = core.CleanName(ne.FirstName)
	ne.MiddleName = core.CleanName(ne.MiddleName)
	ne.LastName = core.CleanName(ne.LastName)
	ne.Program = core.CleanName(ne.Program)
}

func (ne *NewEntry) Validate(validate *validator.Validate) error {
	ne.Clean()
	return validate.Struct(ne)
}

// UpdateEntry defines what may be changed on an existing Entry. Empty fields are left untouched.
type UpdateEntry struct {
	FirstName  string  `json:"first_name" validate:"max=100"`
	MiddleName *string `json:"middle_name" validate:"omitempty,max=100"`
	LastName   string  `json:"last_name" validate:"max=100"`
	Program    *string `json:"program" validate:"omitempty,max=200"`
}

func (ue *UpdateEntry) Validate(orig Entry, validate *validator.Validate) (Entry, error) {
	if err := validate.Struct(ue); err != nil {
		return Entry{}, err
	}
	if name := core.CleanName(ue.FirstName); name != "" {
		orig.FirstName = name
	}
	if ue.MiddleName != nil {
		orig.MiddleName = core.CleanName(*ue.MiddleName)
	}
	if name := core.CleanName(ue.LastName); name != "" {
		orig.LastName = name
	}
	if ue.Program != nil {
		orig.Program = core.CleanName(*ue.Program)
	}
	return orig, nil
}

type QueryFilter struct {
	// Search does a case-insensitive match on the student ID or any name field.
	Search   string `query:"search"`
	Verified *bool  `query:"verified"`
	core.Page
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.Page.Clean()
}

// ImportResult summarizes a bulk import. A bad row never aborts the batch.
type ImportResult struct {
	Processed  int           `json:"processed"`
	Inserted   int           `json:"inserted"`
	Duplicates []string      `json:"duplicates"`
	Errors     []ImportError `json:"errors"`
}

type ImportError struct {
	Row       int    `json:"row"` // 1-based
	StudentID string `json:"student_id,omitempty"`
	Error     string `json:"error"`
}
