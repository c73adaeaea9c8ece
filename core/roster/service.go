package roster

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/hilcoe/rms/core"
	"github.com/hilcoe/rms/core/account"
)

var (
	NowFunc = time.Now // mockable

	// errors
	ErrNotFound        = core.NewError(core.ReasonNotFound, "no roster entry matches this student ID")
	ErrNameMismatch    = core.NewError(core.ReasonNameMismatch, "the supplied name does not match the roster")
	ErrTokenInvalid    = core.NewError(core.ReasonTokenInvalid, "verification token is invalid or already used")
	ErrTokenExpired    = core.NewError(core.ReasonTokenExpired, "verification token expired, please verify again")
	ErrDuplicateID     = core.NewError(core.ReasonDuplicateID, "a roster entry with this student ID already exists")
	ErrAlreadyVerified = errors.New("roster entry already verified")
)

const tokenBytes = 32

type (
	// Repository persists roster Entries. Student IDs are matched case-insensitively.
	// When ctx carries a unit of work, GetEntryBySignupToken locks the returned row until it ends.
	Repository interface {
		CreateEntry(ctx context.Context, e Entry) (Entry, error) // ErrDuplicateID on unique violation
		GetEntry(ctx context.Context, studentID string) (Entry, error)
		GetEntryBySignupToken(ctx context.Context, tokenHash string) (Entry, error)
		QueryEntries(ctx context.Context, filter QueryFilter) ([]Entry, int, error)
		UpdateEntry(ctx context.Context, e Entry) (Entry, error)
		DeleteEntry(ctx context.Context, studentID string) error
		// IssueSignupToken atomically replaces the signup token of an unverified entry.
		// It fails with ErrAlreadyVerified when the entry got verified in the meantime.
		IssueSignupToken(ctx context.Context, studentID, tokenHash string, expiresAt time.Time) (Entry, error)
		// MarkVerified sets the verified email and clears the signup token.
		MarkVerified(ctx context.Context, studentID, email string, at time.Time) (Entry, error)
	}

	AccountCreator interface {
		Create(ctx context.Context, na account.NewAccount) (account.Account, error)
	}

	// Service is the verification service: it gates account registration behind a roster identity match.
	Service struct {
		repo     Repository
		tx       core.Transactor
		accounts AccountCreator
		validate *validator.Validate
		tokenTTL time.Duration
	}
)

func NewService(repo Repository, tx core.Transactor, accounts AccountCreator, validate *validator.Validate, conf *core.Config) *Service {
	return &Service{
		repo:     repo,
		tx:       tx,
		accounts: accounts,
		validate: validate,
		tokenTTL: conf.Verification.TokenTTL,
	}
}

// Verify matches a name + student ID claim against the roster.
// A matching unverified entry gets a fresh signup token, replacing any token issued before.
func (svc *Service) Verify(ctx context.Context, vr VerifyRequest) (VerifyResult, error) {
	if err := vr.Validate(svc.validate); err != nil {
		return VerifyResult{}, err
	}

	entry, err := svc.repo.GetEntry(ctx, vr.StudentID)
	if err != nil {
		return VerifyResult{}, err
	}
	if !namesMatch(vr, entry) {
		return VerifyResult{}, ErrNameMismatch
	}
	if entry.IsVerified() {
		return alreadyRegistered(entry), nil
	}

	token, err := newSignupToken()
	if err != nil {
		return VerifyResult{}, errors.Wrap(err, "generating signup token")
	}
	expiresAt := NowFunc().UTC().Add(svc.tokenTTL)
	entry, err = svc.repo.IssueSignupToken(ctx, entry.StudentID, HashToken(token), expiresAt)
	if err != nil {
		if errors.Cause(err) == ErrAlreadyVerified {
			if entry, err = svc.repo.GetEntry(ctx, vr.StudentID); err == nil {
				return alreadyRegistered(entry), nil
			}
		}
		return VerifyResult{}, errors.Wrap(err, "issuing signup token")
	}

	identity := entry.Identity()
	return VerifyResult{
		VerificationToken: token,
		ExpiresAt:         &expiresAt,
		Student:           &identity,
	}, nil
}

// Register exchanges a signup token for a Researcher account. Consuming the token and creating the
// account happen in one unit of work.
func (svc *Service) Register(ctx context.Context, rr RegisterRequest) (account.Account, error) {
	if err := rr.Validate(svc.validate); err != nil {
		return account.Account{}, err
	}

	var acc account.Account
	err := svc.tx.WithinTx(ctx, func(ctx context.Context) error {
		entry, err := svc.repo.GetEntryBySignupToken(ctx, HashToken(rr.VerificationToken))
		if err != nil {
			if errors.Cause(err) == ErrNotFound {
				return ErrTokenInvalid
			}
			return errors.Wrap(err, "finding entry by signup token")
		}
		if entry.IsVerified() {
			return ErrTokenInvalid
		}
		// an expired token stays inert in place until the next Verify overwrites it
		if entry.SignupTokenExpiresAt == nil || !NowFunc().Before(*entry.SignupTokenExpiresAt) {
			return ErrTokenExpired
		}

		acc, err = svc.accounts.Create(ctx, account.NewAccount{
			Email:    rr.Email,
			Phone:    rr.Phone,
			Name:     entry.FullName(),
			Password: rr.Password,
			Role:     account.RoleResearcher,
			Link:     account.Link{StudentID: entry.StudentID},
		})
		if err != nil {
			return err
		}

		_, err = svc.repo.MarkVerified(ctx, entry.StudentID, acc.Email, NowFunc().UTC())
		return errors.Wrap(err, "marking entry verified")
	})
	if err != nil {
		return account.Account{}, err
	}
	return acc, nil
}

func (svc *Service) Get(ctx context.Context, studentID string) (Entry, error) {
	return svc.repo.GetEntry(ctx, NormalizeStudentID(studentID))
}

func (svc *Service) Query(ctx context.Context, filter QueryFilter) ([]Entry, int, error) {
	filter.Clean()
	return svc.repo.QueryEntries(ctx, filter)
}

func (svc *Service) Create(ctx context.Context, ne NewEntry) (Entry, error) {
	if err := ne.Validate(svc.validate); err != nil {
		return Entry{}, err
	}
	now := NowFunc().UTC()
	return svc.repo.CreateEntry(ctx, Entry{
		StudentID:  ne.StudentID,
		FirstName:  ne.FirstName,
		MiddleName: ne.MiddleName,
		LastName:   ne.LastName,
		Program:    ne.Program,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
}

func (svc *Service) Update(ctx context.Context, studentID string, ue UpdateEntry) (Entry, error) {
	entry, err := svc.Get(ctx, studentID)
	if err != nil {
		return Entry{}, err
	}
	if entry, err = ue.Validate(entry, svc.validate); err != nil {
		return Entry{}, err
	}
	entry.UpdatedAt = NowFunc().UTC()
	return svc.repo.UpdateEntry(ctx, entry)
}

// Delete removes a roster entry. Only coordinators do this, explicitly.
func (svc *Service) Delete(ctx context.Context, studentID string) error {
	return svc.repo.DeleteEntry(ctx, NormalizeStudentID(studentID))
}

// Import adds rows to the roster one by one. Rows repeating a student ID already seen in the batch or
// already in the roster are reported as duplicates; invalid rows are reported as errors.
func (svc *Service) Import(ctx context.Context, rows []NewEntry) (ImportResult, error) {
	res := ImportResult{Duplicates: []string{}, Errors: []ImportError{}}
	seen := make(map[string]struct{}, len(rows))

	for i, row := range rows {
		res.Processed++
		row.Clean()
		if _, ok := seen[row.StudentID]; ok && row.StudentID != "" {
			res.Duplicates = append(res.Duplicates, row.StudentID)
			continue
		}
		seen[row.StudentID] = struct{}{}

		if _, err := svc.Create(ctx, row); err != nil {
			switch cause := errors.Cause(err); {
			case cause == ErrDuplicateID:
				res.Duplicates = append(res.Duplicates, row.StudentID)
			case isValidationErr(cause):
				res.Errors = append(res.Errors, ImportError{Row: i + 1, StudentID: row.StudentID, Error: describeValidationErr(cause)})
			default:
				return res, errors.Wrapf(err, "importing row %d", i+1)
			}
			continue
		}
		res.Inserted++
	}
	return res, nil
}

// Seed imports the default roster.
func (svc *Service) Seed(ctx context.Context) (ImportResult, error) {
	rows := make([]NewEntry, len(SeedEntries))
	copy(rows, SeedEntries)
	return svc.Import(ctx, rows)
}

// HashToken returns the digest stored in place of a signup token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func newSignupToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func alreadyRegistered(e Entry) VerifyResult {
	return VerifyResult{AlreadyRegistered: true, LoginHint: e.VerifiedEmail}
}

// namesMatch reports whether every non-empty name in the claim matches the roster, ignoring case.
// A middle name is only compared when one is supplied.
func namesMatch(vr VerifyRequest, e Entry) bool {
	eq := func(claimed, stored string) bool {
		return strings.EqualFold(core.CleanName(claimed), core.CleanName(stored))
	}
	if !eq(vr.FirstName, e.FirstName) || !eq(vr.LastName, e.LastName) {
		return false
	}
	return vr.MiddleName == "" || eq(vr.MiddleName, e.MiddleName)
}

func isValidationErr(err error) bool {
	switch err.(type) {
	case validator.ValidationErrors, *core.ValidationError:
		return true
	}
	return false
}

func describeValidationErr(err error) string {
	if vErrs, ok := err.(validator.ValidationErrors); ok {
		flds := make([]string, 0, len(vErrs))
		for _, vErr := range vErrs {
			flds = append(flds, vErr.Field()+": "+vErr.Tag())
		}
		return "invalid " + strings.Join(flds, ", ")
	}
	return err.Error()
}
