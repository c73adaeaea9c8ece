package account_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hilcoe/rms/apps/container"
	"github.com/hilcoe/rms/core"
	"github.com/hilcoe/rms/core/account"
	emailsvc "github.com/hilcoe/rms/services/email"
	"github.com/hilcoe/rms/storage"
	"github.com/hilcoe/rms/tests"
)

func setup(t *testing.T) (*account.Provisioner, *storage.Stores, *emailsvc.ConsoleService) {
	t.Helper()
	conf := testutil.NewConfig()
	logger := testutil.NewLogger(conf)
	core.ParseEmailTemplates(logger)
	stores := storage.NewMemory(nil)
	mailSvc := emailsvc.NewConsoleServiceMock(conf, logger)
	return container.NewServices(conf, logger, stores, mailSvc, nil).Accounts, stores, mailSvc
}

func TestProvisioner_Create(t *testing.T) {
	prov, _, _ := setup(t)
	ctx := context.Background()

	acc, err := prov.Create(ctx, account.NewAccount{
		Email: " Examiner@Test.et", Name: " Abebe   Kebede ", Password: testutil.Password, Role: account.RoleExaminer,
	})
	require.NoError(t, err)
	assert.Equal(t, "examiner@test.et", acc.Email)
	assert.Equal(t, "Abebe Kebede", acc.Name)
	assert.True(t, acc.IsActive)
	assert.NoError(t, acc.CheckPassword(testutil.Password))

	_, err = prov.Create(ctx, account.NewAccount{
		Email: "EXAMINER@test.et", Name: "Someone Else", Password: testutil.Password, Role: account.RoleExaminer,
	})
	assert.Equal(t, account.ErrEmailTaken, errors.Cause(err))
	reason, _ := core.ReasonOf(err)
	assert.Equal(t, core.ReasonEmailTaken, reason)
}

func TestProvisioner_Create_concurrentSameEmail(t *testing.T) {
	prov, stores, _ := setup(t)
	ctx := context.Background()

	const n = 4
	var (
		wg   sync.WaitGroup
		errs = make([]error, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// same address, differently cased
			email := "Coordinator@test.et"
			if i%2 == 1 {
				email = "coordinator@TEST.et"
			}
			_, errs[i] = prov.Create(ctx, account.NewAccount{
				Email: email, Name: fmt.Sprintf("Coordinator %d", i), Password: testutil.Password, Role: account.RoleCoordinator,
			})
		}(i)
	}
	wg.Wait()

	var ok, taken int
	for _, err := range errs {
		switch errors.Cause(err) {
		case nil:
			ok++
		case account.ErrEmailTaken:
			taken++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, taken)

	accounts, err := stores.Accounts.QueryAccounts(ctx, account.QueryFilter{})
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "coordinator@test.et", accounts[0].Email)
}

func TestProvisioner_Create_passwordPolicy(t *testing.T) {
	prov, _, _ := setup(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		pwd     string
		wantTag string
	}{
		{"too short", "Ab1#", "pwdminlen"},
		{"whitespace", "Abcd 1234#", "pwdnospace"},
		{"all numeric", "1234567890", "pwdnotallnum"},
		{"not complex", "abcdefgh1", "pwdcplx"},
		{"like the name", "Tigist#Alemu1", "pwdtoosim"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := prov.Create(ctx, account.NewAccount{
				Email: "tigist@test.et", Name: "Tigist Alemu", Password: tt.pwd, Role: account.RoleExaminer,
			})
			var vErrs validator.ValidationErrors
			require.True(t, errors.As(err, &vErrs), "err = %v", err)
			require.Len(t, vErrs, 1)
			assert.Equal(t, "password", vErrs[0].Field())
			assert.Equal(t, tt.wantTag, vErrs[0].Tag())
		})
	}
}

func TestProvisioner_Authenticate(t *testing.T) {
	prov, stores, _ := setup(t)
	ctx := context.Background()
	acc := testutil.CreateAccount(t, stores.Accounts, "Active", "active@test.et", testutil.Password, account.RoleCoordinator, account.Link{})

	got, err := prov.Authenticate(ctx, "ACTIVE@test.et", testutil.Password)
	require.NoError(t, err)
	assert.Equal(t, acc.ID, got.ID)
	assert.False(t, got.LastLogin.IsZero())

	_, err = prov.Authenticate(ctx, "active@test.et", "Wrong#pass1")
	assert.Equal(t, account.ErrInvalidCredential, errors.Cause(err))
	_, err = prov.Authenticate(ctx, "ghost@test.et", testutil.Password)
	assert.Equal(t, account.ErrInvalidCredential, errors.Cause(err))

	acc.IsActive = false
	_, err = stores.Accounts.UpdateAccount(ctx, acc)
	require.NoError(t, err)
	_, err = prov.Authenticate(ctx, "active@test.et", testutil.Password)
	assert.Equal(t, account.ErrInvalidCredential, errors.Cause(err))
}

func TestProvisioner_ChangePassword(t *testing.T) {
	prov, stores, _ := setup(t)
	ctx := context.Background()
	acc := testutil.CreateAccount(t, stores.Accounts, "Marta Tesfaye", "marta@test.et", testutil.Password, account.RoleResearcher, account.Link{})

	_, err := prov.ChangePassword(ctx, acc, "Wrong#pass1", "N3w!Passphrase")
	assert.Equal(t, account.ErrInvalidCredential, errors.Cause(err))

	_, err = prov.ChangePassword(ctx, acc, testutil.Password, "weak")
	assert.Error(t, err)

	acc, err = prov.ChangePassword(ctx, acc, testutil.Password, "N3w!Passphrase")
	require.NoError(t, err)
	_, err = prov.Authenticate(ctx, "marta@test.et", "N3w!Passphrase")
	assert.NoError(t, err)
}

func TestProvisioner_ResetPassword(t *testing.T) {
	prov, stores, mailSvc := setup(t)
	ctx := context.Background()
	acc := testutil.CreateAccount(t, stores.Accounts, "Eyob Hailu", "eyob@test.et", testutil.Password, account.RoleResearcher, account.Link{})

	_, err := prov.RequestPasswordReset(ctx, "ghost@test.et")
	assert.Equal(t, account.ErrNotFound, errors.Cause(err))

	ticket, err := prov.RequestPasswordReset(ctx, "Eyob@test.et")
	require.NoError(t, err)
	assert.Equal(t, account.EncodeUID(acc), ticket.UID)

	sent := mailSvc.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "eyob@test.et", sent[0].To[0].Address)
	assert.Contains(t, sent[0].TextContent, ticket.Token)

	tests := []struct {
		name       string
		rp         account.ResetPassword
		wantReason core.Reason
	}{
		{"unknown uid", account.ResetPassword{UID: "bm9wZQ", Token: ticket.Token, Password: "N3w!Passphrase", PasswordConfirm: "N3w!Passphrase"}, core.ReasonTokenInvalid},
		{"bad token", account.ResetPassword{UID: ticket.UID, Token: "abc-def", Password: "N3w!Passphrase", PasswordConfirm: "N3w!Passphrase"}, core.ReasonTokenInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := prov.ResetPassword(ctx, tt.rp)
			reason, _ := core.ReasonOf(err)
			assert.Equal(t, tt.wantReason, reason, "err = %v", err)
		})
	}

	_, err = prov.ResetPassword(ctx, account.ResetPassword{UID: ticket.UID, Token: ticket.Token, Password: "N3w!Passphrase", PasswordConfirm: "N3w!Passphrase"})
	require.NoError(t, err)
	_, err = prov.Authenticate(ctx, "eyob@test.et", "N3w!Passphrase")
	assert.NoError(t, err)

	// the password changed: the ticket is spent
	_, err = prov.ResetPassword(ctx, account.ResetPassword{UID: ticket.UID, Token: ticket.Token, Password: "An0ther!Phrase", PasswordConfirm: "An0ther!Phrase"})
	assert.Equal(t, account.ErrResetTokenInvalid, errors.Cause(err))
}
