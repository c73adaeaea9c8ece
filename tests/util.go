// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"context"
	"io"
	"log"
	"net/mail"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hilcoe/rms/core"
	"github.com/hilcoe/rms/core/account"
	"github.com/hilcoe/rms/core/roster"
	"github.com/hilcoe/rms/core/supervision"
	logsvc "github.com/hilcoe/rms/services/logger"
)

// Password satisfies the password policy.
const Password = "Rms#2025secure"

// NewConfig returns a configuration for tests. It reads nothing from the environment.
func NewConfig() *core.Config {
	return &core.Config{
		Env:                       "TEST",
		TestMode:                  true,
		AppName:                   "HiLCoE RMS",
		Build:                     "test",
		SecretKey:                 "test-secret-key",
		DefaultFromEmail:          mail.Address{Name: "HiLCoE RMS", Address: "noreply@localhost"},
		FrontendBaseURL:           "http://localhost:5173",
		PasswordResetTimeoutDelta: 24 * time.Hour,
		Server: core.ServerConfig{
			JWTExpirationDelta:        time.Hour,
			JWTRefreshExpirationDelta: 24 * time.Hour,
			StreamHeartbeat:           time.Second,
			ShutdownTimeout:           time.Second,
		},
		Database:     core.DatabaseConfig{Engine: "memory"},
		Verification: core.VerificationConfig{TokenTTL: 30 * time.Minute},
		Supervision:  core.SupervisionConfig{MaxResearchers: 10},
		Calendar:     core.CalendarConfig{DisplayTimezone: "Africa/Addis_Ababa", ProductID: "-//HiLCoE RMS//Test//EN"},
	}
}

// NewLogger returns a logger writing nowhere.
func NewLogger(conf *core.Config) core.Logger {
	return logsvc.NewRollbarLogger(log.New(io.Discard, "", 0), conf)
}

// CreateAccount stores an active account directly, bypassing the password policy.
func CreateAccount(
	t *testing.T,
	repo account.Repository,
	name, email, pwd, role string,
	link account.Link,
	createdAt ...time.Time,
) account.Account {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	acc := account.Account{
		ID:           uuid.New().String(),
		Name:         name,
		Email:        email,
		Role:         role,
		StudentID:    link.StudentID,
		SupervisorID: link.SupervisorID,
		IsActive:     true,
		CreatedAt:    tstamp,
		UpdatedAt:    tstamp,
	}
	if pwd != "" {
		if err := acc.SetPassword(pwd); err != nil {
			t.Fatalf("CreateAccount(): %v", err)
		}
	}
	acc, err := repo.CreateAccount(context.Background(), acc)
	if err != nil {
		t.Fatalf("CreateAccount(): %v", err)
	}
	return acc
}

func CreateEntry(t *testing.T, repo roster.Repository, studentID, first, middle, last string) roster.Entry {
	t.Helper()
	now := time.Now().UTC()
	e, err := repo.CreateEntry(context.Background(), roster.Entry{
		StudentID:  studentID,
		FirstName:  first,
		MiddleName: middle,
		LastName:   last,
		Program:    "Software Engineering",
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		t.Fatalf("CreateEntry(): %v", err)
	}
	return e
}

func CreateProfile(t *testing.T, repo supervision.Repository, id, first, last, email string, specs ...string) supervision.Profile {
	t.Helper()
	if len(specs) == 0 {
		specs = []string{"Software Engineering"}
	}
	now := time.Now().UTC()
	p, err := repo.CreateProfile(context.Background(), supervision.Profile{
		SupervisorID:    id,
		FirstName:       first,
		LastName:        last,
		Email:           email,
		Specializations: specs,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		t.Fatalf("CreateProfile(): %v", err)
	}
	return p
}
