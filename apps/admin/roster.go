package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/hilcoe/rms/core/roster"
	"github.com/hilcoe/rms/core/supervision"
	"github.com/hilcoe/rms/services/rosterfile"
)

func (cli *commandLine) importRoster(path string) error {
	rows, err := rosterfile.ReadFile(path)
	if err != nil {
		return err
	}
	res, err := cli.roster.Import(context.Background(), rows)
	if err != nil {
		return err
	}
	cli.printImport(res)
	return nil
}

func (cli *commandLine) seedRoster() error {
	res, err := cli.roster.Seed(context.Background())
	if err != nil {
		return err
	}
	cli.printImport(res)
	return nil
}

func (cli *commandLine) printImport(res roster.ImportResult) {
	fmt.Fprintf(cli.out, "processed %d, inserted %d\n", res.Processed, res.Inserted)
	if len(res.Duplicates) > 0 {
		fmt.Fprintf(cli.out, "duplicates: %s\n", strings.Join(res.Duplicates, ", "))
	}
	for _, e := range res.Errors {
		fmt.Fprintf(cli.out, "row %d %s: %s\n", e.Row, e.StudentID, e.Error)
	}
}

func (cli *commandLine) addSupervisor(np supervision.NewProfile) error {
	profile, acc, err := cli.arbiter.CreateSupervisor(context.Background(), np)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "supervisor %s (%s) added, sign in as %s\n", profile.SupervisorID, profile.FullName(), acc.Email)
	return nil
}
