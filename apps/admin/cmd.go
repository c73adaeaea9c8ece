package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/hilcoe/rms/apps/container"
	"github.com/hilcoe/rms/core/account"
	"github.com/hilcoe/rms/core/roster"
	"github.com/hilcoe/rms/core/supervision"
	"github.com/hilcoe/rms/storage"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp     = errors.New("help provided")
	errNoSQLDB  = errors.New("migrations need a SQL database, the memory engine has none")
	errNoPasswd = errors.New("no password entered")
)

type commandLine struct {
	db       *sql.DB // nil with the memory engine
	accounts *account.Provisioner
	roster   *roster.Service
	arbiter  *supervision.Arbiter
	out      io.Writer
}

func newCommandLine(stores *storage.Stores, svcs *container.Services, out io.Writer) *commandLine {
	cli := &commandLine{
		accounts: svcs.Accounts,
		roster:   svcs.Roster,
		arbiter:  svcs.Arbiter,
		out:      out,
	}
	if stores.SQL != nil {
		cli.db = stores.SQL.DB
	}
	return cli
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS]                                - run a goose migration command (up, down, status...)")
	fmt.Fprintln(cli.out, "  resetpassword -email EMAIL                            - reset an account's password")
	fmt.Fprintln(cli.out, "  createaccount -name NAME -email EMAIL -role ROLE      - create a staff account")
	fmt.Fprintln(cli.out, "  importroster -file PATH                               - import students from an .xlsx or .csv roster")
	fmt.Fprintln(cli.out, "  seedroster                                            - import the default roster")
	fmt.Fprintln(cli.out, "  addsupervisor -first NAME -last NAME -email EMAIL -specializations A,B [-id ID]")
	fmt.Fprintln(cli.out, "                                                        - add a supervisor and its account")
	fmt.Fprintln(cli.out, "Passwords are prompted.")
}

func (cli *commandLine) promptPassword(fs *flag.FlagSet) (string, error) {
	fmt.Fprint(cli.out, "Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Fprintln(cli.out)
	if err != nil {
		return "", err
	}
	if len(pwd) == 0 {
		fs.Usage()
		return "", errNoPasswd
	}
	return string(pwd), nil
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ContinueOnError)
	resetPasswordEmail := resetPasswordCmd.String("email", "", "The account's email. The password will be prompted next.")

	createAccountCmd := flag.NewFlagSet("createaccount", flag.ContinueOnError)
	createAccountName := createAccountCmd.String("name", "", "The account holder's full name.")
	createAccountEmail := createAccountCmd.String("email", "", "The account's email.")
	createAccountRole := createAccountCmd.String("role", account.RoleCoordinator, "One of Coordinator, Admin, Examiner.")

	importRosterCmd := flag.NewFlagSet("importroster", flag.ContinueOnError)
	importRosterFile := importRosterCmd.String("file", "", "Path of an .xlsx or .csv roster whose first row names the columns.")

	addSupervisorCmd := flag.NewFlagSet("addsupervisor", flag.ContinueOnError)
	addSupervisorID := addSupervisorCmd.String("id", "", "Supervisor ID. Generated when empty.")
	addSupervisorFirst := addSupervisorCmd.String("first", "", "First name.")
	addSupervisorLast := addSupervisorCmd.String("last", "", "Last name.")
	addSupervisorEmail := addSupervisorCmd.String("email", "", "Email, also used to sign in.")
	addSupervisorSpecs := addSupervisorCmd.String("specializations", "", "Comma separated specializations.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *resetPasswordEmail == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword(resetPasswordCmd)
		if err != nil {
			return err
		}
		return cli.resetPassword(*resetPasswordEmail, pwd)

	case "createaccount":
		if err := createAccountCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *createAccountName == "" || *createAccountEmail == "" {
			createAccountCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword(createAccountCmd)
		if err != nil {
			return err
		}
		return cli.createAccount(account.NewAccount{
			Name:     *createAccountName,
			Email:    *createAccountEmail,
			Role:     *createAccountRole,
			Password: pwd,
		})

	case "importroster":
		if err := importRosterCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *importRosterFile == "" {
			importRosterCmd.Usage()
			return errHelp
		}
		return cli.importRoster(*importRosterFile)

	case "seedroster":
		return cli.seedRoster()

	case "addsupervisor":
		if err := addSupervisorCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addSupervisorFirst == "" || *addSupervisorLast == "" || *addSupervisorEmail == "" || *addSupervisorSpecs == "" {
			addSupervisorCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword(addSupervisorCmd)
		if err != nil {
			return err
		}
		return cli.addSupervisor(supervision.NewProfile{
			SupervisorID:    *addSupervisorID,
			FirstName:       *addSupervisorFirst,
			LastName:        *addSupervisorLast,
			Email:           *addSupervisorEmail,
			Specializations: strings.Split(*addSupervisorSpecs, ","),
			Password:        pwd,
		})

	default:
		cli.printUsage()
		return errHelp
	}
}
