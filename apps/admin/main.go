package main

import (
	"context"
	"fmt"
	"os"

	"github.com/hilcoe/rms/apps/container"
	"github.com/hilcoe/rms/core"
	"github.com/hilcoe/rms/core/account"
	"github.com/hilcoe/rms/storage"
)

func main() {
	conf := core.NewConfig()
	logger := container.NewLogger(conf, "ADMIN")

	// the admin tool never touches the schedule
	stores, err := storage.Open(context.Background(), conf, logger, storage.Options{SkipSchedule: true})
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up storage: %v", err), err)
	}

	core.ParseEmailTemplates(logger)
	account.LoadCommonPasswords(logger)
	svcs := container.NewServices(conf, logger, stores, container.NewEmailService(conf, logger), nil)

	cli := newCommandLine(stores, svcs, os.Stdout)
	err = cli.run(os.Args)
	if cerr := stores.Close(); cerr != nil {
		logger.Error("Failed to close", cerr)
	}
	if err != nil {
		if err != errHelp {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}
