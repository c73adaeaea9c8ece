package main

import (
	"context"
	"expvar"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	_ "time/tzdata"

	echoapi "github.com/hilcoe/rms/apps/api/echo"
	"github.com/hilcoe/rms/apps/container"
	"github.com/hilcoe/rms/core"
	"github.com/hilcoe/rms/core/account"
	"github.com/hilcoe/rms/core/notification"
	metricsvc "github.com/hilcoe/rms/services/metrics"
	"github.com/hilcoe/rms/services/pubsub"
	"github.com/hilcoe/rms/storage"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up loggers
	logger := container.NewLogger(conf, "API")
	dbLogger := container.NewLogger(conf, "DB")

	// set up stores
	stores, err := storage.Open(context.Background(), conf, dbLogger, storage.Options{Migrate: true})
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up storage: %v", err), err)
	}
	defer func() {
		if err = stores.Close(); err != nil {
			dbLogger.Error("Failed to close", err)
		}
	}()

	// cross-instance push fan-out
	var broker notification.Broker
	if conf.Redis.Addr != "" {
		rb, err := pubsub.Connect(conf, logger)
		if err != nil {
			logger.Fatal(fmt.Sprintf("setting up redis: %v", err), err)
		}
		//goland:noinspection GoUnhandledErrorResult
		defer rb.Close()
		broker = rb
	}

	// set up services
	mailSvc := container.NewEmailService(conf, logger)
	svcs := container.NewServices(conf, logger, stores, mailSvc, broker)
	metrics := metricsvc.New()
	svcs.Bus.SetObserver(metrics)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	core.ParseEmailTemplates(logger)
	account.LoadCommonPasswords(logger)

	ctx, stopBus := context.WithCancel(context.Background())
	defer stopBus()
	go func() {
		if err := svcs.Bus.Run(ctx); err != nil {
			logger.Error(fmt.Sprintf("notification relay stopped: %v", err), err)
		}
	}()

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(echoapi.ServerDeps{
		Conf:       conf,
		Logger:     logger,
		Validate:   svcs.Validate,
		Translator: svcs.Translator,
		Accounts:   svcs.Accounts,
		Roster:     svcs.Roster,
		Arbiter:    svcs.Arbiter,
		Bus:        svcs.Bus,
		Calendar:   svcs.Calendar,
		Metrics:    metrics,
	})

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))
		stopBus()

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}
