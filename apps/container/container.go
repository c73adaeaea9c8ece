// Package container builds the application services by hand, the same way for every binary.
package container

import (
	"log"
	"os"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/hilcoe/rms/core"
	"github.com/hilcoe/rms/core/account"
	"github.com/hilcoe/rms/core/calendar"
	"github.com/hilcoe/rms/core/notification"
	"github.com/hilcoe/rms/core/roster"
	"github.com/hilcoe/rms/core/supervision"
	emailsvc "github.com/hilcoe/rms/services/email"
	logsvc "github.com/hilcoe/rms/services/logger"
	"github.com/hilcoe/rms/storage"
)

type Services struct {
	Validate   *validator.Validate
	Translator ut.Translator

	Accounts *account.Provisioner
	Roster   *roster.Service
	Arbiter  *supervision.Arbiter
	Bus      *notification.Bus
	Calendar *calendar.Aggregator // nil without a schedule store
}

func NewLogger(conf *core.Config, prefix string) *logsvc.RollbarLogger {
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, prefix+" : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)
	return logger
}

func NewEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug || conf.SendgridApiKey == "" {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func NewTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

// NewValidator returns a validator carrying every custom rule of the domain.
func NewValidator(translator ut.Translator) *validator.Validate {
	validate := validator.New()
	core.InitValidators(validate, translator)
	account.InitValidators(validate, translator)
	return validate
}

// NewServices wires the domain services on top of stores. broker may be nil.
func NewServices(conf *core.Config, logger core.Logger, stores *storage.Stores, mailSvc core.EmailService,
	broker notification.Broker) *Services {
	translator := NewTranslator()
	validate := NewValidator(translator)

	accounts := account.NewProvisioner(stores.Accounts, mailSvc, validate, conf)
	bus := notification.NewBus(stores.Notifications, broker, logger)

	svcs := &Services{
		Validate:   validate,
		Translator: translator,
		Accounts:   accounts,
		Roster:     roster.NewService(stores.Roster, stores.Tx, accounts, validate, conf),
		Arbiter:    supervision.NewArbiter(stores.Supervision, stores.Tx, accounts, bus, validate, logger, conf),
		Bus:        bus,
	}
	if stores.Schedule != nil {
		svcs.Calendar = calendar.NewAggregator(stores.Schedule, conf)
	}
	return svcs
}
