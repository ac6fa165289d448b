package app

import (
	"context"
	"fmt"
	"time"

	"github.com/civicworks/grantflow/internal/app/events"
	"github.com/civicworks/grantflow/internal/app/messaging"
	"github.com/civicworks/grantflow/internal/app/services/accounts"
	applicationsvc "github.com/civicworks/grantflow/internal/app/services/applications"
	fundsvc "github.com/civicworks/grantflow/internal/app/services/funds"
	"github.com/civicworks/grantflow/internal/app/services/notifications"
	projectsvc "github.com/civicworks/grantflow/internal/app/services/projects"
	validationsvc "github.com/civicworks/grantflow/internal/app/services/validation"
	"github.com/civicworks/grantflow/internal/app/storage"
	"github.com/civicworks/grantflow/internal/app/storage/memory"
	"github.com/civicworks/grantflow/internal/app/system"
	"github.com/civicworks/grantflow/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Users        storage.UserStore
	Validations  storage.ValidationStore
	Projects     storage.ProjectStore
	Funds        storage.FundStore
	Applications storage.ApplicationStore
}

// Options tunes the application's behavior beyond its stores.
type Options struct {
	TokenTTL              time.Duration
	PurgeSchedule         string
	AnonymizedEmailDomain string
	MailAttempts          int
	Mailer                notifications.Mailer
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Events *events.Dispatcher
	Bus    *messaging.InProcessBus

	Accounts     *accounts.Service
	Validation   *validationsvc.Service
	Projects     *projectsvc.Service
	Funds        *fundsvc.Service
	Applications *applicationsvc.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Users == nil {
		stores.Users = mem
	}
	if stores.Validations == nil {
		stores.Validations = mem
	}
	if stores.Projects == nil {
		stores.Projects = mem
	}
	if stores.Funds == nil {
		stores.Funds = mem
	}
	if stores.Applications == nil {
		stores.Applications = mem
	}
	if opts.Mailer == nil {
		log.Warn("no mailer configured; outbound mail goes to the log")
		opts.Mailer = notifications.NewLogMailer(log)
	}

	manager := system.NewManager()
	dispatcher := events.NewDispatcher(log)
	bus := messaging.NewInProcessBus(256, log)

	validationService := validationsvc.New(stores.Users, stores.Validations, dispatcher, opts.TokenTTL, log)
	purger := validationsvc.NewPurger(stores.Validations, dispatcher, opts.PurgeSchedule, log)

	notifier := notifications.NewDispatcher(stores.Users, validationService, opts.Mailer, opts.TokenTTL, opts.MailAttempts, log)
	notifier.Register(bus)

	accountService := accounts.New(stores.Users, stores.Validations, stores.Projects, bus, opts.AnonymizedEmailDomain, log)
	accountService.RegisterSubscribers(dispatcher, bus)

	projectService := projectsvc.New(stores.Users, stores.Projects, log)
	fundService := fundsvc.New(stores.Users, stores.Funds, log)
	applicationService := applicationsvc.New(stores.Users, stores.Funds, stores.Projects, stores.Applications, log)

	for _, svc := range []system.Service{bus, purger} {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	return &Application{
		manager:      manager,
		log:          log,
		Events:       dispatcher,
		Bus:          bus,
		Accounts:     accountService,
		Validation:   validationService,
		Projects:     projectService,
		Funds:        fundService,
		Applications: applicationService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
