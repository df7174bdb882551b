package main

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/gruppenschlau/gruppenschlau/core"
	"github.com/gruppenschlau/gruppenschlau/core/availability"
	"github.com/gruppenschlau/gruppenschlau/core/matching"
	"github.com/gruppenschlau/gruppenschlau/core/notification"
	"github.com/gruppenschlau/gruppenschlau/core/profile"
	cachesvc "github.com/gruppenschlau/gruppenschlau/services/cache"
	emailsvc "github.com/gruppenschlau/gruppenschlau/services/email"
	logsvc "github.com/gruppenschlau/gruppenschlau/services/logger"
	"github.com/gruppenschlau/gruppenschlau/storage"
)

func main() {
	conf := core.NewConfig()

	zl, err := logsvc.NewZapLogger(conf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setting up zap: %v\n", err)
		os.Exit(1)
	}
	logger := logsvc.NewRollbarLogger(zl.Named("admin"), conf)

	// set up storage; migrations are run explicitly through `migrate`
	repos, err := storage.Open(conf, false)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up storage: %v", err), err)
	}

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	profile.InitValidators(validate, translator)
	availability.InitValidators(validate, translator)
	core.ParseEmailTemplates(conf, logger)
	profile.LoadCommonPasswords(logger)

	// a shared redis cache lets CLI writes invalidate the API's views
	var readCache *core.ReadCache
	if conf.Cache.Backend == core.CacheRedis {
		rc := cachesvc.NewRedisCache(conf.Cache)
		defer func() { _ = rc.Close() }()
		readCache = core.NewReadCache(rc, conf.Cache.TTL, logger, nil)
	}

	var mailSvc core.EmailService
	if conf.Debug || conf.SendgridApiKey == "" {
		mailSvc = emailsvc.NewConsoleService(conf)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf)
	}
	dispatcher := notification.NewDispatcher(repos.Notifications, mailSvc, conf, logger, core.NopMetrics)

	// start CLI
	cli := commandLine{
		conf:        conf,
		profileRepo: repos.Profiles,
		profileSvc:  profile.NewService(repos.Profiles, validate, readCache, logger),
		matchingSvc: matching.NewService(matching.ServiceDeps{
			Repo:           repos.Matching,
			Profiles:       repos.Profiles,
			Availabilities: repos.Availabilities,
			Engine:         matching.Engine{MinGroupSize: conf.Matching.MinGroupSize, MaxGroupSize: conf.Matching.MaxGroupSize},
			Cache:          readCache,
			Logger:         logger,
		}),
		notificationSvc: notification.NewService(repos.Notifications, dispatcher),
		out:             os.Stdout,
	}
	if db := repos.DB(); db != nil {
		cli.db = db.DB
	}

	if err = run(&cli, repos); err != nil {
		if err != errHelp {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}

func run(cli *commandLine, repos *storage.Repositories) error {
	defer func() { _ = repos.Close() }()
	return cli.run(os.Args)
}
