package main

import (
	"context"
	"expvar"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/go-playground/validator/v10"

	echoapi "github.com/gruppenschlau/gruppenschlau/apps/api/echo"
	"github.com/gruppenschlau/gruppenschlau/core"
	"github.com/gruppenschlau/gruppenschlau/core/availability"
	"github.com/gruppenschlau/gruppenschlau/core/group"
	"github.com/gruppenschlau/gruppenschlau/core/matching"
	"github.com/gruppenschlau/gruppenschlau/core/notification"
	"github.com/gruppenschlau/gruppenschlau/core/profile"
	cachesvc "github.com/gruppenschlau/gruppenschlau/services/cache"
	emailsvc "github.com/gruppenschlau/gruppenschlau/services/email"
	logsvc "github.com/gruppenschlau/gruppenschlau/services/logger"
	metricsvc "github.com/gruppenschlau/gruppenschlau/services/metrics"
	"github.com/gruppenschlau/gruppenschlau/storage"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up loggers
	zl, err := logsvc.NewZapLogger(conf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setting up zap: %v\n", err)
		os.Exit(1)
	}
	logger := logsvc.NewRollbarLogger(zl.Named("api"), conf)
	defer func() { _ = logger.Sync() }()

	dbLogger := logsvc.NewRollbarLogger(zl.Named("db"), conf)

	// set up storage
	repos, err := storage.Open(conf, true)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up storage: %v", err), err)
	}
	defer func() {
		if err = repos.Close(); err != nil {
			dbLogger.Error("Failed to close", err)
		}
	}()

	// set up cache & metrics
	recorder := metricsvc.NewRecorder()
	cache, closeCache := setUpCache(conf, logger)
	defer closeCache()
	readCache := core.NewReadCache(cache, conf.Cache.TTL, logger, recorder)

	// set up services
	var mailSvc core.EmailService
	if conf.Debug || conf.SendgridApiKey == "" {
		mailSvc = emailsvc.NewConsoleService(conf)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf)
	}

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	profile.InitValidators(validate, translator)
	availability.InitValidators(validate, translator)

	core.ParseEmailTemplates(conf, logger)

	profile.LoadCommonPasswords(logger)

	profileSvc := profile.NewService(repos.Profiles, validate, readCache, logger)
	availabilitySvc := availability.NewService(repos.Availabilities, validate, readCache)
	dispatcher := notification.NewDispatcher(repos.Notifications, mailSvc, conf, logger, recorder)
	notificationSvc := notification.NewService(repos.Notifications, dispatcher)
	groupSvc := group.NewService(group.ServiceDeps{
		Repo:           repos.Groups,
		Profiles:       repos.Profiles,
		Availabilities: repos.Availabilities,
		Dispatcher:     dispatcher,
		Cache:          readCache,
		Logger:         logger,
		Metrics:        recorder,
	})
	matchingSvc := matching.NewService(matching.ServiceDeps{
		Repo:           repos.Matching,
		Profiles:       repos.Profiles,
		Availabilities: repos.Availabilities,
		Engine:         matching.Engine{MinGroupSize: conf.Matching.MinGroupSize, MaxGroupSize: conf.Matching.MaxGroupSize},
		Cache:          readCache,
		Logger:         logger,
	})

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)
	expvar.NewString("storage").Set(conf.Storage)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start Notification Worker

	worker := notification.NewWorker(notificationSvc, logger, conf.Notification.RetryInterval, conf.Notification.MaxAttempts)
	worker.Start()
	defer worker.Stop()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:            conf,
			Logger:          logger,
			Validate:        validate,
			Translator:      translator,
			Metrics:         recorder.Handler(),
			ProfileSvc:      profileSvc,
			AvailabilitySvc: availabilitySvc,
			GroupSvc:        groupSvc,
			MatchingSvc:     matchingSvc,
			NotificationSvc: notificationSvc,
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Error(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Error(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

// setUpCache returns the configured read cache backend. An unreachable redis falls back to the in-memory cache.
func setUpCache(conf *core.Config, logger core.Logger) (core.Cache, func()) {
	if conf.Cache.Backend != core.CacheRedis {
		return cachesvc.NewInmemCache(), func() {}
	}

	rc := cachesvc.NewRedisCache(conf.Cache)
	ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
	defer cancel()
	if err := rc.Ping(ctx); err != nil {
		logger.Error("redis unreachable, using the in-memory cache", err)
		_ = rc.Close()
		return cachesvc.NewInmemCache(), func() {}
	}
	return rc, func() {
		if err := rc.Close(); err != nil {
			logger.Error("closing redis", err)
		}
	}
}
