package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	auth "github.com/evprediag/go-station-auth"
	"github.com/evprediag/go-station-auth/activitymap"
	"github.com/evprediag/go-station-auth/config"
	"github.com/evprediag/go-station-auth/httpapi"
	"github.com/evprediag/go-station-auth/middleware/routeguard"
	"github.com/evprediag/go-station-auth/provider/local"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/csrf"
	"github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-print"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/extra/bundebug"
)

type App struct {
	config *config.Config
	logger *glog.BaseLogger
	db     *bun.DB
	ready  atomic.Bool
}

func (a *App) GetLogger(name string) glog.Logger {
	return a.logger.GetLogger(name)
}

func main() {
	configPath := flag.String("config", os.Getenv("STATIONAUTH_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var lgr *glog.BaseLogger
	if cfg.Logger.Debug {
		lgr = glog.NewLogger(
			glog.WithLoggerTypePretty(),
			glog.WithLevel(glog.Trace),
			glog.WithName("stationauth"),
			glog.WithAddSource(false),
			glog.WithRichErrorHandler(errors.ToSlogAttributes),
		)
	} else {
		lgr = glog.NewLogger(
			glog.WithLoggerTypePretty(),
			glog.WithName("stationauth"),
			glog.WithAddSource(false),
			glog.WithRichErrorHandler(errors.ToSlogAttributes),
		)
	}

	fmt.Println("============")
	fmt.Println(print.MaybeHighlightJSON(cfg))
	fmt.Println("============")

	app := &App{config: cfg, logger: lgr}

	if err := WithPersistence(app); err != nil {
		lgr.Error("persistence setup failed", "error", err)
		os.Exit(1)
	}
	defer app.db.Close()

	srv := WithHTTPServer(app)

	go func() {
		if err := srv.Listen(cfg.Server.Addr); err != nil {
			lgr.Error("http server stopped", "error", err)
		}
	}()

	sig := WaitExitSignal()
	lgr.Info("shutting down", "signal", sig.String())
	app.ready.Store(false)

	if err := srv.ShutdownWithTimeout(cfg.Server.GetShutdownTimeout()); err != nil {
		lgr.Error("http shutdown failed", "error", err)
	}
}

func WithPersistence(app *App) error {
	cfg := app.config.Database

	if cfg.Migrate {
		if err := auth.RunMigrations(cfg.DSN, app.GetLogger("migrations")); err != nil {
			return err
		}
	}

	sqldb, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return err
	}

	db := bun.NewDB(sqldb, pgdialect.New())
	if cfg.Debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return err
	}

	app.db = db
	app.ready.Store(true)
	return nil
}

func WithHTTPServer(app *App) *fiber.App {
	cfg := app.config

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := auth.NewMetrics(reg)

	stations := auth.NewCachedStations(
		auth.NewStationsRepository(app.db),
		cfg.Cache.StationSize,
		cfg.Cache.GetStationTTL(),
		metrics,
	)
	repo := auth.NewRepositoryManager(app.db, auth.WithStationStore(stations))

	activity := activitymap.NewBunSink(app.db)
	featureGate := cfg.Features.Gate()

	revocations := local.NewRevocationsRepository(app.db)
	if n, err := revocations.Purge(context.Background(), time.Now()); err != nil {
		app.GetLogger("identity").Warn("revoked session purge failed", "error", err)
	} else if n > 0 {
		app.GetLogger("identity").Info("purged expired session revocations", "count", n)
	}

	provider := local.NewProvider(
		local.NewAccountsRepository(app.db),
		[]byte(cfg.Identity.SigningKey),
		local.WithIssuer(cfg.Identity.Issuer),
		local.WithSessionTTL(cfg.Identity.GetTokenTTL()),
		local.WithBcryptCost(cfg.Identity.BcryptCost),
		local.WithEmailConfirmation(cfg.Identity.RequireConfirmation),
		local.WithHashedIDs(cfg.Identity.HashedIDs),
		local.WithRevocations(revocations),
		local.WithLogger(app.GetLogger("identity")),
	)

	workflow := auth.NewApprovalWorkflow(repo, provider,
		auth.WithApprovalLogger(app.GetLogger("approval")),
		auth.WithApprovalMetrics(metrics),
		auth.WithApprovalActivitySink(activity),
	)

	submissions := auth.NewSubmitRegistrationHandler(repo).
		WithFeatureGate(featureGate).
		WithActivitySink(activity).
		WithLogger(app.GetLogger("registrations"))

	limiterCfg := httpapi.DefaultRateLimiterConfig()
	limiterCfg.PerMinute = float64(cfg.Server.RegistrationPerMinute)
	limiterCfg.Burst = cfg.Server.RegistrationBurst

	ctrl := httpapi.NewController(httpapi.Config{
		Clients:     func() auth.IdentityProvider { return provider.NewClient() },
		Repo:        repo,
		Workflow:    workflow,
		Submissions: submissions,
		Stations:    stations,
		SessionOptions: []auth.SessionManagerOption{
			auth.WithSessionLogger(app.GetLogger("session")),
			auth.WithSessionMetrics(metrics),
			auth.WithSessionActivitySink(activity),
			auth.WithSessionFeatureGate(featureGate),
		},
		RateLimiter:  httpapi.NewRateLimiter(limiterCfg),
		Logger:       app.GetLogger("http"),
		CookieName:   cfg.Guard.CookieName,
		CookieSecure: cfg.Server.CookieSecure,
	})

	guard := routeguard.New(routeguard.Config{
		Sessions:   provider,
		Roles:      repo.Roles(),
		Routes:     cfg.Guard.RouteTable(),
		Ready:      app.ready.Load,
		SignInPath: cfg.Guard.SignInPath,
		CookieName: cfg.Guard.CookieName,
		Logger:     app.GetLogger("guard"),
		Metrics:    metrics,
	})

	srv := fiber.New(fiber.Config{
		AppName:               "stationauth",
		DisableStartupMessage: true,
	})

	srv.Get("/healthz", func(c *fiber.Ctx) error {
		if !app.ready.Load() {
			return c.SendStatus(fiber.StatusServiceUnavailable)
		}
		return c.SendString("ok")
	})
	srv.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	// Only cookie sessions carry ambient credentials; bearer callers and
	// anonymous requests skip the check.
	srv.Use(csrf.New(csrf.Config{
		KeyLookup:      "header:" + csrf.HeaderName,
		CookieName:     "station_csrf",
		CookieSameSite: "Strict",
		CookieSecure:   cfg.Server.CookieSecure,
		Next: func(c *fiber.Ctx) bool {
			return c.Get(fiber.HeaderAuthorization) != "" || c.Cookies(cfg.Guard.CookieName) == ""
		},
	}))

	ctrl.Register(srv, guard)
	return srv
}

func WaitExitSignal() os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return <-ch
}
