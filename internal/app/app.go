// Package app assembles the registration bot: storage, Telegram transport,
// notification dispatcher, workflow engine, background jobs and the ops endpoint.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/abjtutorial/tutorbot/core/bootstrap"
	coredatabase "github.com/abjtutorial/tutorbot/core/database"
	"github.com/abjtutorial/tutorbot/core/logger"
	"github.com/abjtutorial/tutorbot/core/metrics"
	tg "github.com/abjtutorial/tutorbot/core/telegram"
	"github.com/abjtutorial/tutorbot/core/telegram/state"
	"github.com/abjtutorial/tutorbot/internal/archive"
	"github.com/abjtutorial/tutorbot/internal/bot"
	"github.com/abjtutorial/tutorbot/internal/config"
	"github.com/abjtutorial/tutorbot/internal/events"
	"github.com/abjtutorial/tutorbot/internal/jobs"
	"github.com/abjtutorial/tutorbot/internal/notify"
	"github.com/abjtutorial/tutorbot/internal/ops"
	"github.com/abjtutorial/tutorbot/internal/service"
	"github.com/abjtutorial/tutorbot/internal/store"
	"github.com/abjtutorial/tutorbot/internal/store/memory"
	"github.com/abjtutorial/tutorbot/internal/store/postgres"
	redisstore "github.com/abjtutorial/tutorbot/internal/store/redis"
	"github.com/abjtutorial/tutorbot/migrations"
)

// App owns every long-lived component of the bot process.
type App struct {
	cfg      *config.AppConfig
	metrics  *metrics.Metrics
	store    store.Store
	bot      *tele.Bot
	notify   *notify.Dispatcher
	events   *events.Publisher
	engine   *service.Engine
	handlers *bot.Handlers
	registry *tg.Registry
	jobs     *jobs.Scheduler
	ops      *ops.Server
}

// New bootstraps the infrastructure and wires the application.
func New(ctx context.Context, cfg *config.AppConfig) (*App, error) {
	return build(ctx, cfg, tg.BotOptions{})
}

func build(ctx context.Context, cfg *config.AppConfig, botOpts tg.BotOptions) (a *App, err error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	a = &App{cfg: cfg, metrics: metrics.New(), registry: tg.NewRegistry()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	bootOpts := bootstrap.Options{Config: cfg.CoreConfig()}
	if cfg.Storage.Driver == config.DriverPostgres {
		dbCfg := cfg.Database
		bootOpts.Database = &dbCfg
		bootOpts.Migrations = migrations.FS
	}
	res, err := bootstrap.Run(ctx, bootOpts)
	if err != nil {
		return nil, err
	}

	if a.store, err = openStore(ctx, cfg, res); err != nil {
		return nil, err
	}

	botOpts.Config = cfg.CoreConfig()
	botOpts.AllowedUpdates = tg.DefaultAllowedUpdates
	botOpts.HTTP.Timeout = cfg.Notify.Timeout + time.Duration(cfg.Telegram.LongPollTimeoutSeconds)*time.Second
	// handlers do not exist yet; the closure reads the field at call time
	botOpts.OnError = func(err error, c tele.Context) {
		if a.handlers != nil {
			a.handlers.OnError(err, c)
			return
		}
		logger.TG.Error("update failed", slog.String("event", "update.failed"), slog.String("err", err.Error()))
	}
	if a.bot, err = tg.NewBot(botOpts); err != nil {
		return nil, err
	}
	adapter := bot.NewAdapter(a.bot)

	a.notify = notify.New(adapter, cfg.Notify, notify.WithMetrics(a.metrics))

	engineOpts := []service.Option{
		service.WithMetrics(a.metrics),
		service.WithSessions(state.NewManager()),
	}
	checks := map[string]ops.Check{"store": a.store.Ping}

	if cfg.Archive.Enabled {
		bucket, err := archive.NewMinio(cfg.Archive)
		if err != nil {
			return nil, fmt.Errorf("app: archive: %w", err)
		}
		if err := bucket.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("app: archive bucket: %w", err)
		}
		engineOpts = append(engineOpts, service.WithArchiver(archive.New(bucket, adapter)))
		checks["archive"] = bucket.Ping
	}
	if cfg.Events.Enabled {
		if a.events, err = events.Dial(cfg.Events); err != nil {
			return nil, fmt.Errorf("app: events: %w", err)
		}
		engineOpts = append(engineOpts, service.WithPublisher(a.events))
	}

	a.engine = service.New(engineConfig(cfg), a.store, a.notify, adapter, engineOpts...)
	a.handlers = bot.NewHandlers(a.engine)
	if err := a.handlers.Register(a.registry); err != nil {
		return nil, fmt.Errorf("app: register handlers: %w", err)
	}

	if a.jobs, err = jobs.New(cfg.Jobs, a.engine, a.metrics); err != nil {
		return nil, err
	}
	if cfg.Ops.Listen != "" {
		a.ops = ops.New(cfg.Ops.Listen, a.metrics, checks)
	}
	return a, nil
}

func engineConfig(cfg *config.AppConfig) service.Config {
	return service.Config{
		AdminIDs:        cfg.Telegram.AdminIDs,
		MainChannelID:   cfg.Channels.MainID,
		LogChannelID:    cfg.Channels.LogID,
		Contact:         service.Contact{Username: cfg.Contact.Username, Phone: cfg.Contact.Phone},
		PaymentMethods:  cfg.PaymentMethods,
		PaymentIDPrefix: cfg.Payment.IDPrefix,
	}
}

// openStore selects the backend. The postgres store takes ownership of the
// pool opened by bootstrap.
func openStore(ctx context.Context, cfg *config.AppConfig, res *bootstrap.Result) (store.Store, error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		if res == nil || res.DB == nil {
			return nil, errors.New("app: postgres driver selected but no database connection")
		}
		return postgres.New(res.DB), nil
	case config.DriverRedis:
		rdb, err := redisstore.Connect(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return redisstore.New(rdb, cfg.Redis.Prefix), nil
	case config.DriverMemory, "":
		logger.Store.Warn("memory store selected; data is lost on restart",
			slog.String("event", "store.open"),
			slog.String("driver", config.DriverMemory),
		)
		return memory.New(), nil
	}
	return nil, fmt.Errorf("app: unknown storage driver %q", cfg.Storage.Driver)
}

// TelegramRunOptions describes how core/telegram runs the bot.
func (a *App) TelegramRunOptions() (tg.RunOptions, error) {
	coreCfg := a.cfg.CoreConfig()
	mws := tg.DefaultMiddlewares(coreCfg, a.metrics, a.handlers.OnLimited)
	mws = append(mws, tg.Middleware{Name: "session", Use: state.WithSession(a.engine.Sessions())})

	return tg.RunOptions{
		Config:      coreCfg,
		Bot:         a.bot,
		Registry:    a.registry,
		Middlewares: mws,
		Routes:      a.handlers.Routes(a.registry),
		OnStart:     a.onStart,
		OnStop:      a.onStop,
	}, nil
}

func (a *App) onStart(_ context.Context, _ tg.Runtime) error {
	a.jobs.Start()
	if a.ops != nil {
		go func() {
			if err := a.ops.Start(); err != nil {
				logger.Ops.Error("ops server stopped",
					slog.String("event", "ops.stop"),
					slog.String("err", err.Error()),
				)
			}
		}()
	}
	return nil
}

func (a *App) onStop(ctx context.Context, _ tg.Runtime) error {
	a.jobs.Stop()
	if a.ops != nil {
		return a.ops.Shutdown(ctx)
	}
	return nil
}

// Close releases the dispatcher, the event publisher and the store.
func (a *App) Close() error {
	var errs []error
	if a.notify != nil {
		a.notify.Close()
	}
	if a.events != nil {
		errs = append(errs, a.events.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}

// MigrateUp applies the embedded schema to the configured database.
func MigrateUp(ctx context.Context, cfg coredatabase.Config) error {
	return coredatabase.RunMigrations(ctx, cfg, migrations.FS)
}
