package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/tender-watch/internal/archive"
	archivegcs "github.com/JakeFAU/tender-watch/internal/archive/gcs"
	archivelocal "github.com/JakeFAU/tender-watch/internal/archive/local"
	"github.com/JakeFAU/tender-watch/internal/clock/system"
	"github.com/JakeFAU/tender-watch/internal/config"
	"github.com/JakeFAU/tender-watch/internal/delivery"
	"github.com/JakeFAU/tender-watch/internal/events"
	eventsmemory "github.com/JakeFAU/tender-watch/internal/events/memory"
	eventspubsub "github.com/JakeFAU/tender-watch/internal/events/pubsub"
	collyfetcher "github.com/JakeFAU/tender-watch/internal/fetcher/colly"
	"github.com/JakeFAU/tender-watch/internal/fetcher/headless"
	"github.com/JakeFAU/tender-watch/internal/id/uuid"
	"github.com/JakeFAU/tender-watch/internal/keyword"
	"github.com/JakeFAU/tender-watch/internal/notify"
	"github.com/JakeFAU/tender-watch/internal/policy/ratelimit"
	"github.com/JakeFAU/tender-watch/internal/progress"
	"github.com/JakeFAU/tender-watch/internal/progress/sinks"
	"github.com/JakeFAU/tender-watch/internal/sources"
	"github.com/JakeFAU/tender-watch/internal/store"
	"github.com/JakeFAU/tender-watch/internal/store/memory"
	"github.com/JakeFAU/tender-watch/internal/store/postgres"
	"github.com/JakeFAU/tender-watch/internal/store/sqlite"
	"github.com/JakeFAU/tender-watch/internal/supervisor"
	"github.com/JakeFAU/tender-watch/internal/telemetry"
)

// New builds every service a run of opts.Purpose needs. Configuration
// problems are returned as *ConfigError; store problems as
// *tender.StoreError.
func New(ctx context.Context, cfg config.Config, opts Options, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.DryRun {
		cfg.General.DryRun = true
	}
	opts.DryRun = cfg.General.DryRun

	purpose := cfg.Purpose(opts.Purpose)
	if err := purpose.Validate(!opts.SkipEmail && !opts.DryRun); err != nil {
		return nil, configErr(fmt.Errorf("purpose %q: %w", opts.Purpose, err))
	}
	clock, err := system.NewIn(cfg.General.Timezone)
	if err != nil {
		return nil, configErr(err)
	}

	a := &App{
		cfg:      cfg,
		opts:     opts,
		purpose:  purpose,
		logger:   logger,
		clock:    clock,
		ids:      uuid.New(),
		registry: prometheus.NewRegistry(),
	}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	a.matcher, err = keyword.FromFiles(
		keyword.Sources{KeywordFile: purpose.KeywordFile, ExclusionFile: purpose.ExclusionFile},
		keyword.Options{
			Exclusions:    cfg.Keywords.Exclusions,
			Fields:        cfg.Keywords.MatchFields,
			CaseSensitive: cfg.Keywords.CaseSensitive,
		},
		logger.Named("keywords"),
	)
	if err != nil {
		return nil, configErr(err)
	}

	if opts.DryRun {
		logger.Info("dry run: in-memory store, log delivery, no pacing")
		a.store = memory.NewWithClock(clock.Now)
	} else if a.store, err = OpenStore(ctx, cfg, purpose, logger); err != nil {
		return nil, err
	}

	if err := a.buildUnits(); err != nil {
		return nil, configErr(err)
	}

	a.tracer, err = telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: "tenderwatch",
		Version:     opts.Version,
		Purpose:     purpose.Name,
		Enabled:     cfg.Telemetry.Tracing,
		Stdout:      cfg.Telemetry.Stdout,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	promSink, err := sinks.NewPrometheusSink(a.registry)
	if err != nil {
		return nil, fmt.Errorf("progress metrics: %w", err)
	}
	a.hub = progress.NewHub(progress.Config{Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("progress")), promSink)

	a.supervisor, err = supervisor.New(supervisor.Config{
		UnitTimeout:    cfg.Supervisor.UnitTimeout,
		PacingMin:      cfg.Supervisor.PacingMin,
		PacingMax:      cfg.Supervisor.PacingMax,
		Concurrency:    cfg.Supervisor.Concurrency,
		TerminateGrace: cfg.Supervisor.TerminateGrace,
	}, a.store, a.matcher,
		supervisor.WithLogger(logger.Named("supervisor")),
		supervisor.WithEmitter(a.hub),
		supervisor.WithClock(clock),
		supervisor.WithTracer(a.tracer.Tracer("github.com/JakeFAU/tender-watch/internal/supervisor")),
	)
	if err != nil {
		return nil, configErr(err)
	}

	if a.publisher, err = a.buildPublisher(ctx); err != nil {
		return nil, configErr(err)
	}
	if !opts.SkipEmail {
		if a.notifier, err = a.buildNotifier(ctx); err != nil {
			return nil, configErr(err)
		}
	}

	ok = true
	return a, nil
}

// OpenStore opens the configured backend for purpose.
func OpenStore(ctx context.Context, cfg config.Config, purpose config.Purpose, logger *zap.Logger) (store.Store, error) {
	switch strings.ToLower(cfg.Store.Driver) {
	case "postgres":
		pg := cfg.Store.Postgres
		st, err := postgres.Open(ctx, postgres.Config{
			DSN:             pg.DSN,
			MaxConns:        pg.MaxConns,
			MinConns:        pg.MinConns,
			MaxConnLifetime: pg.MaxConnLifetime,
			LockName:        "tenderwatch-" + strings.ToLower(purpose.Name),
			LockTTL:         pg.LockTTL,
			Migrate:         pg.Migrate,
		}, logger.Named("store"))
		if err != nil {
			return nil, err
		}
		return st, nil
	case "sqlite", "":
		clock, err := system.NewIn(cfg.General.Timezone)
		if err != nil {
			return nil, configErr(err)
		}
		st, err := sqlite.Open(purpose.DatabasePath, sqlite.WithLogger(logger.Named("store")), sqlite.WithClock(clock))
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, configErr(fmt.Errorf("unknown store driver %q", cfg.Store.Driver))
	}
}

func (a *App) buildUnits() error {
	cfg := a.cfg
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.HTTP.RequestsPerSecond,
		DefaultBurst: cfg.HTTP.Burst,
	})
	httpFetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:  cfg.HTTP.UserAgent,
		Timeout:    cfg.HTTP.Timeout,
		MaxRetries: cfg.HTTP.MaxRetries,
		RetryDelay: cfg.HTTP.RetryDelay,
	}, limiter, a.logger.Named("http"))

	deps := sources.Deps{HTTP: httpFetcher, Logger: a.logger.Named("sources")}
	if cfg.Headless.Enabled {
		deps.NewBrowser = func() (sources.Browser, error) {
			b, err := headless.NewChromedp(headless.Config{
				UserAgent:         cfg.HTTP.UserAgent,
				AcceptLanguage:    cfg.Headless.AcceptLanguage,
				NavigationTimeout: cfg.Headless.NavigationTimeout,
				ExecPath:          cfg.Headless.ExecPath,
				Settle:            cfg.Headless.Settle,
			}, a.logger.Named("headless"))
			if err != nil {
				return nil, err
			}
			return b, nil
		}
	}

	enabled := cfg.Sources.Enabled
	if len(a.opts.Sources) > 0 {
		enabled = a.opts.Sources
	}
	names := sources.Enabled(enabled, lower(cfg.Sources.Disabled))
	overrides := make(map[string]sources.Config, len(cfg.Sources.Overrides))
	for name, o := range cfg.Sources.Overrides {
		overrides[strings.ToLower(name)] = sources.Config{Name: name, URL: o.URL, Renderer: o.Renderer}
	}

	units, unknown, err := sources.Build(names, overrides, deps)
	if err != nil {
		return err
	}
	if len(unknown) > 0 {
		a.logger.Warn("unknown sources ignored", zap.Strings("unknown", unknown), zap.Strings("known", sources.Names()))
	}
	if len(units) == 0 {
		return errors.New("no known source is enabled")
	}
	a.units = units
	for _, u := range units {
		a.sources = append(a.sources, u.Name())
	}
	return nil
}

func (a *App) buildPublisher(ctx context.Context) (events.Publisher, error) {
	ec := a.cfg.Events
	provider := strings.ToLower(ec.Provider)
	if a.opts.DryRun && provider == events.ProviderPubSub {
		provider = events.ProviderMemory
	}
	switch provider {
	case events.ProviderNoop, "":
		return events.Noop{}, nil
	case events.ProviderMemory:
		return eventsmemory.New(), nil
	case events.ProviderPubSub:
		client, err := pubsub.NewClient(ctx, ec.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client: %w", err)
		}
		pub := eventspubsub.New(client.Topic(ec.TopicID))
		a.closers = append(a.closers, func() error {
			pub.Stop()
			return client.Close()
		})
		a.logger.Info("publishing run events", zap.String("topic", ec.TopicID))
		return pub, nil
	default:
		return nil, fmt.Errorf("unknown events provider %q", ec.Provider)
	}
}

func (a *App) buildArchive(ctx context.Context) (archive.Store, error) {
	ac := a.cfg.Archive
	if a.opts.DryRun {
		return archive.Noop{}, nil
	}
	switch strings.ToLower(ac.Provider) {
	case archive.ProviderNoop, "":
		return archive.Noop{}, nil
	case archive.ProviderLocal:
		return archivelocal.New(archivelocal.Config{BaseDir: ac.BaseDir})
	case archive.ProviderGCS:
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("storage client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		return archivegcs.New(client, archivegcs.Config{Bucket: ac.Bucket, Prefix: ac.Prefix})
	default:
		return nil, fmt.Errorf("unknown archive provider %q", ac.Provider)
	}
}

func (a *App) buildNotifier(ctx context.Context) (*notify.Notifier, error) {
	ec := a.cfg.Email

	var pe config.PurposeEmail
	if _, statErr := os.Stat(a.purpose.EmailFile); statErr == nil || !a.opts.DryRun {
		loaded, err := config.LoadPurposeEmail(a.purpose.EmailFile)
		if err != nil {
			return nil, err
		}
		pe = loaded
	}

	var provider delivery.Provider
	if a.opts.DryRun {
		provider = delivery.NewLogProvider(a.logger)
	} else {
		var err error
		provider, err = delivery.New(ctx, delivery.Config{
			Provider: ec.Provider,
			From:     ec.From,
			FromName: ec.FromName,
			SMTP: delivery.SMTPConfig{
				Host:       ec.SMTP.Host,
				Port:       ec.SMTP.Port,
				Username:   ec.SMTP.Username,
				Password:   ec.SMTP.Password,
				Attempts:   ec.SMTP.Attempts,
				RetryDelay: ec.SMTP.RetryDelay,
			},
			Brevo: delivery.BrevoConfig{
				APIKey:     ec.Brevo.APIKey,
				Endpoint:   ec.Brevo.Endpoint,
				Attempts:   ec.Brevo.Attempts,
				RetryDelay: ec.Brevo.RetryDelay,
			},
			Gmail: delivery.GmailConfig{
				CredentialsFile: ec.Gmail.CredentialsFile,
				Endpoint:        ec.Gmail.Endpoint,
			},
		}, a.logger)
		if err != nil {
			return nil, err
		}
	}

	arch, err := a.buildArchive(ctx)
	if err != nil {
		return nil, err
	}

	return notify.New(notify.Config{
		Purpose: a.purpose.Name,
		Recipients: delivery.Recipients{
			To:  pe.Recipients.To,
			Cc:  pe.Recipients.Cc,
			Bcc: pe.Recipients.Bcc,
		},
		SubjectTemplate: a.cfg.SubjectTemplate(pe),
		SendEmpty:       a.cfg.SendEmpty(pe),
		Footer:          ec.Footer,
		Location:        a.clock.Location(),
	}, notify.NewSelector(a.store, a.sources), provider, a.logger,
		notify.WithArchive(arch),
		notify.WithPublisher(a.publisher),
		notify.WithEmitter(a.hub),
	)
}

func lower(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToLower(strings.TrimSpace(s)))
	}
	return out
}
