package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/blockedby/tgsaver/internal/collector"
	"github.com/blockedby/tgsaver/internal/config"
	"github.com/blockedby/tgsaver/internal/database"
	"github.com/blockedby/tgsaver/internal/events"
	"github.com/blockedby/tgsaver/internal/export"
	"github.com/blockedby/tgsaver/internal/fetcher"
	"github.com/blockedby/tgsaver/internal/logger"
	"github.com/blockedby/tgsaver/internal/publisher"
	"github.com/blockedby/tgsaver/internal/queue"
	"github.com/blockedby/tgsaver/internal/repository"
	"github.com/blockedby/tgsaver/internal/stats"
	"github.com/blockedby/tgsaver/internal/storage"
	"github.com/blockedby/tgsaver/internal/telegram"
	"github.com/blockedby/tgsaver/internal/walker"
)

// errNoSession is returned when a command needs telegram and nobody logged in.
var errNoSession = errors.New("no telegram session: run tg-auth or set TG_SESSION_STRING")

// app holds everything a command may need. Fields are filled by open.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	db      *database.DB
	history *repository.HistoryRepository
	store   *storage.Store
	stats   *stats.Tracker
	bus     *events.Bus

	// set when opened with telegram
	tg      *telegram.Manager
	limiter *telegram.RateLimiter
	client  *telegram.Client
	queue   *queue.Manager
	service *collector.Service
	nats    *publisher.Client
}

// openLocal opens the database and the downloads folder; nothing remote.
func openLocal(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, log: logger.Get().With("app"), bus: events.NewBus()}

	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.db = db

	a.history = repository.NewHistoryRepository(db.GORM)
	if err := a.history.Migrate(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate history: %w", err)
	}

	store, err := storage.New(cfg.DownloadsDir)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = store

	a.stats = stats.New()
	if err := a.stats.Rescan(store.Root()); err != nil {
		a.log.Warn().Err(err).Msg("app: stats rescan failed")
	}
	return a, nil
}

// open builds the whole engine. With requireReady the telegram session must
// be usable; serve starts without one so the QR login can run over HTTP.
func open(ctx context.Context, cfg *config.Config, requireReady bool) (*app, error) {
	if cfg.TGApiID == 0 || cfg.TGApiHash == "" {
		return nil, errors.New("TG_API_ID and TG_API_HASH are required")
	}

	a, err := openLocal(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a.tg = telegram.NewManager(cfg, a.db.GORM)
	if err := a.tg.Init(ctx); err != nil {
		a.log.Error().Err(err).Msg("app: telegram manager init failed")
	}
	if requireReady && a.tg.GetStatus() != telegram.StatusReady {
		a.Close()
		return nil, errNoSession
	}
	a.limiter = telegram.RateLimiterFromConfig(cfg)
	a.client = telegram.NewClient(a.tg, a.limiter)

	f := fetcher.New(a.client, fetcher.PolicyFromConfig(cfg))

	a.queue = queue.New(f, a.store,
		queue.WithRecorder(a.stats),
		queue.WithHistory(a.history),
		queue.WithEvents(a.bus),
	)
	w := walker.New(f,
		walker.WithWorkers(cfg.RangeWorkers),
		walker.WithMaxRange(cfg.MaxRange),
		walker.WithEvents(a.bus),
	)
	exportOpts := []export.Option{
		export.WithMediaWorkers(cfg.MediaWorkers),
		export.WithRecorder(a.stats),
		export.WithHistory(a.history),
		export.WithEvents(a.bus),
	}
	if cfg.ExportPDF {
		exportOpts = append(exportOpts, export.WithPDF(export.NewPDFRenderer()))
	}

	a.service = collector.NewService(collector.Deps{
		Queue:    a.queue,
		Walker:   w,
		Exporter: export.New(f, a.store, exportOpts...),
		Stats:    a.stats,
		History:  a.history,
		Status:   a.tg,
		Workers:  cfg.DownloadWorkers,
	})

	a.connectNATS(ctx)
	return a, nil
}

// connectNATS forwards bus events to jetstream when NATS_URL is set.
// A broken broker only disables forwarding.
func (a *app) connectNATS(ctx context.Context) {
	if a.cfg.NatsURL == "" {
		return
	}
	nc, err := publisher.Connect(ctx, a.cfg.NatsURL)
	if err != nil {
		a.log.Warn().Err(err).Msg("app: failed to connect to nats, publishing disabled")
		return
	}
	if err := nc.EnsureStream(ctx); err != nil {
		a.log.Warn().Err(err).Msg("app: failed to create event stream, publishing disabled")
		nc.Close()
		return
	}
	a.nats = nc
	go publisher.NewNATSPublisher(nc).Forward(ctx, a.bus, a.cfg.EventBuffer)
}

// Close releases connections in reverse order.
func (a *app) Close() {
	if a.nats != nil {
		a.nats.Close()
	}
	if a.client != nil {
		a.client.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn().Err(err).Msg("app: close database")
		}
	}
}
