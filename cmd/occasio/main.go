package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	migrations "github.com/occasio/occasio/db"
	"github.com/occasio/occasio/internal/assistant"
	"github.com/occasio/occasio/internal/broadcast"
	"github.com/occasio/occasio/internal/config"
	"github.com/occasio/occasio/internal/conversation"
	"github.com/occasio/occasio/internal/db"
	"github.com/occasio/occasio/internal/handlers"
	"github.com/occasio/occasio/internal/listing"
	"github.com/occasio/occasio/internal/logger"
	"github.com/occasio/occasio/internal/message"
	"github.com/occasio/occasio/internal/message/event"
	"github.com/occasio/occasio/internal/offer"
	"github.com/occasio/occasio/internal/pipeline"
	"github.com/occasio/occasio/internal/server"
	"github.com/occasio/occasio/internal/transport"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
			os.Exit(1)
		}
		return
	}

	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBConn,

			event.NewHub,
			func(hub *event.Hub) event.Publisher { return hub },
			func(hub *event.Hub) event.Subscriber { return hub },
			provideBroadcast,

			conversation.NewStore,
			message.NewStore,
			message.NewService,
			offer.NewStore,
			listing.NewStore,
			assistant.NewService,
			provideResponder,
			provideTransportClient,
			providePipeline,
			provideSweeper,

			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(handlers.NewConversationHandler),
			provideServerHandler(provideMessageHandler),
			provideServerHandler(handlers.NewAssistantHandler),
			provideServerHandler(handlers.NewListingHandler),
			provideServerHandler(provideTransportHandler),
			provideServerHandler(handlers.NewEventsHandler),
			provideServerHandler(handlers.NewMaintenanceHandler),

			provideServer,
		),
		fx.Invoke(
			loadAssistantSettings,
			startBroadcastRelay,
			startSweeper,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func runMigrate(args []string) error {
	cfg, err := provideConfig()
	if err != nil {
		return err
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	command := "up"
	if len(args) > 0 {
		command = args[0]
		args = args[1:]
	}
	sub, err := fs.Sub(migrations.MigrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrations fs: %w", err)
	}
	return db.RunMigrate(logger.L, cfg.Postgres, sub, command, args)
}

func provideConfig() (config.Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			conn.Close()
			return nil
		},
	})
	return conn, nil
}

func provideBroadcast(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (broadcast.Publisher, error) {
	publisher, err := broadcast.New(log, cfg.Rabbit)
	if err != nil {
		return nil, fmt.Errorf("broadcast connect: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return publisher.Close()
		},
	})
	return publisher, nil
}

// unconfiguredResponder is used when no assistant endpoint is configured.
// The pipeline falls back to its canned reply when Reply errors.
type unconfiguredResponder struct{}

func (unconfiguredResponder) Reply(context.Context, string, []assistant.Turn) (string, error) {
	return "", errors.New("assistant endpoint not configured")
}

func provideResponder(log *slog.Logger, cfg config.Config) (pipeline.Responder, error) {
	if cfg.Assistant.BaseURL == "" {
		log.Warn("assistant endpoint not configured, replies will use the fallback text")
		return unconfiguredResponder{}, nil
	}
	timeout := time.Duration(cfg.Assistant.TimeoutSeconds) * time.Second
	client, err := assistant.NewClient(log, cfg.Assistant.BaseURL, cfg.Assistant.APIKey, cfg.Assistant.Model, timeout)
	if err != nil {
		return nil, fmt.Errorf("assistant client: %w", err)
	}
	return client, nil
}

func provideTransportClient(log *slog.Logger, cfg config.Config) *transport.Client {
	return transport.NewClient(log, cfg.Transport)
}

func providePipeline(
	log *slog.Logger,
	cfg config.Config,
	conversations *conversation.Store,
	messages *message.Store,
	saver *message.Service,
	offers *offer.Store,
	listings *listing.Store,
	settings *assistant.Service,
	responder pipeline.Responder,
	bridge *transport.Client,
	hub event.Publisher,
) *pipeline.Pipeline {
	return pipeline.New(log, pipeline.Options{
		Conversations: conversations,
		Messages:      messages,
		Saver:         saver,
		Offers:        offers,
		Listings:      listings,
		Settings:      settings,
		Responder:     responder,
		Sender:        bridge,
		Hub:           hub,
		Executor:      pipeline.NewExecutor(cfg.Pipeline.QueueSize),
		CountryCode:   cfg.Transport.CountryCode,
	})
}

func provideSweeper(log *slog.Logger, messages *message.Store) *pipeline.Sweeper {
	return pipeline.NewSweeper(log, messages)
}

func provideMessageHandler(log *slog.Logger, cfg config.Config, conversations *conversation.Store, messages *message.Service, listings *listing.Store, bridge *transport.Client) *handlers.MessageHandler {
	return handlers.NewMessageHandler(log, conversations, messages, listings, bridge, cfg.Transport.CountryCode)
}

func provideTransportHandler(log *slog.Logger, bridge *transport.Client, p *pipeline.Pipeline) *handlers.TransportHandler {
	return handlers.NewTransportHandler(log, bridge, p)
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.ServerHandlers...)
}

func loadAssistantSettings(lc fx.Lifecycle, settings *assistant.Service, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if _, err := settings.Load(ctx); err != nil {
				return fmt.Errorf("load assistant settings: %w", err)
			}
			return nil
		},
	})
}

func startBroadcastRelay(lc fx.Lifecycle, log *slog.Logger, events event.Subscriber, publisher broadcast.Publisher) {
	relay := broadcast.NewRelay(log, events, publisher)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			relay.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			relay.Stop()
			return nil
		},
	})
}

func startSweeper(lc fx.Lifecycle, cfg config.Config, sweeper *pipeline.Sweeper, p *pipeline.Pipeline) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return sweeper.Start(cfg.Pipeline.SweepSchedule)
		},
		OnStop: func(context.Context) error {
			sweeper.Stop()
			p.Close()
			return nil
		},
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
