package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tjfontaine/a2a-lens/internal/adapters/config/file"
	"github.com/tjfontaine/a2a-lens/internal/adapters/events/direct"
	natsingest "github.com/tjfontaine/a2a-lens/internal/adapters/events/nats"
	"github.com/tjfontaine/a2a-lens/internal/api/query"
	"github.com/tjfontaine/a2a-lens/internal/pkg/config"
	"github.com/tjfontaine/a2a-lens/internal/pkg/topic"
	"github.com/tjfontaine/a2a-lens/internal/server"
	"github.com/tjfontaine/a2a-lens/internal/storage"
	"github.com/tjfontaine/a2a-lens/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the query API, NATS ingest and the materializer",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var serveWatch bool

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveWatch, "watch", true, "Reload materialize.interval when the config file changes")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.Telemetry, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	store, err := storage.Open(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	m, err := newMaterializer(cfg, store, logger)
	if err != nil {
		return err
	}

	filter, err := topic.NewFilter(cfg.Ingest.FilterTopics)
	if err != nil {
		return fmt.Errorf("ingest.filter_topics: %w", err)
	}
	publisher, err := direct.NewPublisher(store,
		direct.WithScheduler(m),
		direct.WithTopicFilter(filter),
		direct.WithSource("nats"),
		direct.WithLogger(logger))
	if err != nil {
		return err
	}
	defer publisher.Close()

	srv := server.New(server.Options{
		Port:        cfg.Server.Port,
		CORSOrigins: cfg.Server.CORSOrigins,
		RateLimit:   cfg.Server.RateLimit,
	}, logger)
	query.NewHandler(store, m, logger).Mount(srv.Router)

	if cfg.Ingest.NATS.Enabled {
		consumer, err := startNATS(ctx, cfg.Ingest.NATS, publisher)
		if err != nil {
			return err
		}
		defer consumer.Close()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return m.Run(gctx)
	})

	if serveWatch {
		watchConfig(gctx, m)
	}

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received, stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func startNATS(ctx context.Context, c config.NATSConfig, publisher *direct.Publisher) (*natsingest.Consumer, error) {
	ackWait, err := config.Duration(c.AckWait, 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ingest.nats.ack_wait: %w", err)
	}
	consumer, err := natsingest.Connect(natsingest.Config{
		URL:     c.URL,
		Token:   c.Token,
		Stream:  c.Stream,
		Subject: c.Subject,
		Durable: c.Durable,
		AckWait: ackWait,
	}, publisher, logger)
	if err != nil {
		return nil, err
	}
	if err := consumer.Start(ctx); err != nil {
		consumer.Close()
		return nil, err
	}
	return consumer, nil
}

// watchConfig applies sweep interval changes from the config file to a
// running materializer. Other settings need a restart.
func watchConfig(ctx context.Context, m interface{ SetInterval(time.Duration) }) {
	provider, err := file.NewProvider(configPath, file.WithLogger(logger))
	if err != nil {
		logger.Warn("config watch disabled", slog.String("error", err.Error()))
		return
	}
	if _, err := provider.Load(ctx); err != nil {
		logger.Warn("config watch disabled", slog.String("error", err.Error()))
		return
	}
	err = provider.Watch(ctx, func(c *config.Config) {
		d, err := config.Duration(c.Materialize.Interval, 0)
		if err != nil {
			logger.Warn("ignoring invalid materialize.interval", slog.String("error", err.Error()))
			return
		}
		m.SetInterval(d)
	})
	if err != nil {
		logger.Warn("config watch disabled", slog.String("error", err.Error()))
	}
}
