package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"transithub.dev/transithub"
	"transithub.dev/transithub/api"
	"transithub.dev/transithub/fetch"
	"transithub.dev/transithub/sources/mtabus"
	"transithub.dev/transithub/sources/mtasubway"
	"transithub.dev/transithub/storage"
)

var rootCmd = &cobra.Command{
	Use:          "transithub",
	Short:        "Transit data hub",
	Long:         "Ingests MTA realtime and static feeds into Postgres and serves them over HTTP",
	SilenceUsage: true,
}

var useSiri bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingestion pipelines and the read API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func init() {
	serveCmd.Flags().BoolVar(&useSiri, "siri", true, "overlay SIRI progress status onto bus positions")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func serve() error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := transithub.ConfigFromEnv()
	if err != nil {
		return err
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parsing REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(redisOpts)

	store, err := storage.Open(cfg.DatabaseURL, rdb, logger)
	if err != nil {
		return err
	}

	fetcher := fetch.NewClient()
	fetcher.DebugDir = cfg.DebugDir
	fetcher.Logger = logger

	var (
		statics   []transithub.StaticAdapter
		pipelines []namedPipeline
	)

	statics = append(statics, mtasubway.NewStatic(store, fetcher, logger))
	pipelines = append(pipelines,
		namedPipeline{"subway-realtime", func(static *transithub.StaticController) transithub.Pipeline {
			return transithub.NewRealtimePipeline(mtasubway.NewRealtime(), fetcher, store, static, logger)
		}},
		namedPipeline{"subway-alerts", func(static *transithub.StaticController) transithub.Pipeline {
			return transithub.NewAlertPipeline(mtasubway.NewAlerts(), fetcher, store, static, logger)
		}},
	)

	if cfg.BusAPIKey != "" {
		busStatic, err := mtabus.NewStatic(store, fetcher, cfg.BusAPIKey, logger)
		if err != nil {
			return err
		}
		busRealtime, err := mtabus.NewRealtime(fetcher, cfg.BusAPIKey, useSiri, logger)
		if err != nil {
			return err
		}
		statics = append(statics, busStatic)
		pipelines = append(pipelines,
			namedPipeline{"bus-realtime", func(static *transithub.StaticController) transithub.Pipeline {
				return transithub.NewRealtimePipeline(busRealtime, fetcher, store, static, logger)
			}},
			namedPipeline{"bus-alerts", func(static *transithub.StaticController) transithub.Pipeline {
				return transithub.NewAlertPipeline(mtabus.NewAlerts(), fetcher, store, static, logger)
			}},
		)
	} else {
		logger.Warn("MTA_BUS_API_KEY not set, bus pipelines disabled")
	}

	static := transithub.NewStaticController(statics, store.Sources, logger)
	defer static.Close()

	engine := transithub.NewEngine(logger)
	for _, np := range pipelines {
		engine.Add(np.name, np.build(static))
	}

	server := &http.Server{
		Addr:    cfg.Address,
		Handler: api.New(store, logger).Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		engine.Run(ctx)
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutting down server", "error", err)
		}
	}()

	logger.Info("listening", "address", cfg.Address)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		stop()
		wg.Wait()
		return err
	}

	wg.Wait()
	return nil
}

// namedPipeline defers pipeline construction until the static
// controller exists, since pipelines hold a reference to it.
type namedPipeline struct {
	name  string
	build func(*transithub.StaticController) transithub.Pipeline
}
