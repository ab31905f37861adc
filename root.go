package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/vision-demo/internal/config"
	"github.com/example/vision-demo/internal/credentials"
	"github.com/example/vision-demo/internal/demo"
	"github.com/example/vision-demo/internal/metrics"
	"github.com/example/vision-demo/internal/transport"
)

var rootCmd = &cobra.Command{
	Use:   "visiondemo",
	Short: "Client for the computer vision demo API",
	Long: `visiondemo drives demo sessions against the vision API: create a session, upload a
file, trigger processing, wait for completion and fetch the result. It can run a single flow
from the terminal or serve the flow over HTTP for the web UI.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "YAML config file; environment variables take precedence")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log at debug level")
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

// app is the wired client shared by every command.
type app struct {
	client    *demo.Client
	collector *metrics.Collector
	registry  *prometheus.Registry
	close     func()
}

// newApp builds the credential chain, transport and demo client. A caller token on the
// request context wins over the Redis store, which wins over the static token.
func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	registry := prometheus.NewRegistry()
	collector, err := metrics.NewCollector(registry)
	if err != nil {
		return nil, err
	}

	chain := credentials.Chain{credentials.FromContext}
	closeFn := func() {}
	if cfg.RedisAddr != "" {
		redisCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		client, err := initRedis(redisCtx, cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		closeFn = func() { _ = client.Close() }
		chain = append(chain, credentials.NewRedisStore(client, cfg.CredentialKey, logger))
	}
	chain = append(chain, credentials.Static(cfg.APIToken))

	api, err := transport.New(cfg.APIURL, chain, logger,
		transport.WithTimeout(cfg.RequestTimeout),
		transport.WithObserver(collector),
	)
	if err != nil {
		closeFn()
		return nil, err
	}

	return &app{
		client:    demo.NewClient(api, logger, demo.WithPollObserver(collector)),
		collector: collector,
		registry:  registry,
		close:     closeFn,
	}, nil
}

func initRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}
