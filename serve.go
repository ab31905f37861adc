package main

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/vision-demo/internal/auth"
	"github.com/example/vision-demo/internal/handlers"
	"github.com/example/vision-demo/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the demo flow over HTTP",
	Long: `Starts the gateway the web UI calls. Each upload runs a full demo session against the
vision API and returns the final status and result.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.ListenAddr = addr
		}

		logger, err := logging.NewLogger()
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.close()
		a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		r := gin.Default()
		r.MaxMultipartMemory = handlers.MaxUploadSize
		handlers.RegisterRoutes(r, handlers.Config{
			Runner:  a.client,
			Poll:    cfg.Poll(),
			Auth:    auth.BearerMiddleware(cfg.JWTSecret, cfg.JWTAudience),
			Logger:  logger,
			Metrics: promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
			Summary: a.collector.Summary,
		})

		listener, err := net.Listen("tcp", cfg.ListenAddr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", cfg.ListenAddr, err)
		}
		server := &http.Server{
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		}

		logger.Info("vision demo gateway listening",
			zap.String("addr", listener.Addr().String()),
			zap.String("vision_api", cfg.APIURL),
			zap.Bool("verify_tokens", cfg.JWTSecret != ""),
		)
		return serveHTTPServerWithListener(server, 15*time.Second, logger, listener)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address (overrides LISTEN_ADDR)")
}
