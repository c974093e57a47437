package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/crosstalk-ai/crosstalk/internal/logging"
	"github.com/crosstalk-ai/crosstalk/internal/server"
)

var (
	servePort     int
	serveHostname string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the crosstalk HTTP server",
	Long: `Start crosstalk as a headless server that exposes the session API
over HTTP, including an SSE event stream.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "Port to listen on")
	serveCmd.Flags().StringVar(&serveHostname, "hostname", "127.0.0.1", "Hostname to listen on")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	c, cfg, err := buildClient(ctx)
	if err != nil {
		return err
	}

	serverConfig := server.DefaultConfig()
	serverConfig.Host = serveHostname
	serverConfig.Port = servePort
	if cfg.Server != nil {
		if cfg.Server.Host != "" {
			serverConfig.Host = cfg.Server.Host
		}
		if cfg.Server.Port != 0 && !cmd.Flags().Changed("port") {
			serverConfig.Port = cfg.Server.Port
		}
	}

	srv := server.New(serverConfig, c)

	go func() {
		logging.Info().Str("host", serverConfig.Host).Int("port", serverConfig.Port).Msg("server listening")
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logging.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("server shutdown error")
	}
	return nil
}
