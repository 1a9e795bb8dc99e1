package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/providentiaww/trilix-lti/internal/lti"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the LTI launch server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		a, err := newApp(ctx, lti.LoadConfigFromEnv())
		if err != nil {
			return err
		}
		defer a.Close()

		addr := viper.GetString(HTTPAddrKey)
		server := &http.Server{
			Addr:              addr,
			Handler:           a.handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			log.Info().Str("addr", addr).Str("version", ServiceVersion).Msg("starting LTI server")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal().Err(err).Msg("server crashed")
			}
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Info().Msg("shutting down server")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}

		log.Info().Msg("server exited")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("addr", ":3000", "Listen address")
	_ = viper.BindPFlag(HTTPAddrKey, serveCmd.Flags().Lookup("addr"))
}
