package main

import (
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/providentiaww/trilix-lti/internal/config"
)

const ServiceVersion = "v1.0.0"

const (
	LogLevelKey  = "log.level"
	LogFormatKey = "log.format"
	HTTPAddrKey  = "http.addr"
	EnvFileKey   = "env.file"
)

var rootCmd = &cobra.Command{
	Use:     "lti-server",
	Short:   "LTI 1.3 tool launch server",
	Version: ServiceVersion,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config.LoadEnv(viper.GetString(EnvFileKey))
		config.InitLogging(viper.GetString(LogLevelKey), viper.GetString(LogFormatKey))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	_ = viper.BindPFlag(LogLevelKey, rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.PersistentFlags().String("log-format", "console", "Log format (console, json)")
	_ = viper.BindPFlag(LogFormatKey, rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.PersistentFlags().String("env-file", "../../.env", "Path of the .env file to load")
	_ = viper.BindPFlag(EnvFileKey, rootCmd.PersistentFlags().Lookup("env-file"))

	// LOG_LEVEL, LOG_FORMAT, HTTP_ADDR
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindEnv(EnvFileKey, "ENV_FILE_PATH")

	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(serveCmd, platformsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execution failed")
		os.Exit(1)
	}
}
