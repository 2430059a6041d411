package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/endorses/notibridge/internal/pkg/config"
	"github.com/endorses/notibridge/internal/pkg/host"
	"github.com/endorses/notibridge/internal/pkg/logger"
	"github.com/endorses/notibridge/internal/pkg/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Exit codes
const (
	ExitSuccess         = 0
	ExitGeneralError    = 1
	ExitConnectionError = 2
	ExitCommandError    = 3
)

// configKeyAnnotation marks a flag as an override of a configuration key
const configKeyAnnotation = "notibridge_config_key"

var (
	cfgFile string
	cfg     *viper.Viper
)

var rootCmd = &cobra.Command{
	Use:   "notibridge",
	Short: "notibridge forwards chat activity to a notification daemon",
	Long: fmt.Sprintf(`notibridge %s - chat client to notification daemon bridge

The bridge receives activity from the chat client on a unix socket (or
stdin), classifies every line against the configured filters and ships
the resulting notifications to the daemon, reconnecting with backoff when
the daemon goes away.`, version.GetVersion()),
	Version:           version.GetFullVersion(),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

// Execute runs the root command and exits non-zero on failure
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

func init() {
	logger.Initialize()

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(ctlCmd)
	rootCmd.AddCommand(receiveCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/notibridge/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "log format: json or text")
	bindKey(rootCmd.PersistentFlags(), "log-level", config.KeyLogLevel)
	bindKey(rootCmd.PersistentFlags(), "log-format", config.KeyLogFormat)
}

// bindKey marks flag as the command line override of key
func bindKey(flags *pflag.FlagSet, flag, key string) {
	_ = flags.SetAnnotation(flag, configKeyAnnotation, []string{key})
}

// loadConfig reads the configuration, binds the flags of the running
// command and configures logging
func loadConfig(cmd *cobra.Command, _ []string) error {
	v, err := config.NewViper(cfgFile)
	if err != nil {
		return err
	}

	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		keys := f.Annotations[configKeyAnnotation]
		if len(keys) == 0 {
			return
		}
		if err := v.BindPFlag(keys[0], f); err != nil && bindErr == nil {
			bindErr = fmt.Errorf("failed to bind --%s: %w", f.Name, err)
		}
	})
	if bindErr != nil {
		return bindErr
	}

	logger.Configure(logger.Options{
		Level:  v.GetString(config.KeyLogLevel),
		Format: v.GetString(config.KeyLogFormat),
	})
	if file := v.ConfigFileUsed(); file != "" {
		logger.Debug("Using config file", "path", file)
	}

	cfg = v
	return nil
}

// exitCode maps a command error to the process exit status
func exitCode(err error) int {
	var ce *host.CommandError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &ce):
		return ExitCommandError
	case errors.Is(err, errBridgeUnreachable):
		return ExitConnectionError
	default:
		return ExitGeneralError
	}
}
