package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/GaneevAmirHosting-dev/class-notes/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "classnotes",
		Short:         "School portal: hosted store and local-first client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)

	rootCmd.AddCommand(
		newServeCommand(),
		newKeysCommand(),
		newLoginCommand(),
		newLogoutCommand(),
		newHomeworkCommand(),
		newGalleryCommand(),
		newSyncCommand(),
		newQueueCommand(),
		newCacheCommand(),
		newEventCommand(),
		newSnowCommand(),
	)
	return rootCmd
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	flags.String("http-address", defaults.GetString("http.address"), "HTTP listen address of serve")
	flags.StringSlice("allowed-origins", nil, "CORS origins accepted by serve (default: any)")
	flags.String("database-path", defaults.GetString("database.path"), "SQLite database of the hosted store")
	flags.Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Session token TTL in minutes")
	flags.String("signing-secret", "", "Session signing secret (overrides env)")

	flags.String("remote-url", defaults.GetString("remote.url"), "Base URL of the hosted store")
	flags.String("local-path", defaults.GetString("local.path"), "SQLite database of the local client state")
	flags.Int("sync-max-attempts", defaults.GetInt("sync.max_attempts"), "Attempts per pending change during sync")
	flags.Float64("viewport-width", defaults.GetFloat64("viewport.width"), "Overlay surface width in pixels")
	flags.Float64("viewport-height", defaults.GetFloat64("viewport.height"), "Overlay surface height in pixels")

	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.allowed_origins", "allowed-origins")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "remote.url", "remote-url")
	bindFlag(cmd, "local.path", "local-path")
	bindFlag(cmd, "sync.max_attempts", "sync-max-attempts")
	bindFlag(cmd, "viewport.width", "viewport-width")
	bindFlag(cmd, "viewport.height", "viewport-height")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("classnotes")
		viper.AddConfigPath(".")
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}
