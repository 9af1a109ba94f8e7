package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"sxs-link/internal/command"
	"sxs-link/internal/config"
	"sxs-link/internal/console"
	"sxs-link/internal/discovery"
	"sxs-link/internal/logging"
	"sxs-link/internal/session"
	"sxs-link/internal/watcher"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	appName    = "sxslink"
	appVersion = "0.1.0"
)

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "Side-by-side proxy client",
	Long: `sxslink finds the local side-by-side proxy, opens a session, and joins a
color channel to exchange instrument context with linked applications.

The API key is read from ` + config.EnvAPIKey + `. Settings can also come from a
TOML file (--config) and SXS_* environment variables.`,
	Version:       appVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runClient,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "", "Log level (trace, debug, info, warn, error)")

	addClientFlags(rootCmd)

	rootCmd.AddCommand(mockCmd)
	rootCmd.SetVersionTemplate(fmt.Sprintf("%s v%s\n", appName, appVersion))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
}

func addClientFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("config", "c", "", "Path to a TOML config file")
	cmd.Flags().Int("base-port", config.DefaultBasePort, "First port to probe")
	cmd.Flags().Int("max-attempts", config.DefaultMaxAttempts, "Ports to probe after the base port")
	cmd.Flags().String("watchlist", "", "File of RICs offered by 'send <index>'")
}

// setupLogging applies the runtime profile, then --log-level.
func setupLogging(cmd *cobra.Command) error {
	logging.ConfigureRuntime()
	level, _ := cmd.Flags().GetString("log-level")
	if level != "" && !logging.SetLevel(level) {
		return fmt.Errorf("invalid log level %q", level)
	}
	return nil
}

// loadConfig resolves the config file and environment, then explicit flags.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("base-port") {
		cfg.BasePort, _ = flags.GetInt("base-port")
	}
	if flags.Changed("max-attempts") {
		cfg.MaxAttempts, _ = flags.GetInt("max-attempts")
	}
	if flags.Changed("watchlist") {
		cfg.WatchlistPath, _ = flags.GetString("watchlist")
	}
	return cfg, cfg.Validate()
}

func runClient(cmd *cobra.Command, args []string) error {
	if err := setupLogging(cmd); err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	coord := session.New(cfg,
		session.WithHTTPClient(command.NewHTTPClient(cfg.CommandTimeout)),
		session.WithProbeClient(discovery.NewProbeClient(cfg.ProbeTimeout)),
	)
	defer coord.Close()

	list, err := watcher.New(cfg.WatchlistPath, coord.PublishWatchlist)
	if err != nil {
		return err
	}
	if err := list.Start(); err != nil {
		log.Warn().Err(err).Str("path", list.Path()).Msg("watchlist will not follow file changes")
	}
	defer list.Close()

	log.Info().
		Str("product", cfg.ProductID).
		Int("basePort", cfg.BasePort).
		Int("maxAttempts", cfg.MaxAttempts).
		Msg("starting session")

	coord.Start(ctx)
	if err := console.New(coord, list, os.Stdin, os.Stdout).Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}

	coord.Close()
	if state := coord.State(); state == session.StateFailed {
		return fmt.Errorf("session failed: %w", coord.Err())
	}
	return nil
}
